package engine

import "time"

// Clock supplies wall time to the engine. All engine timestamps come from
// here so tests and scenario replays can pin them.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the system clock in UTC.
//
// Thread-safety: SystemClock is stateless and safe for concurrent use.
type SystemClock struct{}

// Now returns the current time in UTC.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time {
	return f()
}
