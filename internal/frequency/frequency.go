// Package frequency turns a frequency descriptor into a bounded, ordered list
// of occurrence dates.
//
// The package is pure: no store access, no wall clock. Callers pass the start
// date and the safety limit explicitly.
//
// Guarantees for every call:
//   - the result is strictly increasing
//   - every element is <= the safety limit (the limit itself is included)
//   - an unusable descriptor yields an empty result, never an error
package frequency

import (
	"time"

	"github.com/roach88/cadence/internal/task"
)

// DefaultBatchSize is how many occurrences one materialization pass asks for.
const DefaultBatchSize = 12

// DefaultMaxOccurrences caps "always" descriptors, which ignore the batch size.
const DefaultMaxOccurrences = 1000

// Engine computes occurrences. The zero value is not usable; call New.
type Engine struct {
	maxOccurrences int
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxOccurrences sets the hard ceiling applied to "always" descriptors.
// Values below one are ignored.
func WithMaxOccurrences(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxOccurrences = n
		}
	}
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{maxOccurrences: DefaultMaxOccurrences}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultEngine = New()

// Compute uses an Engine with default options.
func Compute(cfg task.FrequencyConfig, start time.Time, maxCount int, safetyLimit time.Time) []time.Time {
	return defaultEngine.Compute(cfg, start, maxCount, safetyLimit)
}

// Compute returns up to maxCount occurrences of cfg beginning at start and
// never later than safetyLimit.
//
// When cfg carries custom dates, generation begins at the earliest of them
// instead of start. "always" descriptors ignore maxCount and run to the
// safety limit, bounded by the engine's MaxOccurrences.
func (e *Engine) Compute(cfg task.FrequencyConfig, start time.Time, maxCount int, safetyLimit time.Time) []time.Time {
	if earliest, ok := cfg.EarliestCustomDay(); ok {
		start = earliest
	}
	if start.After(safetyLimit) {
		return nil
	}

	limit := maxCount
	if cfg.Type == task.FrequencyAlways {
		limit = e.maxOccurrences
	}
	if limit < 1 {
		return nil
	}

	switch cfg.Type {
	case task.FrequencyOnce:
		return []time.Time{start}

	case task.FrequencyCustom:
		return customDays(cfg, start, limit, safetyLimit)

	case task.FrequencyDaily, task.FrequencyWeekly, task.FrequencyMonthly, task.FrequencyAlways:
		out := make([]time.Time, 0, min(limit, DefaultBatchSize))
		for k := 0; len(out) < limit; k++ {
			next := stepFrom(start, cfg.Type, k*cfg.Step())
			if next.After(safetyLimit) {
				break
			}
			out = append(out, next)
		}
		return out

	default:
		// Unrecognized type: nothing to step with.
		return nil
	}
}

// customDays walks the explicit list; each value must be strictly greater
// than the previous one, and the list ending early is a valid stop.
func customDays(cfg task.FrequencyConfig, start time.Time, limit int, safetyLimit time.Time) []time.Time {
	var out []time.Time
	current := start
	for _, d := range cfg.SortedCustomDays() {
		if len(out) >= limit {
			break
		}
		if d.Before(current) || (len(out) > 0 && !d.After(current)) {
			continue
		}
		if d.After(safetyLimit) {
			break
		}
		out = append(out, d)
		current = d
	}
	return out
}

// stepFrom computes the n-th unit after anchor. Stepping always restarts
// from the anchor so month-end clamping never drifts (Jan 31, Feb 28, Mar 31).
func stepFrom(anchor time.Time, typ task.FrequencyType, n int) time.Time {
	switch typ {
	case task.FrequencyWeekly:
		return anchor.AddDate(0, 0, 7*n)
	case task.FrequencyMonthly:
		return addMonthsClamped(anchor, n)
	default:
		return anchor.AddDate(0, 0, n)
	}
}

// addMonthsClamped adds n months, clamping the day to the target month's
// last day instead of overflowing into the next month as time.AddDate does.
func addMonthsClamped(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first.Year(), first.Month(), t.Location()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
