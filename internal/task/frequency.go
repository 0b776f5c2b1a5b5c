package task

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// FrequencyType selects the stepping rule used by the frequency engine.
type FrequencyType string

const (
	FrequencyDaily   FrequencyType = "daily"
	FrequencyWeekly  FrequencyType = "weekly"
	FrequencyMonthly FrequencyType = "monthly"
	FrequencyCustom  FrequencyType = "custom"
	FrequencyOnce    FrequencyType = "once"
	FrequencyAlways  FrequencyType = "always"
)

// RepeatMode is carried through for callers; the scheduler does not interpret it.
type RepeatMode string

const (
	RepeatFixed   RepeatMode = "fixed"
	RepeatRolling RepeatMode = "rolling"
)

// FrequencyConfig is the descriptor authored by the calendar picker.
//
// JSON shape: {"type":"monthly","interval":1,"customDays":[...],"repeatMode":"fixed"}
type FrequencyConfig struct {
	Type       FrequencyType `json:"type"`
	Interval   int           `json:"interval"`
	CustomDays []time.Time   `json:"customDays,omitempty"`
	RepeatMode RepeatMode    `json:"repeatMode,omitempty"`
}

// IsZero reports whether no descriptor has been set.
func (c FrequencyConfig) IsZero() bool {
	return c.Type == "" && c.Interval == 0 && len(c.CustomDays) == 0 && c.RepeatMode == ""
}

// Known reports whether Type is one of the supported stepping rules.
func (c FrequencyConfig) Known() bool {
	switch c.Type {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly,
		FrequencyCustom, FrequencyOnce, FrequencyAlways:
		return true
	}
	return false
}

// Step returns the interval, treating anything below one as one.
func (c FrequencyConfig) Step() int {
	if c.Interval < 1 {
		return 1
	}
	return c.Interval
}

// SortedCustomDays returns the custom dates in ascending order with exact
// duplicates removed. The receiver is not modified.
func (c FrequencyConfig) SortedCustomDays() []time.Time {
	if len(c.CustomDays) == 0 {
		return nil
	}
	days := make([]time.Time, len(c.CustomDays))
	copy(days, c.CustomDays)
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	out := days[:1]
	for _, d := range days[1:] {
		if d.After(out[len(out)-1]) {
			out = append(out, d)
		}
	}
	return out
}

// EarliestCustomDay returns the earliest custom date, if any.
func (c FrequencyConfig) EarliestCustomDay() (time.Time, bool) {
	days := c.SortedCustomDays()
	if len(days) == 0 {
		return time.Time{}, false
	}
	return days[0], true
}

// UnmarshalJSON accepts the UI's loose spellings ("Monthly", "MONTHLY") and
// custom days given either as RFC 3339 timestamps or bare YYYY-MM-DD dates.
func (c *FrequencyConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type       string   `json:"type"`
		Interval   int      `json:"interval"`
		CustomDays []string `json:"customDays"`
		RepeatMode string   `json:"repeatMode"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("frequency config: %w", err)
	}

	days := make([]time.Time, 0, len(raw.CustomDays))
	for _, s := range raw.CustomDays {
		d, err := ParseDate(s)
		if err != nil {
			return fmt.Errorf("frequency config: custom day: %w", err)
		}
		days = append(days, d)
	}
	if len(days) == 0 {
		days = nil
	}

	*c = FrequencyConfig{
		Type:       FrequencyType(strings.ToLower(strings.TrimSpace(raw.Type))),
		Interval:   raw.Interval,
		CustomDays: days,
		RepeatMode: RepeatMode(strings.ToLower(strings.TrimSpace(raw.RepeatMode))),
	}
	return nil
}

// ParseDate parses an RFC 3339 timestamp or a YYYY-MM-DD date (midnight UTC).
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(DayKeyLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want RFC 3339 or YYYY-MM-DD", s)
	}
	return t, nil
}
