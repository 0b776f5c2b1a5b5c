package task

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want Status
	}{
		{"done", StatusDone},
		{"Done", StatusDone},
		{"InProgress", StatusInProgress},
		{"in_progress", StatusInProgress},
		{"in-progress", StatusInProgress},
		{"NotStarted", StatusNotStarted},
		{"OnHold", StatusOnHold},
		{"COLLECTED", StatusCollected},
		{" failed ", StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStatus(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseStatus_Invalid(t *testing.T) {
	for _, in := range []string{"", "finished", "in progress now"} {
		_, err := ParseStatus(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("Template")
	require.NoError(t, err)
	assert.Equal(t, KindTemplate, k)

	_, err = ParseKind("project")
	assert.Error(t, err)
}

func TestStatus_IsFinished(t *testing.T) {
	assert.True(t, StatusDone.IsFinished())
	assert.True(t, StatusCollected.IsFinished())
	assert.False(t, StatusInProgress.IsFinished())
	assert.False(t, StatusFailed.IsFinished())
}

func TestDayKey_NormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	// 2025-03-01 02:00 at +09:00 is still 2025-02-28 in UTC.
	local := time.Date(2025, 3, 1, 2, 0, 0, 0, loc)
	assert.Equal(t, "2025-02-28", DayKey(local))

	a := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	b := a.Add(999 * time.Millisecond)
	assert.Equal(t, DayKey(a), DayKey(b), "sub-second drift must not change identity")
}

func TestNormalizeName(t *testing.T) {
	decomposed := "Cafe\u0301 "
	assert.Equal(t, "Caf\u00e9", NormalizeName(decomposed))
}

func TestFromRecord_RoundTrip(t *testing.T) {
	due := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	tmpl := &Template{
		Base: Base{
			ID:       "tpl-1",
			ParentID: "grp-1",
			Name:     "Water plants",
			Status:   StatusInProgress,
		},
		DueDate:   &due,
		Frequency: FrequencyConfig{Type: FrequencyMonthly, Interval: 1},
	}

	e, err := FromRecord(tmpl.Record())
	require.NoError(t, err)

	got, ok := AsTemplate(e)
	require.True(t, ok)
	assert.Equal(t, tmpl.ID, got.ID)
	assert.Equal(t, tmpl.ParentID, got.ParentID)
	assert.Equal(t, FrequencyMonthly, got.Frequency.Type)
	require.NotNil(t, got.DueDate)
	assert.True(t, due.Equal(*got.DueDate))
}

func TestFromRecord_RejectsIllegalRows(t *testing.T) {
	due := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	freq := FrequencyConfig{Type: FrequencyDaily, Interval: 1}

	tests := []struct {
		name string
		rec  Record
	}{
		{"instance with frequency", Record{ID: "i", Kind: KindInstance, DueDate: &due, Frequency: &freq}},
		{"instance without due date", Record{ID: "i", Kind: KindInstance}},
		{"group with frequency", Record{ID: "g", Kind: KindGroup, Frequency: &freq}},
		{"group with due date", Record{ID: "g", Kind: KindGroup, DueDate: &due}},
		{"unknown kind", Record{ID: "x", Kind: "project"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromRecord(tt.rec)
			assert.Error(t, err)
		})
	}
}

func TestFromRecord_InstanceAllowsZeroFrequency(t *testing.T) {
	due := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	e, err := FromRecord(Record{ID: "i", Kind: KindInstance, DueDate: &due, Frequency: &FrequencyConfig{}})
	require.NoError(t, err)
	_, ok := AsInstance(e)
	assert.True(t, ok)
}

func TestFrequencyConfig_UnmarshalJSON(t *testing.T) {
	var c FrequencyConfig
	err := json.Unmarshal([]byte(`{"type":"Custom","interval":0,"customDays":["2025-03-01","2025-01-15T08:30:00Z","2025-03-01"],"repeatMode":"Fixed"}`), &c)
	require.NoError(t, err)

	assert.Equal(t, FrequencyCustom, c.Type)
	assert.Equal(t, RepeatFixed, c.RepeatMode)
	assert.Equal(t, 1, c.Step())
	require.Len(t, c.CustomDays, 3)

	sorted := c.SortedCustomDays()
	require.Len(t, sorted, 2)
	assert.Equal(t, time.Date(2025, 1, 15, 8, 30, 0, 0, time.UTC), sorted[0])
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), sorted[1])

	earliest, ok := c.EarliestCustomDay()
	require.True(t, ok)
	assert.Equal(t, sorted[0], earliest)
}

func TestFrequencyConfig_UnmarshalJSON_BadDay(t *testing.T) {
	var c FrequencyConfig
	err := json.Unmarshal([]byte(`{"type":"custom","customDays":["next tuesday"]}`), &c)
	assert.Error(t, err)
}

func TestFrequencyConfig_Known(t *testing.T) {
	assert.True(t, FrequencyConfig{Type: FrequencyAlways}.Known())
	assert.False(t, FrequencyConfig{Type: "fortnightly"}.Known())
	assert.True(t, FrequencyConfig{}.IsZero())
}
