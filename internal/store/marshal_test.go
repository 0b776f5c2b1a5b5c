package store

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cadence/internal/task"
)

func TestMarshalAttributes_SortedAndUnescaped(t *testing.T) {
	got, err := marshalAttributes(map[string]string{"z": "1", "a": "<b>&"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"<b>&","z":"1"}`, got)

	empty, err := marshalAttributes(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", empty)
}

func TestUnmarshalAttributes(t *testing.T) {
	got, err := unmarshalAttributes(`{"room":"kitchen"}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"room": "kitchen"}, got)

	got, err = unmarshalAttributes("")
	require.NoError(t, err)
	assert.NotNil(t, got)

	_, err = unmarshalAttributes("{not json")
	assert.Error(t, err)
}

func TestLinks_RoundTrip(t *testing.T) {
	s, err := marshalLinks([]task.ID{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, `["a","b"]`, s)

	got, err := unmarshalLinks(s)
	require.NoError(t, err)
	assert.Equal(t, []task.ID{"a", "b"}, got)

	got, err = unmarshalLinks("[]")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFrequency_RoundTrip(t *testing.T) {
	cfg := &task.FrequencyConfig{
		Type:       task.FrequencyCustom,
		Interval:   1,
		CustomDays: []time.Time{day(2025, 2, 14), day(2025, 5, 1)},
		RepeatMode: task.RepeatFixed,
	}
	s, err := marshalFrequency(cfg)
	require.NoError(t, err)
	require.True(t, s.Valid)

	got, err := unmarshalFrequency(s)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, cfg.Type, got.Type)
	assert.Equal(t, cfg.RepeatMode, got.RepeatMode)
	require.Len(t, got.CustomDays, 2)
	assert.True(t, cfg.CustomDays[1].Equal(got.CustomDays[1]))
}

func TestFrequency_NullForNil(t *testing.T) {
	s, err := marshalFrequency(nil)
	require.NoError(t, err)
	assert.False(t, s.Valid)

	got, err := unmarshalFrequency(sql.NullString{})
	require.NoError(t, err)
	assert.Nil(t, got)
}
