package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "cadence.db", cfg.Database)
	assert.Equal(t, 12, cfg.BatchSize)
	assert.Equal(t, 1000, cfg.MaxOccurrences)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Log.Console)
	assert.False(t, cfg.Sweep.Enabled)
	assert.Equal(t, "@daily", cfg.Sweep.Materialize)
	assert.Equal(t, "0 0 1 * *", cfg.Sweep.CloseOut)
	assert.Equal(t, "UTC", cfg.Sweep.Timezone)
	assert.Equal(t, 5.0, cfg.Sweep.RatePerSecond)
}

func TestParse_YAMLOverridesDefaults(t *testing.T) {
	src := `
database: /var/lib/cadence/tasks.db
batchSize: 24
log:
  level: debug
sweep:
  enabled: true
  ratePerSecond: 2.5
`
	cfg, err := Parse("cadence.yaml", []byte(src))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/cadence/tasks.db", cfg.Database)
	assert.Equal(t, 24, cfg.BatchSize)
	assert.Equal(t, 1000, cfg.MaxOccurrences)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Sweep.Enabled)
	assert.Equal(t, 2.5, cfg.Sweep.RatePerSecond)
	assert.Equal(t, "@daily", cfg.Sweep.Materialize)
}

func TestParse_EmptyYAML(t *testing.T) {
	cfg, err := Parse("cadence.yml", nil)
	require.NoError(t, err)
	assert.Equal(t, *Default(), *cfg)
}

func TestParse_JSON(t *testing.T) {
	cfg, err := Parse("cadence.json", []byte(`{"maxOccurrences": 50, "log": {"console": true}}`))
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.MaxOccurrences)
	assert.True(t, cfg.Log.Console)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestParse_CUE(t *testing.T) {
	src := `
batchSize: 6
sweep: {
	timezone:    "Europe/Berlin"
	materialize: "0 6 * * *"
}
`
	cfg, err := Parse("cadence.cue", []byte(src))
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.BatchSize)
	assert.Equal(t, "0 6 * * *", cfg.Sweep.Materialize)

	loc, err := cfg.Sweep.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		file string
		src  string
	}{
		{"unknown field", "c.yaml", "bogus: 1\n"},
		{"unknown nested field", "c.yaml", "log:\n  colour: true\n"},
		{"zero batch size", "c.yaml", "batchSize: 0\n"},
		{"wrong type", "c.json", `{"batchSize": "many"}`},
		{"bad level", "c.yaml", "log:\n  level: loud\n"},
		{"empty database", "c.yaml", "database: \"\"\n"},
		{"negative rate", "c.yaml", "sweep:\n  ratePerSecond: -1\n"},
		{"bad timezone", "c.yaml", "sweep:\n  timezone: Mars/Olympus\n"},
		{"malformed yaml", "c.yaml", "log: [\n"},
		{"unsupported format", "c.toml", "batchSize = 3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.file, []byte(tt.src))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cadence.yaml")
	require.NoError(t, os.WriteFile(path, []byte("batchSize: 3\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.BatchSize)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	old := DebounceDelay
	DebounceDelay = 50 * time.Millisecond
	t.Cleanup(func() { DebounceDelay = old })

	path := filepath.Join(t.TempDir(), "cadence.yaml")
	require.NoError(t, os.WriteFile(path, []byte("batchSize: 3\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		seen []int
	)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, zerolog.Nop(), func(cfg *Config) {
			mu.Lock()
			seen = append(seen, cfg.BatchSize)
			mu.Unlock()
		})
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	// Invalid content is ignored.
	require.NoError(t, os.WriteFile(path, []byte("batchSize: 0\n"), 0o644))
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("batchSize: 7\n"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []int{7}, seen)
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
