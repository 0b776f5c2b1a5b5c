// Package config loads cadence configuration from CUE, YAML or JSON.
//
// Every source is unified with the embedded #Config schema, which closes the
// set of allowed fields, constrains their values and supplies defaults. A
// file only needs the fields it wants to change.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource []byte

// Config is the decoded, validated configuration.
type Config struct {
	Database       string `json:"database"`
	BatchSize      int    `json:"batchSize"`
	MaxOccurrences int    `json:"maxOccurrences"`
	Log            Log    `json:"log"`
	Sweep          Sweep  `json:"sweep"`
}

// Log configures the process logger.
type Log struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
}

// Sweep configures the periodic materialize and close-out jobs.
type Sweep struct {
	Enabled bool `json:"enabled"`

	// Materialize and CloseOut are cron specs (5 or 6 fields, or a
	// descriptor such as "@daily").
	Materialize string `json:"materialize"`
	CloseOut    string `json:"closeOut"`

	// Timezone is an IANA location name the cron specs are evaluated in.
	Timezone string `json:"timezone"`

	// RatePerSecond caps how many templates the materialize job processes
	// per second.
	RatePerSecond float64 `json:"ratePerSecond"`
}

// Location resolves Timezone, defaulting to UTC.
func (s Sweep) Location() (*time.Location, error) {
	name := strings.TrimSpace(s.Timezone)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("sweep timezone %q: %w", name, err)
	}
	return loc, nil
}

// Validate checks constraints the schema cannot express.
func (c *Config) Validate() error {
	if _, err := c.Sweep.Location(); err != nil {
		return err
	}
	return nil
}

// Default returns the schema defaults.
func Default() *Config {
	cfg, err := Parse("default.json", []byte("{}"))
	if err != nil {
		// The embedded schema is part of the binary; failing here is a build defect.
		panic(fmt.Sprintf("config: default config: %v", err))
	}
	return cfg
}

// Load reads and parses the file at path. The format is chosen by extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(path, data)
}

// Parse decodes data according to the extension of name (.cue, .yaml,
// .yml or .json), unifies it with the schema and validates the result.
func Parse(name string, data []byte) (*Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	var src cue.Value
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".yaml", ".yml":
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("config %s: %w", name, err)
		}
		if raw == nil {
			raw = map[string]any{}
		}
		src = ctx.Encode(raw)
	case ".json", ".cue":
		src = ctx.CompileBytes(data, cue.Filename(name))
	default:
		return nil, fmt.Errorf("config %s: unsupported format %q", name, ext)
	}
	if err := src.Err(); err != nil {
		return nil, fmt.Errorf("config %s: %w", name, err)
	}

	merged := def.Unify(src)
	if err := merged.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("config %s: %w", name, err)
	}

	var cfg Config
	if err := merged.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config %s: decode: %w", name, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", name, err)
	}
	return &cfg, nil
}
