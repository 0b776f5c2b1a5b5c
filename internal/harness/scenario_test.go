package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validScenario = `
name: valid
description: "Loads"
now: 2025-02-01
batch_size: 4
seed:
  - id: home
    kind: group
    name: Home
  - id: rent
    kind: template
    parent: home
    name: Pay rent
    due: 2025-06-01
    frequency: { type: monthly, interval: 1 }
    attributes: { payee: landlord }
flow:
  - op: materialize
    target: rent
    until: 2025-04-01
    expect:
      case: ok
      result: { created: 3 }
  - op: cascade
    target: rent
    to: InProgress
    from: not_started
assertions:
  - type: trace_count
    event: instance_created
    count: 3
`

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	s, err := LoadScenario(writeScenario(t, validScenario))
	require.NoError(t, err)

	assert.Equal(t, "valid", s.Name)
	assert.Equal(t, 4, s.BatchSize)
	require.Len(t, s.Seed, 2)
	assert.Equal(t, "landlord", s.Seed[1].Attributes["payee"])
	assert.Equal(t, "2025-06-01", s.Seed[1].Due)
	require.NotNil(t, s.Seed[1].Frequency)
	assert.Equal(t, "monthly", s.Seed[1].Frequency.Type)

	require.Len(t, s.Flow, 2)
	assert.Equal(t, "2025-04-01", s.Flow[0].Until)
	require.NotNil(t, s.Flow[0].Expect)
	assert.Equal(t, 3, s.Flow[0].Expect.Result["created"])
	assert.Nil(t, s.Flow[1].Expect)

	start, err := s.Start()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), start)
}

func TestScenario_StartDefault(t *testing.T) {
	s := &Scenario{}
	start, err := s.Start()
	require.NoError(t, err)
	assert.Equal(t, DefaultNow, start)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_MalformedYAML(t *testing.T) {
	_, err := LoadScenario(writeScenario(t, "name: [unclosed\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_UnknownFieldsRejected(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: typo
description: "x"
flow:
  - op: advance
    days: 1
assertion:
  - type: trace_count
    event: x
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assertion")
}

func TestParseScenario_Invalid(t *testing.T) {
	base := func(body string) string {
		return "name: s\ndescription: d\n" + body
	}
	flow := "flow:\n  - op: advance\n    days: 1\n"
	asserts := "assertions:\n  - type: trace_count\n    event: x\n"

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"missing name", "description: d\n" + flow + asserts, "name is required"},
		{"missing description", "name: s\n" + flow + asserts, "description is required"},
		{"missing flow", base(asserts), "flow list is required"},
		{"missing assertions", base(flow), "assertions list is required"},
		{"bad now", base("now: soon\n" + flow + asserts), "now"},
		{"negative batch", base("batch_size: -1\n" + flow + asserts), "batch_size"},
		{"seed without id", base("seed:\n  - kind: group\n    name: x\n" + flow + asserts), "seed[0]: id is required"},
		{"seed bad kind", base("seed:\n  - id: a\n    kind: folder\n" + flow + asserts), "unknown kind"},
		{"seed duplicate", base("seed:\n  - {id: a, kind: group}\n  - {id: a, kind: group}\n" + flow + asserts), "duplicate id"},
		{"seed parent later", base("seed:\n  - {id: a, kind: template, parent: b}\n  - {id: b, kind: group}\n" + flow + asserts), "must be seeded first"},
		{"seed bad due", base("seed:\n  - {id: a, kind: template, due: someday}\n" + flow + asserts), "due"},
		{"seed bad custom day", base("seed:\n  - {id: a, kind: template, frequency: {type: custom, custom_days: [nope]}}\n" + flow + asserts), "custom_days"},
		{"missing op", base("flow:\n  - target: t\n" + asserts), "op is required"},
		{"unknown op", base("flow:\n  - op: explode\n" + asserts), `unknown op "explode"`},
		{"materialize without target", base("flow:\n  - op: materialize\n" + asserts), "target is required"},
		{"cascade bad status", base("flow:\n  - {op: cascade, target: t, to: finished}\n" + asserts), "unknown status"},
		{"cascade bad from", base("flow:\n  - {op: cascade, target: t, to: done, from: later}\n" + asserts), "from"},
		{"advance without days", base("flow:\n  - op: advance\n" + asserts), "days must be positive"},
		{"bad until", base("flow:\n  - {op: materialize, target: t, until: never}\n" + asserts), "until"},
		{"bad as_of", base("flow:\n  - {op: close_out, as_of: never}\n" + asserts), "as_of"},
		{"expect without case", base("flow:\n  - op: close_out\n    expect:\n      result: {archived: 0}\n" + asserts), "case is required"},
		{"assertion without type", base(flow + "assertions:\n  - event: x\n"), "type is required"},
		{"unknown assertion", base(flow + "assertions:\n  - type: vibes\n"), `unknown assertion type "vibes"`},
		{"contains without event", base(flow + "assertions:\n  - type: trace_contains\n"), "event is required"},
		{"order without entities", base(flow + "assertions:\n  - type: trace_order\n"), "entities list is required"},
		{"count negative", base(flow + "assertions:\n  - {type: trace_count, event: x, count: -1}\n"), "count must be non-negative"},
		{"final_state without entity", base(flow + "assertions:\n  - {type: final_state, expect: {status: done}}\n"), "entity is required"},
		{"final_state without expect", base(flow + "assertions:\n  - {type: final_state, entity: t}\n"), "expect is required"},
		{"instance_count bad status", base(flow + "assertions:\n  - {type: instance_count, entity: t, status: nope}\n"), "status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseScenario_TraceCountZeroAllowed(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: zero
description: "x"
flow:
  - op: advance
    days: 1
assertions:
  - type: trace_count
    event: deleted
    count: 0
`))
	assert.NoError(t, err)
}

func TestFlowStep_Args(t *testing.T) {
	assert.Nil(t, FlowStep{Op: OpArchive, Target: "t"}.args())
	assert.Equal(t,
		map[string]any{"until": "2025-04-01", "as_of": "2025-03-01"},
		FlowStep{Until: "2025-04-01", AsOf: "2025-03-01"}.args())
}

func TestFrequencySpec_Config(t *testing.T) {
	cfg, err := FrequencySpec{Type: "custom", CustomDays: []string{"2025-03-01", "2025-01-01"}}.Config()
	require.NoError(t, err)
	assert.EqualValues(t, "custom", cfg.Type)
	assert.Len(t, cfg.CustomDays, 2)

	_, err = FrequencySpec{Type: "custom", CustomDays: []string{"soon"}}.Config()
	assert.Error(t, err)
}

func TestAssertionConstants(t *testing.T) {
	assert.Equal(t, "trace_contains", AssertTraceContains)
	assert.Equal(t, "trace_order", AssertTraceOrder)
	assert.Equal(t, "trace_count", AssertTraceCount)
	assert.Equal(t, "final_state", AssertFinalState)
	assert.Equal(t, "instance_count", AssertInstanceCount)
}
