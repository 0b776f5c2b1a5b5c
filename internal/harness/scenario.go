package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/cadence/internal/task"
)

// DefaultNow is the clock start for scenarios that do not set one.
var DefaultNow = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Scenario defines a conformance test scenario.
// A scenario seeds a task tree, runs a flow of engine operations against it
// and asserts on the resulting audit trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Now is the frozen clock start (RFC 3339 or YYYY-MM-DD).
	// Defaults to DefaultNow.
	Now string `yaml:"now,omitempty"`

	// BatchSize overrides the engine's materialization batch size.
	BatchSize int `yaml:"batch_size,omitempty"`

	// Seed lists entities saved before the flow, parents first. Seeding
	// writes no audit entries and never materializes.
	Seed []SeedEntity `yaml:"seed"`

	// Flow contains the engine operations to run, in order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// SeedEntity is one entity of the initial tree.
type SeedEntity struct {
	ID         string            `yaml:"id"`
	Kind       string            `yaml:"kind"`
	Parent     string            `yaml:"parent,omitempty"`
	Name       string            `yaml:"name"`
	Status     string            `yaml:"status,omitempty"`
	Due        string            `yaml:"due,omitempty"`
	Frequency  *FrequencySpec    `yaml:"frequency,omitempty"`
	Attributes map[string]string `yaml:"attributes,omitempty"`
}

// FrequencySpec is the YAML form of task.FrequencyConfig.
type FrequencySpec struct {
	Type       string   `yaml:"type"`
	Interval   int      `yaml:"interval,omitempty"`
	CustomDays []string `yaml:"custom_days,omitempty"`
}

// FlowStep is one engine operation.
type FlowStep struct {
	// Op selects the operation; see the Op constants.
	Op string `yaml:"op"`

	// Target is the entity the operation applies to.
	Target string `yaml:"target,omitempty"`

	// To is the cascade, uncascade or set_status target status.
	To string `yaml:"to,omitempty"`

	// From is the previous status recorded by cascade.
	From string `yaml:"from,omitempty"`

	// Until overrides the materialization safety limit.
	Until string `yaml:"until,omitempty"`

	// AsOf is the close_out cut-off. Defaults to the scenario clock.
	AsOf string `yaml:"as_of,omitempty"`

	// Days moves the clock forward (advance).
	Days int `yaml:"days,omitempty"`

	// Expect specifies the expected outcome.
	// If nil, the step must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// args returns the step parameters for the trace.
func (s FlowStep) args() map[string]any {
	args := map[string]any{}
	if s.To != "" {
		args["to"] = s.To
	}
	if s.From != "" {
		args["from"] = s.From
	}
	if s.Until != "" {
		args["until"] = s.Until
	}
	if s.AsOf != "" {
		args["as_of"] = s.AsOf
	}
	if s.Days != 0 {
		args["days"] = s.Days
	}
	if len(args) == 0 {
		return nil
	}
	return args
}

// ExpectClause specifies the expected step outcome.
type ExpectClause struct {
	// Case is "ok" or a runtime error code such as "NOT_FOUND" or
	// "PARTIAL_FAILURE".
	Case string `yaml:"case"`

	// Result contains expected result field values.
	// This is a subset match - only specified fields are validated.
	Result map[string]interface{} `yaml:"result,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an audit entry matches event/entity/parent/message
	// - "trace_order": audit entries for entities appear in order
	// - "trace_count": exactly N audit entries match event/entity/parent
	// - "final_state": an entity's stored fields match expect
	// - "instance_count": a template has exactly N live instances
	Type string `yaml:"type"`

	// Event is the audit event type (e.g. "instance_created").
	Event string `yaml:"event,omitempty"`

	// Entity is the entity id the assertion applies to.
	Entity string `yaml:"entity,omitempty"`

	// Parent is the causal parent id of matching audit entries.
	Parent string `yaml:"parent,omitempty"`

	// Message is the exact audit message to match.
	Message string `yaml:"message,omitempty"`

	// Entities is the expected order (used by trace_order).
	Entities []string `yaml:"entities,omitempty"`

	// Count is the expected number of matches.
	Count int `yaml:"count,omitempty"`

	// Status restricts instance_count to one status.
	Status string `yaml:"status,omitempty"`

	// Expect contains expected field values (used by final_state).
	// Subset match - only specified fields are validated.
	Expect map[string]interface{} `yaml:"expect,omitempty"`
}

// Flow operations.
const (
	OpMaterialize    = "materialize"
	OpMaterializeAll = "materialize_all"
	OpCascade        = "cascade"
	OpUncascade      = "uncascade"
	OpSetStatus      = "set_status"
	OpResetCascades  = "reset_cascades"
	OpDeleteGroup    = "delete_group"
	OpDeleteTemplate = "delete_template"
	OpArchive        = "archive"
	OpCloseOut       = "close_out"
	OpAdvance        = "advance"
)

// CaseOK is the expected case of a step that returns no error.
const CaseOK = "ok"

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertInstanceCount = "instance_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// Start returns the scenario's clock start.
func (s *Scenario) Start() (time.Time, error) {
	if s.Now == "" {
		return DefaultNow, nil
	}
	return task.ParseDate(s.Now)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if _, err := s.Start(); err != nil {
		return fmt.Errorf("now: %w", err)
	}

	if s.BatchSize < 0 {
		return fmt.Errorf("batch_size must be non-negative")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	seen := make(map[string]bool, len(s.Seed))
	for i, ent := range s.Seed {
		if err := validateSeed(i, ent, seen); err != nil {
			return err
		}
		seen[ent.ID] = true
	}

	for i, step := range s.Flow {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateSeed(index int, ent SeedEntity, seen map[string]bool) error {
	if ent.ID == "" {
		return fmt.Errorf("seed[%d]: id is required", index)
	}
	if seen[ent.ID] {
		return fmt.Errorf("seed[%d]: duplicate id %q", index, ent.ID)
	}
	if _, err := task.ParseKind(ent.Kind); err != nil {
		return fmt.Errorf("seed[%d]: %w", index, err)
	}
	if ent.Parent != "" && !seen[ent.Parent] {
		return fmt.Errorf("seed[%d]: parent %q must be seeded first", index, ent.Parent)
	}
	if ent.Due != "" {
		if _, err := task.ParseDate(ent.Due); err != nil {
			return fmt.Errorf("seed[%d]: due: %w", index, err)
		}
	}
	if ent.Frequency != nil {
		for _, d := range ent.Frequency.CustomDays {
			if _, err := task.ParseDate(d); err != nil {
				return fmt.Errorf("seed[%d]: custom_days: %w", index, err)
			}
		}
	}
	return nil
}

func validateStep(index int, step FlowStep) error {
	switch step.Op {
	case OpMaterializeAll, OpCloseOut:
	case OpMaterialize, OpArchive, OpDeleteGroup, OpDeleteTemplate, OpResetCascades:
		if step.Target == "" {
			return fmt.Errorf("flow[%d]: target is required for %s", index, step.Op)
		}
	case OpCascade, OpUncascade, OpSetStatus:
		if step.Target == "" {
			return fmt.Errorf("flow[%d]: target is required for %s", index, step.Op)
		}
		if _, err := task.ParseStatus(step.To); err != nil {
			return fmt.Errorf("flow[%d]: to: %w", index, err)
		}
	case OpAdvance:
		if step.Days <= 0 {
			return fmt.Errorf("flow[%d]: days must be positive for advance", index)
		}
	case "":
		return fmt.Errorf("flow[%d]: op is required", index)
	default:
		return fmt.Errorf("flow[%d]: unknown op %q", index, step.Op)
	}

	for name, v := range map[string]string{"until": step.Until, "as_of": step.AsOf} {
		if v == "" {
			continue
		}
		if _, err := task.ParseDate(v); err != nil {
			return fmt.Errorf("flow[%d]: %s: %w", index, name, err)
		}
	}
	if step.From != "" {
		if _, err := task.ParseStatus(step.From); err != nil {
			return fmt.Errorf("flow[%d]: from: %w", index, err)
		}
	}

	if step.Expect != nil && step.Expect.Case == "" {
		return fmt.Errorf("flow[%d].expect: case is required", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Entities) == 0 {
			return fmt.Errorf("assertions[%d]: entities list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Entity == "" {
			return fmt.Errorf("assertions[%d]: entity is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertInstanceCount:
		if a.Entity == "" {
			return fmt.Errorf("assertions[%d]: entity is required for instance_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for instance_count", index)
		}
		if a.Status != "" {
			if _, err := task.ParseStatus(a.Status); err != nil {
				return fmt.Errorf("assertions[%d]: status: %w", index, err)
			}
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
