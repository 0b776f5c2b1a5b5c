package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/roach88/cadence/internal/engine"
	"github.com/roach88/cadence/internal/store"
	"github.com/roach88/cadence/internal/task"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Audit trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nAudit trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %s\n", event.Seq, event.Event, event.Entity, event.Message)
		}
	}

	return buf.String()
}

// AssertionContext provides what state assertions need to query.
type AssertionContext struct {
	Engine *engine.Engine
	Ctx    context.Context
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Audits(), a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Audits(), a)
		case AssertTraceCount:
			err = assertTraceCount(result.Audits(), a)
		case AssertFinalState:
			err = assertFinalState(actx, a)
		case AssertInstanceCount:
			err = assertInstanceCount(actx, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

// matches reports whether an audit event satisfies the assertion's
// event, entity, parent and message filters. Empty filters match anything.
func matches(ev TraceEvent, a Assertion) bool {
	if a.Event != "" && ev.Event != a.Event {
		return false
	}
	if a.Entity != "" && string(ev.Entity) != a.Entity {
		return false
	}
	if a.Parent != "" && string(ev.Parent) != a.Parent {
		return false
	}
	if a.Message != "" && ev.Message != a.Message {
		return false
	}
	return true
}

func describe(a Assertion) string {
	parts := []string{"event " + a.Event}
	if a.Entity != "" {
		parts = append(parts, "entity "+a.Entity)
	}
	if a.Parent != "" {
		parts = append(parts, "parent "+a.Parent)
	}
	if a.Message != "" {
		parts = append(parts, fmt.Sprintf("message %q", a.Message))
	}
	return strings.Join(parts, ", ")
}

// assertTraceContains checks that at least one audit entry matches.
func assertTraceContains(audits []TraceEvent, a Assertion) error {
	for _, ev := range audits {
		if matches(ev, a) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describe(a),
		Actual:   "not found in trace",
		Trace:    audits,
	}
}

// assertTraceOrder checks that the first matching audit entry of each
// entity appears in the listed order. Intervening entries are allowed.
func assertTraceOrder(audits []TraceEvent, a Assertion) error {
	positions := make(map[string]int, len(a.Entities))
	for i, ev := range audits {
		if a.Event != "" && ev.Event != a.Event {
			continue
		}
		id := string(ev.Entity)
		if _, ok := positions[id]; !ok {
			positions[id] = i + 1 // 1-indexed for readability
		}
	}

	for _, id := range a.Entities {
		if positions[id] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all entities present: %v", a.Entities),
				Actual:   fmt.Sprintf("missing entity: %s", id),
				Trace:    audits,
			}
		}
	}

	for i := 1; i < len(a.Entities); i++ {
		prev, curr := a.Entities[i-1], a.Entities[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("entities in order: %v", a.Entities),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: audits,
			}
		}
	}
	return nil
}

// assertTraceCount checks that exactly Count audit entries match.
func assertTraceCount(audits []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range audits {
		if matches(ev, a) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d entries with %s", a.Count, describe(a)),
			Actual:   fmt.Sprintf("%d entries", count),
			Trace:    audits,
		}
	}
	return nil
}

// assertFinalState loads the entity and compares the expected fields
// (subset semantics). The "exists" key checks presence; a missing entity
// with exists: false passes.
func assertFinalState(actx *AssertionContext, a Assertion) error {
	ent, err := actx.Engine.Get(actx.Ctx, task.ID(a.Entity))
	switch {
	case engine.IsNotFound(err):
		if want, ok := a.Expect["exists"]; ok && !stateValuesEqual(want, true) && len(a.Expect) == 1 {
			return nil
		}
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("entity %s with %s", a.Entity, formatFields(a.Expect)),
			Actual:   "entity not found",
		}
	case err != nil:
		return fmt.Errorf("load %s: %w", a.Entity, err)
	}

	actual := entityFields(ent)
	keys := sortedKeys(a.Expect)
	for _, key := range keys {
		want := a.Expect[key]
		got, ok := actual[key]
		if !ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist on %s", key, a.Entity),
				Actual:   fmt.Sprintf("field %q not present; have %v", key, sortedKeys(actual)),
			}
		}
		if !stateValuesEqual(want, got) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s.%s = %v", a.Entity, key, want),
				Actual:   fmt.Sprintf("%s.%s = %v", a.Entity, key, got),
			}
		}
	}
	return nil
}

// assertInstanceCount counts live instances of a template, optionally in
// one status.
func assertInstanceCount(actx *AssertionContext, a Assertion) error {
	var f store.Filter
	if a.Status != "" {
		f.Statuses = []task.Status{mustStatus(a.Status)}
	}
	instances, err := actx.Engine.Instances(actx.Ctx, task.ID(a.Entity), f)
	if err != nil {
		return err
	}
	if len(instances) != a.Count {
		what := "instances"
		if a.Status != "" {
			what = a.Status + " instances"
		}
		return &AssertionError{
			Type:     AssertInstanceCount,
			Expected: fmt.Sprintf("%d %s of %s", a.Count, what, a.Entity),
			Actual:   fmt.Sprintf("%d", len(instances)),
		}
	}
	return nil
}

// entityFields flattens an entity into the keys final_state can check.
func entityFields(ent task.Entity) map[string]any {
	base := ent.Common()
	out := map[string]any{
		"exists": true,
		"kind":   string(ent.Kind()),
		"name":   base.Name,
		"status": string(base.Status),
		"parent": string(base.ParentID),
	}
	switch e := ent.(type) {
	case *task.Template:
		if e.DueDate != nil {
			out["due"] = task.DayKey(*e.DueDate)
		}
		out["frequency"] = string(e.Frequency.Type)
	case *task.Instance:
		out["due"] = task.DayKey(e.DueDate)
		out["is_collected"] = e.IsCollected
	}
	for k, v := range base.Attributes {
		out["attributes."+k] = v
	}
	return out
}

// matchResult compares a step result with the expected subset and returns
// one message per mismatch, in key order.
func matchResult(actual map[string]any, expected map[string]interface{}) []string {
	var out []string
	for _, key := range sortedKeys(expected) {
		got, ok := actual[key]
		if !ok {
			out = append(out, fmt.Sprintf("result field %q not present", key))
			continue
		}
		if !stateValuesEqual(expected[key], got) {
			out = append(out, fmt.Sprintf("result %s: expected %v, got %v", key, expected[key], got))
		}
	}
	return out
}

// stateValuesEqual compares a YAML-decoded expectation with an actual
// value. Numbers compare by value regardless of Go type; dates compare by
// calendar day.
func stateValuesEqual(expected, actual any) bool {
	if t, ok := expected.(time.Time); ok {
		expected = task.DayKey(t)
	}
	return normalize(expected) == normalize(actual)
}

func normalize(v any) string {
	switch n := v.(type) {
	case int:
		return fmt.Sprintf("%d", n)
	case int64:
		return fmt.Sprintf("%d", n)
	case uint64:
		return fmt.Sprintf("%d", n)
	case float64:
		if n == float64(int64(n)) {
			return fmt.Sprintf("%d", int64(n))
		}
		return fmt.Sprintf("%g", n)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func formatFields(m map[string]interface{}) string {
	keys := sortedKeys(m)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, m[k])
	}
	return strings.Join(parts, ", ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
