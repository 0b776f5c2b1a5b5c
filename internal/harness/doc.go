// Package harness provides scenario-based conformance testing for the
// cadence engine.
//
// A scenario seeds a task tree into a fresh in-memory store, runs a flow of
// engine operations against it with a frozen clock and sequential instance
// ids, and validates the outcome. Every run of a scenario produces the same
// trace, so traces can be compared against golden files.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: monthly_rent
//	description: "What this scenario validates"
//	now: 2025-01-01
//	seed:
//	  - id: home
//	    kind: group
//	    name: Home
//	  - id: rent
//	    kind: template
//	    parent: home
//	    name: Pay rent
//	    due: 2025-03-01
//	    frequency: { type: monthly, interval: 1 }
//	flow:
//	  - op: materialize
//	    target: rent
//	    expect:
//	      case: ok
//	      result: { created: 3 }
//	  - op: cascade
//	    target: rent
//	    to: done
//	assertions:
//	  - type: trace_count
//	    event: status_cascaded
//	    parent: rent
//	    count: 3
//	  - type: final_state
//	    entity: rent
//	    expect: { status: not_started }
//
// # Operations
//
// materialize, materialize_all, cascade, uncascade, set_status,
// reset_cascades, delete_group, delete_template, archive, close_out and
// advance (moves the clock forward by days).
//
// # Assertion Types
//
//   - trace_contains: an audit entry matches event, entity, parent and message
//   - trace_order: the first audit entry of each listed entity appears in order
//   - trace_count: exactly N audit entries match
//   - final_state: an entity's stored fields match (subset semantics)
//   - instance_count: a template has exactly N live instances
//
// # Golden Files
//
// MarshalTrace renders a trace as indented JSON. RunWithGolden compares it
// through goldie; RunSuite compares against golden/<name>.golden next to
// the scenario files and rewrites them with SuiteOptions.Update.
package harness
