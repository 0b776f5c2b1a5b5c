package harness

import (
	"github.com/roach88/cadence/internal/task"
)

// Trace event types.
const (
	EventStep  = "step"
	EventAudit = "audit"
)

// TraceEvent is either a flow step with its outcome or an audit entry the
// step produced. Steps are followed by their audit entries in log order.
type TraceEvent struct {
	Seq  int64  `json:"seq"`
	Type string `json:"type"` // "step" or "audit"

	// Step fields.
	Op     string         `json:"op,omitempty"`
	Target task.ID        `json:"target,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
	Case   string         `json:"case,omitempty"`
	Result map[string]any `json:"result,omitempty"`

	// Audit fields.
	Event   string    `json:"event,omitempty"`
	Entity  task.ID   `json:"entity,omitempty"`
	Kind    task.Kind `json:"kind,omitempty"`
	Parent  task.ID   `json:"parent,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion matched.
	Pass bool `json:"pass"`

	// Trace contains every step and audit entry in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStepTrace appends a flow step and its outcome.
func (r *Result) AddStepTrace(step FlowStep, outcome string, result map[string]any) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:    r.nextSeq(),
		Type:   EventStep,
		Op:     step.Op,
		Target: task.ID(step.Target),
		Args:   step.args(),
		Case:   outcome,
		Result: result,
	})
}

// AddAuditTrace appends one audit log entry.
func (r *Result) AddAuditTrace(e task.LogEntry) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:     r.nextSeq(),
		Type:    EventAudit,
		Event:   e.EventType,
		Entity:  e.EntityID,
		Kind:    e.EntityType,
		Parent:  e.CausalParentID,
		Message: e.Message,
	})
}

// Audits returns the audit events of the trace in order.
func (r *Result) Audits() []TraceEvent {
	var out []TraceEvent
	for _, ev := range r.Trace {
		if ev.Type == EventAudit {
			out = append(out, ev)
		}
	}
	return out
}

func (r *Result) nextSeq() int64 {
	return int64(len(r.Trace) + 1)
}
