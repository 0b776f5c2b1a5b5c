package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/cadence/internal/store"
	"github.com/roach88/cadence/internal/task"
)

// MaterializeOutcome says how a materialization call ended.
type MaterializeOutcome string

const (
	// OutcomeMaterialized means candidates were computed; Created may still be empty.
	OutcomeMaterialized MaterializeOutcome = "materialized"

	// OutcomeMissingSafetyBound means the template has no due date and
	// nothing was generated. It is not an error.
	OutcomeMissingSafetyBound MaterializeOutcome = "missing_safety_bound"
)

// MaterializeResult reports one materialization pass over a template.
type MaterializeResult struct {
	TemplateID task.ID
	Outcome    MaterializeOutcome

	// Created holds the instances written by this pass, in due-date order.
	Created []*task.Instance

	// Candidates is how many dates the frequency engine produced.
	Candidates int

	// Skipped counts candidates whose day already had an instance.
	Skipped int

	// Limit is the effective safety limit used.
	Limit time.Time
}

// Err returns a MISSING_SAFETY_BOUND RuntimeError for a precondition
// outcome and nil otherwise.
func (r MaterializeResult) Err() error {
	if r.Outcome == OutcomeMissingSafetyBound {
		return NewMissingSafetyBoundError(r.TemplateID)
	}
	return nil
}

// MaterializeInstances generates the next batch of instances for tmpl.
//
// existing is the template's current instance set; candidates on a day that
// already has an instance are dropped silently. The store's identity index
// is the second guard against concurrent materializers.
//
// A template without a due date yields OutcomeMissingSafetyBound and a nil
// error so sweeps over many templates keep going.
//
// The effective safety limit is explicitEnd when given, else the template's
// due date. The schedule is anchored at the start of the current UTC day
// or at the earliest existing instance, whichever is earlier, so passes on
// later days land on the days already stored. Custom frequencies start at
// their earliest listed date. At most one batch is created per pass.
func (e *Engine) MaterializeInstances(ctx context.Context, tmpl *task.Template, existing []*task.Instance, explicitEnd *time.Time) (MaterializeResult, error) {
	result := MaterializeResult{TemplateID: tmpl.ID}

	if tmpl.DueDate == nil {
		e.log.Warn().
			Str("template_id", string(tmpl.ID)).
			Msg("template has no due date; skipping instance generation")
		result.Outcome = OutcomeMissingSafetyBound
		return result, nil
	}

	now := e.clock.Now()
	result.Outcome = OutcomeMaterialized
	result.Limit = effectiveLimit(now, tmpl.DueDate, explicitEnd)

	dates := e.candidates(tmpl, existing, now, result.Limit)
	result.Candidates = len(dates)

	seen := make(map[string]bool, len(existing))
	for _, inst := range existing {
		seen[inst.DayKey()] = true
	}

	// "always" runs to the limit; everything else creates one batch per pass.
	capped := tmpl.Frequency.Type != task.FrequencyAlways
	for _, due := range dates {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("materialize %s: %w", tmpl.ID, err)
		}

		if capped && len(result.Created) >= e.batchSize {
			break
		}

		dayKey := task.DayKey(due)
		if seen[dayKey] {
			result.Skipped++
			continue
		}
		seen[dayKey] = true

		inst := e.newInstance(tmpl, due, now)
		inserted, err := e.store.InsertInstance(ctx, inst)
		if err != nil {
			return result, fmt.Errorf("materialize %s: %w", tmpl.ID, err)
		}
		if !inserted {
			// Another writer created this day first.
			result.Skipped++
			continue
		}

		result.Created = append(result.Created, inst)
		e.record(ctx, task.LogEntry{
			EntityType:     task.KindInstance,
			EntityID:       inst.ID,
			EventType:      task.EventInstanceCreated,
			NewStatus:      inst.Status,
			CausalParentID: tmpl.ID,
			Message:        "due " + dayKey,
			CreatedAt:      now,
		})
	}

	e.log.Debug().
		Str("template_id", string(tmpl.ID)).
		Int("count", len(result.Created)).
		Int("skipped", result.Skipped).
		Time("limit", result.Limit).
		Msg("materialized instances")

	return result, nil
}

// MaterializeTemplate loads a template and its instances and runs
// MaterializeInstances.
func (e *Engine) MaterializeTemplate(ctx context.Context, templateID task.ID, explicitEnd *time.Time) (MaterializeResult, error) {
	tmpl, err := e.getTemplate(ctx, templateID)
	if err != nil {
		return MaterializeResult{TemplateID: templateID}, err
	}

	existing, err := e.Instances(ctx, templateID, store.Filter{})
	if err != nil {
		return MaterializeResult{TemplateID: templateID}, err
	}

	return e.MaterializeInstances(ctx, tmpl, existing, explicitEnd)
}

// MaterializeAll runs MaterializeTemplate for every template. A failing
// template does not stop the others; failures are returned together in a
// *PartialFailureError alongside the results of the rest.
func (e *Engine) MaterializeAll(ctx context.Context, explicitEnd *time.Time) ([]MaterializeResult, error) {
	templates, err := e.Templates(ctx)
	if err != nil {
		return nil, err
	}

	failures := newFailureSet("materialize all")
	results := make([]MaterializeResult, 0, len(templates))
	for _, tmpl := range templates {
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("materialize all: %w", err)
		}

		existing, err := e.Instances(ctx, tmpl.ID, store.Filter{})
		if err != nil {
			failures.fail(tmpl.ID, err)
			continue
		}
		res, err := e.MaterializeInstances(ctx, tmpl, existing, explicitEnd)
		if err != nil {
			failures.fail(tmpl.ID, err)
			continue
		}
		failures.ok()
		results = append(results, res)
	}

	return results, failures.err()
}

// candidates returns the scheduled dates for tmpl, stepped from a stable
// anchor: the earlier of today and the earliest existing instance. Enough
// dates are requested to cover the existing ones plus a fresh batch, so a
// pass on a later day walks the same days and only extends the schedule.
func (e *Engine) candidates(tmpl *task.Template, existing []*task.Instance, now, limit time.Time) []time.Time {
	anchor := task.StartOfDay(now)
	for _, inst := range existing {
		if day := task.StartOfDay(inst.DueDate); day.Before(anchor) {
			anchor = day
		}
	}
	return e.freq.Compute(tmpl.Frequency, anchor, len(existing)+e.batchSize, limit)
}

// newInstance builds the instance for one occurrence of tmpl.
func (e *Engine) newInstance(tmpl *task.Template, due, now time.Time) *task.Instance {
	return &task.Instance{
		Base: task.Base{
			ID:         task.ID(e.ids.Generate()),
			ParentID:   tmpl.ID,
			Name:       InstanceName(tmpl.Name, due),
			Status:     task.StatusNotStarted,
			Attributes: tmpl.CloneAttributes(),
			Links:      nil,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		DueDate: due.UTC(),
	}
}

// InstanceName suffixes a template name with the occurrence's month and
// year: "Water plants - January 2025".
func InstanceName(templateName string, due time.Time) string {
	return fmt.Sprintf("%s - %s", templateName, due.UTC().Format("January 2006"))
}

// effectiveLimit picks explicitEnd, then the due date, then one year out.
func effectiveLimit(now time.Time, due, explicitEnd *time.Time) time.Time {
	switch {
	case explicitEnd != nil:
		return explicitEnd.UTC()
	case due != nil:
		return due.UTC()
	default:
		return now.AddDate(1, 0, 0)
	}
}
