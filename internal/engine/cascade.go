package engine

import (
	"context"
	"fmt"

	"github.com/roach88/cadence/internal/store"
	"github.com/roach88/cadence/internal/task"
)

// CascadeResult reports one cascade or uncascade call.
type CascadeResult struct {
	TemplateID task.ID
	Key        task.EffectKey

	// Skipped is true when the key was already claimed; nothing was updated.
	Skipped bool

	// Updated lists the instances moved to the target status, in due-date order.
	Updated []task.ID
}

// CascadePreview describes what a cascade would do without doing it.
type CascadePreview struct {
	Key            task.EffectKey
	AlreadyApplied bool
	Pending        []task.ID
}

// CascadeStatus applies newStatus to every instance of the template that is
// not already at it, exactly once per (template, newStatus).
//
// The effect key is claimed atomically before any instance is touched, so
// of two concurrent callers only one updates instances and the other gets
// Skipped. oldStatus is recorded in the audit trail only.
func (e *Engine) CascadeStatus(ctx context.Context, templateID task.ID, newStatus, oldStatus task.Status) (CascadeResult, error) {
	return e.runCascade(ctx, templateID, task.ActionCascade, newStatus, oldStatus)
}

// UncascadeStatus reverts every instance of the template to revertStatus,
// exactly once per (template, revertStatus).
func (e *Engine) UncascadeStatus(ctx context.Context, templateID task.ID, revertStatus task.Status) (CascadeResult, error) {
	return e.runCascade(ctx, templateID, task.ActionUncascade, revertStatus, "")
}

// CountInstancesNotAtStatus returns how many live instances of the template
// are not at target. A UI uses this to offer a cascade only when it would
// change something.
func (e *Engine) CountInstancesNotAtStatus(ctx context.Context, templateID task.ID, target task.Status) (int, error) {
	n, err := e.store.Count(ctx, store.Filter{
		ParentID:  templateID,
		Kind:      task.KindInstance,
		StatusNot: target,
	})
	if err != nil {
		return 0, fmt.Errorf("count instances of %s: %w", templateID, err)
	}
	return n, nil
}

// PreviewCascade reports whether the key is already claimed and which
// instances a cascade would update. It writes nothing.
func (e *Engine) PreviewCascade(ctx context.Context, templateID task.ID, action task.EffectAction, target task.Status) (CascadePreview, error) {
	key := task.EffectKey{EntityID: templateID, Action: action, Target: target}
	preview := CascadePreview{Key: key}

	if _, err := e.getTemplate(ctx, templateID); err != nil {
		return preview, err
	}

	applied, err := e.ledger.Has(ctx, key)
	if err != nil {
		return preview, fmt.Errorf("preview %s: %w", key, err)
	}
	preview.AlreadyApplied = applied

	pending, err := e.Instances(ctx, templateID, store.Filter{StatusNot: target})
	if err != nil {
		return preview, err
	}
	for _, inst := range pending {
		preview.Pending = append(preview.Pending, inst.ID)
	}
	return preview, nil
}

// ResetCascades forgets every applied cascade and uncascade of a template,
// so the next call with any key runs again. Returns the number of keys dropped.
func (e *Engine) ResetCascades(ctx context.Context, templateID task.ID) (int, error) {
	n, err := e.ledger.ReleaseEntity(ctx, templateID, "")
	if err != nil {
		return 0, fmt.Errorf("reset cascades for %s: %w", templateID, err)
	}
	e.log.Info().Str("template_id", string(templateID)).Int("count", n).Msg("cascade keys reset")
	return n, nil
}

func (e *Engine) runCascade(ctx context.Context, templateID task.ID, action task.EffectAction, target, previous task.Status) (CascadeResult, error) {
	key := task.EffectKey{EntityID: templateID, Action: action, Target: target}
	result := CascadeResult{TemplateID: templateID, Key: key}

	if _, err := e.getTemplate(ctx, templateID); err != nil {
		return result, err
	}

	claimed, err := e.ledger.Claim(ctx, key)
	if err != nil {
		return result, fmt.Errorf("%s %s: %w", action, templateID, err)
	}
	if !claimed {
		e.log.Debug().Str("effect_key", key.String()).Msg("effect already applied")
		result.Skipped = true
		return result, nil
	}

	instances, err := e.Instances(ctx, templateID, store.Filter{StatusNot: target})
	if err != nil {
		e.releaseClaim(ctx, key)
		return result, err
	}

	event := task.EventCascaded
	if action == task.ActionUncascade {
		event = task.EventUncascaded
	}

	failures := newFailureSet(fmt.Sprintf("%s %s to %s", action, templateID, target))
	for _, inst := range instances {
		if err := ctx.Err(); err != nil {
			failures.fail(inst.ID, err)
			break
		}

		old := inst.Status
		now := e.clock.Now()
		inst.Status = target
		inst.Touch(now)
		if err := e.store.Upsert(ctx, inst); err != nil {
			failures.fail(inst.ID, err)
			continue
		}
		failures.ok()
		result.Updated = append(result.Updated, inst.ID)

		e.record(ctx, task.LogEntry{
			EntityType:     task.KindInstance,
			EntityID:       inst.ID,
			EventType:      event,
			OldStatus:      old,
			NewStatus:      target,
			CausalParentID: templateID,
			Message:        task.Transition(old, target),
			CreatedAt:      now,
		})
	}

	if err := failures.err(); err != nil {
		// Let a retry finish the wave. Instances already at target are
		// filtered out next time and are not logged twice.
		e.releaseClaim(ctx, key)
		e.log.Error().
			Err(err).
			Str("effect_key", key.String()).
			Int("count", len(result.Updated)).
			Msg("cascade incomplete; claim released")
		return result, err
	}

	// A completed wave supersedes the other finished claims of this
	// template, so a later toggle back to an earlier status runs again.
	// Claims of waves still running stay put.
	if err := e.ledger.Complete(ctx, key); err != nil {
		e.log.Warn().Err(err).Str("effect_key", key.String()).Msg("mark claim completed failed")
	}
	if _, err := e.ledger.ReleaseExcept(ctx, templateID, key); err != nil {
		e.log.Warn().Err(err).Str("effect_key", key.String()).Msg("release superseded claims failed")
	}

	e.record(ctx, task.LogEntry{
		EntityType: task.KindTemplate,
		EntityID:   templateID,
		EventType:  task.EventTemplateCascade,
		OldStatus:  previous,
		NewStatus:  target,
		Message:    fmt.Sprintf("%s to %d instances", action, len(result.Updated)),
	})

	e.log.Info().
		Str("template_id", string(templateID)).
		Str("effect_key", key.String()).
		Int("count", len(result.Updated)).
		Msg("cascade applied")

	return result, nil
}

func (e *Engine) releaseClaim(ctx context.Context, key task.EffectKey) {
	// The caller's ctx may be the reason we are here.
	if err := e.ledger.Release(context.WithoutCancel(ctx), key); err != nil {
		e.log.Error().Err(err).Str("effect_key", key.String()).Msg("release claim failed")
	}
}
