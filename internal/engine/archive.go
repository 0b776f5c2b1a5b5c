package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/cadence/internal/store"
	"github.com/roach88/cadence/internal/task"
)

var finishedStatuses = []task.Status{task.StatusDone, task.StatusCollected}

// CloseOutResult reports a CloseOut pass.
type CloseOutResult struct {
	AsOf      time.Time
	Templates int
	// Archived counts instances whose row changed.
	Archived int
}

// ArchiveCompletedInstances moves every finished (done or collected)
// instance under parentID to collected with IsCollected set.
//
// Only rows that change are written and logged, so re-running is a no-op.
// The whole selected set is returned, including rows that were already
// archived. Unfinished instances are never touched.
func (e *Engine) ArchiveCompletedInstances(ctx context.Context, parentID task.ID) ([]*task.Instance, error) {
	selected, err := e.Instances(ctx, parentID, store.Filter{Statuses: finishedStatuses})
	if err != nil {
		return nil, err
	}

	failures := newFailureSet(fmt.Sprintf("archive %s", parentID))
	changed := e.archive(ctx, parentID, selected, failures)

	e.log.Debug().
		Str("template_id", string(parentID)).
		Int("count", changed).
		Int("selected", len(selected)).
		Msg("archived instances")

	return selected, failures.err()
}

// CloseOut archives, for every template, the finished instances due on or
// before asOf. It is the periodic "close the month" pass.
func (e *Engine) CloseOut(ctx context.Context, asOf time.Time) (CloseOutResult, error) {
	result := CloseOutResult{AsOf: asOf.UTC()}

	templates, err := e.Templates(ctx)
	if err != nil {
		return result, err
	}
	result.Templates = len(templates)

	failures := newFailureSet(fmt.Sprintf("close out %s", task.DayKey(asOf)))
	for _, tmpl := range templates {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("close out: %w", err)
		}

		selected, err := e.Instances(ctx, tmpl.ID, store.Filter{
			Statuses:      finishedStatuses,
			DueOnOrBefore: &result.AsOf,
		})
		if err != nil {
			failures.fail(tmpl.ID, err)
			continue
		}
		result.Archived += e.archive(ctx, tmpl.ID, selected, failures)
	}

	e.log.Info().
		Time("as_of", result.AsOf).
		Int("templates", result.Templates).
		Int("count", result.Archived).
		Msg("close out finished")

	return result, failures.err()
}

// archive updates the selected instances in place and returns how many
// rows changed.
func (e *Engine) archive(ctx context.Context, parentID task.ID, selected []*task.Instance, failures *failureSet) int {
	changed := 0
	for _, inst := range selected {
		if inst.Status == task.StatusCollected && inst.IsCollected {
			continue
		}

		before := *inst
		old := inst.Status
		now := e.clock.Now()
		inst.Status = task.StatusCollected
		inst.IsCollected = true
		inst.Touch(now)
		if err := e.store.Upsert(ctx, inst); err != nil {
			*inst = before
			failures.fail(inst.ID, err)
			continue
		}
		failures.ok()
		changed++

		e.record(ctx, task.LogEntry{
			EntityType:     task.KindInstance,
			EntityID:       inst.ID,
			EventType:      task.EventArchived,
			OldStatus:      old,
			NewStatus:      task.StatusCollected,
			CausalParentID: parentID,
			Message:        task.Transition(old, task.StatusCollected),
			CreatedAt:      now,
		})
	}
	return changed
}
