package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/cadence/internal/store"
	"github.com/roach88/cadence/internal/task"
)

// ErrChildRemains marks an entity kept because something beneath it could
// not be deleted.
var ErrChildRemains = errors.New("kept: a child could not be deleted")

// DeleteResult reports a cascading delete.
type DeleteResult struct {
	RootID task.ID

	// Planned is the number of entities collected for deletion.
	Planned int

	// Deleted lists the entities actually removed, in deletion order.
	Deleted []task.ID
}

// Count returns the number of entities actually removed.
func (r DeleteResult) Count() int {
	return len(r.Deleted)
}

// deletePlan is the ordered set of entities to remove: instances, then
// templates, then groups deepest first.
type deletePlan struct {
	instances []task.ID
	templates []task.ID
	groups    []task.ID
	parent    map[task.ID]task.ID
}

func newDeletePlan() *deletePlan {
	return &deletePlan{parent: make(map[task.ID]task.ID)}
}

func (p *deletePlan) kinds() map[task.ID]task.Kind {
	out := make(map[task.ID]task.Kind, len(p.instances)+len(p.templates)+len(p.groups))
	for _, id := range p.instances {
		out[id] = task.KindInstance
	}
	for _, id := range p.templates {
		out[id] = task.KindTemplate
	}
	for _, id := range p.groups {
		out[id] = task.KindGroup
	}
	return out
}

func (p *deletePlan) ordered() []task.ID {
	out := make([]task.ID, 0, len(p.instances)+len(p.templates)+len(p.groups))
	out = append(out, p.instances...)
	out = append(out, p.templates...)
	for i := len(p.groups) - 1; i >= 0; i-- {
		out = append(out, p.groups[i])
	}
	return out
}

// DeleteGroupCascade deletes a group, every group nested beneath it, every
// template owned by any of those groups and every instance of those
// templates.
//
// Nested groups are collected breadth-first with a visited set, so each
// group is expanded once even if the stored tree is malformed. Entities are
// removed leaves first; a failure part way never leaves an entity whose
// parent is already gone. Failed deletions are reported in a
// *PartialFailureError and successful ones are kept.
func (e *Engine) DeleteGroupCascade(ctx context.Context, groupID task.ID) (DeleteResult, error) {
	result := DeleteResult{RootID: groupID}

	if _, err := e.getGroup(ctx, groupID); err != nil {
		return result, err
	}

	plan := newDeletePlan()
	visited := map[task.ID]bool{groupID: true}
	queue := []task.ID{groupID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		plan.groups = append(plan.groups, current)

		children, err := e.store.List(ctx, store.ChildrenOf(current, task.KindGroup))
		if err != nil {
			return result, fmt.Errorf("delete group %s: collect groups: %w", groupID, err)
		}
		for _, child := range children {
			id := child.Common().ID
			if visited[id] {
				continue
			}
			visited[id] = true
			plan.parent[id] = current
			queue = append(queue, id)
		}

		templates, err := e.store.List(ctx, store.ChildrenOf(current, task.KindTemplate))
		if err != nil {
			return result, fmt.Errorf("delete group %s: collect templates: %w", groupID, err)
		}
		for _, tmpl := range templates {
			id := tmpl.Common().ID
			plan.parent[id] = current
			if err := e.collectTemplate(ctx, id, plan); err != nil {
				return result, fmt.Errorf("delete group %s: %w", groupID, err)
			}
		}
	}

	return e.executeDelete(ctx, fmt.Sprintf("delete group %s", groupID), result, plan)
}

// DeleteTemplateCascade deletes a template and all of its instances.
func (e *Engine) DeleteTemplateCascade(ctx context.Context, templateID task.ID) (DeleteResult, error) {
	result := DeleteResult{RootID: templateID}

	if _, err := e.getTemplate(ctx, templateID); err != nil {
		return result, err
	}

	plan := newDeletePlan()
	if err := e.collectTemplate(ctx, templateID, plan); err != nil {
		return result, fmt.Errorf("delete template %s: %w", templateID, err)
	}

	return e.executeDelete(ctx, fmt.Sprintf("delete template %s", templateID), result, plan)
}

func (e *Engine) collectTemplate(ctx context.Context, templateID task.ID, plan *deletePlan) error {
	instances, err := e.store.List(ctx, store.ChildrenOf(templateID, task.KindInstance))
	if err != nil {
		return fmt.Errorf("collect instances of %s: %w", templateID, err)
	}
	for _, inst := range instances {
		id := inst.Common().ID
		plan.instances = append(plan.instances, id)
		plan.parent[id] = templateID
	}
	plan.templates = append(plan.templates, templateID)
	return nil
}

// executeDelete removes the plan in order. An entity whose child could not
// be removed is kept and reported too, so no survivor loses its parent.
func (e *Engine) executeDelete(ctx context.Context, op string, result DeleteResult, plan *deletePlan) (DeleteResult, error) {
	ids := plan.ordered()
	result.Planned = len(ids)

	kinds := plan.kinds()
	blocked := make(map[task.ID]bool)

	failures := newFailureSet(op)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			failures.fail(id, err)
			break
		}

		if blocked[id] {
			failures.fail(id, fmt.Errorf("%s %s: %w", kinds[id], id, ErrChildRemains))
			blocked[plan.parent[id]] = true
			continue
		}

		if err := e.store.Delete(ctx, id); err != nil {
			failures.fail(id, err)
			blocked[plan.parent[id]] = true
			continue
		}
		failures.ok()
		result.Deleted = append(result.Deleted, id)

		if kinds[id] == task.KindTemplate {
			// A re-created template with the same id starts with a clean ledger.
			if _, err := e.ledger.ReleaseEntity(ctx, id, ""); err != nil {
				e.log.Warn().Err(err).Str("template_id", string(id)).Msg("release ledger keys failed")
			}
		}

		e.record(ctx, task.LogEntry{
			EntityType:     kinds[id],
			EntityID:       id,
			EventType:      task.EventDeleted,
			CausalParentID: result.RootID,
		})
	}

	e.log.Info().
		Str("root_id", string(result.RootID)).
		Int("count", len(result.Deleted)).
		Int("planned", result.Planned).
		Msg("cascade delete finished")

	return result, failures.err()
}
