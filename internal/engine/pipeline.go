package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/cadence/internal/task"
)

// Stage names one step of the Save pipeline.
type Stage string

const (
	StageValidate    Stage = "validate"
	StageStamp       Stage = "stamp"
	StagePersist     Stage = "persist"
	StageAudit       Stage = "audit"
	StageCascade     Stage = "cascade"
	StageMaterialize Stage = "materialize"
)

// Stages lists the pipeline in execution order.
var Stages = []Stage{StageValidate, StageStamp, StagePersist, StageAudit, StageCascade, StageMaterialize}

// Optional reports whether a stage may be skipped.
func (s Stage) Optional() bool {
	switch s {
	case StageAudit, StageCascade, StageMaterialize:
		return true
	}
	return false
}

// SaveOptions tunes one Save call.
type SaveOptions struct {
	// Skip names optional stages to bypass. Bulk imports skip materialize.
	Skip []Stage

	// MaterializeUntil overrides the template due date as the safety limit.
	MaterializeUntil *time.Time
}

// SaveResult reports what Save did.
type SaveResult struct {
	Entity task.Entity

	// Created is true when no live row with the entity's id existed.
	Created bool

	// Ran lists the stages that executed, in order.
	Ran []Stage

	Cascade     *CascadeResult
	Materialize *MaterializeResult
}

// saveState is threaded through the stages of one Save call.
type saveState struct {
	entity   task.Entity
	opts     SaveOptions
	previous task.Entity
	now      time.Time
	result   SaveResult
}

type stageFunc func(ctx context.Context, st *saveState) error

// Save writes an entity through the ordered stage pipeline:
//
//  1. validate     structural checks against the stored parent and prior row
//  2. stamp        id, normalized name, default status, timestamps
//  3. persist      EntityStore.Upsert
//  4. audit        "upserted" log entry
//  5. cascade      a template whose status changed pushes it to its instances
//  6. materialize  a template with a due date generates its next batch
//
// Only audit, cascade and materialize can be skipped; naming any other
// stage in SaveOptions.Skip is an error.
func (e *Engine) Save(ctx context.Context, ent task.Entity, opts SaveOptions) (SaveResult, error) {
	skip := make(map[Stage]bool, len(opts.Skip))
	for _, s := range opts.Skip {
		if !s.Optional() {
			return SaveResult{}, fmt.Errorf("save: stage %q cannot be skipped", s)
		}
		skip[s] = true
	}

	st := &saveState{entity: ent, opts: opts, now: e.clock.Now()}
	st.result.Entity = ent

	run := map[Stage]stageFunc{
		StageValidate:    e.stageValidate,
		StageStamp:       e.stageStamp,
		StagePersist:     e.stagePersist,
		StageAudit:       e.stageAudit,
		StageCascade:     e.stageCascade,
		StageMaterialize: e.stageMaterialize,
	}

	for _, stage := range Stages {
		if skip[stage] {
			continue
		}
		if err := run[stage](ctx, st); err != nil {
			return st.result, fmt.Errorf("save %s: %s: %w", ent.Common().ID, stage, err)
		}
		st.result.Ran = append(st.result.Ran, stage)
	}

	return st.result, nil
}

func (e *Engine) stageValidate(ctx context.Context, st *saveState) error {
	base := st.entity.Common()

	if task.NormalizeName(base.Name) == "" {
		return NewInvalidEntityError(base.ID, "name is required")
	}
	if base.Status != "" {
		if _, err := task.ParseStatus(string(base.Status)); err != nil {
			return NewInvalidEntityError(base.ID, err.Error())
		}
	}

	if base.ID != "" {
		prev, err := e.Get(ctx, base.ID)
		switch {
		case IsNotFound(err):
		case err != nil:
			return err
		case prev.Kind() != st.entity.Kind():
			return NewWrongKindError(base.ID, prev.Kind(), st.entity.Kind())
		default:
			st.previous = prev
		}
	}
	if base.ParentID != "" && base.ParentID == base.ID {
		return NewInvalidEntityError(base.ID, "entity cannot be its own parent")
	}

	switch ent := st.entity.(type) {
	case *task.Group:
		return e.validateParent(ctx, base, task.KindGroup, false)
	case *task.Template:
		if !ent.Frequency.IsZero() && !ent.Frequency.Known() {
			return NewInvalidEntityError(base.ID, fmt.Sprintf("unknown frequency type %q", ent.Frequency.Type))
		}
		return e.validateParent(ctx, base, task.KindGroup, false)
	case *task.Instance:
		if ent.DueDate.IsZero() {
			return NewInvalidEntityError(base.ID, "instance requires a due date")
		}
		return e.validateParent(ctx, base, task.KindTemplate, true)
	default:
		return NewInvalidEntityError(base.ID, fmt.Sprintf("unsupported entity %T", ent))
	}
}

// validateParent checks that the parent exists and has the expected kind.
func (e *Engine) validateParent(ctx context.Context, base *task.Base, want task.Kind, required bool) error {
	if base.ParentID == "" {
		if required {
			return NewInvalidEntityError(base.ID, fmt.Sprintf("a %s parent is required", want))
		}
		return nil
	}
	parent, err := e.Get(ctx, base.ParentID)
	if err != nil {
		return err
	}
	if parent.Kind() != want {
		return NewWrongKindError(base.ParentID, want, parent.Kind())
	}
	return nil
}

func (e *Engine) stageStamp(_ context.Context, st *saveState) error {
	base := st.entity.Common()

	if base.ID == "" {
		base.ID = task.ID(e.ids.Generate())
	}
	base.Name = task.NormalizeName(base.Name)
	if base.Status == "" {
		base.Status = task.StatusNotStarted
	} else {
		// Already validated.
		base.Status, _ = task.ParseStatus(string(base.Status))
	}

	switch {
	case st.previous != nil:
		base.CreatedAt = st.previous.Common().CreatedAt
	case base.CreatedAt.IsZero():
		base.CreatedAt = st.now
	}
	base.Touch(st.now)

	st.result.Created = st.previous == nil
	return nil
}

func (e *Engine) stagePersist(ctx context.Context, st *saveState) error {
	return e.store.Upsert(ctx, st.entity)
}

func (e *Engine) stageAudit(ctx context.Context, st *saveState) error {
	base := st.entity.Common()
	entry := task.LogEntry{
		EntityType:     st.entity.Kind(),
		EntityID:       base.ID,
		EventType:      task.EventUpserted,
		NewStatus:      base.Status,
		CausalParentID: base.ParentID,
		CreatedAt:      st.now,
	}
	if st.previous != nil {
		entry.OldStatus = st.previous.Common().Status
	}
	entry.Message = task.Transition(entry.OldStatus, entry.NewStatus)
	e.record(ctx, entry)
	return nil
}

func (e *Engine) stageCascade(ctx context.Context, st *saveState) error {
	tmpl, ok := task.AsTemplate(st.entity)
	if !ok || st.previous == nil {
		return nil
	}
	old := st.previous.Common().Status
	if old == tmpl.Status {
		return nil
	}

	res, err := e.CascadeStatus(ctx, tmpl.ID, tmpl.Status, old)
	st.result.Cascade = &res
	return err
}

func (e *Engine) stageMaterialize(ctx context.Context, st *saveState) error {
	tmpl, ok := task.AsTemplate(st.entity)
	if !ok || tmpl.DueDate == nil {
		return nil
	}

	res, err := e.MaterializeTemplate(ctx, tmpl.ID, st.opts.MaterializeUntil)
	st.result.Materialize = &res
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("template vanished before materialization: %w", err)
	}
	return err
}
