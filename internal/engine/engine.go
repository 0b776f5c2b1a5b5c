package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/cadence/internal/frequency"
	"github.com/roach88/cadence/internal/store"
	"github.com/roach88/cadence/internal/task"
)

// Engine runs the scheduling, cascade, deletion and archival operations
// against its ports.
//
// Thread-safety: Engine holds no mutable state of its own. Concurrent calls
// are safe as long as the ports are; races between callers are resolved by
// the ledger claim and the store's instance identity index.
type Engine struct {
	store  EntityStore
	ledger Ledger
	audit  AuditLog

	freq      *frequency.Engine
	clock     Clock
	ids       IDGenerator
	log       zerolog.Logger
	batchSize int
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithBatchSize sets how many occurrences one materialization pass requests.
//
// Default: 12 (frequency.DefaultBatchSize). Values below one are ignored.
func WithBatchSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithMaxOccurrences caps "always" templates, which ignore the batch size.
//
// Default: 1000 (frequency.DefaultMaxOccurrences).
func WithMaxOccurrences(n int) EngineOption {
	return func(e *Engine) {
		e.freq = frequency.New(frequency.WithMaxOccurrences(n))
	}
}

// WithClock sets the time source. Default: SystemClock.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithIDGenerator sets the id source for new entities. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithLogger sets the structured logger. Default: zerolog.Nop().
func WithLogger(l zerolog.Logger) EngineOption {
	return func(e *Engine) {
		e.log = l
	}
}

// WithEntityStore overrides the backend's entity store.
func WithEntityStore(s EntityStore) EngineOption {
	return func(e *Engine) {
		e.store = s
	}
}

// WithLedger overrides the backend's ledger.
func WithLedger(l Ledger) EngineOption {
	return func(e *Engine) {
		e.ledger = l
	}
}

// WithAuditLog overrides the backend's audit log.
func WithAuditLog(a AuditLog) EngineOption {
	return func(e *Engine) {
		e.audit = a
	}
}

// New creates an Engine on a backend. Options can replace individual ports
// (e.g. WithEntityStore) and configure batch size, clock, ids and logging.
func New(b Backend, opts ...EngineOption) *Engine {
	e := &Engine{
		store:     b,
		ledger:    b,
		audit:     b,
		freq:      frequency.New(),
		clock:     SystemClock{},
		ids:       UUIDv7Generator{},
		log:       zerolog.Nop(),
		batchSize: frequency.DefaultBatchSize,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

// Get loads an entity, mapping a missing row to a NOT_FOUND RuntimeError.
func (e *Engine) Get(ctx context.Context, id task.ID) (task.Entity, error) {
	ent, err := e.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, NewNotFoundError(id)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	return ent, nil
}

func (e *Engine) getTemplate(ctx context.Context, id task.ID) (*task.Template, error) {
	ent, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	tmpl, ok := task.AsTemplate(ent)
	if !ok {
		return nil, NewWrongKindError(id, task.KindTemplate, ent.Kind())
	}
	return tmpl, nil
}

func (e *Engine) getGroup(ctx context.Context, id task.ID) (*task.Group, error) {
	ent, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	grp, ok := task.AsGroup(ent)
	if !ok {
		return nil, NewWrongKindError(id, task.KindGroup, ent.Kind())
	}
	return grp, nil
}

// Templates returns every live template in storage order.
func (e *Engine) Templates(ctx context.Context) ([]*task.Template, error) {
	entities, err := e.store.List(ctx, store.Filter{Kind: task.KindTemplate})
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	out := make([]*task.Template, 0, len(entities))
	for _, ent := range entities {
		if tmpl, ok := task.AsTemplate(ent); ok {
			out = append(out, tmpl)
		}
	}
	return out, nil
}

// Instances returns the live instances of a template, matching f's status
// and due-date constraints. ParentID and Kind in f are overwritten.
func (e *Engine) Instances(ctx context.Context, templateID task.ID, f store.Filter) ([]*task.Instance, error) {
	f.ParentID = templateID
	f.Kind = task.KindInstance
	entities, err := e.store.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list instances of %s: %w", templateID, err)
	}
	out := make([]*task.Instance, 0, len(entities))
	for _, ent := range entities {
		if inst, ok := task.AsInstance(ent); ok {
			out = append(out, inst)
		}
	}
	return out, nil
}

// record appends an audit entry. Failures are logged, never returned.
func (e *Engine) record(ctx context.Context, entry task.LogEntry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = e.clock.Now()
	}
	if _, err := e.audit.Append(ctx, entry); err != nil {
		e.log.Warn().
			Err(err).
			Str("entity_id", string(entry.EntityID)).
			Str("event", entry.EventType).
			Msg("audit append failed")
	}
}
