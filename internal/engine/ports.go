package engine

import (
	"context"

	"github.com/roach88/cadence/internal/store"
	"github.com/roach88/cadence/internal/task"
)

// EntityStore persists task entities. Get returns an error wrapping
// store.ErrNotFound for missing or deleted rows.
type EntityStore interface {
	Get(ctx context.Context, id task.ID) (task.Entity, error)
	List(ctx context.Context, f store.Filter) ([]task.Entity, error)
	Count(ctx context.Context, f store.Filter) (int, error)
	Upsert(ctx context.Context, e task.Entity) error
	// InsertInstance returns inserted=false when the template already has a
	// live instance on the same calendar day.
	InsertInstance(ctx context.Context, inst *task.Instance) (inserted bool, err error)
	Delete(ctx context.Context, id task.ID) error
}

// Ledger records which idempotent side effects have been applied.
type Ledger interface {
	Has(ctx context.Context, key task.EffectKey) (bool, error)
	// Claim atomically records key; exactly one concurrent caller gets true.
	Claim(ctx context.Context, key task.EffectKey) (claimed bool, err error)
	Release(ctx context.Context, key task.EffectKey) error
	// Complete marks a claimed key as belonging to a finished wave.
	Complete(ctx context.Context, key task.EffectKey) error
	// ReleaseEntity drops the entity's keys for action, or all keys when
	// action is empty.
	ReleaseEntity(ctx context.Context, entityID task.ID, action task.EffectAction) (int, error)
	// ReleaseExcept drops every completed key of the entity other than keep.
	ReleaseExcept(ctx context.Context, entityID task.ID, keep task.EffectKey) (int, error)
}

// AuditLog is the append-only mutation trail.
type AuditLog interface {
	Append(ctx context.Context, e task.LogEntry) (seq int64, err error)
}

// Backend bundles the three ports. *store.Store satisfies it.
type Backend interface {
	EntityStore
	Ledger
	AuditLog
}

var _ Backend = (*store.Store)(nil)
