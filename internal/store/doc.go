// Package store provides SQLite-backed durable storage for cadence.
//
// One database holds three tables:
//   - tasks: groups, templates and instances as flat rows (soft-deleted via deleted_at)
//   - effects: the idempotency ledger for cascade side effects
//   - audit_log: the append-only trail of every mutation
//
// # Critical Patterns
//
// Instance identity: a partial UNIQUE index on (parent_id, due_day) for live
// instance rows. InsertInstance uses ON CONFLICT DO NOTHING, so concurrent
// materializers cannot create two instances for one template and day.
//
// Atomic claims: Claim inserts the effect key with ON CONFLICT DO NOTHING and
// reports RowsAffected. Exactly one caller wins a key.
//
// Deterministic results: every list query ends its ORDER BY with
// id COLLATE BINARY.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
