// Package engine implements the cadence scheduling and cascade engine.
//
// The engine owns four operations on the task hierarchy:
//
//   - Materialization: turn a template's frequency into dated instances,
//     never duplicating a (template, day) pair.
//   - Cascade: apply a template's status change to its instances exactly once
//     per (template, action, target) key, even under concurrent callers.
//   - Hierarchy deletion: remove a group or template and everything beneath
//     it, leaves first.
//   - Archival: move finished instances to collected.
//
// Writes go through three ports (EntityStore, Ledger, AuditLog). The SQLite
// store implements all three; tests substitute failing wrappers.
//
// CRITICAL PATTERNS:
//
// Claim before act:
// A cascade first claims its effect key in the ledger with a conditional
// insert. Only the winner updates instances. If the wave fails part way the
// claim is released so a retry finishes it.
//
// Partial failure without rollback:
// Multi-entity operations continue past per-entity failures and report them
// in a *PartialFailureError. Completed writes are kept.
//
// Audit is best effort:
// A failed audit append is logged and never fails the operation.
//
// Determinism:
// Time comes from the injected Clock and ids from the injected IDGenerator,
// so a scenario replayed with fixed ones produces an identical audit trail.
package engine
