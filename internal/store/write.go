package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/cadence/internal/task"
)

// taskColumns is the column list shared by every INSERT into tasks.
const taskColumns = `(id, kind, parent_id, name, status, due_at, due_day, frequency,
		is_collected, attributes, links, created_at, updated_at)`

// Upsert writes an entity, replacing the live row with the same id.
// A soft-deleted row with the same id is revived.
//
// Instance rows still honor the (parent_id, due_day) identity: moving an
// instance onto a day its template already has returns a constraint error.
func (s *Store) Upsert(ctx context.Context, e task.Entity) error {
	args, err := rowArgs(e.Record())
	if err != nil {
		return fmt.Errorf("upsert %s: %w", e.Common().ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks `+taskColumns+`
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			parent_id = excluded.parent_id,
			name = excluded.name,
			status = excluded.status,
			due_at = excluded.due_at,
			due_day = excluded.due_day,
			frequency = excluded.frequency,
			is_collected = excluded.is_collected,
			attributes = excluded.attributes,
			links = excluded.links,
			updated_at = excluded.updated_at,
			deleted_at = NULL
	`, args...)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", e.Common().ID, err)
	}
	return nil
}

// InsertInstance inserts a new instance unless its template already has a
// live instance on the same calendar day (or the id is taken).
// Returns inserted=false for the duplicate case; that is not an error.
func (s *Store) InsertInstance(ctx context.Context, inst *task.Instance) (inserted bool, err error) {
	args, err := rowArgs(inst.Record())
	if err != nil {
		return false, fmt.Errorf("insert instance %s: %w", inst.ID, err)
	}

	// ON CONFLICT DO NOTHING without a target covers both the primary key
	// and the partial (parent_id, due_day) index.
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks `+taskColumns+`
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, args...)
	if err != nil {
		return false, fmt.Errorf("insert instance %s: %w", inst.ID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert instance %s: rows affected: %w", inst.ID, err)
	}
	return n > 0, nil
}

// Delete soft-deletes a live row. Returns ErrNotFound if no live row has the id.
func (s *Store) Delete(ctx context.Context, id task.ID) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET deleted_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`, toMillis(s.now()), string(id))
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: rows affected: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	return nil
}

// rowArgs flattens a record into the taskColumns argument order.
func rowArgs(r task.Record) ([]any, error) {
	attrs, err := marshalAttributes(r.Attributes)
	if err != nil {
		return nil, err
	}
	links, err := marshalLinks(r.Links)
	if err != nil {
		return nil, err
	}

	var freq sql.NullString
	if r.Kind == task.KindTemplate {
		freq, err = marshalFrequency(r.Frequency)
		if err != nil {
			return nil, err
		}
	}

	var dueAt sql.NullInt64
	var dueDay sql.NullString
	if r.DueDate != nil {
		dueAt = sql.NullInt64{Int64: toMillis(*r.DueDate), Valid: true}
		if r.Kind == task.KindInstance {
			dueDay = sql.NullString{String: task.DayKey(*r.DueDate), Valid: true}
		}
	}

	return []any{
		string(r.ID),
		string(r.Kind),
		string(r.ParentID),
		r.Name,
		string(r.Status),
		dueAt,
		dueDay,
		freq,
		r.IsCollected,
		attrs,
		links,
		toMillis(r.CreatedAt),
		toMillis(r.UpdatedAt),
	}, nil
}
