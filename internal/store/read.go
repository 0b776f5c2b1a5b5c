package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/cadence/internal/task"
)

const selectTask = `
	SELECT id, kind, parent_id, name, status, due_at, frequency,
		is_collected, attributes, links, created_at, updated_at
	FROM tasks`

// Get returns the live entity with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id task.ID) (task.Entity, error) {
	row := s.db.QueryRowContext(ctx, selectTask+`
		WHERE id = ? AND deleted_at IS NULL
	`, string(id))

	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	return e, nil
}

// List returns live entities matching f, ordered by due date, creation time
// and id.
func (s *Store) List(ctx context.Context, f Filter) ([]task.Entity, error) {
	clause, params := f.compile()

	rows, err := s.db.QueryContext(ctx, selectTask+clause, params...)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

	var out []task.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("list: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	return out, nil
}

// ListInstances is List narrowed to the instances of one template.
func (s *Store) ListInstances(ctx context.Context, templateID task.ID) ([]*task.Instance, error) {
	entities, err := s.List(ctx, ChildrenOf(templateID, task.KindInstance))
	if err != nil {
		return nil, err
	}
	out := make([]*task.Instance, 0, len(entities))
	for _, e := range entities {
		if inst, ok := task.AsInstance(e); ok {
			out = append(out, inst)
		}
	}
	return out, nil
}

// Count returns the number of live rows matching f. Limit is ignored.
func (s *Store) Count(ctx context.Context, f Filter) (int, error) {
	f.Limit = 0
	clause, params := f.compile()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`+clause, params...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(sc scanner) (task.Entity, error) {
	var (
		id, kind, parentID, name, status string
		dueAt                            sql.NullInt64
		freq                             sql.NullString
		isCollected                      bool
		attrsJSON, linksJSON             string
		createdAt, updatedAt             int64
	)
	if err := sc.Scan(&id, &kind, &parentID, &name, &status, &dueAt, &freq,
		&isCollected, &attrsJSON, &linksJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	attrs, err := unmarshalAttributes(attrsJSON)
	if err != nil {
		return nil, err
	}
	links, err := unmarshalLinks(linksJSON)
	if err != nil {
		return nil, err
	}
	frequency, err := unmarshalFrequency(freq)
	if err != nil {
		return nil, err
	}

	rec := task.Record{
		ID:          task.ID(id),
		Kind:        task.Kind(kind),
		ParentID:    task.ID(parentID),
		Name:        name,
		Status:      task.Status(status),
		Frequency:   frequency,
		IsCollected: isCollected,
		Attributes:  attrs,
		Links:       links,
		CreatedAt:   fromMillis(createdAt),
		UpdatedAt:   fromMillis(updatedAt),
	}
	if dueAt.Valid {
		d := fromMillis(dueAt.Int64)
		rec.DueDate = &d
	}
	return task.FromRecord(rec)
}
