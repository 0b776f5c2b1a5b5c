package store

import (
	"context"
	"fmt"

	"github.com/roach88/cadence/internal/task"
)

// Append writes an audit entry and returns its sequence number. Sequence
// numbers are assigned by the database and strictly increase.
func (s *Store) Append(ctx context.Context, e task.LogEntry) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log
		(entity_type, entity_id, event_type, old_status, new_status, causal_parent_id, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(e.EntityType),
		string(e.EntityID),
		e.EventType,
		string(e.OldStatus),
		string(e.NewStatus),
		string(e.CausalParentID),
		e.Message,
		toMillis(e.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("append log entry: %w", err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append log entry: last insert id: %w", err)
	}
	return seq, nil
}

// LogQuery selects audit entries. Zero-valued fields do not constrain.
type LogQuery struct {
	// EntityID matches entries about the entity itself or caused by it.
	EntityID  task.ID
	EventType string
	AfterSeq  int64
	Limit     int
}

// ReadLog returns audit entries in sequence order.
func (s *Store) ReadLog(ctx context.Context, q LogQuery) ([]task.LogEntry, error) {
	query := `
		SELECT seq, entity_type, entity_id, event_type, old_status, new_status,
			causal_parent_id, message, created_at
		FROM audit_log
		WHERE seq > ?`
	params := []any{q.AfterSeq}

	if q.EntityID != "" {
		query += ` AND (entity_id = ? OR causal_parent_id = ?)`
		params = append(params, string(q.EntityID), string(q.EntityID))
	}
	if q.EventType != "" {
		query += ` AND event_type = ?`
		params = append(params, q.EventType)
	}
	query += ` ORDER BY seq ASC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		params = append(params, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer rows.Close()

	var out []task.LogEntry
	for rows.Next() {
		var (
			e                                                  task.LogEntry
			entityType, entityID, oldStatus, newStatus, parent string
			createdAt                                          int64
		)
		if err := rows.Scan(&e.Seq, &entityType, &entityID, &e.EventType, &oldStatus,
			&newStatus, &parent, &e.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("read log: %w", err)
		}
		e.EntityType = task.Kind(entityType)
		e.EntityID = task.ID(entityID)
		e.OldStatus = task.Status(oldStatus)
		e.NewStatus = task.Status(newStatus)
		e.CausalParentID = task.ID(parent)
		e.CreatedAt = fromMillis(createdAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	return out, nil
}
