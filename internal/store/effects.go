package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/cadence/internal/task"
)

// Has reports whether the effect key has been claimed.
func (s *Store) Has(ctx context.Context, key task.EffectKey) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM effects WHERE key = ?
	`, key.String()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has effect %s: %w", key, err)
	}
	return n > 0, nil
}

// Claim atomically records the effect key. Returns claimed=false if the key
// was already present; exactly one concurrent caller sees claimed=true.
func (s *Store) Claim(ctx context.Context, key task.EffectKey) (claimed bool, err error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO effects (key, entity_id, action, target_status, claimed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`,
		key.String(),
		string(key.EntityID),
		string(key.Action),
		string(key.Target),
		toMillis(s.now()),
	)
	if err != nil {
		return false, fmt.Errorf("claim effect %s: %w", key, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim effect %s: rows affected: %w", key, err)
	}
	return n > 0, nil
}

// Release removes one effect key. Releasing an absent key is a no-op.
func (s *Store) Release(ctx context.Context, key task.EffectKey) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM effects WHERE key = ?`, key.String()); err != nil {
		return fmt.Errorf("release effect %s: %w", key, err)
	}
	return nil
}

// ReleaseEntity removes every key of the entity for the given action, or
// every key of the entity when action is empty. Returns the number removed.
func (s *Store) ReleaseEntity(ctx context.Context, entityID task.ID, action task.EffectAction) (int, error) {
	query := `DELETE FROM effects WHERE entity_id = ?`
	params := []any{string(entityID)}
	if action != "" {
		query += ` AND action = ?`
		params = append(params, string(action))
	}

	result, err := s.db.ExecContext(ctx, query, params...)
	if err != nil {
		return 0, fmt.Errorf("release effects for %s: %w", entityID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("release effects for %s: rows affected: %w", entityID, err)
	}
	return int(n), nil
}

// Complete marks a claimed key as finished. Only completed keys can be
// released by ReleaseExcept; a pending claim still belongs to a running wave.
func (s *Store) Complete(ctx context.Context, key task.EffectKey) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE effects SET completed_at = ? WHERE key = ?
	`, toMillis(s.now()), key.String())
	if err != nil {
		return fmt.Errorf("complete effect %s: %w", key, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete effect %s: rows affected: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("complete effect %s: %w", key, ErrNotFound)
	}
	return nil
}

// ReleaseExcept removes every completed key of the entity other than keep.
// Pending claims are left alone. Returns the number removed.
func (s *Store) ReleaseExcept(ctx context.Context, entityID task.ID, keep task.EffectKey) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM effects
		WHERE entity_id = ? AND key != ? AND completed_at IS NOT NULL
	`, string(entityID), keep.String())
	if err != nil {
		return 0, fmt.Errorf("release effects for %s: %w", entityID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("release effects for %s: rows affected: %w", entityID, err)
	}
	return int(n), nil
}

// Effects lists the claimed keys of an entity in key order.
func (s *Store) Effects(ctx context.Context, entityID task.ID) ([]task.Effect, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, claimed_at, completed_at FROM effects
		WHERE entity_id = ?
		ORDER BY key COLLATE BINARY ASC
	`, string(entityID))
	if err != nil {
		return nil, fmt.Errorf("list effects for %s: %w", entityID, err)
	}
	defer rows.Close()

	var out []task.Effect
	for rows.Next() {
		var raw string
		var claimedAt int64
		var completedAt sql.NullInt64
		if err := rows.Scan(&raw, &claimedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("list effects for %s: %w", entityID, err)
		}
		key, err := task.ParseEffectKey(raw)
		if err != nil {
			return nil, fmt.Errorf("list effects for %s: %w", entityID, err)
		}
		eff := task.Effect{Key: key, ClaimedAt: fromMillis(claimedAt)}
		if completedAt.Valid {
			eff.CompletedAt = fromMillis(completedAt.Int64)
		}
		out = append(out, eff)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list effects for %s: %w", entityID, err)
	}
	return out, nil
}
