package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/cadence/internal/task"
)

// Filter selects live task rows. Zero-valued fields do not constrain.
type Filter struct {
	// ParentID restricts to direct children of one entity.
	ParentID task.ID
	// RootsOnly restricts to rows without a parent. Ignored when ParentID is set.
	RootsOnly bool
	Kind      task.Kind
	// StatusNot excludes rows already at this status.
	StatusNot task.Status
	// Statuses restricts to rows in any of these statuses.
	Statuses []task.Status
	// DueOnOrBefore restricts to rows whose due date is at or before this instant.
	DueOnOrBefore *time.Time
	Limit         int
}

// ChildrenOf returns a filter for the direct children of parent with the given kind.
func ChildrenOf(parent task.ID, kind task.Kind) Filter {
	return Filter{ParentID: parent, Kind: kind}
}

// compile converts a filter to a parameterized WHERE/ORDER BY/LIMIT suffix.
//
// Every query excludes soft-deleted rows and ends its ORDER BY with
// id COLLATE BINARY. Values are always parameterized, never interpolated.
func (f Filter) compile() (string, []any) {
	where := []string{"deleted_at IS NULL"}
	var params []any

	switch {
	case f.ParentID != "":
		where = append(where, "parent_id = ?")
		params = append(params, string(f.ParentID))
	case f.RootsOnly:
		where = append(where, "parent_id = ''")
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		params = append(params, string(f.Kind))
	}
	if f.StatusNot != "" {
		where = append(where, "status != ?")
		params = append(params, string(f.StatusNot))
	}
	if len(f.Statuses) > 0 {
		placeholders := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			placeholders[i] = "?"
			params = append(params, string(st))
		}
		where = append(where, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}
	if f.DueOnOrBefore != nil {
		where = append(where, "due_at IS NOT NULL AND due_at <= ?")
		params = append(params, toMillis(*f.DueOnOrBefore))
	}

	// NULL due dates (groups, unscheduled templates) sort first in SQLite.
	clause := " WHERE " + strings.Join(where, " AND ") +
		" ORDER BY due_at ASC, created_at ASC, id COLLATE BINARY ASC"
	if f.Limit > 0 {
		clause += " LIMIT ?"
		params = append(params, f.Limit)
	}
	return clause, params
}
