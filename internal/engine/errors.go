package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/cadence/internal/task"
)

var (
	// ErrNotFound is matched by errors.Is for any missing entity.
	ErrNotFound = errors.New("entity not found")

	// ErrWrongKind is matched by errors.Is when an operation is given the
	// wrong variant (e.g. deleting a template as a group).
	ErrWrongKind = errors.New("wrong entity kind")

	// ErrInvalidEntity is matched by errors.Is for entities rejected by Save.
	ErrInvalidEntity = errors.New("invalid entity")
)

// RuntimeError represents an error detected during engine execution.
//
// Runtime errors include:
//   - Missing safety bound: template has no due date to bound generation
//   - Wrong kind: operation applied to the wrong variant
//   - Not found: referenced entity does not exist
//   - Invalid entity: Save rejected the entity
//
// RuntimeError includes structured fields for diagnostics and recovery.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// EntityID identifies the affected entity.
	EntityID task.ID

	// Details contains additional context.
	Details map[string]string

	// Err is the sentinel this error matches under errors.Is.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeMissingSafetyBound indicates a template without a due date.
	ErrCodeMissingSafetyBound RuntimeErrorCode = "MISSING_SAFETY_BOUND"

	// ErrCodeWrongKind indicates an operation on the wrong variant.
	ErrCodeWrongKind RuntimeErrorCode = "WRONG_KIND"

	// ErrCodeNotFound indicates a missing entity.
	ErrCodeNotFound RuntimeErrorCode = "NOT_FOUND"

	// ErrCodePartialFailure indicates some per-entity writes failed.
	ErrCodePartialFailure RuntimeErrorCode = "PARTIAL_FAILURE"

	// ErrCodeInvalidEntity indicates Save rejected the entity.
	ErrCodeInvalidEntity RuntimeErrorCode = "INVALID_ENTITY"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("%s: %s (entity=%s)", e.Code, e.Message, e.EntityID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the matching sentinel, if any.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if err reports a missing entity.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeNotFound
	}
	return errors.Is(err, ErrNotFound)
}

// IsWrongKind returns true if err reports a variant mismatch.
func IsWrongKind(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeWrongKind
	}
	return errors.Is(err, ErrWrongKind)
}

// IsMissingSafetyBound returns true if err reports a template without a due date.
func IsMissingSafetyBound(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Code == ErrCodeMissingSafetyBound
}

// IsPartialFailure returns true if err is or wraps a *PartialFailureError.
func IsPartialFailure(err error) bool {
	var pf *PartialFailureError
	return errors.As(err, &pf)
}

// NewNotFoundError creates a RuntimeError for a missing entity.
func NewNotFoundError(id task.ID) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeNotFound,
		Message:  "entity does not exist",
		EntityID: id,
		Err:      ErrNotFound,
	}
}

// NewWrongKindError creates a RuntimeError for a variant mismatch.
func NewWrongKindError(id task.ID, want, got task.Kind) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeWrongKind,
		Message:  fmt.Sprintf("expected %s, got %s", want, got),
		EntityID: id,
		Details: map[string]string{
			"want": string(want),
			"got":  string(got),
		},
		Err: ErrWrongKind,
	}
}

// NewMissingSafetyBoundError creates a RuntimeError for a template without a due date.
func NewMissingSafetyBoundError(id task.ID) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeMissingSafetyBound,
		Message:  "template has no due date; instance generation skipped",
		EntityID: id,
	}
}

// NewInvalidEntityError creates a RuntimeError for an entity Save rejects.
func NewInvalidEntityError(id task.ID, reason string) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeInvalidEntity,
		Message:  reason,
		EntityID: id,
		Err:      ErrInvalidEntity,
	}
}

// PartialFailureError reports a multi-entity operation in which some
// per-entity steps failed. Completed steps are not rolled back.
type PartialFailureError struct {
	// Op names the operation, e.g. "delete group g1".
	Op string

	// Completed counts per-entity steps that succeeded.
	Completed int

	// Failures maps each failed entity to its error.
	Failures map[task.ID]error
}

// Error implements the error interface.
func (e *PartialFailureError) Error() string {
	ids := e.FailedIDs()
	shown := make([]string, len(ids))
	for i, id := range ids {
		shown[i] = string(id)
	}
	return fmt.Sprintf("%s: %s: %d succeeded, %d failed [%s]",
		ErrCodePartialFailure, e.Op, e.Completed, len(ids), strings.Join(shown, ", "))
}

// Unwrap joins the individual failures in id order.
func (e *PartialFailureError) Unwrap() error {
	ids := e.FailedIDs()
	errs := make([]error, 0, len(ids))
	for _, id := range ids {
		errs = append(errs, e.Failures[id])
	}
	return errors.Join(errs...)
}

// FailedIDs returns the failed entity ids in byte order.
func (e *PartialFailureError) FailedIDs() []task.ID {
	ids := make([]task.ID, 0, len(e.Failures))
	for id := range e.Failures {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// failureSet accumulates per-entity failures for a PartialFailureError.
type failureSet struct {
	op        string
	completed int
	failures  map[task.ID]error
}

func newFailureSet(op string) *failureSet {
	return &failureSet{op: op, failures: make(map[task.ID]error)}
}

func (f *failureSet) ok() {
	f.completed++
}

func (f *failureSet) fail(id task.ID, err error) {
	f.failures[id] = err
}

// err returns nil when nothing failed.
func (f *failureSet) err() error {
	if len(f.failures) == 0 {
		return nil
	}
	return &PartialFailureError{Op: f.op, Completed: f.completed, Failures: f.failures}
}
