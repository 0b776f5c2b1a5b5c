package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cadence/internal/task"
)

func TestRuntimeError_Error(t *testing.T) {
	err := NewWrongKindError("t1", task.KindGroup, task.KindTemplate)
	assert.Equal(t, "WRONG_KIND: expected group, got template (entity=t1)", err.Error())
	assert.Equal(t, "group", err.Details["want"])

	bare := &RuntimeError{Code: ErrCodeNotFound, Message: "gone"}
	assert.Equal(t, "NOT_FOUND: gone", bare.Error())
}

func TestRuntimeError_Helpers(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", NewNotFoundError("x"))
	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsWrongKind(wrapped))
	assert.ErrorIs(t, wrapped, ErrNotFound)

	assert.True(t, IsNotFound(ErrNotFound), "bare sentinel")
	assert.True(t, IsWrongKind(fmt.Errorf("x: %w", ErrWrongKind)))

	msb := NewMissingSafetyBoundError("t1")
	assert.True(t, IsMissingSafetyBound(msb))
	assert.False(t, IsMissingSafetyBound(ErrNotFound))
	assert.Nil(t, msb.Unwrap())

	assert.False(t, IsNotFound(nil))
	assert.False(t, IsPartialFailure(nil))
}

func TestPartialFailureError(t *testing.T) {
	errA := errors.New("a failed")
	errB := errors.New("b failed")

	fs := newFailureSet("delete group g1")
	assert.NoError(t, fs.err())

	fs.ok()
	fs.ok()
	fs.fail("t2", errB)
	fs.fail("i1", errA)

	err := fs.err()
	require.Error(t, err)
	assert.True(t, IsPartialFailure(fmt.Errorf("wrapped: %w", err)))

	var pf *PartialFailureError
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, 2, pf.Completed)
	assert.Equal(t, []task.ID{"i1", "t2"}, pf.FailedIDs())
	assert.Equal(t, "PARTIAL_FAILURE: delete group g1: 2 succeeded, 2 failed [i1, t2]", err.Error())

	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Equal(t, "a failed\nb failed", pf.Unwrap().Error())
}

func TestMaterializeResult_Err(t *testing.T) {
	assert.NoError(t, MaterializeResult{Outcome: OutcomeMaterialized}.Err())

	err := MaterializeResult{TemplateID: "t1", Outcome: OutcomeMissingSafetyBound}.Err()
	require.Error(t, err)
	assert.True(t, IsMissingSafetyBound(err))
	assert.Contains(t, err.Error(), "entity=t1")
}
