package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cadence/internal/task"
)

func TestClaim_FirstWins(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	key := task.EffectKey{EntityID: "t1", Action: task.ActionCascade, Target: task.StatusDone}

	has, err := s.Has(ctx, key)
	require.NoError(t, err)
	assert.False(t, has)

	claimed, err := s.Claim(ctx, key)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = s.Claim(ctx, key)
	require.NoError(t, err)
	assert.False(t, claimed)

	has, err = s.Has(ctx, key)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestClaim_ConcurrentCallersExactlyOneWins(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	key := task.EffectKey{EntityID: "t1", Action: task.ActionCascade, Target: task.StatusDone}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := s.Claim(ctx, key)
			if err != nil {
				t.Errorf("Claim() failed: %v", err)
				return
			}
			if claimed {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestRelease(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	key := task.EffectKey{EntityID: "t1", Action: task.ActionUncascade, Target: task.StatusInProgress}

	require.NoError(t, s.Release(ctx, key), "releasing an absent key is a no-op")

	_, err := s.Claim(ctx, key)
	require.NoError(t, err)
	require.NoError(t, s.Release(ctx, key))

	claimed, err := s.Claim(ctx, key)
	require.NoError(t, err)
	assert.True(t, claimed, "released key can be claimed again")
}

func TestReleaseEntity(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	keys := []task.EffectKey{
		{EntityID: "t1", Action: task.ActionCascade, Target: task.StatusDone},
		{EntityID: "t1", Action: task.ActionCascade, Target: task.StatusFailed},
		{EntityID: "t1", Action: task.ActionUncascade, Target: task.StatusInProgress},
		{EntityID: "t2", Action: task.ActionCascade, Target: task.StatusDone},
	}
	for _, k := range keys {
		_, err := s.Claim(ctx, k)
		require.NoError(t, err)
	}

	n, err := s.ReleaseEntity(ctx, "t1", task.ActionCascade)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	remaining, err := s.Effects(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, keys[2], remaining[0].Key)
	assert.True(t, testNow.Equal(remaining[0].ClaimedAt))

	n, err = s.ReleaseEntity(ctx, "t2", "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReleaseExcept(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	keep := task.EffectKey{EntityID: "t1", Action: task.ActionCascade, Target: task.StatusDone}
	for _, k := range []task.EffectKey{
		keep,
		{EntityID: "t1", Action: task.ActionCascade, Target: task.StatusFailed},
		{EntityID: "t1", Action: task.ActionUncascade, Target: task.StatusInProgress},
		{EntityID: "t2", Action: task.ActionCascade, Target: task.StatusDone},
	} {
		_, err := s.Claim(ctx, k)
		require.NoError(t, err)
		require.NoError(t, s.Complete(ctx, k))
	}

	n, err := s.ReleaseExcept(ctx, "t1", keep)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	has, err := s.Has(ctx, keep)
	require.NoError(t, err)
	assert.True(t, has)

	other, err := s.Effects(ctx, "t2")
	require.NoError(t, err)
	assert.Len(t, other, 1, "other entities are untouched")
}

func TestReleaseExcept_KeepsPendingClaims(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	pending := task.EffectKey{EntityID: "t1", Action: task.ActionCascade, Target: task.StatusDone}
	done := task.EffectKey{EntityID: "t1", Action: task.ActionCascade, Target: task.StatusFailed}
	for _, k := range []task.EffectKey{pending, done} {
		_, err := s.Claim(ctx, k)
		require.NoError(t, err)
	}
	require.NoError(t, s.Complete(ctx, done))

	n, err := s.ReleaseExcept(ctx, "t1", done)
	require.NoError(t, err)
	assert.Zero(t, n, "a pending claim belongs to a running wave")

	claimed, err := s.Claim(ctx, pending)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestComplete(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	key := task.EffectKey{EntityID: "t1", Action: task.ActionCascade, Target: task.StatusDone}

	err := s.Complete(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Claim(ctx, key)
	require.NoError(t, err)

	got, err := s.Effects(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].CompletedAt.IsZero())

	require.NoError(t, s.Complete(ctx, key))
	got, err = s.Effects(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, testNow.Equal(got[0].CompletedAt))
}

func TestEffects_Ordered(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, target := range []task.Status{task.StatusOnHold, task.StatusDone, task.StatusFailed} {
		_, err := s.Claim(ctx, task.EffectKey{EntityID: "t1", Action: task.ActionCascade, Target: target})
		require.NoError(t, err)
	}

	got, err := s.Effects(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, task.StatusDone, got[0].Key.Target)
	assert.Equal(t, task.StatusFailed, got[1].Key.Target)
	assert.Equal(t, task.StatusOnHold, got[2].Key.Target)
}
