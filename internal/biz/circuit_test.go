package biz

import (
	"context"
	"testing"

	"VerseGate/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test LocalCircuitStore - Lazy creation starts CLOSED
func TestLocalCircuitStore_LazyClosed(t *testing.T) {
	store := NewLocalCircuitStore(5)
	ctx := context.Background()

	snap, err := store.Get(ctx, "svc-A")
	require.NoError(t, err)
	assert.Equal(t, model.CircuitClosed, snap.State)
	assert.Equal(t, int32(0), snap.FailureCount)
}

// Test LocalCircuitStore - Opens at the failure threshold
func TestLocalCircuitStore_OpensAtThreshold(t *testing.T) {
	store := NewLocalCircuitStore(5)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		snap, err := store.RecordFailure(ctx, "svc-A")
		require.NoError(t, err)
		assert.Equal(t, model.CircuitClosed, snap.State)
	}

	snap, err := store.RecordFailure(ctx, "svc-A")
	require.NoError(t, err)
	assert.Equal(t, model.CircuitOpen, snap.State)
	assert.Equal(t, int32(5), snap.FailureCount)
	assert.False(t, snap.LastFailureAt.IsZero())
}

// Test LocalCircuitStore - Success in CLOSED decays the failure count
func TestLocalCircuitStore_SuccessDecaysFailures(t *testing.T) {
	store := NewLocalCircuitStore(5)
	ctx := context.Background()

	_, err := store.RecordFailure(ctx, "svc-A")
	require.NoError(t, err)
	_, err = store.RecordFailure(ctx, "svc-A")
	require.NoError(t, err)

	snap, err := store.RecordSuccess(ctx, "svc-A")
	require.NoError(t, err)
	assert.Equal(t, int32(1), snap.FailureCount)

	// Never below zero
	_, _ = store.RecordSuccess(ctx, "svc-A")
	snap, _ = store.RecordSuccess(ctx, "svc-A")
	assert.Equal(t, int32(0), snap.FailureCount)
}

// Test LocalCircuitStore - Only one caller wins the half-open slot
func TestLocalCircuitStore_MarkHalfOpenOnce(t *testing.T) {
	store := NewLocalCircuitStore(1)
	ctx := context.Background()

	_, err := store.RecordFailure(ctx, "svc-A")
	require.NoError(t, err)

	won, err := store.MarkHalfOpen(ctx, "svc-A")
	require.NoError(t, err)
	assert.True(t, won)

	// Already HALF_OPEN; the slot is taken
	won, err = store.MarkHalfOpen(ctx, "svc-A")
	require.NoError(t, err)
	assert.False(t, won)
}

// Test LocalCircuitStore - Three consecutive successes close the circuit
func TestLocalCircuitStore_ThreeSuccessesClose(t *testing.T) {
	store := NewLocalCircuitStore(1)
	ctx := context.Background()

	_, err := store.RecordFailure(ctx, "svc-A")
	require.NoError(t, err)
	_, err = store.MarkHalfOpen(ctx, "svc-A")
	require.NoError(t, err)

	snap, _ := store.RecordSuccess(ctx, "svc-A")
	assert.Equal(t, model.CircuitHalfOpen, snap.State)
	snap, _ = store.RecordSuccess(ctx, "svc-A")
	assert.Equal(t, model.CircuitHalfOpen, snap.State)

	snap, err = store.RecordSuccess(ctx, "svc-A")
	require.NoError(t, err)
	assert.Equal(t, model.CircuitClosed, snap.State)
	assert.Equal(t, int32(0), snap.FailureCount)
	assert.Equal(t, int32(0), snap.ConsecutiveSuccesses)
}

// Test LocalCircuitStore - A half-open failure reopens immediately
func TestLocalCircuitStore_HalfOpenFailureReopens(t *testing.T) {
	store := NewLocalCircuitStore(1)
	ctx := context.Background()

	_, _ = store.RecordFailure(ctx, "svc-A")
	_, _ = store.MarkHalfOpen(ctx, "svc-A")
	_, _ = store.RecordSuccess(ctx, "svc-A")

	snap, err := store.RecordFailure(ctx, "svc-A")
	require.NoError(t, err)
	assert.Equal(t, model.CircuitOpen, snap.State)
	assert.Equal(t, int32(0), snap.ConsecutiveSuccesses)
}

// Test LocalCircuitStore - Reset returns the key to CLOSED
func TestLocalCircuitStore_Reset(t *testing.T) {
	store := NewLocalCircuitStore(1)
	ctx := context.Background()

	_, _ = store.RecordFailure(ctx, "svc-A")
	require.NoError(t, store.Reset(ctx, "svc-A"))

	snap, err := store.Get(ctx, "svc-A")
	require.NoError(t, err)
	assert.Equal(t, model.CircuitClosed, snap.State)
	assert.Equal(t, int32(0), snap.FailureCount)
}

// Test LocalCircuitStore - List returns every known key
func TestLocalCircuitStore_List(t *testing.T) {
	store := NewLocalCircuitStore(5)
	ctx := context.Background()

	_, _ = store.Get(ctx, "svc-A")
	_, _ = store.Get(ctx, "svc-B")
	_ = store.IncrTotal(ctx, "svc-B")

	snaps, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, snaps, 2)

	keys := map[string]int64{}
	for _, s := range snaps {
		keys[s.Key] = s.TotalRequests
	}
	assert.Equal(t, int64(0), keys["svc-A"])
	assert.Equal(t, int64(1), keys["svc-B"])
}
