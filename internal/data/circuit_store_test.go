package data

import (
	"context"
	"os"
	"testing"
	"time"

	"VerseGate/internal/conf"
	"VerseGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

func newTestCircuitStore(t *testing.T) (*CircuitStoreRepo, *Data) {
	t.Helper()
	d, _ := setupTestData(t)
	c := &conf.Gateway{
		Retry: &conf.Gateway_Retry{
			FailureThreshold: 5,
			ProcessGroup:     "test-group",
			ResetTimeout:     durationpb.New(60 * time.Second),
		},
	}
	return NewCircuitStoreRepo(c, d, log.NewStdLogger(os.Stdout)), d
}

// Test Get - Missing hash reads as CLOSED
func TestCircuitStore_DefaultClosed(t *testing.T) {
	repo, _ := newTestCircuitStore(t)

	snap, err := repo.Get(context.Background(), "svc-A")
	require.NoError(t, err)
	assert.Equal(t, "svc-A", snap.Key)
	assert.Equal(t, model.CircuitClosed, snap.State)
	assert.Equal(t, int32(0), snap.FailureCount)
}

// Test RecordFailure - Opens at the threshold
func TestCircuitStore_OpensAtThreshold(t *testing.T) {
	repo, _ := newTestCircuitStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		snap, err := repo.RecordFailure(ctx, "svc-A")
		require.NoError(t, err)
		assert.Equal(t, model.CircuitClosed, snap.State)
	}

	snap, err := repo.RecordFailure(ctx, "svc-A")
	require.NoError(t, err)
	assert.Equal(t, model.CircuitOpen, snap.State)
	assert.Equal(t, int32(5), snap.FailureCount)
	assert.False(t, snap.LastFailureAt.IsZero())
}

// Test MarkHalfOpen - SETNX grants the trial slot once
func TestCircuitStore_MarkHalfOpenOnce(t *testing.T) {
	repo, _ := newTestCircuitStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := repo.RecordFailure(ctx, "svc-A")
		require.NoError(t, err)
	}

	won, err := repo.MarkHalfOpen(ctx, "svc-A")
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.MarkHalfOpen(ctx, "svc-A")
	require.NoError(t, err)
	assert.False(t, won)

	snap, err := repo.Get(ctx, "svc-A")
	require.NoError(t, err)
	assert.Equal(t, model.CircuitHalfOpen, snap.State)
}

// Test RecordSuccess - Three trial successes close the circuit
func TestCircuitStore_TrialSuccessesClose(t *testing.T) {
	repo, _ := newTestCircuitStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = repo.RecordFailure(ctx, "svc-A")
	}
	_, err := repo.MarkHalfOpen(ctx, "svc-A")
	require.NoError(t, err)

	snap, err := repo.RecordSuccess(ctx, "svc-A")
	require.NoError(t, err)
	assert.Equal(t, model.CircuitHalfOpen, snap.State)

	_, err = repo.RecordSuccess(ctx, "svc-A")
	require.NoError(t, err)

	snap, err = repo.RecordSuccess(ctx, "svc-A")
	require.NoError(t, err)
	assert.Equal(t, model.CircuitClosed, snap.State)
	assert.Equal(t, int32(0), snap.FailureCount)

	// The probe marker is released, so a later OPEN can be probed again
	won, err := repo.MarkHalfOpen(ctx, "svc-A")
	require.NoError(t, err)
	assert.True(t, won)
}

// Test RecordFailure - A half-open failure reopens immediately
func TestCircuitStore_HalfOpenFailureReopens(t *testing.T) {
	repo, _ := newTestCircuitStore(t)
	ctx := context.Background()

	_, _ = repo.RecordFailure(ctx, "svc-A")
	_, err := repo.MarkHalfOpen(ctx, "svc-A")
	require.NoError(t, err)

	snap, err := repo.RecordFailure(ctx, "svc-A")
	require.NoError(t, err)
	assert.Equal(t, model.CircuitOpen, snap.State)
	assert.Equal(t, int32(0), snap.ConsecutiveSuccesses)
}

// Test RecordSuccess - CLOSED success decays the failure count
func TestCircuitStore_SuccessDecaysFailures(t *testing.T) {
	repo, _ := newTestCircuitStore(t)
	ctx := context.Background()

	_, _ = repo.RecordFailure(ctx, "svc-A")
	_, _ = repo.RecordFailure(ctx, "svc-A")

	snap, err := repo.RecordSuccess(ctx, "svc-A")
	require.NoError(t, err)
	assert.Equal(t, int32(1), snap.FailureCount)

	_, _ = repo.RecordSuccess(ctx, "svc-A")
	snap, err = repo.RecordSuccess(ctx, "svc-A")
	require.NoError(t, err)
	assert.Equal(t, int32(0), snap.FailureCount)
}

// Test IncrTotal - Request counting
func TestCircuitStore_IncrTotal(t *testing.T) {
	repo, _ := newTestCircuitStore(t)
	ctx := context.Background()

	require.NoError(t, repo.IncrTotal(ctx, "svc-A"))
	require.NoError(t, repo.IncrTotal(ctx, "svc-A"))

	snap, err := repo.Get(ctx, "svc-A")
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.TotalRequests)
}

// Test List - Returns all keys in the process group, skipping probe markers
func TestCircuitStore_List(t *testing.T) {
	repo, _ := newTestCircuitStore(t)
	ctx := context.Background()

	_ = repo.IncrTotal(ctx, "svc-A")
	for i := 0; i < 5; i++ {
		_, _ = repo.RecordFailure(ctx, "svc-B")
	}
	_, err := repo.MarkHalfOpen(ctx, "svc-B")
	require.NoError(t, err)

	snaps, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	byKey := map[string]model.CircuitState{}
	for _, s := range snaps {
		byKey[s.Key] = s.State
	}
	assert.Equal(t, model.CircuitClosed, byKey["svc-A"])
	assert.Equal(t, model.CircuitHalfOpen, byKey["svc-B"])
}

// Test Reset - Clears state and probe marker
func TestCircuitStore_Reset(t *testing.T) {
	repo, _ := newTestCircuitStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = repo.RecordFailure(ctx, "svc-A")
	}
	_, _ = repo.MarkHalfOpen(ctx, "svc-A")

	require.NoError(t, repo.Reset(ctx, "svc-A"))

	snap, err := repo.Get(ctx, "svc-A")
	require.NoError(t, err)
	assert.Equal(t, model.CircuitClosed, snap.State)
	assert.Equal(t, int32(0), snap.FailureCount)
}

// Test Available - No client configured
func TestCircuitStore_Unavailable(t *testing.T) {
	repo := NewCircuitStoreRepo(nil, &Data{}, log.NewStdLogger(os.Stdout))
	assert.False(t, repo.Available())

	_, err := repo.Get(context.Background(), "svc-A")
	assert.ErrorIs(t, err, errRedisUnavailable)
}
