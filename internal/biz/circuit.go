package biz

import (
	"context"
	"sync"
	"time"

	"VerseGate/internal/model"
)

// CircuitStore persists per-key circuit breaker state. Implementations
// must serialize concurrent success/failure recording per key; lost
// transitions under concurrency are a correctness bug.
//
// Two implementations exist: a Redis-backed store (multi-instance safe,
// the default) and the in-process store below (single-instance
// fallback, selected when no Redis client is configured).
type CircuitStore interface {
	// Get returns the snapshot for key. State is created lazily as
	// CLOSED on first use.
	Get(ctx context.Context, key string) (*model.CircuitSnapshot, error)

	// IncrTotal counts one execution attempt against the key.
	IncrTotal(ctx context.Context, key string) error

	// MarkHalfOpen attempts the OPEN → HALF_OPEN transition. Only one
	// concurrent caller wins the trial slot; the rest keep failing fast.
	MarkHalfOpen(ctx context.Context, key string) (bool, error)

	// RecordSuccess applies the success rules: in HALF_OPEN, three
	// consecutive successes close the circuit and zero the failure
	// count; in CLOSED, the failure count decays by one (floor zero).
	RecordSuccess(ctx context.Context, key string) (*model.CircuitSnapshot, error)

	// RecordFailure applies the failure rules: in HALF_OPEN any failure
	// reopens immediately; otherwise the failure count increments and
	// the circuit opens at the configured threshold.
	RecordFailure(ctx context.Context, key string) (*model.CircuitSnapshot, error)

	// List returns snapshots for every known key.
	List(ctx context.Context) ([]*model.CircuitSnapshot, error)

	// Reset clears the state for key back to CLOSED.
	Reset(ctx context.Context, key string) error
}

// closeAfterSuccesses is the number of consecutive HALF_OPEN successes
// required to close a circuit.
const closeAfterSuccesses = 3

// localCircuit is the in-process state for one key.
type localCircuit struct {
	mu sync.Mutex
	model.CircuitSnapshot
}

// LocalCircuitStore keeps circuit state in process memory. Suitable for
// a single gateway instance; a horizontally-scaled deployment needs the
// Redis-backed store so all instances share one breaker view.
type LocalCircuitStore struct {
	mu               sync.RWMutex
	circuits         map[string]*localCircuit
	failureThreshold int32
}

// NewLocalCircuitStore creates an in-process circuit store.
func NewLocalCircuitStore(failureThreshold int32) *LocalCircuitStore {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	return &LocalCircuitStore{
		circuits:         make(map[string]*localCircuit),
		failureThreshold: failureThreshold,
	}
}

// get returns the circuit for key, creating CLOSED state lazily.
func (s *LocalCircuitStore) get(key string) *localCircuit {
	s.mu.RLock()
	c, ok := s.circuits[key]
	s.mu.RUnlock()
	if ok {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok = s.circuits[key]; ok {
		return c
	}
	c = &localCircuit{CircuitSnapshot: model.CircuitSnapshot{Key: key, State: model.CircuitClosed}}
	s.circuits[key] = c
	return c
}

// Get implements CircuitStore.
func (s *LocalCircuitStore) Get(_ context.Context, key string) (*model.CircuitSnapshot, error) {
	c := s.get(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := c.CircuitSnapshot
	return &snap, nil
}

// IncrTotal implements CircuitStore.
func (s *LocalCircuitStore) IncrTotal(_ context.Context, key string) error {
	c := s.get(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TotalRequests++
	return nil
}

// MarkHalfOpen implements CircuitStore.
func (s *LocalCircuitStore) MarkHalfOpen(_ context.Context, key string) (bool, error) {
	c := s.get(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State != model.CircuitOpen {
		return false, nil
	}
	c.State = model.CircuitHalfOpen
	c.ConsecutiveSuccesses = 0
	return true, nil
}

// RecordSuccess implements CircuitStore.
func (s *LocalCircuitStore) RecordSuccess(_ context.Context, key string) (*model.CircuitSnapshot, error) {
	c := s.get(key)
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.State {
	case model.CircuitHalfOpen:
		c.ConsecutiveSuccesses++
		if c.ConsecutiveSuccesses >= closeAfterSuccesses {
			c.State = model.CircuitClosed
			c.FailureCount = 0
			c.ConsecutiveSuccesses = 0
		}
	case model.CircuitClosed:
		// Good-behavior relief valve.
		if c.FailureCount > 0 {
			c.FailureCount--
		}
	}

	snap := c.CircuitSnapshot
	return &snap, nil
}

// RecordFailure implements CircuitStore.
func (s *LocalCircuitStore) RecordFailure(_ context.Context, key string) (*model.CircuitSnapshot, error) {
	c := s.get(key)
	c.mu.Lock()
	defer c.mu.Unlock()

	c.FailureCount++
	c.LastFailureAt = time.Now()

	if c.State == model.CircuitHalfOpen || c.FailureCount >= s.failureThreshold {
		c.State = model.CircuitOpen
		c.ConsecutiveSuccesses = 0
	}

	snap := c.CircuitSnapshot
	return &snap, nil
}

// List implements CircuitStore.
func (s *LocalCircuitStore) List(_ context.Context) ([]*model.CircuitSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := make([]*model.CircuitSnapshot, 0, len(s.circuits))
	for _, c := range s.circuits {
		c.mu.Lock()
		snap := c.CircuitSnapshot
		c.mu.Unlock()
		snaps = append(snaps, &snap)
	}
	return snaps, nil
}

// Reset implements CircuitStore.
func (s *LocalCircuitStore) Reset(_ context.Context, key string) error {
	c := s.get(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CircuitSnapshot = model.CircuitSnapshot{Key: key, State: model.CircuitClosed}
	return nil
}
