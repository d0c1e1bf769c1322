package data

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"VerseGate/internal/conf"
	"VerseGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	fieldState                = "state"
	fieldFailureCount         = "failure_count"
	fieldConsecutiveSuccesses = "consecutive_successes"
	fieldTotalRequests        = "total_requests"
	fieldLastFailureUnixMs    = "last_failure_unix_ms"

	// circuitTTL bounds stale state for keys that stop being used.
	circuitTTL = 7 * 24 * time.Hour

	circuitCloseAfterSuccesses = 3
)

// CircuitStoreRepo implements the shared circuit breaker store on a
// Redis hash per key (interface defined in the biz layer), so every
// gateway instance in a process group sees one breaker view. The
// OPEN to HALF_OPEN transition is guarded by a SETNX probe marker so
// only one instance wins the trial slot.
type CircuitStoreRepo struct {
	rdb              *redis.Client
	processGroup     string
	failureThreshold int32
	probeTTL         time.Duration
	logger           *log.Helper
}

// NewCircuitStoreRepo creates a Redis-backed circuit store.
func NewCircuitStoreRepo(c *conf.Gateway, d *Data, logger log.Logger) *CircuitStoreRepo {
	processGroup := "default"
	failureThreshold := int32(5)
	probeTTL := 60 * time.Second
	if c != nil && c.Retry != nil {
		if c.Retry.ProcessGroup != "" {
			processGroup = c.Retry.ProcessGroup
		}
		if c.Retry.FailureThreshold > 0 {
			failureThreshold = c.Retry.FailureThreshold
		}
		if c.Retry.ResetTimeout != nil && c.Retry.ResetTimeout.AsDuration() > 0 {
			probeTTL = c.Retry.ResetTimeout.AsDuration()
		}
	}
	return &CircuitStoreRepo{
		rdb:              d.rdb,
		processGroup:     processGroup,
		failureThreshold: failureThreshold,
		probeTTL:         probeTTL,
		logger:           log.NewHelper(logger),
	}
}

// Available reports whether the repository has a Redis client to work
// with. Wire uses it to pick between this store and the in-process one.
func (r *CircuitStoreRepo) Available() bool {
	return r.rdb != nil
}

func (r *CircuitStoreRepo) circuitKey(key string) string {
	return fmt.Sprintf("circuit:%s:%s", r.processGroup, key)
}

func (r *CircuitStoreRepo) probeKey(key string) string {
	return r.circuitKey(key) + ":probe"
}

// Get implements the circuit store. A missing hash reads as CLOSED.
func (r *CircuitStoreRepo) Get(ctx context.Context, key string) (*model.CircuitSnapshot, error) {
	if r.rdb == nil {
		return nil, errRedisUnavailable
	}

	fields, err := r.rdb.HGetAll(ctx, r.circuitKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read circuit state: %w", err)
	}
	return snapshotFromFields(key, fields), nil
}

// IncrTotal counts one execution attempt against the key.
func (r *CircuitStoreRepo) IncrTotal(ctx context.Context, key string) error {
	if r.rdb == nil {
		return errRedisUnavailable
	}

	pipe := r.rdb.TxPipeline()
	pipe.HIncrBy(ctx, r.circuitKey(key), fieldTotalRequests, 1)
	pipe.Expire(ctx, r.circuitKey(key), circuitTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to count circuit request: %w", err)
	}
	return nil
}

// MarkHalfOpen attempts the OPEN to HALF_OPEN transition. The SETNX
// probe marker grants the trial slot to exactly one caller; the marker
// expires with the reset timeout so a crashed trial cannot wedge the
// circuit in HALF_OPEN forever.
func (r *CircuitStoreRepo) MarkHalfOpen(ctx context.Context, key string) (bool, error) {
	if r.rdb == nil {
		return false, errRedisUnavailable
	}

	won, err := r.rdb.SetNX(ctx, r.probeKey(key), "1", r.probeTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set half-open probe marker: %w", err)
	}
	if !won {
		return false, nil
	}

	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, r.circuitKey(key), fieldState, string(model.CircuitHalfOpen), fieldConsecutiveSuccesses, 0)
	pipe.Expire(ctx, r.circuitKey(key), circuitTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to mark circuit half-open: %w", err)
	}
	return true, nil
}

// RecordSuccess applies the success rules: three consecutive HALF_OPEN
// successes close the circuit; a CLOSED success decays the failure
// count toward zero.
func (r *CircuitStoreRepo) RecordSuccess(ctx context.Context, key string) (*model.CircuitSnapshot, error) {
	if r.rdb == nil {
		return nil, errRedisUnavailable
	}

	ck := r.circuitKey(key)

	state, err := r.rdb.HGet(ctx, ck, fieldState).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read circuit state: %w", err)
	}

	switch model.CircuitState(state) {
	case model.CircuitHalfOpen:
		successes, err := r.rdb.HIncrBy(ctx, ck, fieldConsecutiveSuccesses, 1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to count trial success: %w", err)
		}
		if successes >= circuitCloseAfterSuccesses {
			pipe := r.rdb.TxPipeline()
			pipe.HSet(ctx, ck, fieldState, string(model.CircuitClosed), fieldFailureCount, 0, fieldConsecutiveSuccesses, 0)
			pipe.Del(ctx, r.probeKey(key))
			if _, err := pipe.Exec(ctx); err != nil {
				return nil, fmt.Errorf("failed to close circuit: %w", err)
			}
		}
	default:
		// Good-behavior relief valve in CLOSED.
		failures, err := r.rdb.HGet(ctx, ck, fieldFailureCount).Int64()
		if err != nil && err != redis.Nil {
			return nil, fmt.Errorf("failed to read failure count: %w", err)
		}
		if failures > 0 {
			if left, err := r.rdb.HIncrBy(ctx, ck, fieldFailureCount, -1).Result(); err == nil && left < 0 {
				// Clamp a concurrent over-decrement back to zero.
				r.rdb.HSet(ctx, ck, fieldFailureCount, 0)
			}
		}
	}

	return r.Get(ctx, key)
}

// RecordFailure applies the failure rules: a HALF_OPEN failure reopens
// immediately, a CLOSED failure opens the circuit at the threshold.
func (r *CircuitStoreRepo) RecordFailure(ctx context.Context, key string) (*model.CircuitSnapshot, error) {
	if r.rdb == nil {
		return nil, errRedisUnavailable
	}

	ck := r.circuitKey(key)

	pipe := r.rdb.TxPipeline()
	failCmd := pipe.HIncrBy(ctx, ck, fieldFailureCount, 1)
	pipe.HSet(ctx, ck, fieldLastFailureUnixMs, time.Now().UnixMilli())
	stateCmd := pipe.HGet(ctx, ck, fieldState)
	pipe.Expire(ctx, ck, circuitTTL)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to record circuit failure: %w", err)
	}

	state := model.CircuitState(stateCmd.Val())
	// #nosec G115 -- failure counts stay far below int32 range.
	if state == model.CircuitHalfOpen || int32(failCmd.Val()) >= r.failureThreshold {
		open := r.rdb.TxPipeline()
		open.HSet(ctx, ck, fieldState, string(model.CircuitOpen), fieldConsecutiveSuccesses, 0)
		open.Del(ctx, r.probeKey(key))
		if _, err := open.Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to open circuit: %w", err)
		}
	}

	return r.Get(ctx, key)
}

// List returns snapshots for every key in the process group.
func (r *CircuitStoreRepo) List(ctx context.Context) ([]*model.CircuitSnapshot, error) {
	if r.rdb == nil {
		return nil, errRedisUnavailable
	}

	prefix := fmt.Sprintf("circuit:%s:", r.processGroup)
	var snaps []*model.CircuitSnapshot

	iter := r.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		fullKey := iter.Val()
		if strings.HasSuffix(fullKey, ":probe") {
			continue
		}
		fields, err := r.rdb.HGetAll(ctx, fullKey).Result()
		if err != nil {
			r.logger.Warnw("msg", "failed to read circuit state during listing",
				"key", fullKey, "error", err)
			continue
		}
		snaps = append(snaps, snapshotFromFields(strings.TrimPrefix(fullKey, prefix), fields))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan circuit keys: %w", err)
	}

	return snaps, nil
}

// Reset clears the state for key back to CLOSED.
func (r *CircuitStoreRepo) Reset(ctx context.Context, key string) error {
	if r.rdb == nil {
		return errRedisUnavailable
	}

	if err := r.rdb.Del(ctx, r.circuitKey(key), r.probeKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to reset circuit: %w", err)
	}
	r.logger.Infow("msg", "circuit breaker reset", "circuit_key", key)
	return nil
}

// snapshotFromFields decodes the hash fields; an empty hash is a
// lazily-created CLOSED circuit.
func snapshotFromFields(key string, fields map[string]string) *model.CircuitSnapshot {
	snap := &model.CircuitSnapshot{
		Key:   key,
		State: model.CircuitClosed,
	}
	if len(fields) == 0 {
		return snap
	}

	if s, ok := fields[fieldState]; ok && s != "" {
		snap.State = model.CircuitState(s)
	}
	if v, err := strconv.ParseInt(fields[fieldFailureCount], 10, 32); err == nil {
		snap.FailureCount = int32(v)
	}
	if v, err := strconv.ParseInt(fields[fieldConsecutiveSuccesses], 10, 32); err == nil {
		snap.ConsecutiveSuccesses = int32(v)
	}
	if v, err := strconv.ParseInt(fields[fieldTotalRequests], 10, 64); err == nil {
		snap.TotalRequests = v
	}
	if v, err := strconv.ParseInt(fields[fieldLastFailureUnixMs], 10, 64); err == nil && v > 0 {
		snap.LastFailureAt = time.UnixMilli(v)
	}
	return snap
}
