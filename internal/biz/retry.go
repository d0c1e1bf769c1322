package biz

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"net"
	"syscall"
	"time"

	"VerseGate/internal/conf"
	"VerseGate/internal/model"
	"VerseGate/pkg/provider"

	"github.com/go-kratos/kratos/v2/log"
)

// Operation is an arbitrary provider call executed under retry and
// circuit breaker protection. The gateway does not know what it does.
type Operation[T any] func(ctx context.Context) (T, error)

// RetryPolicy controls retry behavior for one call. Immutable per call.
type RetryPolicy struct {
	MaxRetries        int32
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	IsRetryable       func(error) bool
}

// DefaultRetryPolicy returns the policy defaults: 3 retries, 1s initial
// delay, 16s cap, multiplier 2, default transient classification.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		InitialDelay:      1 * time.Second,
		MaxDelay:          16 * time.Second,
		BackoffMultiplier: 2.0,
		IsRetryable:       DefaultIsRetryable,
	}
}

// NewRetryPolicy builds a policy from configuration.
func NewRetryPolicy(c *conf.Gateway_Retry) RetryPolicy {
	p := DefaultRetryPolicy()
	if c == nil {
		return p
	}
	if c.MaxRetries >= 0 {
		p.MaxRetries = c.MaxRetries
	}
	if c.InitialDelay != nil && c.InitialDelay.AsDuration() > 0 {
		p.InitialDelay = c.InitialDelay.AsDuration()
	}
	if c.MaxDelay != nil && c.MaxDelay.AsDuration() > 0 {
		p.MaxDelay = c.MaxDelay.AsDuration()
	}
	if c.BackoffMultiplier >= 1 {
		p.BackoffMultiplier = c.BackoffMultiplier
	}
	return p
}

// DefaultIsRetryable classifies an error as transient. Retry on HTTP
// 429 and 5xx, timeouts and connection resets; never on 401/403 or
// other 4xx, and never on invalid input.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var invalid *InvalidInputError
	if errors.As(err, &invalid) {
		return false
	}

	var pe *provider.Error
	if errors.As(err, &pe) {
		return pe.Temporary()
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	// Per-call timeouts are transient; the caller's own deadline is
	// checked separately by the retry loop.
	return errors.Is(err, context.DeadlineExceeded)
}

// RetryExecutor wraps arbitrary operations with classification-based
// retry and a per-key circuit breaker.
type RetryExecutor struct {
	circuits      CircuitStore
	resetTimeout  time.Duration
	defaultPolicy RetryPolicy
	logger        *log.Helper
}

// NewRetryExecutor creates a retry executor backed by the given circuit
// store.
func NewRetryExecutor(c *conf.Gateway_Retry, circuits CircuitStore, logger log.Logger) *RetryExecutor {
	resetTimeout := 60 * time.Second
	if c != nil && c.ResetTimeout != nil && c.ResetTimeout.AsDuration() > 0 {
		resetTimeout = c.ResetTimeout.AsDuration()
	}
	return &RetryExecutor{
		circuits:      circuits,
		resetTimeout:  resetTimeout,
		defaultPolicy: NewRetryPolicy(c),
		logger:        log.NewHelper(logger),
	}
}

// DefaultPolicy returns the executor's configured policy.
func (x *RetryExecutor) DefaultPolicy() RetryPolicy {
	return x.defaultPolicy
}

// Status returns the circuit breaker snapshot for a key. This is the
// public accessor tests and the dashboard use; internals stay private.
func (x *RetryExecutor) Status(ctx context.Context, key string) (*model.CircuitSnapshot, error) {
	return x.circuits.Get(ctx, key)
}

// Reset clears the circuit state for a key.
func (x *RetryExecutor) Reset(ctx context.Context, key string) error {
	return x.circuits.Reset(ctx, key)
}

// Execute runs op under the given policy with circuit breaking keyed by
// circuitKey (empty key disables circuit breaking). It fails with
// *CircuitOpenError without invoking op when the circuit is open, with
// *RetryExhaustedError when a transient error persists past the retry
// budget, with ctx.Err() when the caller's deadline expires, or with
// the operation's own terminal error.
func Execute[T any](ctx context.Context, x *RetryExecutor, op Operation[T], policy RetryPolicy, circuitKey string) (T, error) {
	var zero T

	if policy.IsRetryable == nil {
		policy.IsRetryable = DefaultIsRetryable
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = x.defaultPolicy.InitialDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = x.defaultPolicy.MaxDelay
	}
	if policy.BackoffMultiplier < 1 {
		policy.BackoffMultiplier = x.defaultPolicy.BackoffMultiplier
	}

	trial := false
	if circuitKey != "" {
		var err error
		trial, err = x.admit(ctx, circuitKey)
		if err != nil {
			return zero, err
		}
	}

	delay := policy.InitialDelay
	var retries int32

	for {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := op(ctx)
		if err == nil {
			x.recordSuccess(ctx, circuitKey, trial)
			return result, nil
		}

		if trial {
			// One failed trial reopens the circuit immediately.
			x.recordFailure(ctx, circuitKey)
			x.logger.Warnw("msg", "circuit reopened after failed trial",
				"circuit_key", circuitKey, "error", err)
			return zero, err
		}

		if !policy.IsRetryable(err) {
			x.recordFailure(ctx, circuitKey)
			return zero, err
		}

		if retries >= policy.MaxRetries {
			x.recordFailure(ctx, circuitKey)
			return zero, &RetryExhaustedError{Attempts: int(retries) + 1, Err: err}
		}

		retries++
		x.logger.Infow("msg", "retrying operation",
			"circuit_key", circuitKey,
			"attempt", retries,
			"delay", delay,
			"error", err)

		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
		delay = nextDelay(delay, policy)
	}
}

// nextDelay grows the backoff geometrically with up to 1s of jitter,
// capped at the policy maximum.
func nextDelay(delay time.Duration, policy RetryPolicy) time.Duration {
	next := time.Duration(float64(delay)*policy.BackoffMultiplier) + rand.N(time.Second)
	if next > policy.MaxDelay {
		next = policy.MaxDelay
	}
	return next
}

// sleep waits cooperatively, aborting when the caller's context ends.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// admit checks the circuit before invoking the operation. It returns
// trial=true when the call is a HALF_OPEN recovery probe.
func (x *RetryExecutor) admit(ctx context.Context, key string) (bool, error) {
	if err := x.circuits.IncrTotal(ctx, key); err != nil {
		x.logger.Warnw("msg", "failed to count circuit request", "circuit_key", key, "error", err)
	}

	snap, err := x.circuits.Get(ctx, key)
	if err != nil {
		// Store failure: allow the call rather than blocking traffic on
		// a broken breaker view.
		x.logger.Warnw("msg", "circuit state unavailable, allowing call", "circuit_key", key, "error", err)
		return false, nil
	}

	switch snap.State {
	case model.CircuitOpen:
		elapsed := time.Since(snap.LastFailureAt)
		if elapsed < x.resetTimeout {
			return false, &CircuitOpenError{Key: key, RetryAfter: x.resetTimeout - elapsed}
		}
		won, err := x.circuits.MarkHalfOpen(ctx, key)
		if err != nil {
			x.logger.Warnw("msg", "failed to mark circuit half-open", "circuit_key", key, "error", err)
		}
		if won {
			x.logger.Warnw("msg", "circuit transitioned to half-open", "circuit_key", key)
		}
		return true, nil
	case model.CircuitHalfOpen:
		return true, nil
	default:
		return false, nil
	}
}

func (x *RetryExecutor) recordSuccess(ctx context.Context, key string, trial bool) {
	if key == "" {
		return
	}
	snap, err := x.circuits.RecordSuccess(ctx, key)
	if err != nil {
		x.logger.Warnw("msg", "failed to record circuit success", "circuit_key", key, "error", err)
		return
	}
	if trial && snap.State == model.CircuitClosed {
		x.logger.Infow("msg", "circuit closed after recovery",
			"circuit_key", key)
	}
}

func (x *RetryExecutor) recordFailure(ctx context.Context, key string) {
	if key == "" {
		return
	}
	snap, err := x.circuits.RecordFailure(ctx, key)
	if err != nil {
		x.logger.Warnw("msg", "failed to record circuit failure", "circuit_key", key, "error", err)
		return
	}
	if snap.State == model.CircuitOpen {
		x.logger.Warnw("msg", "circuit opened",
			"circuit_key", key,
			"failure_count", snap.FailureCount)
	}
}
