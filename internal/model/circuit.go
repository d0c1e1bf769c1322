// Package model contains domain models shared between the biz and data layers.
package model

import "time"

// CircuitState is the state of a per-dependency circuit breaker.
type CircuitState string

const (
	// CircuitClosed allows all calls through.
	CircuitClosed CircuitState = "CLOSED"
	// CircuitOpen fails calls fast until the reset timeout elapses.
	CircuitOpen CircuitState = "OPEN"
	// CircuitHalfOpen allows a single trial call to test recovery.
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// CircuitSnapshot is a point-in-time view of one circuit breaker.
// State is created lazily on first use of a key and lives for the
// process lifetime (local store) or in Redis (shared store).
type CircuitSnapshot struct {
	Key                  string       `json:"key"`
	State                CircuitState `json:"state"`
	FailureCount         int32        `json:"failure_count"`
	ConsecutiveSuccesses int32        `json:"consecutive_successes"`
	TotalRequests        int64        `json:"total_requests"`
	LastFailureAt        time.Time    `json:"last_failure_at"`
}
