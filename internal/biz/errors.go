package biz

import (
	"fmt"
	"time"

	"VerseGate/internal/model"

	"github.com/go-kratos/kratos/v2/errors"
)

// CircuitOpenError is returned when a circuit is OPEN and the reset
// timeout has not elapsed. The operation is never invoked.
type CircuitOpenError struct {
	Key        string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %q: retry after %s", e.Key, e.RetryAfter.Round(time.Second))
}

// RetryExhaustedError wraps the last underlying error after a retryable
// failure persisted past the policy's retry budget.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap returns the last underlying error.
func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// InvalidInputError is returned for malformed caller input. It is never
// retried.
type InvalidInputError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input %q: %s", e.Field, e.Reason)
}

// ModerationBlockedError is returned by callers when a verdict flags
// content. The verdict's explanation is safe to surface to users.
type ModerationBlockedError struct {
	Verdict *model.ModerationVerdict
}

// Error implements the error interface.
func (e *ModerationBlockedError) Error() string {
	if e.Verdict != nil && e.Verdict.Explanation != "" {
		return fmt.Sprintf("content blocked: %s", e.Verdict.Explanation)
	}
	return "content blocked by safety gate"
}

// Kratos error mapping for the web layer. Circuit-open failures surface
// a generic "try again later"; moderation failures surface the verdict
// explanation; invalid input surfaces the field.
func newCircuitOpenKratosError(key string) *errors.Error {
	return errors.New(503, "CIRCUIT_OPEN",
		fmt.Sprintf("service %q temporarily unavailable, please try again later", key))
}

func newInvalidInputKratosError(field, reason string) *errors.Error {
	return errors.New(400, "INVALID_INPUT", fmt.Sprintf("invalid %s: %s", field, reason))
}

func newModerationBlockedKratosError(explanation string) *errors.Error {
	return errors.New(422, "MODERATION_BLOCKED", explanation)
}

// AsKratosError maps gateway errors to transport errors with HTTP codes.
func AsKratosError(err error) *errors.Error {
	switch e := err.(type) {
	case *CircuitOpenError:
		return newCircuitOpenKratosError(e.Key)
	case *InvalidInputError:
		return newInvalidInputKratosError(e.Field, e.Reason)
	case *ModerationBlockedError:
		return newModerationBlockedKratosError(e.Error())
	case *RetryExhaustedError:
		return errors.New(502, "UPSTREAM_UNAVAILABLE", "upstream provider unavailable")
	default:
		return errors.New(500, "INTERNAL", "internal error")
	}
}
