package log

import (
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
)

// LogHelper extends the Kratos log.Helper with typed convenience methods.
// Each method tags the entry with a "type" field so dashboards can filter
// gateway subsystems without parsing messages.
type LogHelper struct {
	*log.Helper
}

// NewLogHelper creates an enhanced log helper.
func NewLogHelper(logger log.Logger) *LogHelper {
	return &LogHelper{
		Helper: log.NewHelper(logger),
	}
}

// Provider records upstream provider call logs.
func (h *LogHelper) Provider(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "provider")
	h.Infow(allKvs...)
}

// Circuit records circuit breaker state transitions and fast-fails.
func (h *LogHelper) Circuit(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "circuit")
	h.Warnw(allKvs...)
}

// Retry records retry attempts and backoff decisions.
func (h *LogHelper) Retry(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "retry")
	h.Infow(allKvs...)
}

// Budget records cost ledger activity and throttling decisions.
func (h *LogHelper) Budget(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "budget")
	h.Infow(allKvs...)
}

// Moderation records content safety verdicts.
func (h *LogHelper) Moderation(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "moderation")
	h.Infow(allKvs...)
}

// Telemetry records metric/alert store activity.
func (h *LogHelper) Telemetry(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "telemetry")
	h.Debugw(allKvs...)
}

// Request records an outbound HTTP request result.
func (h *LogHelper) Request(method, url string, status int, durationMs int64, kvs ...interface{}) {
	msg := fmt.Sprintf("%s %s - %d (%dms)", method, url, status, durationMs)
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs,
		"type", "request",
		"method", method,
		"url", url,
		"status", status,
		"duration_ms", durationMs,
	)
	h.Infow(allKvs...)
}

// Startup records startup logs.
func (h *LogHelper) Startup(msg string, kvs ...interface{}) {
	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs, "type", "startup")
	h.Infow(allKvs...)
}
