package biz

import (
	"context"
	"fmt"
	"time"

	"VerseGate/internal/conf"
	"VerseGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRepo persists metric records and failure-window counters in
// the shared store.
type MetricsRepo interface {
	// RecordMetric appends one immutable measurement (30-day TTL).
	RecordMetric(ctx context.Context, m *model.MetricRecord) error

	// QueryRange returns aggregated buckets for a metric over a
	// trailing window ending at now.
	QueryRange(ctx context.Context, name string, window time.Duration, now time.Time) ([]*model.MetricBucket, error)

	// IncrFailureWindow bumps the short-TTL failure counter for an
	// operation and returns the count within the trailing window.
	IncrFailureWindow(ctx context.Context, op string) (int64, error)
}

// AlertRepo persists alerts in the shared store (7-day TTL).
type AlertRepo interface {
	SaveAlert(ctx context.Context, a *model.Alert) error
	RecentAlerts(ctx context.Context, limit int) ([]*model.Alert, error)
}

// HealthChecker probes one external dependency.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

const (
	metricResponseTime = "response_time"
	metricRequests     = "requests"
	metricErrors       = "errors"

	// healthCheckTimeout bounds each dependency probe.
	healthCheckTimeout = 5 * time.Second
	// degradedLatency marks a passing but slow dependency.
	degradedLatency = 1 * time.Second

	// failureAlertThreshold raises a high alert once an operation fails
	// this many times within the trailing failure window.
	failureAlertThreshold = 5
)

// criticalOps always raise a high alert on failure.
var criticalOps = map[string]bool{
	"llm-chat":       true,
	"llm-moderation": true,
	"budget_ledger":  true,
	"vector-query":   true,
}

// TelemetryHub records metrics and errors, runs dependency health
// checks, raises and stores alerts, and aggregates dashboards.
//
// Recording methods are fire-and-forget: store failures are logged and
// swallowed, never surfaced to the caller.
type TelemetryHub struct {
	metrics   MetricsRepo
	alerts    AlertRepo
	checkers  []HealthChecker
	circuits  CircuitStore
	ledger    LedgerRepo
	budgetCfg *conf.Gateway_Budget
	logger    *log.Helper
	startTime time.Time

	promRequests *prometheus.CounterVec
	promLatency  *prometheus.HistogramVec
	promAlerts   *prometheus.CounterVec
}

// NewPrometheusRegistry creates the registry the hub and the ops server
// share.
func NewPrometheusRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// NewTelemetryHub creates a telemetry hub and registers its Prometheus
// collectors.
func NewTelemetryHub(
	c *conf.Gateway_Budget,
	metrics MetricsRepo,
	alerts AlertRepo,
	checkers []HealthChecker,
	circuits CircuitStore,
	ledger LedgerRepo,
	reg *prometheus.Registry,
	logger log.Logger,
) *TelemetryHub {
	hub := &TelemetryHub{
		metrics:   metrics,
		alerts:    alerts,
		checkers:  checkers,
		circuits:  circuits,
		ledger:    ledger,
		budgetCfg: c,
		logger:    log.NewHelper(logger),
		startTime: time.Now(),
		promRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "versegate_requests_total",
			Help: "Gateway operations by outcome.",
		}, []string{"op", "status"}),
		promLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "versegate_response_seconds",
			Help:    "Gateway operation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		promAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "versegate_alerts_total",
			Help: "Alerts raised by severity.",
		}, []string{"severity"}),
	}

	if reg != nil {
		reg.MustRegister(hub.promRequests, hub.promLatency, hub.promAlerts)
	}

	return hub
}

// RecordMetric records an arbitrary measurement.
func (h *TelemetryHub) RecordMetric(ctx context.Context, name string, value float64, tags map[string]string, userID string) {
	h.store(ctx, &model.MetricRecord{
		Name:      name,
		Value:     value,
		Timestamp: time.Now(),
		Tags:      tags,
		UserID:    userID,
	})
}

// RecordResponseTime records one operation's latency.
func (h *TelemetryHub) RecordResponseTime(ctx context.Context, op string, d time.Duration, userID string) {
	h.promLatency.WithLabelValues(op).Observe(d.Seconds())
	h.store(ctx, &model.MetricRecord{
		Name:      metricResponseTime,
		Value:     float64(d.Milliseconds()),
		Timestamp: time.Now(),
		Tags:      map[string]string{"op": op},
		UserID:    userID,
	})
}

// RecordSuccess records one successful operation.
func (h *TelemetryHub) RecordSuccess(ctx context.Context, op string) {
	h.promRequests.WithLabelValues(op, "success").Inc()
	h.store(ctx, &model.MetricRecord{
		Name:      metricRequests,
		Value:     1,
		Timestamp: time.Now(),
		Tags:      map[string]string{"op": op, "status": "success"},
	})
}

// RecordError records one failed operation.
func (h *TelemetryHub) RecordError(ctx context.Context, op string, err error, userID string) {
	h.promRequests.WithLabelValues(op, "error").Inc()
	now := time.Now()
	h.store(ctx, &model.MetricRecord{
		Name:      metricRequests,
		Value:     1,
		Timestamp: now,
		Tags:      map[string]string{"op": op, "status": "error"},
		UserID:    userID,
	})
	h.store(ctx, &model.MetricRecord{
		Name:      metricErrors,
		Value:     1,
		Timestamp: now,
		Tags:      map[string]string{"op": op, "error": fmt.Sprint(err)},
		UserID:    userID,
	})
}

// store persists a metric record, swallowing failures.
func (h *TelemetryHub) store(ctx context.Context, m *model.MetricRecord) {
	if err := h.metrics.RecordMetric(ctx, m); err != nil {
		h.logger.Warnw("msg", "failed to record metric", "metric", m.Name, "error", err)
	}
}

// WithMonitoring executes fn, recording timing and success/error
// automatically. A high alert is raised when op is on the critical list
// or has failed repeatedly within the trailing failure window.
func (h *TelemetryHub) WithMonitoring(ctx context.Context, op string, fn func(ctx context.Context) error, userID string) error {
	start := time.Now()
	err := fn(ctx)
	h.RecordResponseTime(ctx, op, time.Since(start), userID)

	if err == nil {
		h.RecordSuccess(ctx, op)
		return nil
	}

	h.RecordError(ctx, op, err, userID)

	failures, werr := h.metrics.IncrFailureWindow(ctx, op)
	if werr != nil {
		h.logger.Warnw("msg", "failed to track failure window", "op", op, "error", werr)
	}
	if criticalOps[op] || failures >= failureAlertThreshold {
		h.CreateAlert(ctx, model.SeverityHigh,
			fmt.Sprintf("operation %s failing", op),
			map[string]interface{}{
				"op":              op,
				"recent_failures": failures,
				"error":           err.Error(),
			})
	}

	return err
}

// CreateAlert persists an alert. Never returns an error to the caller.
func (h *TelemetryHub) CreateAlert(ctx context.Context, severity model.AlertSeverity, message string, metadata map[string]interface{}) {
	h.promAlerts.WithLabelValues(string(severity)).Inc()

	alert := &model.Alert{
		Severity:  severity,
		Message:   message,
		Metadata:  metadata,
		Timestamp: time.Now(),
	}
	if err := h.alerts.SaveAlert(ctx, alert); err != nil {
		h.logger.Warnw("msg", "failed to persist alert",
			"severity", severity,
			"message", message,
			"error", err)
		return
	}

	h.logger.Warnw("msg", "alert raised", "severity", severity, "alert", message)
}

// GetRecentAlerts returns up to limit alerts, newest first.
func (h *TelemetryHub) GetRecentAlerts(ctx context.Context, limit int) ([]*model.Alert, error) {
	if limit <= 0 {
		limit = 10
	}
	return h.alerts.RecentAlerts(ctx, limit)
}

// PerformHealthChecks probes every dependency independently, so one
// failing dependency does not abort the others. No state persists
// between cycles.
func (h *TelemetryHub) PerformHealthChecks(ctx context.Context) []*model.HealthCheckResult {
	results := make([]*model.HealthCheckResult, len(h.checkers))

	done := make(chan struct{})
	for i, checker := range h.checkers {
		go func(i int, checker HealthChecker) {
			defer func() { done <- struct{}{} }()

			checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			defer cancel()

			start := time.Now()
			err := checker.Check(checkCtx)
			latency := time.Since(start)

			result := &model.HealthCheckResult{
				Service:   checker.Name(),
				Latency:   latency,
				Timestamp: time.Now(),
			}
			switch {
			case err != nil:
				result.Status = model.StatusUnhealthy
				result.Error = err.Error()
			case latency > degradedLatency:
				result.Status = model.StatusDegraded
			default:
				result.Status = model.StatusHealthy
			}
			results[i] = result
		}(i, checker)
	}
	for range h.checkers {
		<-done
	}
	close(done)

	return results
}

// GetPerformanceMetrics aggregates stats over a window of "1h", "24h"
// or "7d": response time, throughput, error rate, circuit-breaker
// snapshot and cost snapshot.
func (h *TelemetryHub) GetPerformanceMetrics(ctx context.Context, window string) (*model.PerformanceSnapshot, error) {
	var d time.Duration
	switch window {
	case "1h":
		d = time.Hour
	case "24h":
		d = 24 * time.Hour
	case "7d":
		d = 7 * 24 * time.Hour
	default:
		return nil, &InvalidInputError{Field: "window", Reason: `must be one of "1h", "24h", "7d"`}
	}

	now := time.Now()

	respSum, respCount := sumBuckets(h.queryRange(ctx, metricResponseTime, d, now))
	_, requestCount := sumBuckets(h.queryRange(ctx, metricRequests, d, now))
	_, errorCount := sumBuckets(h.queryRange(ctx, metricErrors, d, now))

	snapshot := &model.PerformanceSnapshot{
		Window:       window,
		RequestCount: requestCount,
		ErrorCount:   errorCount,
		Throughput:   float64(requestCount) / d.Minutes(),
	}
	if respCount > 0 {
		snapshot.AvgResponseMs = respSum / float64(respCount)
	}
	if requestCount > 0 {
		snapshot.ErrorRate = float64(errorCount) / float64(requestCount)
	}

	circuits, err := h.circuits.List(ctx)
	if err != nil {
		h.logger.Warnw("msg", "failed to snapshot circuit breakers", "error", err)
	} else {
		snapshot.CircuitBreakers = circuits
	}

	totals, err := h.ledger.Totals(ctx, "", now)
	if err != nil {
		h.logger.Warnw("msg", "failed to snapshot budget", "error", err)
	} else {
		snapshot.Budget = &model.BudgetUsage{
			DailySpend:     totals.Daily,
			DailyLimit:     h.budgetCfg.DailyCostLimit,
			DailyPercent:   percent(totals.Daily, h.budgetCfg.DailyCostLimit),
			MonthlySpend:   totals.Monthly,
			MonthlyLimit:   h.budgetCfg.MonthlyCostLimit,
			MonthlyPercent: percent(totals.Monthly, h.budgetCfg.MonthlyCostLimit),
		}
	}

	return snapshot, nil
}

// GetDashboardData assembles the aggregate ops view.
func (h *TelemetryHub) GetDashboardData(ctx context.Context) (*model.DashboardData, error) {
	health := h.PerformHealthChecks(ctx)

	perf, err := h.GetPerformanceMetrics(ctx, "24h")
	if err != nil {
		return nil, err
	}

	alerts, err := h.GetRecentAlerts(ctx, 10)
	if err != nil {
		h.logger.Warnw("msg", "failed to fetch recent alerts", "error", err)
		alerts = nil
	}

	return &model.DashboardData{
		HealthChecks:  health,
		OverallHealth: model.AggregateHealth(health),
		Performance:   perf,
		RecentAlerts:  alerts,
		Uptime:        time.Since(h.startTime),
	}, nil
}

// queryRange wraps MetricsRepo.QueryRange with logging; aggregation is
// best-effort.
func (h *TelemetryHub) queryRange(ctx context.Context, name string, window time.Duration, now time.Time) []*model.MetricBucket {
	buckets, err := h.metrics.QueryRange(ctx, name, window, now)
	if err != nil {
		h.logger.Warnw("msg", "failed to query metric range", "metric", name, "error", err)
		return nil
	}
	return buckets
}

func sumBuckets(buckets []*model.MetricBucket) (sum float64, count int64) {
	for _, b := range buckets {
		sum += b.Sum
		count += b.Count
	}
	return sum, count
}
