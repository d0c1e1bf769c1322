package biz

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"VerseGate/internal/conf"
	"VerseGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMetricsRepo records metrics in memory.
type fakeMetricsRepo struct {
	mu       sync.Mutex
	records  []*model.MetricRecord
	buckets  map[string][]*model.MetricBucket
	failures map[string]int64
	failWith error
}

func newFakeMetricsRepo() *fakeMetricsRepo {
	return &fakeMetricsRepo{
		buckets:  map[string][]*model.MetricBucket{},
		failures: map[string]int64{},
	}
}

func (f *fakeMetricsRepo) RecordMetric(_ context.Context, m *model.MetricRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.records = append(f.records, m)
	return nil
}

func (f *fakeMetricsRepo) QueryRange(_ context.Context, name string, _ time.Duration, _ time.Time) ([]*model.MetricBucket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buckets[name], nil
}

func (f *fakeMetricsRepo) IncrFailureWindow(_ context.Context, op string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op]++
	return f.failures[op], nil
}

func (f *fakeMetricsRepo) recorded(name string) []*model.MetricRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.MetricRecord
	for _, r := range f.records {
		if r.Name == name {
			out = append(out, r)
		}
	}
	return out
}

// fakeAlertRepo records alerts in memory.
type fakeAlertRepo struct {
	mu     sync.Mutex
	alerts []*model.Alert
}

func (f *fakeAlertRepo) SaveAlert(_ context.Context, a *model.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
	return nil
}

func (f *fakeAlertRepo) RecentAlerts(_ context.Context, limit int) ([]*model.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.alerts) > limit {
		return f.alerts[:limit], nil
	}
	return f.alerts, nil
}

// fakeChecker is a scripted health checker.
type fakeChecker struct {
	name string
	err  error
}

func (f *fakeChecker) Name() string { return f.name }

func (f *fakeChecker) Check(_ context.Context) error { return f.err }

func newTestHub(metrics *fakeMetricsRepo, alerts *fakeAlertRepo, checkers []HealthChecker) *TelemetryHub {
	c := &conf.Gateway_Budget{DailyCostLimit: 100, MonthlyCostLimit: 1000}
	return NewTelemetryHub(c, metrics, alerts, checkers,
		NewLocalCircuitStore(5), newFakeLedgerRepo(),
		prometheus.NewRegistry(), log.NewStdLogger(os.Stdout))
}

// Test WithMonitoring - Success records latency and outcome
func TestTelemetry_WithMonitoringSuccess(t *testing.T) {
	metrics := newFakeMetricsRepo()
	alerts := &fakeAlertRepo{}
	hub := newTestHub(metrics, alerts, nil)

	err := hub.WithMonitoring(context.Background(), "background-job", func(ctx context.Context) error {
		return nil
	}, testUserID)
	require.NoError(t, err)

	assert.Len(t, metrics.recorded("response_time"), 1)
	assert.Len(t, metrics.recorded("requests"), 1)
	assert.Empty(t, metrics.recorded("errors"))
	assert.Empty(t, alerts.alerts)
}

// Test WithMonitoring - Critical operation failure raises a high alert
func TestTelemetry_CriticalOpAlertsImmediately(t *testing.T) {
	metrics := newFakeMetricsRepo()
	alerts := &fakeAlertRepo{}
	hub := newTestHub(metrics, alerts, nil)

	opErr := errors.New("provider down")
	err := hub.WithMonitoring(context.Background(), "llm-chat", func(ctx context.Context) error {
		return opErr
	}, testUserID)
	require.ErrorIs(t, err, opErr)

	require.Len(t, alerts.alerts, 1)
	assert.Equal(t, model.SeverityHigh, alerts.alerts[0].Severity)
	assert.Len(t, metrics.recorded("errors"), 1)
}

// Test WithMonitoring - Non-critical operations alert after repeated failures
func TestTelemetry_FailureWindowEscalates(t *testing.T) {
	metrics := newFakeMetricsRepo()
	alerts := &fakeAlertRepo{}
	hub := newTestHub(metrics, alerts, nil)

	opErr := errors.New("flaky")
	for i := 0; i < 5; i++ {
		_ = hub.WithMonitoring(context.Background(), "background-job", func(ctx context.Context) error {
			return opErr
		}, "")
	}

	// Alert fires on the fifth failure inside the window
	require.Len(t, alerts.alerts, 1)
	assert.Contains(t, alerts.alerts[0].Message, "background-job")
}

// Test RecordMetric - Store failures are swallowed
func TestTelemetry_RecordSwallowsStoreFailure(t *testing.T) {
	metrics := newFakeMetricsRepo()
	metrics.failWith = errors.New("connection refused")
	hub := newTestHub(metrics, &fakeAlertRepo{}, nil)

	// Must not panic or surface the error anywhere
	hub.RecordMetric(context.Background(), "custom", 1.0, nil, "")
	hub.RecordResponseTime(context.Background(), "op", time.Millisecond, "")
	hub.RecordError(context.Background(), "op", errors.New("x"), "")
}

// Test PerformHealthChecks - One failing dependency does not abort the rest
func TestTelemetry_HealthChecksIndependent(t *testing.T) {
	hub := newTestHub(newFakeMetricsRepo(), &fakeAlertRepo{}, []HealthChecker{
		&fakeChecker{name: "redis"},
		&fakeChecker{name: "provider", err: errors.New("timeout")},
		&fakeChecker{name: "mysql"},
	})

	results := hub.PerformHealthChecks(context.Background())
	require.Len(t, results, 3)

	byName := map[string]model.HealthStatus{}
	for _, r := range results {
		byName[r.Service] = r.Status
	}
	assert.Equal(t, model.StatusHealthy, byName["redis"])
	assert.Equal(t, model.StatusUnhealthy, byName["provider"])
	assert.Equal(t, model.StatusHealthy, byName["mysql"])
	assert.Equal(t, model.StatusUnhealthy, model.AggregateHealth(results))
}

// Test GetPerformanceMetrics - Window validation
func TestTelemetry_PerformanceWindowValidation(t *testing.T) {
	hub := newTestHub(newFakeMetricsRepo(), &fakeAlertRepo{}, nil)

	_, err := hub.GetPerformanceMetrics(context.Background(), "3d")
	var invalid *InvalidInputError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "window", invalid.Field)
}

// Test GetPerformanceMetrics - Aggregation math
func TestTelemetry_PerformanceAggregation(t *testing.T) {
	metrics := newFakeMetricsRepo()
	metrics.buckets["response_time"] = []*model.MetricBucket{
		{Sum: 300, Count: 2},
		{Sum: 100, Count: 2},
	}
	metrics.buckets["requests"] = []*model.MetricBucket{{Sum: 10, Count: 10}}
	metrics.buckets["errors"] = []*model.MetricBucket{{Sum: 2, Count: 2}}
	hub := newTestHub(metrics, &fakeAlertRepo{}, nil)

	snap, err := hub.GetPerformanceMetrics(context.Background(), "1h")
	require.NoError(t, err)
	assert.Equal(t, "1h", snap.Window)
	assert.InDelta(t, 100.0, snap.AvgResponseMs, 1e-9)
	assert.Equal(t, int64(10), snap.RequestCount)
	assert.Equal(t, int64(2), snap.ErrorCount)
	assert.InDelta(t, 0.2, snap.ErrorRate, 1e-9)
	require.NotNil(t, snap.Budget)
	assert.Equal(t, 100.0, snap.Budget.DailyLimit)
}

// Test GetDashboardData - Assembles all sections
func TestTelemetry_Dashboard(t *testing.T) {
	metrics := newFakeMetricsRepo()
	alerts := &fakeAlertRepo{}
	hub := newTestHub(metrics, alerts, []HealthChecker{&fakeChecker{name: "redis"}})

	hub.CreateAlert(context.Background(), model.SeverityMedium, "test alert", nil)

	data, err := hub.GetDashboardData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StatusHealthy, data.OverallHealth)
	require.Len(t, data.RecentAlerts, 1)
	assert.Equal(t, "test alert", data.RecentAlerts[0].Message)
	assert.NotNil(t, data.Performance)
	assert.GreaterOrEqual(t, data.Uptime, time.Duration(0))
}
