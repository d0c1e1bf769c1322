package model

import "time"

// MetricRecord is a single recorded measurement. Records are immutable
// once written and retained with a 30-day TTL in the store.
type MetricRecord struct {
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
	Tags      map[string]string `json:"tags,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
}

// MetricBucket is an aggregated time bucket read back from the store.
type MetricBucket struct {
	Start time.Time `json:"start"`
	Sum   float64   `json:"sum"`
	Count int64     `json:"count"`
}

// AlertSeverity classifies an alert.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is persisted with a 7-day TTL and never mutated after creation.
type Alert struct {
	Severity  AlertSeverity          `json:"severity"`
	Message   string                 `json:"message"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// HealthStatus is the status of one dependency check.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckResult is one result per dependency per check cycle.
type HealthCheckResult struct {
	Service   string        `json:"service"`
	Status    HealthStatus  `json:"status"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// AggregateHealth reduces per-dependency results to the worst status.
func AggregateHealth(results []*HealthCheckResult) HealthStatus {
	agg := StatusHealthy
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			agg = StatusDegraded
		}
	}
	return agg
}

// PerformanceSnapshot aggregates stats over a query window.
type PerformanceSnapshot struct {
	Window          string             `json:"window"`
	AvgResponseMs   float64            `json:"avg_response_ms"`
	Throughput      float64            `json:"throughput_per_min"`
	ErrorRate       float64            `json:"error_rate"`
	RequestCount    int64              `json:"request_count"`
	ErrorCount      int64              `json:"error_count"`
	CircuitBreakers []*CircuitSnapshot `json:"circuit_breakers"`
	Budget          *BudgetUsage       `json:"budget"`
}

// DashboardData is the aggregate ops view.
type DashboardData struct {
	HealthChecks  []*HealthCheckResult `json:"health_checks"`
	OverallHealth HealthStatus         `json:"overall_health"`
	Performance   *PerformanceSnapshot `json:"performance"`
	RecentAlerts  []*Alert             `json:"recent_alerts"`
	Uptime        time.Duration        `json:"uptime"`
}
