// Package biz contains business logic layer implementations.
// This layer holds the gateway's resilience and governance rules.
package biz

import (
	"VerseGate/internal/conf"
	"VerseGate/internal/data"
	"VerseGate/pkg/provider"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewRetryExecutor,
	NewBudgetGovernor,
	NewSafetyGate,
	NewTelemetryHub,
	NewCircuitStore,
	NewHealthCheckers,
	NewPrometheusRegistry,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(LedgerRepo), new(*data.LedgerRepo)),
	wire.Bind(new(MetricsRepo), new(*data.MetricsRepo)),
	wire.Bind(new(AlertRepo), new(*data.AlertRepo)),
	wire.Bind(new(AlertSink), new(*TelemetryHub)),
	wire.Bind(new(ModerationClient), new(*provider.Client)),
)

// NewCircuitStore selects the circuit store implementation: the shared
// Redis store when a client is configured, the in-process store
// otherwise.
func NewCircuitStore(c *conf.Gateway, repo *data.CircuitStoreRepo, logger log.Logger) CircuitStore {
	helper := log.NewHelper(logger)
	if repo != nil && repo.Available() {
		helper.Info("using shared Redis circuit store")
		return repo
	}

	failureThreshold := int32(5)
	if c != nil && c.Retry != nil && c.Retry.FailureThreshold > 0 {
		failureThreshold = c.Retry.FailureThreshold
	}
	helper.Warn("no Redis client configured, falling back to in-process circuit store")
	return NewLocalCircuitStore(failureThreshold)
}

// NewHealthCheckers assembles the dependency probes the telemetry hub
// cycles through.
func NewHealthCheckers(
	redisChecker *data.RedisHealthChecker,
	mysqlChecker *data.MySQLHealthChecker,
	providerChecker *data.ProviderHealthChecker,
) []HealthChecker {
	return []HealthChecker{redisChecker, mysqlChecker, providerChecker}
}
