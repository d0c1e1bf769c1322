package data

import (
	"context"
	"errors"

	"VerseGate/pkg/provider"

	"gorm.io/gorm"
)

// RedisHealthChecker probes the shared store.
type RedisHealthChecker struct {
	rdb *LedgerRepo
}

// NewRedisHealthChecker creates a Redis health checker. It goes through
// the ledger repository so the probe exercises the same client path the
// gateway depends on.
func NewRedisHealthChecker(ledger *LedgerRepo) *RedisHealthChecker {
	return &RedisHealthChecker{rdb: ledger}
}

// Name implements the health checker contract.
func (c *RedisHealthChecker) Name() string { return "redis" }

// Check implements the health checker contract.
func (c *RedisHealthChecker) Check(ctx context.Context) error {
	if c.rdb.rdb == nil {
		return errRedisUnavailable
	}
	return c.rdb.rdb.Ping(ctx).Err()
}

// MySQLHealthChecker probes the archive database. With the archive
// disabled it reports healthy, since nothing depends on it.
type MySQLHealthChecker struct {
	db *gorm.DB
}

// NewMySQLHealthChecker creates a MySQL health checker.
func NewMySQLHealthChecker(db *gorm.DB) *MySQLHealthChecker {
	return &MySQLHealthChecker{db: db}
}

// Name implements the health checker contract.
func (c *MySQLHealthChecker) Name() string { return "mysql" }

// Check implements the health checker contract.
func (c *MySQLHealthChecker) Check(ctx context.Context) error {
	if c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// ProviderHealthChecker probes the upstream provider.
type ProviderHealthChecker struct {
	client *provider.Client
}

// NewProviderHealthChecker creates a provider health checker.
func NewProviderHealthChecker(client *provider.Client) *ProviderHealthChecker {
	return &ProviderHealthChecker{client: client}
}

// Name implements the health checker contract.
func (c *ProviderHealthChecker) Name() string { return "provider" }

// Check implements the health checker contract.
func (c *ProviderHealthChecker) Check(ctx context.Context) error {
	if c.client == nil {
		return errors.New("provider client is not configured")
	}
	return c.client.Ping(ctx)
}
