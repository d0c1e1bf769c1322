// Package data provides data access layer implementations.
// It holds the Redis-backed ledgers, circuit state, metrics and alerts,
// plus the MySQL usage archive.
package data

import (
	"VerseGate/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewMySQLClient,
	NewLedgerRepo,
	NewCircuitStoreRepo,
	NewMetricsRepo,
	NewAlertRepo,
	NewArchiveRepo,
	NewRedisHealthChecker,
	NewMySQLHealthChecker,
	NewProviderHealthChecker,
)

// Data bundles the data layer handles.
type Data struct {
	rdb *redis.Client
	db  *gorm.DB
}

// NewData creates the Data instance. A nil Redis client or database is
// tolerated: the repositories degrade per their own fault policies.
func NewData(_ *conf.Data, logger log.Logger, rdb *redis.Client, db *gorm.DB) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	if rdb == nil {
		helper.Warn("Redis client is nil, shared ledgers and circuit state will be unavailable")
	}
	if db == nil {
		helper.Warn("archive database is nil, usage history will not be persisted")
	}

	d := &Data{
		rdb: rdb,
		db:  db,
	}

	cleanup := func() {
		helper.Info("closing the data resources")
		// Client shutdown is owned by the NewRedisClient and
		// NewMySQLClient cleanup functions Wire runs after this one.
	}

	return d, cleanup, nil
}

// GetRedisClient returns the Redis client for advanced operations.
func (d *Data) GetRedisClient() *redis.Client {
	return d.rdb
}
