// Package data provides data access layer implementations.
package data

import (
	"context"
	"time"

	"VerseGate/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates the shared-store Redis client. It returns the
// client, a cleanup function, and an error.
// Connection failure does not prevent startup (graceful degradation):
// the circuit breaker falls back to in-process state and the budget
// ledger fails open.
func NewRedisClient(c *conf.Data, logger log.Logger) (*redis.Client, func(), error) {
	helper := log.NewHelper(logger)

	if c == nil || c.Redis == nil {
		helper.Warn("Redis configuration is nil, skipping Redis initialization")
		return nil, func() {}, nil
	}

	addr := c.Redis.Addr
	if addr == "" {
		helper.Warn("Redis address is empty, skipping Redis initialization")
		return nil, func() {}, nil
	}

	readTimeout := 3 * time.Second
	if c.Redis.ReadTimeout != nil {
		readTimeout = c.Redis.ReadTimeout.AsDuration()
	}
	writeTimeout := 3 * time.Second
	if c.Redis.WriteTimeout != nil {
		writeTimeout = c.Redis.WriteTimeout.AsDuration()
	}

	rdb := redis.NewClient(&redis.Options{
		Network:         c.Redis.Network,
		Addr:            addr,
		PoolSize:        100,
		MinIdleConns:    10,
		DialTimeout:     3 * time.Second,
		ReadTimeout:     readTimeout,
		WriteTimeout:    writeTimeout,
		ConnMaxIdleTime: 5 * time.Minute,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		helper.Warnf("Failed to connect to Redis at %s: %v (gateway will continue degraded)", addr, err)
		// Return the client anyway; repositories retry on use. Startup
		// must not fail on a Redis outage.
		return rdb, func() {
			helper.Info("Closing Redis client (connection was unavailable)")
			_ = rdb.Close()
		}, nil
	}

	helper.Infof("Successfully connected to Redis at %s", addr)

	cleanup := func() {
		helper.Info("Closing Redis client")
		if err := rdb.Close(); err != nil {
			helper.Errorf("Failed to close Redis client: %v", err)
		}
	}

	return rdb, cleanup, nil
}
