package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test NewBootstrap - Defaults with no config file
func TestNewBootstrap_Defaults(t *testing.T) {
	bc, err := NewBootstrap("")
	require.NoError(t, err)

	assert.Equal(t, ":8090", bc.Server.Http.Addr)
	assert.Equal(t, 50.0, bc.Gateway.Budget.DailyCostLimit)
	assert.Equal(t, 1000.0, bc.Gateway.Budget.MonthlyCostLimit)
	assert.Equal(t, 80.0, bc.Gateway.Budget.AlertThresholdPercent)
	assert.Equal(t, 95.0, bc.Gateway.Budget.ThrottleThresholdPercent)
	assert.False(t, bc.Gateway.Budget.EnableThrottling)
	assert.Equal(t, int32(3), bc.Gateway.Retry.MaxRetries)
	assert.Equal(t, time.Second, bc.Gateway.Retry.InitialDelay.AsDuration())
	assert.Equal(t, 16*time.Second, bc.Gateway.Retry.MaxDelay.AsDuration())
	assert.Equal(t, int32(5), bc.Gateway.Retry.FailureThreshold)
	assert.Equal(t, 60*time.Second, bc.Gateway.Retry.ResetTimeout.AsDuration())
	assert.Equal(t, int32(10000), bc.Gateway.Moderation.MaxLength)
	assert.Equal(t, int32(1000), bc.Gateway.Moderation.CacheSize)
	assert.Equal(t, "info", bc.Log.Level)
}

// Test NewBootstrap - Missing config file falls back to defaults
func TestNewBootstrap_MissingFile(t *testing.T) {
	bc, err := NewBootstrap("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 50.0, bc.Gateway.Budget.DailyCostLimit)
}

// Test NewBootstrap - Plain environment names override defaults
func TestNewBootstrap_EnvOverrides(t *testing.T) {
	t.Setenv("DAILY_COST_LIMIT", "123.5")
	t.Setenv("MAX_RETRIES", "7")
	t.Setenv("ENABLE_THROTTLING", "true")
	t.Setenv("RESET_TIMEOUT_MS", "30000")

	bc, err := NewBootstrap("")
	require.NoError(t, err)

	assert.Equal(t, 123.5, bc.Gateway.Budget.DailyCostLimit)
	assert.Equal(t, int32(7), bc.Gateway.Retry.MaxRetries)
	assert.True(t, bc.Gateway.Budget.EnableThrottling)
	assert.Equal(t, 30*time.Second, bc.Gateway.Retry.ResetTimeout.AsDuration())
}

// Test NewBootstrap - Prefixed environment names also work
func TestNewBootstrap_PrefixedEnv(t *testing.T) {
	t.Setenv("VERSEGATE_DATA_REDIS_ADDR", "redis.internal:6379")

	bc, err := NewBootstrap("")
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6379", bc.Data.Redis.Addr)
}

// Test Validate - Invalid values are collected
func TestValidate_CollectsInvalidFields(t *testing.T) {
	t.Setenv("DAILY_COST_LIMIT", "-5")
	t.Setenv("ALERT_THRESHOLD_PERCENT", "150")

	_, err := NewBootstrap("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daily_cost_limit")
	assert.Contains(t, err.Error(), "alert_threshold_percent")
}
