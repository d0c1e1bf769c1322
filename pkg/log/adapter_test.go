package log

import (
	"testing"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedAdapter(t *testing.T) (log.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	return NewKratosAdapter(zap.New(core)), logs
}

// Test Log - The msg key becomes the zap message, the rest fields
func TestKratosAdapter_MsgLifted(t *testing.T) {
	adapter, logs := newObservedAdapter(t)

	err := adapter.Log(log.LevelInfo, "msg", "budget ledger settled", "cost", 0.42)
	require.NoError(t, err)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "budget ledger settled", entries[0].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)

	fields := entries[0].ContextMap()
	assert.Equal(t, 0.42, fields["cost"])
	assert.NotContains(t, fields, "msg")
}

// Test Log - String values pass through the sanitizer
func TestKratosAdapter_Sanitizes(t *testing.T) {
	adapter, logs := newObservedAdapter(t)

	err := adapter.Log(log.LevelWarn, "msg", "provider call", "api_key", "sk-1234567890abcdef")
	require.NoError(t, err)

	entries := logs.All()
	require.Len(t, entries, 1)
	got, ok := entries[0].ContextMap()["api_key"].(string)
	require.True(t, ok)
	assert.NotContains(t, got, "567890")
}

// Test Log - Levels map through
func TestKratosAdapter_Levels(t *testing.T) {
	adapter, logs := newObservedAdapter(t)

	require.NoError(t, adapter.Log(log.LevelDebug, "msg", "d"))
	require.NoError(t, adapter.Log(log.LevelInfo, "msg", "i"))
	require.NoError(t, adapter.Log(log.LevelWarn, "msg", "w"))
	require.NoError(t, adapter.Log(log.LevelError, "msg", "e"))

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
}

// Test Log - Empty keyvals are a no-op
func TestKratosAdapter_Empty(t *testing.T) {
	adapter, logs := newObservedAdapter(t)

	require.NoError(t, adapter.Log(log.LevelInfo))
	assert.Empty(t, logs.All())
}
