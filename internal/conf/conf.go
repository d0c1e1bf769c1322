// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables.
package conf

import (
	"google.golang.org/protobuf/types/known/durationpb"
)

// Bootstrap is the top-level configuration for the gateway.
type Bootstrap struct {
	Server   *Server
	Data     *Data
	Provider *Provider
	Gateway  *Gateway
	Log      *Log
}

// Server holds the ops HTTP server configuration.
type Server struct {
	Http *Server_HTTP
}

// Server_HTTP holds HTTP listener settings.
type Server_HTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

// Data holds data layer configuration (Redis ledger/metrics store, MySQL archive).
type Data struct {
	Database *Data_Database
	Redis    *Data_Redis
}

// Data_Database holds the archive database settings.
// Source may be empty, in which case the usage archive is disabled.
type Data_Database struct {
	Driver string
	Source string
}

// Data_Redis holds shared store settings.
// Addr may be empty, in which case the gateway falls back to in-process
// circuit state and budget accounting is unavailable (fail-open).
type Data_Redis struct {
	Network      string
	Addr         string
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
}

// Provider holds the upstream LLM/moderation provider settings.
type Provider struct {
	BaseUrl  string
	ApiKey   string
	ProxyUrl string
	Timeout  *durationpb.Duration
}

// Gateway holds the resilience and governance settings.
type Gateway struct {
	Budget     *Gateway_Budget
	Retry      *Gateway_Retry
	Moderation *Gateway_Moderation
}

// Gateway_Budget holds cost ledger limits and throttling thresholds.
type Gateway_Budget struct {
	DailyCostLimit           float64
	MonthlyCostLimit         float64
	AlertThresholdPercent    float64
	ThrottleThresholdPercent float64
	EnableThrottling         bool
	UserDailyLimit           float64
}

// Gateway_Retry holds retry policy defaults and circuit breaker settings.
type Gateway_Retry struct {
	MaxRetries        int32
	InitialDelay      *durationpb.Duration
	MaxDelay          *durationpb.Duration
	BackoffMultiplier float64
	FailureThreshold  int32
	ResetTimeout      *durationpb.Duration
	// ProcessGroup namespaces shared circuit state so multiple
	// deployments can share one Redis without crosstalk.
	ProcessGroup string
}

// Gateway_Moderation holds content safety settings.
type Gateway_Moderation struct {
	MaxLength       int32
	CacheSize       int32
	BlockedKeywords []string
	SensitiveTopics []string
}

// Log holds logging configuration.
type Log struct {
	Level      string
	Format     string
	OutputFile string
	Env        string
}
