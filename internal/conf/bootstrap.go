package conf

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with VERSEGATE_.
//
// Configuration priority: Environment variables > Config file > Defaults
//
// The plain environment names recognized by the gateway (DAILY_COST_LIMIT,
// MAX_RETRIES, ...) are bound directly so deployments do not need the
// VERSEGATE_ prefix for them.
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("VERSEGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Direct binds for the recognized plain environment names.
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "VERSEGATE_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "REDIS_ADDR", "VERSEGATE_DATA_REDIS_ADDR")
	_ = v.BindEnv("provider.base_url", "PROVIDER_BASE_URL")
	_ = v.BindEnv("provider.api_key", "PROVIDER_API_KEY")
	_ = v.BindEnv("provider.proxy_url", "PROVIDER_PROXY_URL")
	_ = v.BindEnv("gateway.budget.daily_cost_limit", "DAILY_COST_LIMIT")
	_ = v.BindEnv("gateway.budget.monthly_cost_limit", "MONTHLY_COST_LIMIT")
	_ = v.BindEnv("gateway.budget.alert_threshold_percent", "ALERT_THRESHOLD_PERCENT")
	_ = v.BindEnv("gateway.budget.enable_throttling", "ENABLE_THROTTLING")
	_ = v.BindEnv("gateway.budget.throttle_threshold_percent", "THROTTLE_THRESHOLD_PERCENT")
	_ = v.BindEnv("gateway.budget.user_daily_limit", "USER_DAILY_LIMIT")
	_ = v.BindEnv("gateway.retry.failure_threshold", "FAILURE_THRESHOLD")
	_ = v.BindEnv("gateway.retry.reset_timeout_ms", "RESET_TIMEOUT_MS")
	_ = v.BindEnv("gateway.retry.max_retries", "MAX_RETRIES")
	_ = v.BindEnv("gateway.retry.initial_delay_ms", "INITIAL_DELAY_MS")
	_ = v.BindEnv("gateway.retry.max_delay_ms", "MAX_DELAY_MS")
	_ = v.BindEnv("gateway.retry.backoff_multiplier", "BACKOFF_MULTIPLIER")
	_ = v.BindEnv("gateway.moderation.max_length", "MODERATION_MAX_LENGTH")
	_ = v.BindEnv("gateway.moderation.cache_size", "MODERATION_CACHE_SIZE")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// A missing file is fine: defaults plus environment variables
			// form a complete configuration.
			var pathErr *fs.PathError
			if !errors.As(err, &pathErr) {
				return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
			}
		}
	}

	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: durationpb.New(v.GetDuration("server.http.timeout")),
			},
		},
		Data: &Data{
			Database: &Data_Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Data_Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				ReadTimeout:  durationpb.New(v.GetDuration("data.redis.read_timeout")),
				WriteTimeout: durationpb.New(v.GetDuration("data.redis.write_timeout")),
			},
		},
		Provider: &Provider{
			BaseUrl:  v.GetString("provider.base_url"),
			ApiKey:   v.GetString("provider.api_key"),
			ProxyUrl: v.GetString("provider.proxy_url"),
			Timeout:  durationpb.New(v.GetDuration("provider.timeout")),
		},
		Gateway: &Gateway{
			Budget: &Gateway_Budget{
				DailyCostLimit:           v.GetFloat64("gateway.budget.daily_cost_limit"),
				MonthlyCostLimit:         v.GetFloat64("gateway.budget.monthly_cost_limit"),
				AlertThresholdPercent:    v.GetFloat64("gateway.budget.alert_threshold_percent"),
				ThrottleThresholdPercent: v.GetFloat64("gateway.budget.throttle_threshold_percent"),
				EnableThrottling:         v.GetBool("gateway.budget.enable_throttling"),
				UserDailyLimit:           v.GetFloat64("gateway.budget.user_daily_limit"),
			},
			Retry: &Gateway_Retry{
				MaxRetries:        v.GetInt32("gateway.retry.max_retries"),
				InitialDelay:      durationpb.New(time.Duration(v.GetInt64("gateway.retry.initial_delay_ms")) * time.Millisecond),
				MaxDelay:          durationpb.New(time.Duration(v.GetInt64("gateway.retry.max_delay_ms")) * time.Millisecond),
				BackoffMultiplier: v.GetFloat64("gateway.retry.backoff_multiplier"),
				FailureThreshold:  v.GetInt32("gateway.retry.failure_threshold"),
				ResetTimeout:      durationpb.New(time.Duration(v.GetInt64("gateway.retry.reset_timeout_ms")) * time.Millisecond),
				ProcessGroup:      v.GetString("gateway.retry.process_group"),
			},
			Moderation: &Gateway_Moderation{
				MaxLength:       v.GetInt32("gateway.moderation.max_length"),
				CacheSize:       v.GetInt32("gateway.moderation.cache_size"),
				BlockedKeywords: v.GetStringSlice("gateway.moderation.blocked_keywords"),
				SensitiveTopics: v.GetStringSlice("gateway.moderation.sensitive_topics"),
			},
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			OutputFile: v.GetString("log.output_file"),
			Env:        v.GetString("log.env"),
		},
	}

	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8090")
	v.SetDefault("server.http.timeout", 30*time.Second)

	// Data defaults
	v.SetDefault("data.database.driver", "mysql")
	// Note: data.database.source (MYSQL_DSN) is optional; the usage
	// archive is disabled when it is empty.

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	// Provider defaults
	v.SetDefault("provider.base_url", "https://api.openai.com")
	v.SetDefault("provider.timeout", 30*time.Second)

	// Budget defaults
	v.SetDefault("gateway.budget.daily_cost_limit", 50.0)
	v.SetDefault("gateway.budget.monthly_cost_limit", 1000.0)
	v.SetDefault("gateway.budget.alert_threshold_percent", 80.0)
	v.SetDefault("gateway.budget.throttle_threshold_percent", 95.0)
	v.SetDefault("gateway.budget.enable_throttling", false)
	v.SetDefault("gateway.budget.user_daily_limit", 10.0)

	// Retry defaults
	v.SetDefault("gateway.retry.max_retries", 3)
	v.SetDefault("gateway.retry.initial_delay_ms", 1000)
	v.SetDefault("gateway.retry.max_delay_ms", 16000)
	v.SetDefault("gateway.retry.backoff_multiplier", 2.0)
	v.SetDefault("gateway.retry.failure_threshold", 5)
	v.SetDefault("gateway.retry.reset_timeout_ms", 60000)
	v.SetDefault("gateway.retry.process_group", "versegate")

	// Moderation defaults
	v.SetDefault("gateway.moderation.max_length", 10000)
	v.SetDefault("gateway.moderation.cache_size", 1000)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that the loaded configuration is internally consistent.
// It returns an error listing all invalid fields.
func Validate(bc *Bootstrap) error {
	var invalid []string

	b := bc.Gateway.Budget
	if b.DailyCostLimit <= 0 {
		invalid = append(invalid, "gateway.budget.daily_cost_limit must be > 0")
	}
	if b.MonthlyCostLimit <= 0 {
		invalid = append(invalid, "gateway.budget.monthly_cost_limit must be > 0")
	}
	if b.AlertThresholdPercent <= 0 || b.AlertThresholdPercent > 100 {
		invalid = append(invalid, "gateway.budget.alert_threshold_percent must be in (0, 100]")
	}
	if b.ThrottleThresholdPercent <= 0 || b.ThrottleThresholdPercent > 100 {
		invalid = append(invalid, "gateway.budget.throttle_threshold_percent must be in (0, 100]")
	}
	if b.AlertThresholdPercent > b.ThrottleThresholdPercent {
		invalid = append(invalid, "gateway.budget.alert_threshold_percent must not exceed throttle_threshold_percent")
	}

	r := bc.Gateway.Retry
	if r.MaxRetries < 0 {
		invalid = append(invalid, "gateway.retry.max_retries must be >= 0")
	}
	if r.BackoffMultiplier < 1 {
		invalid = append(invalid, "gateway.retry.backoff_multiplier must be >= 1")
	}
	if r.FailureThreshold <= 0 {
		invalid = append(invalid, "gateway.retry.failure_threshold must be > 0")
	}

	m := bc.Gateway.Moderation
	if m.MaxLength <= 0 {
		invalid = append(invalid, "gateway.moderation.max_length must be > 0")
	}
	if m.CacheSize <= 0 {
		invalid = append(invalid, "gateway.moderation.cache_size must be > 0")
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(invalid, "; "))
	}

	return nil
}
