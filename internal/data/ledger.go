package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"VerseGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// errRedisUnavailable is returned by repositories when no Redis client
// is configured. Callers apply their own fault policy on top.
var errRedisUnavailable = errors.New("redis client is not configured")

// Window TTLs leave slack past the window boundary so a rollup job can
// still read a closed window before it expires.
const (
	dailyLedgerTTL   = 48 * time.Hour
	monthlyLedgerTTL = 35 * 24 * time.Hour
	userLedgerTTL    = 48 * time.Hour
)

// LedgerRepo implements the cost ledger on Redis counters
// (interface defined in the biz layer). One write updates all
// applicable windows in a single transactional pipeline, so totals and
// increments can never diverge under concurrency.
type LedgerRepo struct {
	rdb    *redis.Client
	logger *log.Helper
}

// NewLedgerRepo creates a cost ledger repository.
func NewLedgerRepo(d *Data, logger log.Logger) *LedgerRepo {
	return &LedgerRepo{
		rdb:    d.rdb,
		logger: log.NewHelper(logger),
	}
}

func dailyLedgerKey(now time.Time) string {
	return fmt.Sprintf("cost:daily:%s", now.UTC().Format("2006-01-02"))
}

func monthlyLedgerKey(now time.Time) string {
	return fmt.Sprintf("cost:monthly:%s", now.UTC().Format("2006-01"))
}

func userLedgerKey(userID string, now time.Time) string {
	return fmt.Sprintf("cost:user:%s:%s", userID, now.UTC().Format("2006-01-02"))
}

// RecordCost atomically increments all applicable window counters and
// returns the updated totals read from the same pipeline.
func (r *LedgerRepo) RecordCost(ctx context.Context, cost float64, userID string, now time.Time) (*model.LedgerTotals, error) {
	if r.rdb == nil {
		return nil, errRedisUnavailable
	}

	pipe := r.rdb.TxPipeline()

	dailyCmd := pipe.IncrByFloat(ctx, dailyLedgerKey(now), cost)
	pipe.Expire(ctx, dailyLedgerKey(now), dailyLedgerTTL)

	monthlyCmd := pipe.IncrByFloat(ctx, monthlyLedgerKey(now), cost)
	pipe.Expire(ctx, monthlyLedgerKey(now), monthlyLedgerTTL)

	var userCmd *redis.FloatCmd
	if userID != "" {
		userCmd = pipe.IncrByFloat(ctx, userLedgerKey(userID, now), cost)
		pipe.Expire(ctx, userLedgerKey(userID, now), userLedgerTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to record cost: %w", err)
	}

	totals := &model.LedgerTotals{
		Daily:   dailyCmd.Val(),
		Monthly: monthlyCmd.Val(),
	}
	if userCmd != nil {
		totals.UserDaily = userCmd.Val()
	}

	r.logger.Debugw("cost recorded",
		"cost", cost,
		"daily_total", totals.Daily,
		"monthly_total", totals.Monthly)

	return totals, nil
}

// Totals reads the current window totals without writing. Missing keys
// read as zero.
func (r *LedgerRepo) Totals(ctx context.Context, userID string, now time.Time) (*model.LedgerTotals, error) {
	if r.rdb == nil {
		return nil, errRedisUnavailable
	}

	pipe := r.rdb.Pipeline()
	dailyCmd := pipe.Get(ctx, dailyLedgerKey(now))
	monthlyCmd := pipe.Get(ctx, monthlyLedgerKey(now))
	var userCmd *redis.StringCmd
	if userID != "" {
		userCmd = pipe.Get(ctx, userLedgerKey(userID, now))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read cost totals: %w", err)
	}

	totals := &model.LedgerTotals{
		Daily:   floatOrZero(dailyCmd),
		Monthly: floatOrZero(monthlyCmd),
	}
	if userCmd != nil {
		totals.UserDaily = floatOrZero(userCmd)
	}
	return totals, nil
}

func floatOrZero(cmd *redis.StringCmd) float64 {
	v, err := cmd.Float64()
	if err != nil {
		return 0
	}
	return v
}
