package data

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"VerseGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	// metricTTL is the retention for raw metric buckets.
	metricTTL = 30 * 24 * time.Hour
	// alertTTL is the retention for stored alerts.
	alertTTL = 7 * 24 * time.Hour
	// failureWindow is the trailing window for the per-operation failure
	// counter feeding escalation alerts.
	failureWindow = 5 * time.Minute
)

// MetricsRepo implements metric persistence on Redis hash buckets
// (interface defined in the biz layer). Every record lands in a
// per-minute and a per-hour bucket; short query windows read minutes,
// the 7-day window reads hours so a query never scans thousands of
// keys.
type MetricsRepo struct {
	rdb    *redis.Client
	logger *log.Helper
}

// NewMetricsRepo creates a metrics repository.
func NewMetricsRepo(d *Data, logger log.Logger) *MetricsRepo {
	return &MetricsRepo{
		rdb:    d.rdb,
		logger: log.NewHelper(logger),
	}
}

func minuteBucketKey(name string, t time.Time) string {
	return fmt.Sprintf("metric:m:%s:%d", name, t.Unix()/60)
}

func hourBucketKey(name string, t time.Time) string {
	return fmt.Sprintf("metric:h:%s:%d", name, t.Unix()/3600)
}

// RecordMetric appends one measurement to its minute and hour buckets.
func (r *MetricsRepo) RecordMetric(ctx context.Context, m *model.MetricRecord) error {
	if r.rdb == nil {
		return errRedisUnavailable
	}

	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	pipe := r.rdb.TxPipeline()
	for _, key := range []string{minuteBucketKey(m.Name, ts), hourBucketKey(m.Name, ts)} {
		pipe.HIncrByFloat(ctx, key, "sum", m.Value)
		pipe.HIncrBy(ctx, key, "count", 1)
		pipe.Expire(ctx, key, metricTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record metric: %w", err)
	}
	return nil
}

// QueryRange reads aggregated buckets for a trailing window ending at
// now. Windows of a day or less read minute buckets, longer windows
// read hour buckets.
func (r *MetricsRepo) QueryRange(ctx context.Context, name string, window time.Duration, now time.Time) ([]*model.MetricBucket, error) {
	if r.rdb == nil {
		return nil, errRedisUnavailable
	}

	step := time.Minute
	keyFn := minuteBucketKey
	if window > 24*time.Hour {
		step = time.Hour
		keyFn = hourBucketKey
	}

	start := now.Add(-window)
	var (
		keys  []string
		times []time.Time
	)
	for t := start.Truncate(step); !t.After(now); t = t.Add(step) {
		keys = append(keys, keyFn(name, t))
		times = append(times, t)
	}

	pipe := r.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to query metric buckets: %w", err)
	}

	var buckets []*model.MetricBucket
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		b := &model.MetricBucket{Start: times[i]}
		fmt.Sscanf(fields["sum"], "%g", &b.Sum)
		fmt.Sscanf(fields["count"], "%d", &b.Count)
		buckets = append(buckets, b)
	}
	return buckets, nil
}

// IncrFailureWindow bumps the short-TTL failure counter for op.
func (r *MetricsRepo) IncrFailureWindow(ctx context.Context, op string) (int64, error) {
	if r.rdb == nil {
		return 0, errRedisUnavailable
	}

	key := fmt.Sprintf("opfail:%s", op)
	count, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count operation failure: %w", err)
	}
	if count == 1 {
		r.rdb.Expire(ctx, key, failureWindow)
	}
	return count, nil
}

// AlertRepo implements alert persistence on per-alert Redis keys with a
// 7-day TTL (interface defined in the biz layer). Expiry does the
// pruning; reads scan and sort.
type AlertRepo struct {
	rdb    *redis.Client
	logger *log.Helper
}

// NewAlertRepo creates an alert repository.
func NewAlertRepo(d *Data, logger log.Logger) *AlertRepo {
	return &AlertRepo{
		rdb:    d.rdb,
		logger: log.NewHelper(logger),
	}
}

// SaveAlert persists one alert under a timestamp-ordered key.
func (r *AlertRepo) SaveAlert(ctx context.Context, a *model.Alert) error {
	if r.rdb == nil {
		return errRedisUnavailable
	}

	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	key := fmt.Sprintf("alert:%020d", a.Timestamp.UnixNano())
	if err := r.rdb.Set(ctx, key, payload, alertTTL).Err(); err != nil {
		return fmt.Errorf("failed to store alert: %w", err)
	}
	return nil
}

// RecentAlerts returns up to limit alerts, newest first.
func (r *AlertRepo) RecentAlerts(ctx context.Context, limit int) ([]*model.Alert, error) {
	if r.rdb == nil {
		return nil, errRedisUnavailable
	}

	var keys []string
	iter := r.rdb.Scan(ctx, 0, "alert:*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan alerts: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	// Keys embed a zero-padded nanosecond timestamp, so a reverse
	// lexical sort is newest first.
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	if len(keys) > limit {
		keys = keys[:limit]
	}

	values, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read alerts: %w", err)
	}

	alerts := make([]*model.Alert, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var a model.Alert
		if err := json.Unmarshal([]byte(s), &a); err != nil {
			r.logger.Warnw("msg", "skipping undecodable alert", "error", err)
			continue
		}
		alerts = append(alerts, &a)
	}
	return alerts, nil
}
