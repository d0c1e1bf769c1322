package main

import (
	"context"
	"time"

	"VerseGate/internal/biz"
	"VerseGate/internal/data"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// newScheduledJobs starts the background jobs:
//   - a health-check cycle every minute, feeding the telemetry store
//   - a usage archive rollup at 00:10 UTC daily, copying the live cost
//     windows into MySQL before their Redis TTLs expire
func newScheduledJobs(hub *biz.TelemetryHub, archive *data.ArchiveRepo, logger log.Logger) *cron.Cron {
	helper := log.NewHelper(logger)

	c := cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC))

	_, err := c.AddFunc("0 * * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		results := hub.PerformHealthChecks(ctx)
		for _, r := range results {
			hub.RecordMetric(ctx, "health_check_latency_ms", float64(r.Latency.Milliseconds()),
				map[string]string{"service": r.Service, "status": string(r.Status)}, "")
		}
	})
	if err != nil {
		helper.Errorw("msg", "failed to register health check cron job", "error", err)
	}

	_, err = c.AddFunc("0 10 0 * * *", func() {
		helper.Info("starting usage archive rollup")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		// Archive yesterday's closed windows; the 48h ledger TTL leaves
		// room for this job to run late.
		if err := archive.ArchiveCurrentWindows(ctx, time.Now().UTC().Add(-time.Hour)); err != nil {
			helper.Errorw("msg", "usage archive rollup failed", "error", err)
			return
		}
		helper.Info("usage archive rollup completed")
	})
	if err != nil {
		helper.Errorw("msg", "failed to register archive cron job", "error", err)
	}

	c.Start()
	helper.Info("scheduled jobs started: health checks every minute, archive rollup daily at 00:10 UTC")

	return c
}
