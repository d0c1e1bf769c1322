package biz

import (
	"context"
	"time"

	"VerseGate/internal/conf"
	"VerseGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// LedgerRepo persists cost accounting windows in the shared store.
// Following the DDD layering, the interface is defined here and
// implemented in the data layer.
type LedgerRepo interface {
	// RecordCost atomically increments the daily, monthly and (when
	// userID is non-empty) per-user daily counters in one batched
	// operation and returns the updated totals from that same batch.
	RecordCost(ctx context.Context, cost float64, userID string, now time.Time) (*model.LedgerTotals, error)

	// Totals reads the current window totals without writing.
	Totals(ctx context.Context, userID string, now time.Time) (*model.LedgerTotals, error)
}

// AlertSink receives budget alerts and fault metrics. Implemented by
// the telemetry hub; narrow so the budget governor does not depend on
// the whole hub.
type AlertSink interface {
	CreateAlert(ctx context.Context, severity model.AlertSeverity, message string, metadata map[string]interface{})
	RecordError(ctx context.Context, op string, err error, userID string)
}

// BudgetGovernor records spend against daily/monthly/per-user ledgers
// and authorizes or denies further usage.
type BudgetGovernor struct {
	repo   LedgerRepo
	alerts AlertSink
	cfg    *conf.Gateway_Budget
	logger *log.Helper
}

// NewBudgetGovernor creates a budget governor.
func NewBudgetGovernor(c *conf.Gateway_Budget, repo LedgerRepo, alerts AlertSink, logger log.Logger) *BudgetGovernor {
	return &BudgetGovernor{
		repo:   repo,
		alerts: alerts,
		cfg:    c,
		logger: log.NewHelper(logger),
	}
}

// RecordCostAndAuthorize atomically records cost against all applicable
// ledger windows and reports whether further usage is authorized. The
// decision informs future calls, not the one already made.
//
// Fault policy: if the shared store is unreachable the fault is logged
// and recorded as an error metric, and the call is authorized
// (fail-open). Usage is not blocked by an infrastructure outage. This
// is deliberately asymmetric with the safety gate's fail-closed policy:
// safety outranks cost control.
func (g *BudgetGovernor) RecordCostAndAuthorize(ctx context.Context, cost float64, userID string) (bool, error) {
	if cost < 0 {
		return false, &InvalidInputError{Field: "cost", Reason: "must be non-negative"}
	}
	if userID != "" {
		if err := validateUserID(userID); err != nil {
			return false, err
		}
	}

	totals, err := g.repo.RecordCost(ctx, cost, userID, time.Now())
	if err != nil {
		g.logger.Errorw("msg", "budget ledger unavailable, authorizing (fail-open)",
			"cost", cost,
			"error", err)
		g.alerts.RecordError(ctx, "budget_ledger", err, userID)
		return true, nil
	}

	g.checkAlertThresholds(ctx, totals)

	if g.cfg.EnableThrottling && g.shouldThrottle(totals, userID) {
		return false, nil
	}

	return true, nil
}

// Usage returns the current spend against limits for the dashboard.
func (g *BudgetGovernor) Usage(ctx context.Context) (*model.BudgetUsage, error) {
	totals, err := g.repo.Totals(ctx, "", time.Now())
	if err != nil {
		return nil, err
	}
	return &model.BudgetUsage{
		DailySpend:     totals.Daily,
		DailyLimit:     g.cfg.DailyCostLimit,
		DailyPercent:   percent(totals.Daily, g.cfg.DailyCostLimit),
		MonthlySpend:   totals.Monthly,
		MonthlyLimit:   g.cfg.MonthlyCostLimit,
		MonthlyPercent: percent(totals.Monthly, g.cfg.MonthlyCostLimit),
	}, nil
}

// checkAlertThresholds emits a non-blocking alert when a window crosses
// the alert threshold.
func (g *BudgetGovernor) checkAlertThresholds(ctx context.Context, totals *model.LedgerTotals) {
	threshold := g.cfg.AlertThresholdPercent / 100

	if totals.Daily >= threshold*g.cfg.DailyCostLimit {
		g.alerts.CreateAlert(ctx, model.SeverityHigh, "daily cost budget threshold reached",
			map[string]interface{}{
				"scope": string(model.ScopeDaily),
				"spend": totals.Daily,
				"limit": g.cfg.DailyCostLimit,
			})
	}
	if totals.Monthly >= threshold*g.cfg.MonthlyCostLimit {
		g.alerts.CreateAlert(ctx, model.SeverityHigh, "monthly cost budget threshold reached",
			map[string]interface{}{
				"scope": string(model.ScopeMonthly),
				"spend": totals.Monthly,
				"limit": g.cfg.MonthlyCostLimit,
			})
	}
}

// shouldThrottle applies the deny thresholds to the updated totals.
func (g *BudgetGovernor) shouldThrottle(totals *model.LedgerTotals, userID string) bool {
	threshold := g.cfg.ThrottleThresholdPercent / 100

	if totals.Daily >= threshold*g.cfg.DailyCostLimit {
		g.logger.Warnw("msg", "daily cost budget throttling usage",
			"spend", totals.Daily,
			"limit", g.cfg.DailyCostLimit)
		return true
	}
	if totals.Monthly >= threshold*g.cfg.MonthlyCostLimit {
		g.logger.Warnw("msg", "monthly cost budget throttling usage",
			"spend", totals.Monthly,
			"limit", g.cfg.MonthlyCostLimit)
		return true
	}
	if userID != "" && g.cfg.UserDailyLimit > 0 && totals.UserDaily >= g.cfg.UserDailyLimit {
		g.logger.Warnw("msg", "per-user daily cap throttling usage",
			"user_id", userID,
			"spend", totals.UserDaily,
			"limit", g.cfg.UserDailyLimit)
		return true
	}
	return false
}

// validateUserID requires a UUID v4 identifier.
func validateUserID(userID string) error {
	u, err := uuid.Parse(userID)
	if err != nil {
		return &InvalidInputError{Field: "userId", Reason: "must be a UUID"}
	}
	if u.Version() != 4 {
		return &InvalidInputError{Field: "userId", Reason: "must be a version 4 UUID"}
	}
	return nil
}

func percent(spend, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return spend / limit * 100
}
