package model

// LedgerScope identifies a cost accounting window.
type LedgerScope string

const (
	// ScopeDaily is the global daily spend window.
	ScopeDaily LedgerScope = "daily"
	// ScopeMonthly is the global monthly spend window.
	ScopeMonthly LedgerScope = "monthly"
	// ScopeUserDaily is the per-user daily spend window.
	ScopeUserDaily LedgerScope = "user-daily"
)

// LedgerTotals holds the updated window totals after a cost write.
// Amounts only increase within a window; windows reset by TTL expiry.
type LedgerTotals struct {
	Daily     float64 `json:"daily"`
	Monthly   float64 `json:"monthly"`
	UserDaily float64 `json:"user_daily"`
}

// BudgetUsage is a dashboard-facing snapshot of spend against limits.
type BudgetUsage struct {
	DailySpend     float64 `json:"daily_spend"`
	DailyLimit     float64 `json:"daily_limit"`
	DailyPercent   float64 `json:"daily_percent"`
	MonthlySpend   float64 `json:"monthly_spend"`
	MonthlyLimit   float64 `json:"monthly_limit"`
	MonthlyPercent float64 `json:"monthly_percent"`
}
