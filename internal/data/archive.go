package data

import (
	"context"
	"fmt"
	"time"

	"VerseGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UsageArchive is the durable copy of a cost ledger window. Redis keys
// expire; the archive keeps spend history beyond the window TTLs.
type UsageArchive struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Date      string    `gorm:"size:10;uniqueIndex:idx_archive_window,priority:1;not null"`
	Scope     string    `gorm:"size:16;uniqueIndex:idx_archive_window,priority:2;not null"`
	Amount    float64   `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName sets the archive table name.
func (UsageArchive) TableName() string {
	return "usage_archive"
}

// ArchiveRepo copies the live Redis cost windows into MySQL. With no
// database configured it degrades to a no-op.
type ArchiveRepo struct {
	db     *gorm.DB
	ledger *LedgerRepo
	logger *log.Helper
}

// NewArchiveRepo creates a usage archive repository.
func NewArchiveRepo(d *Data, ledger *LedgerRepo, logger log.Logger) *ArchiveRepo {
	return &ArchiveRepo{
		db:     d.db,
		ledger: ledger,
		logger: log.NewHelper(logger),
	}
}

// ArchiveCurrentWindows upserts the current daily and monthly totals.
// The rollup job runs it periodically; re-running within a window is
// idempotent because the upsert overwrites the amount.
func (r *ArchiveRepo) ArchiveCurrentWindows(ctx context.Context, now time.Time) error {
	if r.db == nil {
		r.logger.Debug("usage archive disabled, skipping rollup")
		return nil
	}

	totals, err := r.ledger.Totals(ctx, "", now)
	if err != nil {
		return fmt.Errorf("failed to read ledger totals for archiving: %w", err)
	}

	rows := []UsageArchive{
		{Date: now.UTC().Format("2006-01-02"), Scope: string(model.ScopeDaily), Amount: totals.Daily},
		{Date: now.UTC().Format("2006-01"), Scope: string(model.ScopeMonthly), Amount: totals.Monthly},
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "date"}, {Name: "scope"}},
			DoUpdates: clause.AssignmentColumns([]string{"amount", "updated_at"}),
		}).
		Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to archive usage windows: %w", err)
	}

	r.logger.Infow("msg", "usage windows archived",
		"daily", totals.Daily,
		"monthly", totals.Monthly)
	return nil
}

// History returns archived rows for a scope, newest first.
func (r *ArchiveRepo) History(ctx context.Context, scope model.LedgerScope, limit int) ([]*UsageArchive, error) {
	if r.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 31
	}

	var rows []*UsageArchive
	err := r.db.WithContext(ctx).
		Where("scope = ?", string(scope)).
		Order("date DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read usage history: %w", err)
	}
	return rows, nil
}
