package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/meterly/backend/internal/domain/billing"
	"github.com/meterly/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormAccountUsageRepository implements billing.AccountUsageRepository using GORM
type GormAccountUsageRepository struct {
	db *gorm.DB
}

// NewGormAccountUsageRepository creates a new GormAccountUsageRepository
func NewGormAccountUsageRepository(db *gorm.DB) *GormAccountUsageRepository {
	return &GormAccountUsageRepository{db: db}
}

// Get returns the latest usage snapshot, or a zero snapshot if none was reported
func (r *GormAccountUsageRepository) Get(ctx context.Context, accountID uuid.UUID) (*billing.AccountUsage, error) {
	var model models.AccountUsageModel
	err := r.db.WithContext(ctx).First(&model, "account_id = ?", accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &billing.AccountUsage{AccountID: accountID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account usage: %w", err)
	}
	return model.ToDomain(), nil
}

// Upsert stores the usage snapshot
func (r *GormAccountUsageRepository) Upsert(ctx context.Context, usage *billing.AccountUsage) error {
	if usage.UpdatedAt.IsZero() {
		usage.UpdatedAt = time.Now()
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"users", "channels", "updated_at"}),
	}).Create(models.AccountUsageModelFromDomain(usage)).Error
	if err != nil {
		return fmt.Errorf("failed to upsert account usage: %w", err)
	}
	return nil
}

var _ billing.AccountUsageRepository = (*GormAccountUsageRepository)(nil)
