package persistence

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/meterly/backend/internal/domain/billing"
	"github.com/meterly/backend/internal/domain/shared"
	"github.com/meterly/backend/internal/infrastructure/persistence/models"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

// GormCreditUsageRepository implements billing.CreditUsageRepository using GORM
type GormCreditUsageRepository struct {
	db *gorm.DB
}

// NewGormCreditUsageRepository creates a new GormCreditUsageRepository
func NewGormCreditUsageRepository(db *gorm.DB) *GormCreditUsageRepository {
	return &GormCreditUsageRepository{db: db}
}

// CreateBatch appends usage records
func (r *GormCreditUsageRepository) CreateBatch(ctx context.Context, records []*billing.CreditUsageRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := lo.Map(records, func(rec *billing.CreditUsageRecord, _ int) *models.CreditUsageModel {
		return models.CreditUsageModelFromDomain(rec)
	})
	if err := r.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to insert credit usage records: %w", err)
	}
	return nil
}

// ListByAccount lists usage records of an account, newest first
func (r *GormCreditUsageRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, creditType string, filter shared.Filter) ([]*billing.CreditUsageRecord, int64, error) {
	filter = filter.Normalize()
	scope := func() *gorm.DB {
		query := r.db.WithContext(ctx).Model(&models.CreditUsageModel{}).Where("account_id = ?", accountID)
		if creditType != "" {
			query = query.Where("credit_type = ?", creditType)
		}
		return query
	}

	var total int64
	if err := scope().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count credit usage: %w", err)
	}

	var rows []models.CreditUsageModel
	err := scope().
		Order("used_at DESC, id DESC").
		Offset(filter.Offset()).
		Limit(filter.PageSize).
		Find(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list credit usage: %w", err)
	}
	return lo.Map(rows, func(m models.CreditUsageModel, _ int) *billing.CreditUsageRecord {
		return m.ToDomain()
	}), total, nil
}

var _ billing.CreditUsageRepository = (*GormCreditUsageRepository)(nil)
