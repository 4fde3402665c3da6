package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/meterly/backend/internal/domain/billing"
	"github.com/meterly/backend/internal/domain/shared"
	"github.com/meterly/backend/internal/infrastructure/persistence/models"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// consumptionOrder is the order packages are locked and drained in
const consumptionOrder = "expires_at ASC NULLS LAST, created_at ASC, id ASC"

// GormCreditPackageRepository implements billing.CreditPackageRepository using GORM
type GormCreditPackageRepository struct {
	db *gorm.DB
}

// NewGormCreditPackageRepository creates a new GormCreditPackageRepository
func NewGormCreditPackageRepository(db *gorm.DB) *GormCreditPackageRepository {
	return &GormCreditPackageRepository{db: db}
}

// Create inserts a new credit package
func (r *GormCreditPackageRepository) Create(ctx context.Context, pkg *billing.CreditPackage) error {
	if err := r.db.WithContext(ctx).Create(models.CreditPackageModelFromDomain(pkg)).Error; err != nil {
		return fmt.Errorf("failed to create credit package: %w", err)
	}
	return nil
}

// Update persists the mutable fields of a package
func (r *GormCreditPackageRepository) Update(ctx context.Context, pkg *billing.CreditPackage) error {
	result := r.db.WithContext(ctx).
		Model(&models.CreditPackageModel{}).
		Where("id = ?", pkg.ID).
		Updates(map[string]any{
			"remaining_credits": pkg.RemainingCredits,
			"status":            string(pkg.Status),
			"version":           pkg.Version,
			"updated_at":        pkg.UpdatedAt.UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update credit package: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// FindByID finds a credit package by ID
func (r *GormCreditPackageRepository) FindByID(ctx context.Context, id uuid.UUID) (*billing.CreditPackage, error) {
	var model models.CreditPackageModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToDomain(), nil
}

func (r *GormCreditPackageRepository) availableScope(ctx context.Context, accountID uuid.UUID, creditType string, now time.Time) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&models.CreditPackageModel{}).
		Where("account_id = ? AND credit_type = ?", accountID, creditType).
		Where("status = ?", string(billing.CreditPackageStatusActive)).
		Where("remaining_credits > 0").
		Where("(expires_at IS NULL OR expires_at > ?)", now.UTC())
}

// FindAvailableForUpdate selects FOR UPDATE every available package of (account, creditType),
// soonest-expiring first. Must be called inside a transaction.
func (r *GormCreditPackageRepository) FindAvailableForUpdate(ctx context.Context, accountID uuid.UUID, creditType string, now time.Time) ([]*billing.CreditPackage, error) {
	var rows []models.CreditPackageModel
	err := r.availableScope(ctx, accountID, creditType, now).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Order(consumptionOrder).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to lock credit packages: %w", err)
	}
	return lo.Map(rows, func(m models.CreditPackageModel, _ int) *billing.CreditPackage {
		return m.ToDomain()
	}), nil
}

// SumAvailable sums the remaining credits of every available package
func (r *GormCreditPackageRepository) SumAvailable(ctx context.Context, accountID uuid.UUID, creditType string, now time.Time) (int64, error) {
	var total int64
	err := r.availableScope(ctx, accountID, creditType, now).
		Select("COALESCE(SUM(remaining_credits), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum available credits: %w", err)
	}
	return total, nil
}

// FindBySourceRef finds the package created for a provenance reference
func (r *GormCreditPackageRepository) FindBySourceRef(ctx context.Context, accountID uuid.UUID, creditType, sourceRef string) (*billing.CreditPackage, error) {
	var model models.CreditPackageModel
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND credit_type = ? AND source_ref = ?", accountID, creditType, sourceRef).
		First(&model).Error
	if err != nil {
		return nil, translateError(err)
	}
	return model.ToDomain(), nil
}

// FindActiveBySourceForUpdate row-locks the active packages of a source for (account, creditType),
// latest period first. Must be called inside a transaction.
func (r *GormCreditPackageRepository) FindActiveBySourceForUpdate(ctx context.Context, accountID uuid.UUID, creditType string, source billing.CreditSource) ([]*billing.CreditPackage, error) {
	var rows []models.CreditPackageModel
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ? AND credit_type = ?", accountID, creditType).
		Where("source = ? AND status = ?", string(source), string(billing.CreditPackageStatusActive)).
		Order("period_start DESC NULLS LAST, created_at DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to lock credit packages by source: %w", err)
	}
	return lo.Map(rows, func(m models.CreditPackageModel, _ int) *billing.CreditPackage {
		return m.ToDomain()
	}), nil
}

// ExpireActiveBySource marks every active package of a source as expired.
// Remaining credits are left untouched.
func (r *GormCreditPackageRepository) ExpireActiveBySource(ctx context.Context, accountID uuid.UUID, creditType string, source billing.CreditSource) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.CreditPackageModel{}).
		Where("account_id = ? AND credit_type = ?", accountID, creditType).
		Where("source = ? AND status = ?", string(source), string(billing.CreditPackageStatusActive)).
		Updates(map[string]any{
			"status":     string(billing.CreditPackageStatusExpired),
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to expire credit packages: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ExpireStale expires every active package whose expiry is at or before now
func (r *GormCreditPackageRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.CreditPackageModel{}).
		Where("status = ?", string(billing.CreditPackageStatusActive)).
		Where("expires_at IS NOT NULL AND expires_at <= ?", now.UTC()).
		Updates(map[string]any{
			"status":     string(billing.CreditPackageStatusExpired),
			"version":    gorm.Expr("version + 1"),
			"updated_at": now.UTC(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to expire stale packages: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ListByAccount lists packages of an account, newest first. An empty creditType lists all types.
func (r *GormCreditPackageRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, creditType string, filter shared.Filter) ([]*billing.CreditPackage, int64, error) {
	filter = filter.Normalize()
	scope := func() *gorm.DB {
		query := r.db.WithContext(ctx).Model(&models.CreditPackageModel{}).Where("account_id = ?", accountID)
		if creditType != "" {
			query = query.Where("credit_type = ?", creditType)
		}
		return query
	}

	var total int64
	if err := scope().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count credit packages: %w", err)
	}

	var rows []models.CreditPackageModel
	err := scope().
		Order("created_at DESC, id DESC").
		Offset(filter.Offset()).
		Limit(filter.PageSize).
		Find(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list credit packages: %w", err)
	}
	return lo.Map(rows, func(m models.CreditPackageModel, _ int) *billing.CreditPackage {
		return m.ToDomain()
	}), total, nil
}

var _ billing.CreditPackageRepository = (*GormCreditPackageRepository)(nil)
