package persistence

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/meterly/backend/internal/domain/billing"
	"github.com/meterly/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormSubscriptionRepository implements billing.SubscriptionRepository using GORM
type GormSubscriptionRepository struct {
	db *gorm.DB
}

// NewGormSubscriptionRepository creates a new GormSubscriptionRepository
func NewGormSubscriptionRepository(db *gorm.DB) *GormSubscriptionRepository {
	return &GormSubscriptionRepository{db: db}
}

// FindByAccountID finds the subscription of an account with its add-on history
func (r *GormSubscriptionRepository) FindByAccountID(ctx context.Context, accountID uuid.UUID) (*billing.Subscription, error) {
	return r.findOne(ctx, r.db.WithContext(ctx).Where("account_id = ?", accountID))
}

// FindByAccountIDForUpdate finds and row-locks the subscription of an account
func (r *GormSubscriptionRepository) FindByAccountIDForUpdate(ctx context.Context, accountID uuid.UUID) (*billing.Subscription, error) {
	return r.findOne(ctx, r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ?", accountID))
}

// FindByGatewaySubscriptionID finds a subscription by its gateway subscription ID
func (r *GormSubscriptionRepository) FindByGatewaySubscriptionID(ctx context.Context, gatewaySubscriptionID string) (*billing.Subscription, error) {
	return r.findOne(ctx, r.db.WithContext(ctx).Where("gateway_subscription_id = ?", gatewaySubscriptionID))
}

// FindByGatewayCustomerID finds a subscription by its gateway customer ID
func (r *GormSubscriptionRepository) FindByGatewayCustomerID(ctx context.Context, gatewayCustomerID string) (*billing.Subscription, error) {
	return r.findOne(ctx, r.db.WithContext(ctx).
		Where("gateway_customer_id = ?", gatewayCustomerID).
		Order("updated_at DESC"))
}

func (r *GormSubscriptionRepository) findOne(ctx context.Context, query *gorm.DB) (*billing.Subscription, error) {
	var model models.SubscriptionModel
	if err := query.First(&model).Error; err != nil {
		return nil, translateError(err)
	}
	if err := r.db.WithContext(ctx).
		Where("subscription_id = ?", model.ID).
		Order("created_at ASC").
		Find(&model.Addons).Error; err != nil {
		return nil, fmt.Errorf("failed to load subscription add-ons: %w", err)
	}
	return model.ToDomain(), nil
}

// LockOrCreate inserts an empty subscription for the account unless one exists, then
// row-locks it. Racing inserts resolve through ON CONFLICT (account_id) DO NOTHING,
// so every caller locks the same row. Must be called inside a transaction.
func (r *GormSubscriptionRepository) LockOrCreate(ctx context.Context, accountID uuid.UUID) (*billing.Subscription, error) {
	fresh, err := billing.NewSubscription(accountID)
	if err != nil {
		return nil, err
	}
	model := models.SubscriptionModelFromDomain(fresh)
	model.Addons = nil

	err = r.db.WithContext(ctx).Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		DoNothing: true,
	}).Create(model).Error
	if err != nil {
		return nil, fmt.Errorf("failed to insert subscription: %w", err)
	}
	return r.FindByAccountIDForUpdate(ctx, accountID)
}

// Save upserts the subscription keyed by account and then its add-ons.
// If another row already exists for the account its ID is kept and copied back onto sub.
// Add-ons are matched by ID first; a new add-on that collides with an active one of the
// same type takes over that row, so at most one add-on per type stays active.
func (r *GormSubscriptionRepository) Save(ctx context.Context, sub *billing.Subscription) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := models.SubscriptionModelFromDomain(sub)
		addons := model.Addons
		model.Addons = nil

		err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "account_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"plan_type", "status",
				"current_period_start", "current_period_end",
				"trial_start", "trial_end",
				"cancel_at_period_end", "canceled_at", "ended_at",
				"max_channels", "max_users", "monthly_credits", "metadata",
				"gateway_customer_id", "gateway_subscription_id", "billing_email",
				"last_event_at", "version", "updated_at",
			}),
		}).Create(model).Error
		if err != nil {
			return fmt.Errorf("failed to upsert subscription: %w", err)
		}

		var persisted struct{ ID uuid.UUID }
		if err := tx.Model(&models.SubscriptionModel{}).
			Select("id").
			Where("account_id = ?", sub.AccountID).
			Take(&persisted).Error; err != nil {
			return fmt.Errorf("failed to read subscription id: %w", err)
		}
		persistedID := persisted.ID
		sub.ID = persistedID

		// Updates run before inserts so a deactivated row frees its type for a new one.
		var inserts []models.SubscriptionAddonModel
		for i := range addons {
			addons[i].SubscriptionID = persistedID
			result := tx.Model(&models.SubscriptionAddonModel{}).
				Where("id = ? AND subscription_id = ?", addons[i].ID, persistedID).
				Updates(map[string]any{
					"quantity":   addons[i].Quantity,
					"is_active":  addons[i].IsActive,
					"updated_at": addons[i].UpdatedAt,
				})
			if result.Error != nil {
				return fmt.Errorf("failed to update subscription add-on: %w", result.Error)
			}
			if result.RowsAffected == 0 {
				inserts = append(inserts, addons[i])
			}
		}

		for i := range inserts {
			// Select("*") keeps is_active=false from falling back to the column default.
			insert := tx.Select("*")
			if inserts[i].IsActive {
				insert = insert.Clauses(clause.OnConflict{
					Columns:     []clause.Column{{Name: "subscription_id"}, {Name: "addon_type"}},
					TargetWhere: clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "is_active"}}},
					DoUpdates:   clause.AssignmentColumns([]string{"quantity", "updated_at"}),
				})
			}
			if err := insert.Create(&inserts[i]).Error; err != nil {
				return fmt.Errorf("failed to insert subscription add-on: %w", err)
			}
		}
		return nil
	})
}

var _ billing.SubscriptionRepository = (*GormSubscriptionRepository)(nil)
