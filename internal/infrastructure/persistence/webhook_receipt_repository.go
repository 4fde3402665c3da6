package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/meterly/backend/internal/domain/billing"
	"github.com/meterly/backend/internal/domain/shared"
	"github.com/meterly/backend/internal/infrastructure/persistence/models"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormWebhookReceiptRepository implements billing.WebhookReceiptRepository using GORM
type GormWebhookReceiptRepository struct {
	db *gorm.DB
}

// NewGormWebhookReceiptRepository creates a new GormWebhookReceiptRepository
func NewGormWebhookReceiptRepository(db *gorm.DB) *GormWebhookReceiptRepository {
	return &GormWebhookReceiptRepository{db: db}
}

// CreateIfAbsent inserts the receipt with ON CONFLICT DO NOTHING on gateway_event_id.
// When two deliveries race, exactly one insert affects a row.
func (r *GormWebhookReceiptRepository) CreateIfAbsent(ctx context.Context, receipt *billing.WebhookEventReceipt) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "gateway_event_id"}},
			DoNothing: true,
		}).
		Create(models.WebhookReceiptModelFromDomain(receipt))
	if result.Error != nil {
		return false, fmt.Errorf("failed to insert webhook receipt: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// FindByGatewayEventID finds a receipt by gateway event ID
func (r *GormWebhookReceiptRepository) FindByGatewayEventID(ctx context.Context, gatewayEventID string) (*billing.WebhookEventReceipt, error) {
	var model models.WebhookReceiptModel
	if err := r.db.WithContext(ctx).First(&model, "gateway_event_id = ?", gatewayEventID).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToDomain(), nil
}

// Update persists the processing state of a receipt
func (r *GormWebhookReceiptRepository) Update(ctx context.Context, receipt *billing.WebhookEventReceipt) error {
	result := r.db.WithContext(ctx).
		Model(&models.WebhookReceiptModel{}).
		Where("id = ?", receipt.ID).
		Updates(map[string]any{
			"status":        string(receipt.Status),
			"processed_at":  receipt.ProcessedAt,
			"error_message": receipt.ErrorMessage,
			"retry_count":   receipt.RetryCount,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update webhook receipt: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// FindRetryable returns receipts the reconciliation sweep should run again, oldest first
func (r *GormWebhookReceiptRepository) FindRetryable(ctx context.Context, maxRetries int, stalePendingBefore time.Time, limit int) ([]*billing.WebhookEventReceipt, error) {
	var rows []models.WebhookReceiptModel
	err := r.db.WithContext(ctx).
		Where("(status = ? AND retry_count < ?) OR (status = ? AND received_at < ?)",
			string(billing.ReceiptStatusFailed), maxRetries,
			string(billing.ReceiptStatusPending), stalePendingBefore.UTC()).
		Order("received_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find retryable receipts: %w", err)
	}
	return lo.Map(rows, func(m models.WebhookReceiptModel, _ int) *billing.WebhookEventReceipt {
		return m.ToDomain()
	}), nil
}

var _ billing.WebhookReceiptRepository = (*GormWebhookReceiptRepository)(nil)
