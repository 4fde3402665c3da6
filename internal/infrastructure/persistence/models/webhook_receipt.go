package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/meterly/backend/internal/domain/billing"
)

// WebhookReceiptModel is the persistence model for billing.WebhookEventReceipt.
// The unique index on gateway_event_id is what makes ingestion idempotent.
type WebhookReceiptModel struct {
	ID             uuid.UUID  `gorm:"type:uuid;primary_key"`
	GatewayEventID string     `gorm:"type:varchar(255);not null;uniqueIndex"`
	EventType      string     `gorm:"type:varchar(100);not null"`
	RawPayload     []byte     `gorm:"not null"`
	Status         string     `gorm:"type:varchar(20);not null;default:'pending';index"`
	EventCreatedAt time.Time  `gorm:"not null"`
	ReceivedAt     time.Time  `gorm:"not null"`
	ProcessedAt    *time.Time `gorm:"column:processed_at"`
	ErrorMessage   string     `gorm:"type:text"`
	RetryCount     int        `gorm:"not null;default:0"`
}

// TableName returns the table name for the model
func (WebhookReceiptModel) TableName() string {
	return "webhook_event_receipts"
}

// WebhookReceiptModelFromDomain creates a model from a domain receipt
func WebhookReceiptModelFromDomain(r *billing.WebhookEventReceipt) *WebhookReceiptModel {
	return &WebhookReceiptModel{
		ID:             r.ID,
		GatewayEventID: r.GatewayEventID,
		EventType:      r.EventType,
		RawPayload:     r.RawPayload,
		Status:         string(r.Status),
		EventCreatedAt: r.EventCreatedAt.UTC(),
		ReceivedAt:     r.ReceivedAt.UTC(),
		ProcessedAt:    utcPtr(r.ProcessedAt),
		ErrorMessage:   r.ErrorMessage,
		RetryCount:     r.RetryCount,
	}
}

// ToDomain converts the model to a domain receipt
func (m *WebhookReceiptModel) ToDomain() *billing.WebhookEventReceipt {
	return &billing.WebhookEventReceipt{
		ID:             m.ID,
		GatewayEventID: m.GatewayEventID,
		EventType:      m.EventType,
		RawPayload:     m.RawPayload,
		Status:         billing.ReceiptStatus(m.Status),
		EventCreatedAt: m.EventCreatedAt,
		ReceivedAt:     m.ReceivedAt,
		ProcessedAt:    m.ProcessedAt,
		ErrorMessage:   m.ErrorMessage,
		RetryCount:     m.RetryCount,
	}
}
