package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/meterly/backend/internal/domain/shared"
)

// ReceiptStatus is the processing state of a webhook receipt
type ReceiptStatus string

const (
	ReceiptStatusPending   ReceiptStatus = "pending"
	ReceiptStatusProcessed ReceiptStatus = "processed"
	ReceiptStatusFailed    ReceiptStatus = "failed"
)

// maxErrorMessageLength bounds stored handler errors
const maxErrorMessageLength = 1000

// WebhookEventReceipt is the durable record of one gateway notification.
// GatewayEventID is globally unique and anchors idempotent ingestion.
type WebhookEventReceipt struct {
	ID             uuid.UUID
	GatewayEventID string
	EventType      string
	RawPayload     []byte
	Status         ReceiptStatus
	EventCreatedAt time.Time
	ReceivedAt     time.Time
	ProcessedAt    *time.Time
	ErrorMessage   string
	RetryCount     int
}

// NewWebhookEventReceipt creates a pending receipt
func NewWebhookEventReceipt(gatewayEventID, eventType string, payload []byte, eventCreatedAt, receivedAt time.Time) (*WebhookEventReceipt, error) {
	if gatewayEventID == "" {
		return nil, shared.NewDomainError("INVALID_EVENT_ID", "Gateway event ID cannot be empty")
	}
	if eventType == "" {
		return nil, shared.NewDomainError("INVALID_EVENT_TYPE", "Event type cannot be empty")
	}
	return &WebhookEventReceipt{
		ID:             uuid.New(),
		GatewayEventID: gatewayEventID,
		EventType:      eventType,
		RawPayload:     payload,
		Status:         ReceiptStatusPending,
		EventCreatedAt: eventCreatedAt,
		ReceivedAt:     receivedAt,
	}, nil
}

// MarkProcessed transitions a pending or failed receipt to processed
func (r *WebhookEventReceipt) MarkProcessed(at time.Time) error {
	if r.Status == ReceiptStatusProcessed {
		return shared.ErrInvalidState
	}
	r.Status = ReceiptStatusProcessed
	r.ProcessedAt = &at
	r.ErrorMessage = ""
	return nil
}

// MarkFailed transitions a pending or failed receipt to failed and counts the attempt
func (r *WebhookEventReceipt) MarkFailed(cause error, at time.Time) error {
	if r.Status == ReceiptStatusProcessed {
		return shared.ErrInvalidState
	}
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	if len(msg) > maxErrorMessageLength {
		msg = msg[:maxErrorMessageLength]
	}
	r.Status = ReceiptStatusFailed
	r.ErrorMessage = msg
	r.RetryCount++
	r.ProcessedAt = &at
	return nil
}

// CanRetry reports whether the reconciliation sweep may reprocess this receipt
func (r *WebhookEventReceipt) CanRetry(maxRetries int) bool {
	switch r.Status {
	case ReceiptStatusFailed:
		return r.RetryCount < maxRetries
	case ReceiptStatusPending:
		return true
	}
	return false
}
