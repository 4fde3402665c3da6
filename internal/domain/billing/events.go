package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/meterly/backend/internal/domain/shared"
)

// Event type constants
const (
	EventTypeSubscriptionCanceled = "SubscriptionCanceled"
	EventTypePaymentFailed        = "PaymentFailed"
	EventTypeCreditsGranted       = "CreditsGranted"
	EventTypeCreditsConsumed      = "CreditsConsumed"
)

// Aggregate type constants
const (
	AggregateTypeSubscription  = "Subscription"
	AggregateTypeCreditPackage = "CreditPackage"
)

// SubscriptionCanceledEvent is raised when a subscription ends
type SubscriptionCanceledEvent struct {
	shared.BaseDomainEvent
	GatewaySubscriptionID string     `json:"gateway_subscription_id"`
	PlanType              PlanType   `json:"plan_type"`
	BillingEmail          string     `json:"billing_email,omitempty"`
	EndedAt               *time.Time `json:"ended_at,omitempty"`
	DeletionDate          *time.Time `json:"deletion_date,omitempty"`
}

// NewSubscriptionCanceledEvent creates a SubscriptionCanceledEvent
func NewSubscriptionCanceledEvent(sub *Subscription) *SubscriptionCanceledEvent {
	return &SubscriptionCanceledEvent{
		BaseDomainEvent:       shared.NewBaseDomainEvent(EventTypeSubscriptionCanceled, AggregateTypeSubscription, sub.ID, sub.AccountID),
		GatewaySubscriptionID: sub.GatewaySubscriptionID,
		PlanType:              sub.PlanType,
		BillingEmail:          sub.BillingEmail,
		EndedAt:               sub.EndedAt,
		DeletionDate:          sub.DeletionDate(),
	}
}

// PaymentFailedEvent is raised when an invoice payment fails
type PaymentFailedEvent struct {
	shared.BaseDomainEvent
	GatewaySubscriptionID string `json:"gateway_subscription_id"`
	InvoiceID             string `json:"invoice_id"`
	BillingEmail          string `json:"billing_email,omitempty"`
}

// NewPaymentFailedEvent creates a PaymentFailedEvent
func NewPaymentFailedEvent(sub *Subscription, invoiceID string) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseDomainEvent:       shared.NewBaseDomainEvent(EventTypePaymentFailed, AggregateTypeSubscription, sub.ID, sub.AccountID),
		GatewaySubscriptionID: sub.GatewaySubscriptionID,
		InvoiceID:             invoiceID,
		BillingEmail:          sub.BillingEmail,
	}
}

// CreditsGrantedEvent is raised when a credit package is created
type CreditsGrantedEvent struct {
	shared.BaseDomainEvent
	PackageID  uuid.UUID    `json:"package_id"`
	CreditType string       `json:"credit_type"`
	Amount     int64        `json:"amount"`
	Source     CreditSource `json:"source"`
	ExpiresAt  *time.Time   `json:"expires_at,omitempty"`
}

// NewCreditsGrantedEvent creates a CreditsGrantedEvent
func NewCreditsGrantedEvent(pkg *CreditPackage) *CreditsGrantedEvent {
	return &CreditsGrantedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeCreditsGranted, AggregateTypeCreditPackage, pkg.ID, pkg.AccountID),
		PackageID:       pkg.ID,
		CreditType:      pkg.CreditType,
		Amount:          pkg.InitialCredits,
		Source:          pkg.Source,
		ExpiresAt:       pkg.ExpiresAt,
	}
}

// CreditsConsumedEvent is raised after a successful consumption
type CreditsConsumedEvent struct {
	shared.BaseDomainEvent
	CreditType   string `json:"credit_type"`
	Amount       int64  `json:"amount"`
	PackageCount int    `json:"package_count"`
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
}

// NewCreditsConsumedEvent creates a CreditsConsumedEvent
func NewCreditsConsumedEvent(accountID uuid.UUID, creditType string, amount int64, packageCount int, attribution Attribution) *CreditsConsumedEvent {
	return &CreditsConsumedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeCreditsConsumed, AggregateTypeCreditPackage, uuid.Nil, accountID),
		CreditType:      creditType,
		Amount:          amount,
		PackageCount:    packageCount,
		ResourceType:    attribution.ResourceType,
		ResourceID:      attribution.ResourceID,
	}
}
