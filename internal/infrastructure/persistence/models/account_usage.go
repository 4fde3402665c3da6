package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/meterly/backend/internal/domain/billing"
)

// AccountUsageModel stores the latest user/channel counts reported for an account
type AccountUsageModel struct {
	AccountID uuid.UUID `gorm:"type:uuid;primary_key"`
	Users     int       `gorm:"not null;default:0"`
	Channels  int       `gorm:"not null;default:0"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for the model
func (AccountUsageModel) TableName() string {
	return "account_usage"
}

// AccountUsageModelFromDomain creates a model from a domain usage snapshot
func AccountUsageModelFromDomain(u *billing.AccountUsage) *AccountUsageModel {
	return &AccountUsageModel{
		AccountID: u.AccountID,
		Users:     u.Users,
		Channels:  u.Channels,
		UpdatedAt: u.UpdatedAt.UTC(),
	}
}

// ToDomain converts the model to a domain usage snapshot
func (m *AccountUsageModel) ToDomain() *billing.AccountUsage {
	return &billing.AccountUsage{
		AccountID: m.AccountID,
		Users:     m.Users,
		Channels:  m.Channels,
		UpdatedAt: m.UpdatedAt,
	}
}

// All returns every billing model, in dependency order, for AutoMigrate in tests
func All() []any {
	return []any{
		&SubscriptionModel{},
		&SubscriptionAddonModel{},
		&CreditPackageModel{},
		&CreditUsageModel{},
		&WebhookReceiptModel{},
		&AccountUsageModel{},
	}
}
