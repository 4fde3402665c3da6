package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/meterly/backend/internal/domain/billing"
	"github.com/meterly/backend/internal/domain/shared"
)

// SubscriptionModel is the persistence model for billing.Subscription
type SubscriptionModel struct {
	BaseModel
	Version               int               `gorm:"not null;default:1"`
	AccountID             uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex"`
	PlanType              string            `gorm:"type:varchar(50);not null;default:''"`
	Status                string            `gorm:"type:varchar(30);not null;default:'none'"`
	CurrentPeriodStart    *time.Time        `gorm:"column:current_period_start"`
	CurrentPeriodEnd      *time.Time        `gorm:"column:current_period_end"`
	TrialStart            *time.Time        `gorm:"column:trial_start"`
	TrialEnd              *time.Time        `gorm:"column:trial_end"`
	CancelAtPeriodEnd     bool              `gorm:"not null;default:false"`
	CanceledAt            *time.Time        `gorm:"column:canceled_at"`
	EndedAt               *time.Time        `gorm:"column:ended_at"`
	MaxChannels           int               `gorm:"not null;default:0"`
	MaxUsers              int               `gorm:"not null;default:0"`
	MonthlyCredits        map[string]int64  `gorm:"type:jsonb;serializer:json"`
	Metadata              map[string]string `gorm:"type:jsonb;serializer:json"`
	GatewayCustomerID     string            `gorm:"type:varchar(255);index"`
	GatewaySubscriptionID string            `gorm:"type:varchar(255);index"`
	BillingEmail          string            `gorm:"type:varchar(255)"`
	LastEventAt           *time.Time        `gorm:"column:last_event_at"`

	Addons []SubscriptionAddonModel `gorm:"foreignKey:SubscriptionID;references:ID"`
}

// TableName returns the table name for the model
func (SubscriptionModel) TableName() string {
	return "subscriptions"
}

// SubscriptionAddonModel is the persistence model for billing.SubscriptionAddon
type SubscriptionAddonModel struct {
	BaseModel
	SubscriptionID uuid.UUID `gorm:"type:uuid;not null;index"`
	AddonType      string    `gorm:"type:varchar(50);not null"`
	Quantity       int       `gorm:"not null;default:0"`
	IsActive       bool      `gorm:"not null;default:true"`
}

// TableName returns the table name for the model
func (SubscriptionAddonModel) TableName() string {
	return "subscription_addons"
}

// SubscriptionModelFromDomain creates a model from a domain subscription
func SubscriptionModelFromDomain(s *billing.Subscription) *SubscriptionModel {
	m := &SubscriptionModel{
		AccountID:             s.AccountID,
		PlanType:              string(s.PlanType),
		Status:                string(s.Status),
		CurrentPeriodStart:    utcPtr(s.CurrentPeriodStart),
		CurrentPeriodEnd:      utcPtr(s.CurrentPeriodEnd),
		TrialStart:            utcPtr(s.TrialStart),
		TrialEnd:              utcPtr(s.TrialEnd),
		CancelAtPeriodEnd:     s.CancelAtPeriodEnd,
		CanceledAt:            utcPtr(s.CanceledAt),
		EndedAt:               utcPtr(s.EndedAt),
		MaxChannels:           s.MaxChannels,
		MaxUsers:              s.MaxUsers,
		MonthlyCredits:        s.MonthlyCredits,
		Metadata:              s.Metadata,
		GatewayCustomerID:     s.GatewayCustomerID,
		GatewaySubscriptionID: s.GatewaySubscriptionID,
		BillingEmail:          s.BillingEmail,
		LastEventAt:           utcPtr(s.LastEventAt),
		Version:               s.Version,
	}
	m.FromDomainBaseEntity(s.BaseEntity)
	m.Addons = make([]SubscriptionAddonModel, len(s.Addons))
	for i, a := range s.Addons {
		m.Addons[i] = SubscriptionAddonModel{
			BaseModel: BaseModel{
				ID:        a.ID,
				CreatedAt: a.CreatedAt.UTC(),
				UpdatedAt: a.UpdatedAt.UTC(),
			},
			SubscriptionID: s.ID,
			AddonType:      string(a.AddonType),
			Quantity:       a.Quantity,
			IsActive:       a.IsActive,
		}
	}
	return m
}

// ToDomain converts the model to a domain subscription
func (m *SubscriptionModel) ToDomain() *billing.Subscription {
	s := &billing.Subscription{
		AccountAggregateRoot: shared.AccountAggregateRoot{
			BaseAggregateRoot: shared.BaseAggregateRoot{
				BaseEntity: m.BaseModel.ToDomain(),
				Version:    m.Version,
			},
			AccountID: m.AccountID,
		},
		PlanType:              billing.PlanType(m.PlanType),
		Status:                billing.SubscriptionStatus(m.Status),
		CurrentPeriodStart:    m.CurrentPeriodStart,
		CurrentPeriodEnd:      m.CurrentPeriodEnd,
		TrialStart:            m.TrialStart,
		TrialEnd:              m.TrialEnd,
		CancelAtPeriodEnd:     m.CancelAtPeriodEnd,
		CanceledAt:            m.CanceledAt,
		EndedAt:               m.EndedAt,
		MaxChannels:           m.MaxChannels,
		MaxUsers:              m.MaxUsers,
		MonthlyCredits:        m.MonthlyCredits,
		Metadata:              m.Metadata,
		GatewayCustomerID:     m.GatewayCustomerID,
		GatewaySubscriptionID: m.GatewaySubscriptionID,
		BillingEmail:          m.BillingEmail,
		LastEventAt:           m.LastEventAt,
	}
	if s.MonthlyCredits == nil {
		s.MonthlyCredits = make(map[string]int64)
	}
	if s.Metadata == nil {
		s.Metadata = make(map[string]string)
	}
	s.Addons = make([]billing.SubscriptionAddon, len(m.Addons))
	for i, a := range m.Addons {
		s.Addons[i] = billing.SubscriptionAddon{
			ID:        a.ID,
			AddonType: billing.AddonType(a.AddonType),
			Quantity:  a.Quantity,
			IsActive:  a.IsActive,
			CreatedAt: a.CreatedAt,
			UpdatedAt: a.UpdatedAt,
		}
	}
	return s
}
