package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/meterly/backend/internal/domain/billing"
)

// CreditPackageModel is the persistence model for billing.CreditPackage
type CreditPackageModel struct {
	AccountAggregateModel
	CreditType       string     `gorm:"type:varchar(50);not null;index"`
	InitialCredits   int64      `gorm:"not null"`
	RemainingCredits int64      `gorm:"not null"`
	ExpiresAt        *time.Time `gorm:"column:expires_at;index"`
	Source           string     `gorm:"type:varchar(30);not null"`
	Status           string     `gorm:"type:varchar(20);not null;default:'active';index"`
	SourceRef        string     `gorm:"type:varchar(255);not null;default:''"`
	PeriodStart      *time.Time `gorm:"column:period_start"`
}

// TableName returns the table name for the model
func (CreditPackageModel) TableName() string {
	return "credit_packages"
}

// CreditPackageModelFromDomain creates a model from a domain credit package
func CreditPackageModelFromDomain(p *billing.CreditPackage) *CreditPackageModel {
	m := &CreditPackageModel{
		CreditType:       p.CreditType,
		InitialCredits:   p.InitialCredits,
		RemainingCredits: p.RemainingCredits,
		ExpiresAt:        utcPtr(p.ExpiresAt),
		Source:           string(p.Source),
		Status:           string(p.Status),
		SourceRef:        p.SourceRef,
		PeriodStart:      utcPtr(p.PeriodStart),
	}
	m.FromDomainAccountAggregateRoot(p.AccountAggregateRoot)
	return m
}

// ToDomain converts the model to a domain credit package
func (m *CreditPackageModel) ToDomain() *billing.CreditPackage {
	return &billing.CreditPackage{
		AccountAggregateRoot: m.ToDomainAccountAggregateRoot(),
		CreditType:           m.CreditType,
		InitialCredits:       m.InitialCredits,
		RemainingCredits:     m.RemainingCredits,
		ExpiresAt:            m.ExpiresAt,
		Source:               billing.CreditSource(m.Source),
		Status:               billing.CreditPackageStatus(m.Status),
		SourceRef:            m.SourceRef,
		PeriodStart:          m.PeriodStart,
	}
}

// CreditUsageModel is the persistence model for billing.CreditUsageRecord.
// Rows are insert-only.
type CreditUsageModel struct {
	ID              uuid.UUID `gorm:"type:uuid;primary_key"`
	AccountID       uuid.UUID `gorm:"type:uuid;not null;index:idx_credit_usage_account,priority:1"`
	CreditPackageID uuid.UUID `gorm:"type:uuid;not null;index"`
	CreditType      string    `gorm:"type:varchar(50);not null;index:idx_credit_usage_account,priority:2"`
	Amount          int64     `gorm:"column:amount_consumed;not null"`
	UsedAt          time.Time `gorm:"not null;index:idx_credit_usage_account,priority:3"`
	ResourceType    string    `gorm:"type:varchar(100)"`
	ResourceID      string    `gorm:"type:varchar(255)"`
	ActorID         string    `gorm:"type:varchar(255)"`
	Description     string    `gorm:"type:text"`
}

// TableName returns the table name for the model
func (CreditUsageModel) TableName() string {
	return "credit_usage_records"
}

// CreditUsageModelFromDomain creates a model from a domain usage record
func CreditUsageModelFromDomain(r *billing.CreditUsageRecord) *CreditUsageModel {
	return &CreditUsageModel{
		ID:              r.ID,
		AccountID:       r.AccountID,
		CreditPackageID: r.CreditPackageID,
		CreditType:      r.CreditType,
		Amount:          r.Amount,
		UsedAt:          r.UsedAt.UTC(),
		ResourceType:    r.ResourceType,
		ResourceID:      r.ResourceID,
		ActorID:         r.ActorID,
		Description:     r.Description,
	}
}

// ToDomain converts the model to a domain usage record
func (m *CreditUsageModel) ToDomain() *billing.CreditUsageRecord {
	return &billing.CreditUsageRecord{
		ID:              m.ID,
		AccountID:       m.AccountID,
		CreditPackageID: m.CreditPackageID,
		CreditType:      m.CreditType,
		Amount:          m.Amount,
		UsedAt:          m.UsedAt,
		Attribution: billing.Attribution{
			ResourceType: m.ResourceType,
			ResourceID:   m.ResourceID,
			ActorID:      m.ActorID,
			Description:  m.Description,
		},
	}
}
