package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/meterly/backend/internal/domain/shared"
)

// Attribution is free-form context recorded with each consumption
type Attribution struct {
	ResourceType string
	ResourceID   string
	ActorID      string
	Description  string
}

// CreditUsageRecord is an immutable log entry of credits taken from one package
type CreditUsageRecord struct {
	ID              uuid.UUID
	AccountID       uuid.UUID
	CreditPackageID uuid.UUID
	CreditType      string
	Amount          int64
	UsedAt          time.Time
	Attribution
}

// NewCreditUsageRecord records amount credits taken from pkg
func NewCreditUsageRecord(pkg *CreditPackage, amount int64, attribution Attribution, usedAt time.Time) (*CreditUsageRecord, error) {
	if pkg == nil {
		return nil, shared.NewDomainError("INVALID_PACKAGE", "Credit package cannot be nil")
	}
	if amount <= 0 {
		return nil, shared.ErrInvalidAmount
	}
	return &CreditUsageRecord{
		ID:              uuid.New(),
		AccountID:       pkg.AccountID,
		CreditPackageID: pkg.ID,
		CreditType:      pkg.CreditType,
		Amount:          amount,
		UsedAt:          usedAt,
		Attribution:     attribution,
	}, nil
}
