package billing

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/meterly/backend/internal/domain/shared"
)

// CreditSource records how a credit package came to exist
type CreditSource string

const (
	CreditSourcePurchase          CreditSource = "purchase"
	CreditSourceSubscriptionGrant CreditSource = "subscription_grant"
)

// IsValid returns true if the source is known
func (s CreditSource) IsValid() bool {
	return s == CreditSourcePurchase || s == CreditSourceSubscriptionGrant
}

// CreditPackageStatus is the lifecycle state of a credit package
type CreditPackageStatus string

const (
	CreditPackageStatusActive  CreditPackageStatus = "active"
	CreditPackageStatusExpired CreditPackageStatus = "expired"
)

// CreditPackage is a batch of credits of one type that share an expiry and a source.
// Packages are never deleted: exhausted and expired packages stay for audit.
type CreditPackage struct {
	shared.AccountAggregateRoot
	CreditType       string
	InitialCredits   int64
	RemainingCredits int64
	ExpiresAt        *time.Time
	Source           CreditSource
	Status           CreditPackageStatus
	SourceRef        string // provenance: gateway event / invoice / checkout id
	// PeriodStart is the billing period a subscription grant belongs to
	PeriodStart *time.Time
}

// NormalizeCreditType canonicalizes a free-form credit type tag
func NormalizeCreditType(creditType string) string {
	return strings.ToLower(strings.TrimSpace(creditType))
}

// NewCreditPackage creates an active package holding amount credits
func NewCreditPackage(
	accountID uuid.UUID,
	creditType string,
	amount int64,
	expiresAt *time.Time,
	source CreditSource,
	sourceRef string,
) (*CreditPackage, error) {
	if accountID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_ACCOUNT", "Account ID cannot be empty")
	}
	creditType = NormalizeCreditType(creditType)
	if creditType == "" {
		return nil, shared.NewDomainError("INVALID_CREDIT_TYPE", "Credit type cannot be empty")
	}
	if amount <= 0 {
		return nil, shared.ErrInvalidAmount
	}
	if !source.IsValid() {
		return nil, shared.NewDomainError("INVALID_SOURCE", "Unknown credit source: "+string(source))
	}

	return &CreditPackage{
		AccountAggregateRoot: shared.NewAccountAggregateRoot(accountID),
		CreditType:           creditType,
		InitialCredits:       amount,
		RemainingCredits:     amount,
		ExpiresAt:            expiresAt,
		Source:               source,
		Status:               CreditPackageStatusActive,
		SourceRef:            sourceRef,
	}, nil
}

// IsAvailable reports whether credits can be taken from this package at now
func (p *CreditPackage) IsAvailable(now time.Time) bool {
	if p.Status != CreditPackageStatusActive || p.RemainingCredits <= 0 {
		return false
	}
	return p.ExpiresAt == nil || p.ExpiresAt.After(now)
}

// IsExhausted returns true when nothing is left
func (p *CreditPackage) IsExhausted() bool {
	return p.RemainingCredits == 0
}

// PrecedesPeriodOf reports whether p was granted for an earlier billing period than other.
// Packages without a period never precede one another.
func (p *CreditPackage) PrecedesPeriodOf(other *CreditPackage) bool {
	if p.PeriodStart == nil || other.PeriodStart == nil {
		return false
	}
	return p.PeriodStart.Before(*other.PeriodStart)
}

// Take removes up to amount credits and returns how many were taken
func (p *CreditPackage) Take(amount int64) int64 {
	if amount <= 0 || p.RemainingCredits <= 0 {
		return 0
	}
	taken := amount
	if taken > p.RemainingCredits {
		taken = p.RemainingCredits
	}
	p.RemainingCredits -= taken
	p.UpdatedAt = time.Now()
	p.IncrementVersion()
	return taken
}

// Expire marks the package expired. Remaining credits are kept as-is for audit.
func (p *CreditPackage) Expire() {
	if p.Status == CreditPackageStatusExpired {
		return
	}
	p.Status = CreditPackageStatusExpired
	p.UpdatedAt = time.Now()
	p.IncrementVersion()
}

// Allocation is the amount to take from one package during a consumption
type Allocation struct {
	Package *CreditPackage
	Amount  int64
}

// SortForConsumption orders packages soonest-expiring first, never-expiring last,
// ties broken by creation time then ID.
func SortForConsumption(packages []*CreditPackage) {
	sort.SliceStable(packages, func(i, j int) bool {
		a, b := packages[i], packages[j]
		switch {
		case a.ExpiresAt == nil && b.ExpiresAt != nil:
			return false
		case a.ExpiresAt != nil && b.ExpiresAt == nil:
			return true
		case a.ExpiresAt != nil && b.ExpiresAt != nil && !a.ExpiresAt.Equal(*b.ExpiresAt):
			return a.ExpiresAt.Before(*b.ExpiresAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
}

// PlanConsumption computes a FIFO-by-expiry allocation of amount across packages without
// mutating them. Unavailable packages are skipped. Returns ErrInsufficientCredits if the
// available total is below amount.
func PlanConsumption(packages []*CreditPackage, amount int64, now time.Time) ([]Allocation, error) {
	if amount <= 0 {
		return nil, shared.ErrInvalidAmount
	}

	available := make([]*CreditPackage, 0, len(packages))
	var total int64
	for _, p := range packages {
		if p.IsAvailable(now) {
			available = append(available, p)
			total += p.RemainingCredits
		}
	}
	if total < amount {
		return nil, shared.ErrInsufficientCredits
	}

	SortForConsumption(available)

	allocations := make([]Allocation, 0, len(available))
	left := amount
	for _, p := range available {
		if left == 0 {
			break
		}
		take := p.RemainingCredits
		if take > left {
			take = left
		}
		allocations = append(allocations, Allocation{Package: p, Amount: take})
		left -= take
	}
	return allocations, nil
}

// AvailableTotal sums the credits available across packages at now
func AvailableTotal(packages []*CreditPackage, now time.Time) int64 {
	var total int64
	for _, p := range packages {
		if p.IsAvailable(now) {
			total += p.RemainingCredits
		}
	}
	return total
}
