package dto

import (
	"time"

	"github.com/google/uuid"
	appbilling "github.com/meterly/backend/internal/application/billing"
	"github.com/meterly/backend/internal/domain/billing"
)

// CreditTypeURI binds the :type path parameter
type CreditTypeURI struct {
	CreditType string `uri:"type" binding:"required,credit_type"`
}

// ConsumeCreditsRequest is the body of POST /credits/:type/consume
type ConsumeCreditsRequest struct {
	Amount       int64  `json:"amount" binding:"required,gt=0"`
	ResourceType string `json:"resource_type" binding:"omitempty,max=100"`
	ResourceID   string `json:"resource_id" binding:"omitempty,max=255"`
	Description  string `json:"description" binding:"omitempty,max=500"`
}

// RecordUsageRequest is the body of PUT /billing/usage
type RecordUsageRequest struct {
	Users    *int `json:"users" binding:"required,gte=0"`
	Channels *int `json:"channels" binding:"required,gte=0"`
}

// CreditBalanceResponse is the spendable balance of one credit type
type CreditBalanceResponse struct {
	CreditType string `json:"credit_type"`
	Available  int64  `json:"available"`
}

// ConsumeCreditsResponse describes a successful consumption
type ConsumeCreditsResponse struct {
	CreditType string `json:"credit_type"`
	Consumed   int64  `json:"consumed"`
	Remaining  int64  `json:"remaining"`
	Packages   int    `json:"packages"`
}

// NewConsumeCreditsResponse converts a ledger result
func NewConsumeCreditsResponse(r *appbilling.ConsumeResult) ConsumeCreditsResponse {
	return ConsumeCreditsResponse{
		CreditType: r.CreditType,
		Consumed:   r.Consumed,
		Remaining:  r.Remaining,
		Packages:   len(r.Records),
	}
}

// CreditPackageResponse is a credit package as shown to the account
type CreditPackageResponse struct {
	ID               uuid.UUID  `json:"id"`
	CreditType       string     `json:"credit_type"`
	InitialCredits   int64      `json:"initial_credits"`
	RemainingCredits int64      `json:"remaining_credits"`
	Status           string     `json:"status"`
	Source           string     `json:"source"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// NewCreditPackageResponse converts a domain credit package
func NewCreditPackageResponse(p *billing.CreditPackage) CreditPackageResponse {
	return CreditPackageResponse{
		ID:               p.ID,
		CreditType:       p.CreditType,
		InitialCredits:   p.InitialCredits,
		RemainingCredits: p.RemainingCredits,
		Status:           string(p.Status),
		Source:           string(p.Source),
		ExpiresAt:        p.ExpiresAt,
		CreatedAt:        p.CreatedAt,
	}
}

// CreditUsageResponse is one usage record
type CreditUsageResponse struct {
	ID           uuid.UUID `json:"id"`
	PackageID    uuid.UUID `json:"package_id"`
	CreditType   string    `json:"credit_type"`
	Amount       int64     `json:"amount"`
	ResourceType string    `json:"resource_type,omitempty"`
	ResourceID   string    `json:"resource_id,omitempty"`
	ActorID      string    `json:"actor_id,omitempty"`
	Description  string    `json:"description,omitempty"`
	UsedAt       time.Time `json:"used_at"`
}

// NewCreditUsageResponse converts a domain usage record
func NewCreditUsageResponse(r *billing.CreditUsageRecord) CreditUsageResponse {
	return CreditUsageResponse{
		ID:           r.ID,
		PackageID:    r.CreditPackageID,
		CreditType:   r.CreditType,
		Amount:       r.Amount,
		ResourceType: r.ResourceType,
		ResourceID:   r.ResourceID,
		ActorID:      r.ActorID,
		Description:  r.Description,
		UsedAt:       r.UsedAt,
	}
}

// LimitsResponse is the effective limits block of the billing status
type LimitsResponse struct {
	MaxUsers     *int           `json:"max_users"` // null when unlimited
	MaxChannels  *int           `json:"max_channels"`
	BaseUsers    int            `json:"base_users"`
	BaseChannels int            `json:"base_channels"`
	Addons       map[string]int `json:"addons,omitempty"`
}

// UsageResponse is the live usage block of the billing status
type UsageResponse struct {
	Users    int `json:"users"`
	Channels int `json:"channels"`
}

// BillingStatusResponse is the body of GET /billing/status
type BillingStatusResponse struct {
	Status          string         `json:"status"`
	PlanType        string         `json:"plan_type,omitempty"`
	PlanName        string         `json:"plan_name"`
	AccessLevel     string         `json:"access_level"`
	Message         string         `json:"message,omitempty"`
	DaysRemaining   *int           `json:"days_remaining,omitempty"`
	EffectiveLimits LimitsResponse `json:"effective_limits"`
	CurrentUsage    UsageResponse  `json:"current_usage"`
	PeriodStart     *time.Time     `json:"current_period_start,omitempty"`
	PeriodEnd       *time.Time     `json:"current_period_end,omitempty"`
	TrialEnd        *time.Time     `json:"trial_end,omitempty"`
	CancelAtEnd     bool           `json:"cancel_at_period_end"`
}

// NewBillingStatusResponse converts an account status
func NewBillingStatusResponse(s *appbilling.AccountStatus) BillingStatusResponse {
	resp := BillingStatusResponse{
		Status:        string(s.Status),
		PlanType:      string(s.PlanType),
		PlanName:      s.PlanName,
		AccessLevel:   string(s.AccessLevel),
		Message:       s.Message,
		DaysRemaining: s.DaysRemaining,
		EffectiveLimits: LimitsResponse{
			MaxUsers:     limitPtr(s.EffectiveLimits.MaxUsers),
			MaxChannels:  limitPtr(s.EffectiveLimits.MaxChannels),
			BaseUsers:    s.EffectiveLimits.BaseUsers,
			BaseChannels: s.EffectiveLimits.BaseChannels,
		},
		CurrentUsage: UsageResponse{Users: s.CurrentUsage.Users, Channels: s.CurrentUsage.Channels},
		TrialEnd:     s.TrialEnd,
		CancelAtEnd:  s.CancelAtEnd,
	}
	if len(s.EffectiveLimits.AddonQuantities) > 0 {
		resp.EffectiveLimits.Addons = make(map[string]int, len(s.EffectiveLimits.AddonQuantities))
		for addon, qty := range s.EffectiveLimits.AddonQuantities {
			resp.EffectiveLimits.Addons[string(addon)] = qty
		}
	}
	if s.CurrentPeriod != nil {
		resp.PeriodStart = s.CurrentPeriod.Start
		resp.PeriodEnd = s.CurrentPeriod.End
	}
	return resp
}

func limitPtr(limit int) *int {
	if billing.IsUnlimited(limit) {
		return nil
	}
	return &limit
}
