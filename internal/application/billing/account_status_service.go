package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/meterly/backend/internal/domain/billing"
	"github.com/meterly/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// AccountStatusService answers "what may this account do right now".
// It only reads subscription state; the webhook processor owns writes.
type AccountStatusService struct {
	subscriptions billing.SubscriptionRepository
	usage         billing.AccountUsageRepository
	catalog       *billing.PlanCatalog
	logger        *zap.Logger
	now           func() time.Time
}

// AccountStatusServiceConfig contains configuration for AccountStatusService
type AccountStatusServiceConfig struct {
	Subscriptions billing.SubscriptionRepository
	Usage         billing.AccountUsageRepository
	Catalog       *billing.PlanCatalog
	Logger        *zap.Logger
	Now           func() time.Time
}

// NewAccountStatusService creates a new AccountStatusService
func NewAccountStatusService(cfg AccountStatusServiceConfig) *AccountStatusService {
	s := &AccountStatusService{
		subscriptions: cfg.Subscriptions,
		usage:         cfg.Usage,
		catalog:       cfg.Catalog,
		logger:        cfg.Logger,
		now:           cfg.Now,
	}
	if s.catalog == nil {
		s.catalog = billing.DefaultPlanCatalog()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// AccountStatus is the billing state shown to the account and used by access control
type AccountStatus struct {
	AccountID       uuid.UUID                  `json:"account_id"`
	Status          billing.SubscriptionStatus `json:"status"`
	PlanType        billing.PlanType           `json:"plan_type,omitempty"`
	PlanName        string                     `json:"plan_name"`
	AccessLevel     billing.AccessLevel        `json:"access_level"`
	Message         string                     `json:"message,omitempty"`
	DaysRemaining   *int                       `json:"days_remaining,omitempty"`
	EffectiveLimits billing.EffectiveLimits    `json:"effective_limits"`
	CurrentUsage    billing.AccountUsage       `json:"current_usage"`
	CurrentPeriod   *Period                    `json:"current_period,omitempty"`
	TrialEnd        *time.Time                 `json:"trial_end,omitempty"`
	CancelAtEnd     bool                       `json:"cancel_at_period_end"`
}

// Period is a billing period
type Period struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// GetStatus evaluates the account's access level from its subscription and live usage
func (s *AccountStatusService) GetStatus(ctx context.Context, accountID uuid.UUID) (*AccountStatus, error) {
	if accountID == uuid.Nil {
		return nil, shared.ErrInvalidInput
	}

	sub, err := s.subscriptions.FindByAccountID(ctx, accountID)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, fmt.Errorf("failed to load subscription: %w", err)
		}
		sub = nil
	}
	if sub != nil && !sub.HasSubscription() {
		sub = nil
	}

	usage, err := s.usage.Get(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account usage: %w", err)
	}

	limits := billing.CalculateEffectiveLimits(s.catalog, sub)
	decision := billing.EvaluateAccess(billing.AccessInput{
		Subscription: sub,
		Limits:       limits,
		Usage:        *usage,
		Now:          s.now(),
	})

	status := &AccountStatus{
		AccountID:       accountID,
		Status:          billing.SubscriptionStatusNone,
		PlanName:        "No plan",
		AccessLevel:     decision.Level,
		Message:         decision.Message,
		DaysRemaining:   decision.DaysRemaining,
		EffectiveLimits: limits,
		CurrentUsage:    *usage,
	}
	if sub != nil {
		status.Status = sub.Status
		status.PlanType = sub.PlanType
		status.PlanName = s.catalog.PlanName(sub.PlanType)
		status.TrialEnd = sub.TrialEnd
		status.CancelAtEnd = sub.CancelAtPeriodEnd
		if sub.CurrentPeriodStart != nil || sub.CurrentPeriodEnd != nil {
			status.CurrentPeriod = &Period{Start: sub.CurrentPeriodStart, End: sub.CurrentPeriodEnd}
		}
	}
	return status, nil
}

// RecordUsageCommand reports the current user and channel counts of an account
type RecordUsageCommand struct {
	AccountID uuid.UUID
	Users     int
	Channels  int
}

// RecordUsage stores the latest usage snapshot and returns the resulting status
func (s *AccountStatusService) RecordUsage(ctx context.Context, cmd RecordUsageCommand) (*AccountStatus, error) {
	if cmd.AccountID == uuid.Nil {
		return nil, shared.ErrInvalidInput
	}
	if cmd.Users < 0 || cmd.Channels < 0 {
		return nil, shared.NewDomainError("INVALID_USAGE", "Usage counts cannot be negative")
	}

	usage := &billing.AccountUsage{
		AccountID: cmd.AccountID,
		Users:     cmd.Users,
		Channels:  cmd.Channels,
		UpdatedAt: s.now(),
	}
	if err := s.usage.Upsert(ctx, usage); err != nil {
		return nil, fmt.Errorf("failed to store account usage: %w", err)
	}
	return s.GetStatus(ctx, cmd.AccountID)
}
