package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/meterly/backend/internal/domain/shared"
)

// SubscriptionStatus mirrors the gateway's subscription status
type SubscriptionStatus string

const (
	SubscriptionStatusNone              SubscriptionStatus = "none"
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
)

// String returns the string representation of SubscriptionStatus
func (s SubscriptionStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is one of the known values
func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case SubscriptionStatusNone, SubscriptionStatusTrialing, SubscriptionStatusActive,
		SubscriptionStatusPastDue, SubscriptionStatusCanceled, SubscriptionStatusUnpaid,
		SubscriptionStatusIncompleteExpired:
		return true
	}
	return false
}

// ParseSubscriptionStatus maps a gateway status string onto SubscriptionStatus.
// Gateway statuses without a local meaning ("incomplete", "paused") are folded into
// the closest local state.
func ParseSubscriptionStatus(s string) (SubscriptionStatus, error) {
	switch s {
	case "incomplete":
		return SubscriptionStatusIncompleteExpired, nil
	case "paused":
		return SubscriptionStatusPastDue, nil
	}
	status := SubscriptionStatus(s)
	if !status.IsValid() {
		return "", shared.NewDomainError("INVALID_STATUS", "Unknown subscription status: "+s)
	}
	return status, nil
}

// PlanType identifies a plan in the PlanCatalog
type PlanType string

// AddonType identifies a recurring add-on (extra channels, extra users, ...)
type AddonType string

const (
	AddonTypeChannel AddonType = "channel"
	AddonTypeUser    AddonType = "user"
)

// SubscriptionAddon is a recurring incremental entitlement layered on the base plan.
// Add-ons are never deleted; removal deactivates them so history is kept.
type SubscriptionAddon struct {
	ID        uuid.UUID
	AddonType AddonType
	Quantity  int
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Subscription is the locally reconciled replica of an account's gateway subscription.
// There is exactly one per account.
type Subscription struct {
	shared.AccountAggregateRoot
	PlanType              PlanType
	Status                SubscriptionStatus
	CurrentPeriodStart    *time.Time
	CurrentPeriodEnd      *time.Time
	TrialStart            *time.Time
	TrialEnd              *time.Time
	CancelAtPeriodEnd     bool
	CanceledAt            *time.Time
	EndedAt               *time.Time
	MaxChannels           int
	MaxUsers              int
	MonthlyCredits        map[string]int64 // credit type -> allowance per billing period
	Metadata              map[string]string
	GatewayCustomerID     string
	GatewaySubscriptionID string
	BillingEmail          string
	LastEventAt           *time.Time // creation time of the newest gateway event applied
	Addons                []SubscriptionAddon
}

// NewSubscription creates an empty subscription row for an account
func NewSubscription(accountID uuid.UUID) (*Subscription, error) {
	if accountID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_ACCOUNT", "Account ID cannot be empty")
	}
	return &Subscription{
		AccountAggregateRoot: shared.NewAccountAggregateRoot(accountID),
		Status:               SubscriptionStatusNone,
		MonthlyCredits:       make(map[string]int64),
		Metadata:             make(map[string]string),
	}, nil
}

// SetStatus updates the raw gateway status
func (s *Subscription) SetStatus(status SubscriptionStatus) error {
	if !status.IsValid() {
		return shared.NewDomainError("INVALID_STATUS", "Invalid subscription status")
	}
	s.Status = status
	s.UpdatedAt = time.Now()
	return nil
}

// SetPeriod sets the current billing period; end must not precede start
func (s *Subscription) SetPeriod(start, end *time.Time) error {
	if start != nil && end != nil && end.Before(*start) {
		return shared.NewDomainError("INVALID_PERIOD", "Current period end cannot be before its start")
	}
	s.CurrentPeriodStart = start
	s.CurrentPeriodEnd = end
	return nil
}

// SetTrial sets the trial window
func (s *Subscription) SetTrial(start, end *time.Time) {
	s.TrialStart = start
	s.TrialEnd = end
}

// ApplyPlan copies a plan's base entitlements onto the subscription
func (s *Subscription) ApplyPlan(plan PlanDefinition) {
	s.PlanType = plan.Type
	s.MaxChannels = plan.MaxChannels
	s.MaxUsers = plan.MaxUsers
	s.MonthlyCredits = make(map[string]int64, len(plan.MonthlyCredits))
	for creditType, amount := range plan.MonthlyCredits {
		s.MonthlyCredits[creditType] = amount
	}
	s.UpdatedAt = time.Now()
}

// AcceptsEventAt reports whether a gateway event created at eventAt may overwrite this row.
// Events older than the newest one already applied are rejected.
func (s *Subscription) AcceptsEventAt(eventAt time.Time) bool {
	if s.LastEventAt == nil || eventAt.IsZero() {
		return true
	}
	return !eventAt.Before(*s.LastEventAt)
}

// RecordEventAt remembers the creation time of the newest applied gateway event
func (s *Subscription) RecordEventAt(eventAt time.Time) {
	if eventAt.IsZero() {
		return
	}
	if s.LastEventAt == nil || eventAt.After(*s.LastEventAt) {
		t := eventAt
		s.LastEventAt = &t
	}
}

// IsActive returns true if the subscription is active
func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive
}

// HasSubscription returns false for rows that never had a gateway subscription
func (s *Subscription) HasSubscription() bool {
	return s.Status != SubscriptionStatusNone
}

// AddAddon records a purchase of quantity units of an add-on type.
// A repeat purchase of an already active type increments its quantity.
func (s *Subscription) AddAddon(addonType AddonType, quantity int) error {
	if addonType == "" {
		return shared.NewDomainError("INVALID_ADDON", "Add-on type cannot be empty")
	}
	if quantity <= 0 {
		return shared.NewDomainError("INVALID_QUANTITY", "Add-on quantity must be positive")
	}
	now := time.Now()
	if i := s.activeAddonIndex(addonType); i >= 0 {
		s.Addons[i].Quantity += quantity
		s.Addons[i].UpdatedAt = now
		return nil
	}
	s.Addons = append(s.Addons, SubscriptionAddon{
		ID:        uuid.New(),
		AddonType: addonType,
		Quantity:  quantity,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	return nil
}

// SetAddonQuantity sets the absolute quantity reported by the gateway for an add-on type.
// A quantity of zero deactivates the add-on.
func (s *Subscription) SetAddonQuantity(addonType AddonType, quantity int) error {
	if quantity < 0 {
		return shared.NewDomainError("INVALID_QUANTITY", "Add-on quantity cannot be negative")
	}
	if quantity == 0 {
		s.DeactivateAddon(addonType)
		return nil
	}
	if i := s.activeAddonIndex(addonType); i >= 0 {
		if s.Addons[i].Quantity != quantity {
			s.Addons[i].Quantity = quantity
			s.Addons[i].UpdatedAt = time.Now()
		}
		return nil
	}
	return s.AddAddon(addonType, quantity)
}

// DeactivateAddon deactivates the active add-on of the given type, if any
func (s *Subscription) DeactivateAddon(addonType AddonType) {
	if i := s.activeAddonIndex(addonType); i >= 0 {
		s.Addons[i].IsActive = false
		s.Addons[i].UpdatedAt = time.Now()
	}
}

// SyncAddons makes the active add-ons match the given absolute quantities.
// Types not present in quantities are deactivated.
func (s *Subscription) SyncAddons(quantities map[AddonType]int) error {
	for _, addon := range s.ActiveAddons() {
		if _, ok := quantities[addon.AddonType]; !ok {
			s.DeactivateAddon(addon.AddonType)
		}
	}
	for addonType, quantity := range quantities {
		if err := s.SetAddonQuantity(addonType, quantity); err != nil {
			return err
		}
	}
	return nil
}

// ActiveAddons returns the currently active add-ons
func (s *Subscription) ActiveAddons() []SubscriptionAddon {
	active := make([]SubscriptionAddon, 0, len(s.Addons))
	for _, addon := range s.Addons {
		if addon.IsActive {
			active = append(active, addon)
		}
	}
	return active
}

func (s *Subscription) activeAddonIndex(addonType AddonType) int {
	for i := range s.Addons {
		if s.Addons[i].AddonType == addonType && s.Addons[i].IsActive {
			return i
		}
	}
	return -1
}

// MarkCanceled moves the subscription to canceled and records when it ended
func (s *Subscription) MarkCanceled(at time.Time) {
	if s.Status == SubscriptionStatusCanceled && s.EndedAt != nil {
		return
	}
	s.Status = SubscriptionStatusCanceled
	if s.CanceledAt == nil {
		t := at
		s.CanceledAt = &t
	}
	if s.EndedAt == nil {
		t := at
		s.EndedAt = &t
	}
	s.UpdatedAt = time.Now()
	s.AddDomainEvent(NewSubscriptionCanceledEvent(s))
}

// MarkPaymentFailed moves the subscription to past_due after a failed invoice payment
func (s *Subscription) MarkPaymentFailed(invoiceID string) {
	s.Status = SubscriptionStatusPastDue
	s.UpdatedAt = time.Now()
	s.AddDomainEvent(NewPaymentFailedEvent(s, invoiceID))
}

// DeletionDate returns when data of a canceled subscription is deleted
func (s *Subscription) DeletionDate() *time.Time {
	ref := s.EndedAt
	if ref == nil {
		ref = s.CanceledAt
	}
	if ref == nil {
		return nil
	}
	t := ref.Add(DataRetentionPeriod)
	return &t
}
