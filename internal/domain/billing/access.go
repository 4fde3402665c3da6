package billing

import (
	"fmt"
	"math"
	"time"
)

// AccessLevel is the coarse gate derived from billing state
type AccessLevel string

const (
	AccessLevelNone      AccessLevel = "none"
	AccessLevelWarning   AccessLevel = "warning"
	AccessLevelSoftBlock AccessLevel = "soft_block"
	AccessLevelHardBlock AccessLevel = "hard_block"
)

const (
	// TrialWarningWindow is how long before trial end the account is warned
	TrialWarningWindow = 3 * 24 * time.Hour
	// DataRetentionPeriod is how long data of a canceled account is kept
	DataRetentionPeriod = 30 * 24 * time.Hour
)

// String returns the string representation of AccessLevel
func (l AccessLevel) String() string {
	return string(l)
}

// AllowsRead reports whether non-billing reads are permitted
func (l AccessLevel) AllowsRead() bool {
	return l != AccessLevelHardBlock
}

// AllowsWrite reports whether mutating operations are permitted
func (l AccessLevel) AllowsWrite() bool {
	return l == AccessLevelNone || l == AccessLevelWarning
}

// AccessInput is everything the access evaluation depends on.
// Now is passed in so evaluation is deterministic.
type AccessInput struct {
	Subscription *Subscription
	Limits       EffectiveLimits
	Usage        AccountUsage
	Now          time.Time
}

// AccessDecision is the result of EvaluateAccess
type AccessDecision struct {
	Level         AccessLevel
	Message       string
	DaysRemaining *int
}

// EvaluateAccess maps billing state and live usage onto an access level.
// Rules are evaluated in order and the first match wins.
func EvaluateAccess(in AccessInput) AccessDecision {
	sub := in.Subscription
	if sub == nil {
		return AccessDecision{Level: AccessLevelNone}
	}

	switch {
	case sub.Status == SubscriptionStatusTrialing && sub.TrialEnd != nil &&
		sub.TrialEnd.Sub(in.Now) <= TrialWarningWindow:
		days := daysUntil(in.Now, *sub.TrialEnd)
		return AccessDecision{
			Level:         AccessLevelWarning,
			Message:       fmt.Sprintf("Your trial ends in %s. Choose a plan to keep full access.", pluralDays(days)),
			DaysRemaining: &days,
		}

	case sub.Status == SubscriptionStatusActive && overLimits(in.Usage, in.Limits):
		return AccessDecision{
			Level: AccessLevelSoftBlock,
			Message: fmt.Sprintf(
				"Your account exceeds its plan limits (users %d/%s, channels %d/%s). "+
					"Editing is disabled until you upgrade your plan or remove users or channels.",
				in.Usage.Users, limitString(in.Limits.MaxUsers),
				in.Usage.Channels, limitString(in.Limits.MaxChannels)),
		}

	case sub.Status == SubscriptionStatusPastDue:
		return AccessDecision{
			Level:   AccessLevelSoftBlock,
			Message: "Your last payment failed. Update your payment method to restore editing.",
		}

	case sub.Status == SubscriptionStatusCanceled:
		ref := in.Now
		if sub.EndedAt != nil {
			ref = *sub.EndedAt
		} else if sub.CanceledAt != nil {
			ref = *sub.CanceledAt
		}
		days := daysUntil(in.Now, ref.Add(DataRetentionPeriod))
		return AccessDecision{
			Level: AccessLevelSoftBlock,
			Message: fmt.Sprintf(
				"Your subscription is canceled. Your data will be deleted in %s unless you resubscribe.",
				pluralDays(days)),
			DaysRemaining: &days,
		}

	case sub.Status == SubscriptionStatusUnpaid || sub.Status == SubscriptionStatusIncompleteExpired:
		return AccessDecision{
			Level:   AccessLevelHardBlock,
			Message: "Your account is suspended because of an unpaid balance. Contact support to restore access.",
		}
	}

	return AccessDecision{Level: AccessLevelNone}
}

func overLimits(usage AccountUsage, limits EffectiveLimits) bool {
	return Exceeds(usage.Users, limits.MaxUsers) || Exceeds(usage.Channels, limits.MaxChannels)
}

// daysUntil returns whole days from now until t, rounded up, never negative
func daysUntil(now, t time.Time) int {
	d := t.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Hours() / 24))
}

func pluralDays(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}

func limitString(limit int) string {
	if IsUnlimited(limit) {
		return "unlimited"
	}
	return fmt.Sprintf("%d", limit)
}
