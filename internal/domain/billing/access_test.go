package billing

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSubscription(t *testing.T, status SubscriptionStatus) *Subscription {
	t.Helper()
	sub, err := NewSubscription(uuid.New())
	require.NoError(t, err)
	require.NoError(t, sub.SetStatus(status))
	sub.MaxUsers = 3
	sub.MaxChannels = 2
	return sub
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func TestEvaluateAccess(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	catalog := DefaultPlanCatalog()

	evaluate := func(sub *Subscription, users, channels int) AccessDecision {
		return EvaluateAccess(AccessInput{
			Subscription: sub,
			Limits:       CalculateEffectiveLimits(catalog, sub),
			Usage:        AccountUsage{Users: users, Channels: channels},
			Now:          now,
		})
	}

	t.Run("no subscription row grants open access", func(t *testing.T) {
		d := evaluate(nil, 100, 100)
		assert.Equal(t, AccessLevelNone, d.Level)
		assert.Empty(t, d.Message)
	})

	t.Run("trial ending within three days warns with rounded-up days", func(t *testing.T) {
		sub := newTestSubscription(t, SubscriptionStatusTrialing)
		sub.TrialEnd = timePtr(now.Add(36 * time.Hour))

		d := evaluate(sub, 1, 1)
		assert.Equal(t, AccessLevelWarning, d.Level)
		require.NotNil(t, d.DaysRemaining)
		assert.Equal(t, 2, *d.DaysRemaining)
		assert.Contains(t, d.Message, "2 days")
	})

	t.Run("trial ending exactly at the window boundary warns", func(t *testing.T) {
		sub := newTestSubscription(t, SubscriptionStatusTrialing)
		sub.TrialEnd = timePtr(now.Add(TrialWarningWindow))

		d := evaluate(sub, 1, 1)
		assert.Equal(t, AccessLevelWarning, d.Level)
		assert.Contains(t, d.Message, "3 days")
	})

	t.Run("trial far from ending is open", func(t *testing.T) {
		sub := newTestSubscription(t, SubscriptionStatusTrialing)
		sub.TrialEnd = timePtr(now.Add(10 * 24 * time.Hour))

		assert.Equal(t, AccessLevelNone, evaluate(sub, 1, 1).Level)
	})

	t.Run("trial over limits is not blocked", func(t *testing.T) {
		sub := newTestSubscription(t, SubscriptionStatusTrialing)
		sub.TrialEnd = timePtr(now.Add(10 * 24 * time.Hour))

		assert.Equal(t, AccessLevelNone, evaluate(sub, 50, 50).Level)
	})

	t.Run("active over user limit is soft blocked", func(t *testing.T) {
		sub := newTestSubscription(t, SubscriptionStatusActive)

		d := evaluate(sub, 4, 1)
		assert.Equal(t, AccessLevelSoftBlock, d.Level)
		assert.Contains(t, d.Message, "upgrade")
		assert.Contains(t, d.Message, "users 4/3")
	})

	t.Run("active over channel limit is soft blocked", func(t *testing.T) {
		sub := newTestSubscription(t, SubscriptionStatusActive)

		assert.Equal(t, AccessLevelSoftBlock, evaluate(sub, 1, 3).Level)
	})

	t.Run("active at limit is open", func(t *testing.T) {
		sub := newTestSubscription(t, SubscriptionStatusActive)

		assert.Equal(t, AccessLevelNone, evaluate(sub, 3, 2).Level)
	})

	t.Run("active add-ons raise the limit", func(t *testing.T) {
		sub := newTestSubscription(t, SubscriptionStatusActive)
		require.NoError(t, sub.AddAddon(AddonTypeChannel, 2))

		assert.Equal(t, AccessLevelNone, evaluate(sub, 1, 4).Level)
		assert.Equal(t, AccessLevelSoftBlock, evaluate(sub, 1, 5).Level)
	})

	t.Run("unlimited users never exceed", func(t *testing.T) {
		sub := newTestSubscription(t, SubscriptionStatusActive)
		sub.MaxUsers = Unlimited

		d := evaluate(sub, 10000, 1)
		assert.Equal(t, AccessLevelNone, d.Level)
	})

	t.Run("past due is soft blocked with payment message", func(t *testing.T) {
		sub := newTestSubscription(t, SubscriptionStatusPastDue)

		d := evaluate(sub, 1, 1)
		assert.Equal(t, AccessLevelSoftBlock, d.Level)
		assert.Contains(t, d.Message, "payment method")
	})

	t.Run("canceled counts retention from end date", func(t *testing.T) {
		sub := newTestSubscription(t, SubscriptionStatusCanceled)
		sub.EndedAt = timePtr(now.Add(-10 * 24 * time.Hour))

		d := evaluate(sub, 1, 1)
		assert.Equal(t, AccessLevelSoftBlock, d.Level)
		require.NotNil(t, d.DaysRemaining)
		assert.Equal(t, 20, *d.DaysRemaining)
		assert.Contains(t, d.Message, "20 days")
	})

	t.Run("canceled falls back to canceled_at then now", func(t *testing.T) {
		sub := newTestSubscription(t, SubscriptionStatusCanceled)
		sub.CanceledAt = timePtr(now.Add(-29 * 24 * time.Hour))
		d := evaluate(sub, 1, 1)
		assert.Equal(t, 1, *d.DaysRemaining)
		assert.Contains(t, d.Message, "1 day ")

		sub.CanceledAt = nil
		d = evaluate(sub, 1, 1)
		assert.Equal(t, 30, *d.DaysRemaining)
	})

	t.Run("canceled past retention clamps to zero", func(t *testing.T) {
		sub := newTestSubscription(t, SubscriptionStatusCanceled)
		sub.EndedAt = timePtr(now.Add(-45 * 24 * time.Hour))

		d := evaluate(sub, 1, 1)
		assert.Equal(t, 0, *d.DaysRemaining)
	})

	t.Run("unpaid and incomplete_expired are hard blocked", func(t *testing.T) {
		for _, status := range []SubscriptionStatus{SubscriptionStatusUnpaid, SubscriptionStatusIncompleteExpired} {
			d := evaluate(newTestSubscription(t, status), 1, 1)
			assert.Equal(t, AccessLevelHardBlock, d.Level, status)
			assert.Contains(t, d.Message, "support")
		}
	})

	t.Run("status none row is open", func(t *testing.T) {
		assert.Equal(t, AccessLevelNone, evaluate(newTestSubscription(t, SubscriptionStatusNone), 9, 9).Level)
	})

	t.Run("evaluation is deterministic", func(t *testing.T) {
		sub := newTestSubscription(t, SubscriptionStatusTrialing)
		sub.TrialEnd = timePtr(now.Add(50 * time.Hour))

		first := evaluate(sub, 1, 1)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, evaluate(sub, 1, 1))
		}
	})
}

func TestAccessLevel_Permissions(t *testing.T) {
	tests := []struct {
		level AccessLevel
		read  bool
		write bool
	}{
		{AccessLevelNone, true, true},
		{AccessLevelWarning, true, true},
		{AccessLevelSoftBlock, true, false},
		{AccessLevelHardBlock, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			assert.Equal(t, tt.read, tt.level.AllowsRead())
			assert.Equal(t, tt.write, tt.level.AllowsWrite())
		})
	}
}
