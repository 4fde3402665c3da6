package billing

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateEffectiveLimits(t *testing.T) {
	catalog := DefaultPlanCatalog()

	t.Run("missing subscription gets catalog defaults", func(t *testing.T) {
		limits := CalculateEffectiveLimits(catalog, nil)
		assert.Equal(t, catalog.Defaults().MaxUsers, limits.MaxUsers)
		assert.Equal(t, catalog.Defaults().MaxChannels, limits.MaxChannels)
		assert.Empty(t, limits.AddonQuantities)
	})

	t.Run("status none gets catalog defaults", func(t *testing.T) {
		sub, err := NewSubscription(uuid.New())
		require.NoError(t, err)
		sub.MaxUsers = 99

		limits := CalculateEffectiveLimits(catalog, sub)
		assert.Equal(t, catalog.Defaults().MaxUsers, limits.MaxUsers)
	})

	t.Run("sums active add-ons per type", func(t *testing.T) {
		sub := newTestSubscription(t, SubscriptionStatusActive)
		require.NoError(t, sub.AddAddon(AddonTypeChannel, 2))
		require.NoError(t, sub.AddAddon(AddonTypeChannel, 3))
		require.NoError(t, sub.AddAddon(AddonTypeUser, 1))

		limits := CalculateEffectiveLimits(catalog, sub)
		assert.Equal(t, 3, limits.BaseUsers)
		assert.Equal(t, 4, limits.MaxUsers)
		assert.Equal(t, 2, limits.BaseChannels)
		assert.Equal(t, 7, limits.MaxChannels)
		assert.Equal(t, 5, limits.AddonQuantities[AddonTypeChannel])
	})

	t.Run("inactive add-ons are ignored", func(t *testing.T) {
		sub := newTestSubscription(t, SubscriptionStatusActive)
		require.NoError(t, sub.AddAddon(AddonTypeUser, 5))
		sub.DeactivateAddon(AddonTypeUser)

		limits := CalculateEffectiveLimits(catalog, sub)
		assert.Equal(t, 3, limits.MaxUsers)
		require.Len(t, sub.Addons, 1)
		assert.False(t, sub.Addons[0].IsActive)
	})

	t.Run("unknown add-on types are reported only", func(t *testing.T) {
		sub := newTestSubscription(t, SubscriptionStatusActive)
		require.NoError(t, sub.AddAddon("storage", 10))

		limits := CalculateEffectiveLimits(catalog, sub)
		assert.Equal(t, 3, limits.MaxUsers)
		assert.Equal(t, 2, limits.MaxChannels)
		assert.Equal(t, 10, limits.AddonQuantities["storage"])
	})

	t.Run("unlimited base stays unlimited", func(t *testing.T) {
		sub := newTestSubscription(t, SubscriptionStatusActive)
		sub.MaxUsers = Unlimited
		require.NoError(t, sub.AddAddon(AddonTypeUser, 2))

		assert.True(t, IsUnlimited(CalculateEffectiveLimits(catalog, sub).MaxUsers))
	})
}

func TestExceeds(t *testing.T) {
	assert.False(t, Exceeds(3, 3))
	assert.True(t, Exceeds(4, 3))
	assert.False(t, Exceeds(1000, Unlimited))
}
