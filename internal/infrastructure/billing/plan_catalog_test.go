package billing

import (
	"testing"

	domain "github.com/meterly/backend/internal/domain/billing"
	"github.com/meterly/backend/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPlanCatalog_FromConfig(t *testing.T) {
	catalog, err := NewPlanCatalog(config.BillingConfig{
		DefaultMaxUsers:    2,
		DefaultMaxChannels: 1,
		Plans: []config.PlanConfig{
			{Type: "team", Name: "Team", MaxUsers: 5, MaxChannels: 4,
				MonthlyCredits: map[string]int64{" AI_Tokens ": 1000}},
		},
		Addons: []config.AddonConfig{
			{Type: "seat", Name: "Seat", Dimension: "users"},
		},
	}, config.StripeConfig{
		PriceIDs:      map[string]string{"team": "price_team"},
		AddonPriceIDs: map[string]string{"seat": "price_seat"},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.Limits{MaxUsers: 2, MaxChannels: 1}, catalog.Defaults())

	plan, ok := catalog.PlanByPriceID("price_team")
	require.True(t, ok)
	assert.Equal(t, domain.PlanType("team"), plan.Type)
	assert.Equal(t, map[string]int64{"ai_tokens": 1000}, plan.MonthlyCredits)

	addon, ok := catalog.AddonByPriceID("price_seat")
	require.True(t, ok)
	assert.Equal(t, domain.LimitDimensionUsers, addon.Dimension)
}

func TestNewPlanCatalog_BuiltinWithPriceIDs(t *testing.T) {
	catalog, err := NewPlanCatalog(config.BillingConfig{}, config.StripeConfig{
		PriceIDs:      map[string]string{"pro": "price_pro"},
		AddonPriceIDs: map[string]string{string(domain.AddonTypeChannel): "price_channel"},
	})
	require.NoError(t, err)

	plan, ok := catalog.PlanByPriceID("price_pro")
	require.True(t, ok)
	assert.Equal(t, "Pro", plan.Name)

	addon, ok := catalog.AddonByPriceID("price_channel")
	require.True(t, ok)
	assert.Equal(t, domain.AddonTypeChannel, addon.Type)

	assert.Equal(t, domain.DefaultPlanCatalog().Defaults(), catalog.Defaults())
}

func TestNewPlanCatalog_DuplicatePlanRejected(t *testing.T) {
	_, err := NewPlanCatalog(config.BillingConfig{
		Plans: []config.PlanConfig{{Type: "team"}, {Type: "team"}},
	}, config.StripeConfig{})
	assert.ErrorContains(t, err, "Duplicate plan")
}
