package billing

import (
	"fmt"

	domain "github.com/meterly/backend/internal/domain/billing"
	"github.com/meterly/backend/internal/infrastructure/config"
	"github.com/samber/lo"
)

// NewPlanCatalog builds the immutable plan catalog from configuration.
// With no plans configured the built-in catalog is used, with price IDs from the
// Stripe section attached to it.
func NewPlanCatalog(billingCfg config.BillingConfig, stripeCfg config.StripeConfig) (*domain.PlanCatalog, error) {
	defaults := domain.Limits{
		MaxUsers:    billingCfg.DefaultMaxUsers,
		MaxChannels: billingCfg.DefaultMaxChannels,
	}

	plans := lo.Map(billingCfg.Plans, func(p config.PlanConfig, _ int) domain.PlanDefinition {
		return domain.PlanDefinition{
			Type:           domain.PlanType(p.Type),
			Name:           p.Name,
			MaxUsers:       p.MaxUsers,
			MaxChannels:    p.MaxChannels,
			MonthlyCredits: normalizeCredits(p.MonthlyCredits),
		}
	})
	addons := lo.Map(billingCfg.Addons, func(a config.AddonConfig, _ int) domain.AddonDefinition {
		return domain.AddonDefinition{
			Type:      domain.AddonType(a.Type),
			Name:      a.Name,
			Dimension: domain.LimitDimension(a.Dimension),
		}
	})

	if len(plans) == 0 {
		builtin := domain.DefaultPlanCatalog()
		plans = builtin.Plans()
		addons = builtin.Addons()
		if defaults.MaxUsers == 0 && defaults.MaxChannels == 0 {
			defaults = builtin.Defaults()
		}
	}

	for i := range plans {
		if priceID, ok := stripeCfg.PriceIDs[string(plans[i].Type)]; ok {
			plans[i].GatewayPriceID = priceID
		}
	}
	for i := range addons {
		if priceID, ok := stripeCfg.AddonPriceIDs[string(addons[i].Type)]; ok {
			addons[i].GatewayPriceID = priceID
		}
	}

	catalog, err := domain.NewPlanCatalog(defaults, plans, addons)
	if err != nil {
		return nil, fmt.Errorf("failed to build plan catalog: %w", err)
	}
	return catalog, nil
}

func normalizeCredits(credits map[string]int64) map[string]int64 {
	return lo.MapKeys(credits, func(_ int64, creditType string) string {
		return domain.NormalizeCreditType(creditType)
	})
}
