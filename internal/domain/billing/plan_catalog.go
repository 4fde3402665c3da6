package billing

import (
	"fmt"
	"sort"

	"github.com/meterly/backend/internal/domain/shared"
)

// Unlimited marks a limit with no upper bound
const Unlimited = -1

// LimitDimension names the limit an add-on extends
type LimitDimension string

const (
	LimitDimensionUsers    LimitDimension = "users"
	LimitDimensionChannels LimitDimension = "channels"
)

// Limits is a pair of seat and channel limits. Negative values mean unlimited.
type Limits struct {
	MaxUsers    int
	MaxChannels int
}

// PlanDefinition describes the base entitlements of a plan
type PlanDefinition struct {
	Type           PlanType
	Name           string
	MaxUsers       int
	MaxChannels    int
	MonthlyCredits map[string]int64
	GatewayPriceID string
}

func (p PlanDefinition) clone() PlanDefinition {
	credits := make(map[string]int64, len(p.MonthlyCredits))
	for k, v := range p.MonthlyCredits {
		credits[k] = v
	}
	p.MonthlyCredits = credits
	return p
}

// AddonDefinition describes a purchasable add-on
type AddonDefinition struct {
	Type           AddonType
	Name           string
	Dimension      LimitDimension
	GatewayPriceID string
}

// PlanCatalog is the static, read-only table of plans and add-ons.
// It is built once at startup and shared by reference.
type PlanCatalog struct {
	defaults     Limits
	plans        map[PlanType]PlanDefinition
	plansByPrice map[string]PlanType
	addons       map[AddonType]AddonDefinition
	addonByPrice map[string]AddonType
}

// NewPlanCatalog validates and freezes a plan catalog
func NewPlanCatalog(defaults Limits, plans []PlanDefinition, addons []AddonDefinition) (*PlanCatalog, error) {
	c := &PlanCatalog{
		defaults:     defaults,
		plans:        make(map[PlanType]PlanDefinition, len(plans)),
		plansByPrice: make(map[string]PlanType),
		addons:       make(map[AddonType]AddonDefinition, len(addons)),
		addonByPrice: make(map[string]AddonType),
	}
	for _, p := range plans {
		if p.Type == "" {
			return nil, shared.NewDomainError("INVALID_CATALOG", "Plan type cannot be empty")
		}
		if _, exists := c.plans[p.Type]; exists {
			return nil, shared.NewDomainError("INVALID_CATALOG", fmt.Sprintf("Duplicate plan: %s", p.Type))
		}
		for creditType, amount := range p.MonthlyCredits {
			if amount < 0 {
				return nil, shared.NewDomainError("INVALID_CATALOG",
					fmt.Sprintf("Plan %s has negative allowance for %s", p.Type, creditType))
			}
		}
		c.plans[p.Type] = p.clone()
		if p.GatewayPriceID != "" {
			c.plansByPrice[p.GatewayPriceID] = p.Type
		}
	}
	for _, a := range addons {
		if a.Type == "" {
			return nil, shared.NewDomainError("INVALID_CATALOG", "Add-on type cannot be empty")
		}
		if _, exists := c.addons[a.Type]; exists {
			return nil, shared.NewDomainError("INVALID_CATALOG", fmt.Sprintf("Duplicate add-on: %s", a.Type))
		}
		c.addons[a.Type] = a
		if a.GatewayPriceID != "" {
			c.addonByPrice[a.GatewayPriceID] = a.Type
		}
	}
	return c, nil
}

// DefaultPlanCatalog returns the built-in catalog used when no catalog is configured
func DefaultPlanCatalog() *PlanCatalog {
	c, _ := NewPlanCatalog(
		Limits{MaxUsers: 1, MaxChannels: 1},
		[]PlanDefinition{
			{Type: "free", Name: "Free", MaxUsers: 1, MaxChannels: 1,
				MonthlyCredits: map[string]int64{"ai": 50}},
			{Type: "starter", Name: "Starter", MaxUsers: 3, MaxChannels: 3,
				MonthlyCredits: map[string]int64{"ai": 500}},
			{Type: "pro", Name: "Pro", MaxUsers: 10, MaxChannels: 10,
				MonthlyCredits: map[string]int64{"ai": 2500}},
			{Type: "business", Name: "Business", MaxUsers: Unlimited, MaxChannels: 50,
				MonthlyCredits: map[string]int64{"ai": 10000}},
		},
		[]AddonDefinition{
			{Type: AddonTypeChannel, Name: "Extra channel", Dimension: LimitDimensionChannels},
			{Type: AddonTypeUser, Name: "Extra user", Dimension: LimitDimensionUsers},
		},
	)
	return c
}

// Defaults returns the limits of an account without a subscription
func (c *PlanCatalog) Defaults() Limits {
	return c.defaults
}

// Plan returns a copy of the plan definition
func (c *PlanCatalog) Plan(planType PlanType) (PlanDefinition, bool) {
	p, ok := c.plans[planType]
	if !ok {
		return PlanDefinition{}, false
	}
	return p.clone(), true
}

// PlanByPriceID looks up a plan by gateway price id
func (c *PlanCatalog) PlanByPriceID(priceID string) (PlanDefinition, bool) {
	t, ok := c.plansByPrice[priceID]
	if !ok {
		return PlanDefinition{}, false
	}
	return c.Plan(t)
}

// Addon returns the add-on definition
func (c *PlanCatalog) Addon(addonType AddonType) (AddonDefinition, bool) {
	a, ok := c.addons[addonType]
	return a, ok
}

// AddonByPriceID looks up an add-on by gateway price id
func (c *PlanCatalog) AddonByPriceID(priceID string) (AddonDefinition, bool) {
	t, ok := c.addonByPrice[priceID]
	if !ok {
		return AddonDefinition{}, false
	}
	return c.Addon(t)
}

// PlanName returns the display name for a plan type, falling back to the raw type
func (c *PlanCatalog) PlanName(planType PlanType) string {
	if p, ok := c.plans[planType]; ok && p.Name != "" {
		return p.Name
	}
	return string(planType)
}

// Plans returns copies of all plan definitions ordered by type
func (c *PlanCatalog) Plans() []PlanDefinition {
	plans := make([]PlanDefinition, 0, len(c.plans))
	for _, p := range c.plans {
		plans = append(plans, p.clone())
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].Type < plans[j].Type })
	return plans
}

// Addons returns all add-on definitions ordered by type
func (c *PlanCatalog) Addons() []AddonDefinition {
	addons := make([]AddonDefinition, 0, len(c.addons))
	for _, a := range c.addons {
		addons = append(addons, a)
	}
	sort.Slice(addons, func(i, j int) bool { return addons[i].Type < addons[j].Type })
	return addons
}
