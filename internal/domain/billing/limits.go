package billing

// EffectiveLimits is what an account is entitled to right now: the plan base plus active add-ons
type EffectiveLimits struct {
	MaxUsers        int
	MaxChannels     int
	BaseUsers       int
	BaseChannels    int
	AddonQuantities map[AddonType]int
}

// IsUnlimited reports whether a limit value has no upper bound
func IsUnlimited(limit int) bool {
	return limit < 0
}

// Exceeds reports whether usage is over limit, honoring unlimited limits
func Exceeds(usage, limit int) bool {
	return !IsUnlimited(limit) && usage > limit
}

// CalculateEffectiveLimits derives the effective limits of a subscription.
// A nil subscription, or one that never existed at the gateway, gets the catalog defaults.
// Only active add-ons contribute; add-on types the catalog does not map to a dimension
// are reported in AddonQuantities but do not change the limits.
func CalculateEffectiveLimits(catalog *PlanCatalog, sub *Subscription) EffectiveLimits {
	base := catalog.Defaults()
	if sub != nil && sub.HasSubscription() {
		base = Limits{MaxUsers: sub.MaxUsers, MaxChannels: sub.MaxChannels}
	}

	limits := EffectiveLimits{
		MaxUsers:        base.MaxUsers,
		MaxChannels:     base.MaxChannels,
		BaseUsers:       base.MaxUsers,
		BaseChannels:    base.MaxChannels,
		AddonQuantities: make(map[AddonType]int),
	}
	if sub == nil {
		return limits
	}

	for _, addon := range sub.ActiveAddons() {
		limits.AddonQuantities[addon.AddonType] += addon.Quantity
		dimension := dimensionOf(catalog, addon.AddonType)
		switch dimension {
		case LimitDimensionUsers:
			if !IsUnlimited(limits.MaxUsers) {
				limits.MaxUsers += addon.Quantity
			}
		case LimitDimensionChannels:
			if !IsUnlimited(limits.MaxChannels) {
				limits.MaxChannels += addon.Quantity
			}
		}
	}
	return limits
}

func dimensionOf(catalog *PlanCatalog, addonType AddonType) LimitDimension {
	if def, ok := catalog.Addon(addonType); ok {
		return def.Dimension
	}
	switch addonType {
	case AddonTypeUser:
		return LimitDimensionUsers
	case AddonTypeChannel:
		return LimitDimensionChannels
	}
	return ""
}
