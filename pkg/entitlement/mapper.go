package entitlement

import "strings"

// MappingPolicy controls what happens when an active subscription carries an
// unrecognized price id, or a one-time amount falls outside every recognized
// range. The business never settled whether such payments should be rejected
// or granted a conservative plan, so both behaviors are available.
type MappingPolicy int

const (
	// PolicyLenient grants a conservative default instead of rejecting:
	// unmapped active prices map to the free tier, unmapped one-time
	// amounts map to the basic tier.
	PolicyLenient MappingPolicy = iota

	// PolicyStrict returns ErrUnmappedPrice / ErrUnmappedAmount so the
	// caller can abort the event and leave the profile untouched.
	PolicyStrict
)

// Inclusive amount ranges for one-time checkouts, in minor currency units.
const (
	basicAmountMin int64 = 50
	basicAmountMax int64 = 200
	proAmountMin   int64 = 3000
	proAmountMax   int64 = 5000
)

// Synthetic price ids recorded in the subscription mirror for one-time
// payments, which have no real processor price attached.
const (
	OneTimePriceBasic = "price_onetime_basic"
	OneTimePricePro   = "price_onetime_pro"
)

// planQuotas is the static quota table per tier.
var planQuotas = map[Plan]PlanChange{
	PlanFree:  {Plan: PlanFree, AutomationsLimit: 1, AIMessagesLimit: 0},
	PlanBasic: {Plan: PlanBasic, AutomationsLimit: 10, AIMessagesLimit: 100},
	PlanPro:   {Plan: PlanPro, AutomationsLimit: 50, AIMessagesLimit: 1000},
}

// QuotasFor returns the quota limits for a plan. Unknown plans (including the
// legacy "custom" value) get the free-tier limits.
func QuotasFor(plan Plan) PlanChange {
	if q, ok := planQuotas[plan]; ok {
		return q
	}
	return planQuotas[PlanFree]
}

// MapperConfig configures the entitlement mapper.
type MapperConfig struct {
	// Prices maps processor price ids to plans. Lookups are
	// case-insensitive on the price id.
	Prices map[string]Plan

	// Policy selects the unmapped-price/amount behavior.
	// Defaults to PolicyLenient.
	Policy MappingPolicy
}

// Mapper translates price ids and one-time amounts into plan grants.
// It is pure: no I/O, no mutation, total under the lenient policy.
type Mapper struct {
	prices map[string]Plan
	policy MappingPolicy
}

// NewMapper creates a mapper from the given config.
func NewMapper(config MapperConfig) *Mapper {
	prices := make(map[string]Plan, len(config.Prices))
	for id, plan := range config.Prices {
		prices[strings.ToLower(strings.TrimSpace(id))] = plan
	}
	return &Mapper{prices: prices, policy: config.Policy}
}

// MapSubscription maps a subscription's price id and status to a grant.
// Any non-active status yields the free-tier defaults regardless of price:
// entitlements are only ever upgraded by a currently-active subscription.
func (m *Mapper) MapSubscription(priceID string, status SubscriptionStatus) (Grant, error) {
	if status != StatusActive {
		return grantFor(PlanFree, priceID), nil
	}

	key := strings.ToLower(strings.TrimSpace(priceID))
	if plan, ok := m.prices[key]; ok {
		return grantFor(plan, priceID), nil
	}

	if m.policy == PolicyStrict {
		return Grant{}, ErrUnmappedPrice
	}
	return grantFor(PlanFree, priceID), nil
}

// MapOneTimeAmount maps a one-time payment amount (minor currency units) to a
// grant with a synthetic price id. Amounts outside every recognized range
// default to basic under the lenient policy: granting a plan to a paying
// customer beats blocking them, at the cost of potentially mis-tiering
// unrecognized price points.
func (m *Mapper) MapOneTimeAmount(amountTotal int64) (Grant, error) {
	switch {
	case amountTotal >= basicAmountMin && amountTotal <= basicAmountMax:
		return grantFor(PlanBasic, OneTimePriceBasic), nil
	case amountTotal >= proAmountMin && amountTotal <= proAmountMax:
		return grantFor(PlanPro, OneTimePricePro), nil
	}

	if m.policy == PolicyStrict {
		return Grant{}, ErrUnmappedAmount
	}
	return grantFor(PlanBasic, OneTimePriceBasic), nil
}

func grantFor(plan Plan, priceID string) Grant {
	q := QuotasFor(plan)
	return Grant{
		Plan:             q.Plan,
		AutomationsLimit: q.AutomationsLimit,
		AIMessagesLimit:  q.AIMessagesLimit,
		PriceID:          priceID,
	}
}
