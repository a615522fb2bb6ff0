package stripe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/lluvia-ai/lluvia-billing/pkg/billing"
	"github.com/lluvia-ai/lluvia-billing/pkg/entitlement"
)

// syncCustomer mirrors a customer's current subscription state from Stripe
// and applies the resulting plan entitlement.
//
// The mirror row is overwritten whole on every sync: re-fetching live state
// instead of trusting event snapshots means a stale delivery arriving late
// simply rewrites the same current truth.
//
// emailHint carries the buyer email from a checkout session, used to resolve
// (or provision) the local user on a customer's first checkout, before any
// mapping row exists.
func (p *Provider) syncCustomer(ctx context.Context, customerID, emailHint string) error {
	startTime := time.Now()
	defer func() {
		p.metrics.RecordCustomerSyncDuration(providerName, time.Since(startTime))
	}()

	sub, err := p.fetchLatestSubscription(ctx, customerID)
	if err != nil {
		p.metrics.RecordCustomerSync(providerName, "error")
		return err
	}

	if sub == nil {
		// Customer exists but has never had a subscription.
		mirror := &entitlement.SubscriptionMirror{
			CustomerID: customerID,
			Status:     entitlement.StatusNotStarted,
			UpdatedAt:  time.Now().UTC(),
		}
		if err := p.store.UpsertSubscriptionMirror(ctx, mirror); err != nil {
			p.metrics.RecordCustomerSync(providerName, "error")
			return fmt.Errorf("failed to upsert subscription mirror: %w", err)
		}
		p.logger.Info("customer has no subscription",
			entitlement.Field{Key: "customer_id", Value: customerID})
		p.metrics.RecordCustomerSync(providerName, "success")
		return nil
	}

	mirror := mirrorFromSubscription(customerID, sub)
	if err := p.store.UpsertSubscriptionMirror(ctx, mirror); err != nil {
		p.metrics.RecordCustomerSync(providerName, "error")
		return fmt.Errorf("failed to upsert subscription mirror: %w", err)
	}

	grant, err := p.mapper.MapSubscription(mirror.PriceID, mirror.Status)
	if err != nil {
		// Strict policy: leave the profile untouched for unmapped prices.
		p.metrics.RecordCustomerSync(providerName, "error")
		return fmt.Errorf("price %s (status %s): %w", mirror.PriceID, mirror.Status, err)
	}

	profile, err := p.resolveSubscriber(ctx, customerID, emailHint)
	if err != nil {
		p.metrics.RecordCustomerSync(providerName, "error")
		return err
	}
	if profile == nil {
		// Mirror is current, but nothing links this customer to a local
		// user yet. A later checkout event carrying the email will.
		p.logger.Warn("no local user for customer, entitlement not applied",
			entitlement.Field{Key: "customer_id", Value: customerID})
		p.metrics.RecordCustomerSync(providerName, "success")
		return nil
	}

	if err := p.applyGrant(ctx, profile, customerID, grant); err != nil {
		p.metrics.RecordCustomerSync(providerName, "error")
		return err
	}

	p.metrics.RecordCustomerSync(providerName, "success")
	return nil
}

func (p *Provider) fetchLatestSubscription(ctx context.Context, customerID string) (*stripe.Subscription, error) {
	startTime := time.Now()
	sub, err := p.api.LatestSubscription(ctx, customerID)
	p.metrics.RecordAPICallDuration(providerName, "/subscriptions/list", time.Since(startTime))
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/subscriptions/list", "error")
		return nil, fmt.Errorf("%w: failed to list subscriptions for %s: %v",
			billing.ErrProviderAPIError, customerID, err)
	}
	p.metrics.RecordAPICall(providerName, "/subscriptions/list", "200")
	return sub, nil
}

// resolveSubscriber finds the local user for a customer: first through the
// customer mapping, then through the checkout email when provided. Returns
// (nil, nil) when the customer cannot be linked to any user.
func (p *Provider) resolveSubscriber(
	ctx context.Context, customerID, emailHint string,
) (*entitlement.UserProfile, error) {
	userID, err := p.store.UserIDForCustomer(ctx, customerID)
	switch {
	case err == nil:
		profile, err := p.store.GetProfile(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to load profile %s: %w", userID, err)
		}
		return profile, nil
	case errors.Is(err, entitlement.ErrMappingNotFound):
	default:
		return nil, fmt.Errorf("failed to resolve customer mapping: %w", err)
	}

	if emailHint == "" {
		return nil, nil
	}
	return p.resolveOrProvision(ctx, emailHint)
}

// mirrorFromSubscription builds the local mirror row for a live subscription
// snapshot. Price and billing period come from the first subscription item;
// payment-method details are copied only when Stripe returned the default
// payment method as an expanded object rather than a bare reference.
func mirrorFromSubscription(customerID string, sub *stripe.Subscription) *entitlement.SubscriptionMirror {
	mirror := &entitlement.SubscriptionMirror{
		CustomerID:        customerID,
		SubscriptionID:    sub.ID,
		Status:            entitlement.SubscriptionStatus(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		UpdatedAt:         time.Now().UTC(),
	}

	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			mirror.PriceID = item.Price.ID
		}
		mirror.PeriodStart = item.CurrentPeriodStart
		mirror.PeriodEnd = item.CurrentPeriodEnd
	}

	if pm := sub.DefaultPaymentMethod; pm != nil && pm.Card != nil {
		mirror.PaymentMethodBrand = string(pm.Card.Brand)
		mirror.PaymentMethodLast4 = pm.Card.Last4
	}

	return mirror
}
