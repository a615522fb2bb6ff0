package stripe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/lluvia-ai/lluvia-billing/pkg/billing"
	"github.com/lluvia-ai/lluvia-billing/pkg/entitlement"
)

// handleOneTimePayment processes a paid, payment-mode checkout session.
//
// The session is re-fetched by id so the amount and buyer email come from
// Stripe, not from a replayable webhook payload. The order row is recorded
// first (write-once per session), then the buyer is resolved or lazily
// provisioned and the mapped plan applied.
func (p *Provider) handleOneTimePayment(ctx context.Context, sessionID string) error {
	session, err := p.fetchCheckoutSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if session.Customer == nil || session.Customer.ID == "" {
		p.logger.Info("checkout session has no customer reference, skipping",
			entitlement.Field{Key: "session_id", Value: sessionID})
		return nil
	}
	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		p.logger.Info("checkout session not paid, skipping",
			entitlement.Field{Key: "session_id", Value: sessionID},
			entitlement.Field{Key: "payment_status", Value: string(session.PaymentStatus)},
		)
		return nil
	}
	customerID := session.Customer.ID

	if err := p.store.RecordOrder(ctx, orderFromSession(session)); err != nil {
		return fmt.Errorf("failed to record order for session %s: %w", sessionID, err)
	}

	email := sessionEmail(session)
	if email == "" {
		p.logger.Error("one-time payment has no buyer email, cannot resolve user",
			entitlement.Field{Key: "session_id", Value: sessionID},
			entitlement.Field{Key: "customer_id", Value: customerID},
		)
		return billing.ErrEmailRequired
	}

	grant, err := p.mapper.MapOneTimeAmount(session.AmountTotal)
	if err != nil {
		return fmt.Errorf("amount %d: %w", session.AmountTotal, err)
	}

	profile, err := p.resolveOrProvision(ctx, email)
	if err != nil {
		return err
	}

	if err := p.applyGrant(ctx, profile, customerID, grant); err != nil {
		return err
	}

	// One-time purchases have no billing cycle; mirror them with the
	// synthetic price and an effectively-permanent validity window.
	now := time.Now().UTC()
	mirror := &entitlement.SubscriptionMirror{
		CustomerID:  customerID,
		PriceID:     grant.PriceID,
		PeriodStart: now.Unix(),
		PeriodEnd:   now.Add(oneTimeValidity).Unix(),
		Status:      entitlement.StatusActive,
		UpdatedAt:   now,
	}
	if err := p.store.UpsertSubscriptionMirror(ctx, mirror); err != nil {
		return fmt.Errorf("failed to upsert subscription mirror: %w", err)
	}

	p.logger.Info("one-time payment processed",
		entitlement.Field{Key: "session_id", Value: sessionID},
		entitlement.Field{Key: "customer_id", Value: customerID},
		entitlement.Field{Key: "user_id", Value: profile.ID},
		entitlement.Field{Key: "plan", Value: string(grant.Plan)},
		entitlement.Field{Key: "amount_total", Value: session.AmountTotal},
	)
	return nil
}

func (p *Provider) fetchCheckoutSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error) {
	startTime := time.Now()
	session, err := p.api.CheckoutSession(ctx, sessionID)
	p.metrics.RecordAPICallDuration(providerName, "/checkout/sessions", time.Since(startTime))
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/checkout/sessions", "error")
		return nil, fmt.Errorf("%w: failed to retrieve checkout session %s: %v",
			billing.ErrProviderAPIError, sessionID, err)
	}
	p.metrics.RecordAPICall(providerName, "/checkout/sessions", "200")
	return session, nil
}

func orderFromSession(session *stripe.CheckoutSession) *entitlement.Order {
	order := &entitlement.Order{
		SessionID:      session.ID,
		CustomerID:     session.Customer.ID,
		AmountSubtotal: session.AmountSubtotal,
		AmountTotal:    session.AmountTotal,
		Currency:       string(session.Currency),
		PaymentStatus:  string(session.PaymentStatus),
		Status:         entitlement.OrderStatusCompleted,
		CreatedAt:      time.Now().UTC(),
	}
	if session.PaymentIntent != nil {
		order.PaymentIntentID = session.PaymentIntent.ID
	}
	return order
}

// emailLocalPart is the default display name for provisioned buyers.
func emailLocalPart(email string) string {
	if i := strings.Index(email, "@"); i > 0 {
		return email[:i]
	}
	return email
}
