package stripe

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v83"

	"github.com/lluvia-ai/lluvia-billing/pkg/entitlement"
)

// eventKind is the closed set of event classes this receiver understands.
// Dispatch goes through this enum rather than raw type strings, so handling a
// new Stripe event type is a visible decision here instead of a silent
// fallthrough.
type eventKind int

const (
	kindUnhandled eventKind = iota
	kindCheckoutCompleted
	kindSubscriptionCreated
	kindSubscriptionUpdated
	kindSubscriptionDeleted
	kindInvoicePaid
	kindPaymentIntentSucceeded
)

func classifyEvent(eventType stripe.EventType) eventKind {
	switch string(eventType) {
	case "checkout.session.completed":
		return kindCheckoutCompleted
	case "customer.subscription.created":
		return kindSubscriptionCreated
	case "customer.subscription.updated":
		return kindSubscriptionUpdated
	case "customer.subscription.deleted":
		return kindSubscriptionDeleted
	case "invoice.payment_succeeded":
		return kindInvoicePaid
	case "payment_intent.succeeded":
		return kindPaymentIntentSucceeded
	default:
		return kindUnhandled
	}
}

// routeEvent inspects a verified event and dispatches it to the subscription
// or one-time-payment path. Events whose object carries no customer reference
// are logged no-ops: nothing can be reconciled without a customer.
func (p *Provider) routeEvent(ctx context.Context, event *stripe.Event) error {
	switch classifyEvent(event.Type) {
	case kindCheckoutCompleted:
		return p.handleCheckoutCompleted(ctx, event)

	case kindSubscriptionCreated, kindSubscriptionUpdated, kindSubscriptionDeleted:
		return p.handleSubscriptionLifecycle(ctx, event)

	case kindInvoicePaid:
		return p.handleInvoicePaid(ctx, event)

	case kindPaymentIntentSucceeded:
		// Fires alongside the checkout/invoice events that are already
		// handled; acting on it would double-process the payment.
		p.logger.Debug("ignoring payment_intent.succeeded",
			entitlement.Field{Key: "event_id", Value: event.ID})
		return nil

	default:
		// Forward-compatible with Stripe adding event types.
		p.logger.Debug("ignoring unhandled event type",
			entitlement.Field{Key: "event_id", Value: event.ID},
			entitlement.Field{Key: "event_type", Value: string(event.Type)},
		)
		return nil
	}
}

func (p *Provider) handleCheckoutCompleted(ctx context.Context, event *stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("failed to unmarshal checkout session: %w", err)
	}

	if session.Customer == nil || session.Customer.ID == "" {
		p.logNoCustomer(event)
		return nil
	}

	if session.Mode == stripe.CheckoutSessionModePayment {
		if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			p.logger.Info("skipping unpaid checkout session",
				entitlement.Field{Key: "session_id", Value: session.ID},
				entitlement.Field{Key: "payment_status", Value: string(session.PaymentStatus)},
			)
			return nil
		}
		// Only the session id is taken from the payload; the one-time
		// path re-fetches the authoritative object.
		return p.handleOneTimePayment(ctx, session.ID)
	}

	return p.syncCustomer(ctx, session.Customer.ID, sessionEmail(&session))
}

func (p *Provider) handleSubscriptionLifecycle(ctx context.Context, event *stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to unmarshal subscription: %w", err)
	}

	if sub.Customer == nil || sub.Customer.ID == "" {
		p.logNoCustomer(event)
		return nil
	}

	// The embedded snapshot may be stale or delivered out of order; the
	// synchronizer re-fetches current state, so only the customer id is
	// taken from the payload.
	return p.syncCustomer(ctx, sub.Customer.ID, "")
}

func (p *Provider) handleInvoicePaid(ctx context.Context, event *stripe.Event) error {
	customerID := customerRefFromRaw(event.Data.Raw)
	if customerID == "" {
		p.logNoCustomer(event)
		return nil
	}
	return p.syncCustomer(ctx, customerID, "")
}

func (p *Provider) logNoCustomer(event *stripe.Event) {
	p.logger.Info("event object has no customer reference, skipping",
		entitlement.Field{Key: "event_id", Value: event.ID},
		entitlement.Field{Key: "event_type", Value: string(event.Type)},
	)
}

// customerRefFromRaw extracts a customer id from a raw event object. Stripe
// serializes the customer as either a bare id string or an expanded object.
func customerRefFromRaw(raw json.RawMessage) string {
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	switch v := obj["customer"].(type) {
	case string:
		return v
	case map[string]interface{}:
		if id, ok := v["id"].(string); ok {
			return id
		}
	}
	return ""
}

func sessionEmail(session *stripe.CheckoutSession) string {
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		return session.CustomerDetails.Email
	}
	return session.CustomerEmail
}
