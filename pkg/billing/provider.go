package billing

import (
	"context"
	"net/http"
)

// Provider is the generic interface a payment backend must implement.
// This keeps the product decoupled from the concrete processor.
type Provider interface {
	// Name returns the provider name (e.g. "stripe")
	Name() string

	// WebhookHandler returns the HTTP handler that processes real-time
	// events. The implementation handles method filtering, signature
	// verification, parsing and entitlement updates internally.
	WebhookHandler() http.Handler

	// SyncCustomer forces a reconciliation of a processor customer's
	// subscription state into the local store. Used by restore-purchase
	// flows and nightly reconciliation jobs, in addition to webhooks.
	SyncCustomer(ctx context.Context, customerID string) error
}
