package stripe

import (
	"context"
	"net/http"

	"github.com/stripe/stripe-go/v83"
)

// API is the slice of the Stripe API this provider consumes. Webhook payloads
// are treated as triggers only; authoritative state always comes back through
// these two lookups. Injected so tests can substitute fakes.
type API interface {
	// LatestSubscription returns the customer's most recent subscription
	// with the default payment method expanded, or nil when the customer
	// has none. At most one subscription per customer is assumed.
	LatestSubscription(ctx context.Context, customerID string) (*stripe.Subscription, error)

	// CheckoutSession retrieves a checkout session by id.
	CheckoutSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error)
}

// apiClient implements API using the official Stripe client.
type apiClient struct {
	client *stripe.Client
}

func newAPIClient(apiKey string, httpClient *http.Client) *apiClient {
	var opts []stripe.ClientOption
	if httpClient != nil {
		opts = append(opts, stripe.WithBackends(stripe.NewBackends(httpClient)))
	}
	return &apiClient{client: stripe.NewClient(apiKey, opts...)}
}

func (c *apiClient) LatestSubscription(ctx context.Context, customerID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionListParams{}
	params.Customer = stripe.String(customerID)
	params.Status = stripe.String("all")
	params.Limit = stripe.Int64(1)
	params.AddExpand("data.default_payment_method")

	for sub, err := range c.client.V1Subscriptions.List(ctx, params) {
		if err != nil {
			return nil, err
		}
		return sub, nil
	}
	return nil, nil
}

func (c *apiClient) CheckoutSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error) {
	return c.client.V1CheckoutSessions.Retrieve(ctx, sessionID, nil)
}
