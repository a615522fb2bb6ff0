// Package stripe implements the billing.Provider interface for Stripe.
//
// The webhook receiver is the entry point: it verifies event signatures,
// acknowledges receipt immediately (Stripe retries on slow responses), and
// reconciles plan entitlements in the background. Subscription state is always
// re-fetched live from Stripe rather than trusted from the event payload, so
// out-of-order deliveries self-correct.
package stripe

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lluvia-ai/lluvia-billing/pkg/billing"
	"github.com/lluvia-ai/lluvia-billing/pkg/billing/internal"
	"github.com/lluvia-ai/lluvia-billing/pkg/entitlement"
	"github.com/lluvia-ai/lluvia-billing/pkg/identity"
)

const (
	providerName             = "stripe"
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	maxWebhookBodyBytes      = 256 * 1024

	// oneTimeValidity is the mirror window for one-time purchases, which
	// have no billing cycle to anchor to. Effectively permanent.
	oneTimeValidity = 365 * 24 * time.Hour
)

// Config extends billing.Config with Stripe-specific options
type Config struct {
	billing.Config // Base config (Store, Mapper, Identity, Logger, Metrics)

	// APIKey is the Stripe secret key used for outbound API calls.
	APIKey string

	// WebhookSecret is the endpoint signing secret ("whsec_...") used to
	// verify inbound event signatures.
	WebhookSecret string

	// API overrides the Stripe-backed API client. Tests inject fakes here;
	// when nil, a client is built from APIKey.
	API API

	// AllowedOrigin is the CORS allow-origin echoed on preflight responses.
	// Defaults to "*".
	AllowedOrigin string
}

// Provider implements the billing.Provider interface for Stripe
type Provider struct {
	store         entitlement.Store
	mapper        *entitlement.Mapper
	identity      identity.Provisioner
	logger        entitlement.Logger
	metrics       billing.Metrics
	api           API
	webhookSecret []byte
	allowedOrigin string
	rateLimiter   *internal.RateLimiter

	// provisioning collapses concurrent account creation for the same
	// email within this process; cross-process races are resolved by the
	// store's unique email constraint.
	provisioning singleflight.Group

	// tasks tracks post-acknowledgment background work so shutdown (and
	// tests) can drain it.
	tasks sync.WaitGroup
}

// NewProvider creates a new Stripe billing provider
func NewProvider(config Config) (*Provider, error) {
	if config.Store == nil || config.Mapper == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	api := config.API
	if api == nil {
		apiKey := strings.TrimSpace(config.APIKey)
		if apiKey == "" {
			return nil, billing.ErrProviderNotConfigured
		}
		api = newAPIClient(apiKey, config.HTTPClient)
	}

	logger := config.Logger
	if logger == nil {
		logger = &entitlement.NoopLogger{}
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	allowedOrigin := config.AllowedOrigin
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}

	return &Provider{
		store:         config.Store,
		mapper:        config.Mapper,
		identity:      config.Identity,
		logger:        logger,
		metrics:       metrics,
		api:           api,
		webhookSecret: []byte(strings.TrimSpace(config.WebhookSecret)),
		allowedOrigin: allowedOrigin,
		rateLimiter:   internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks
func (p *Provider) WebhookHandler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleWebhook))
}

// SyncCustomer reconciles a Stripe customer's subscription state into the
// local store. Exposed for restore-purchase flows and reconciliation jobs.
func (p *Provider) SyncCustomer(ctx context.Context, customerID string) error {
	return p.syncCustomer(ctx, customerID, "")
}

// Wait blocks until all in-flight background webhook work has finished.
// Call during graceful shutdown so acknowledged events are not abandoned.
func (p *Provider) Wait() {
	p.tasks.Wait()
}
