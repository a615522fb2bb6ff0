package billing

import (
	"net/http"

	"github.com/lluvia-ai/lluvia-billing/pkg/entitlement"
	"github.com/lluvia-ai/lluvia-billing/pkg/identity"
)

// Config defines the standard configuration all providers should accept.
// Clients are injected here rather than constructed at package load, so tests
// can substitute fakes without environment-variable gymnastics.
type Config struct {
	// Store persists profiles, customer mappings, subscription mirrors and
	// orders. Required.
	Store entitlement.Store

	// Mapper translates price ids and amounts into plan grants. Required.
	Mapper *entitlement.Mapper

	// Identity provisions pre-verified accounts for buyers without a
	// profile. Required for providers that handle one-time payments.
	Identity identity.Provisioner

	// Logger receives structured processing logs. Defaults to NoopLogger.
	Logger entitlement.Logger

	// Metrics is an optional metrics collector for billing operations.
	// If nil, metrics are silently ignored (no-op).
	// Use billing/metrics/prometheus.NewMetrics for Prometheus metrics.
	Metrics Metrics

	// HTTPClient is an optional HTTP client for provider API calls.
	// If nil, a default client with a 10s timeout is used.
	HTTPClient *http.Client
}
