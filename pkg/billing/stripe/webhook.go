package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/lluvia-ai/lluvia-billing/pkg/billing/internal"
	"github.com/lluvia-ai/lluvia-billing/pkg/entitlement"
)

// handleWebhook receives Stripe webhook deliveries.
//
// An unverified payload must never reach entitlement logic, so signature
// verification is a hard synchronous boundary. Once verified, the event is
// acknowledged immediately and processed in the background: Stripe enforces
// short response SLAs and retries slow endpoints, which would turn long
// entitlement work into duplicate deliveries.
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setSecurityHeaders(w)

	switch r.Method {
	case http.MethodOptions:
		p.writePreflight(w)
		return
	case http.MethodPost:
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if len(p.webhookSecret) == 0 {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	body, err := internal.ReadBodyStrict(w, r, maxWebhookBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	event, err := stripe.ConstructEvent(body, sig, string(p.webhookSecret))
	if err != nil {
		http.Error(w, "signature verification failed", http.StatusBadRequest)
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		p.logger.Warn("webhook signature verification failed",
			entitlement.Field{Key: "error", Value: err.Error()},
			entitlement.Field{Key: "remote_ip", Value: internal.ClientIP(r)},
		)
		return
	}

	// Acknowledge before processing. From here on, failures are logged,
	// never surfaced to Stripe: the response is already on the wire.
	if err := internal.WriteJSON(w, http.StatusOK, map[string]bool{"received": true}); err != nil {
		p.logger.Warn("failed to write webhook acknowledgment",
			entitlement.Field{Key: "error", Value: err.Error()})
	}

	// Detach from the request context so the response completing does not
	// cancel the entitlement work.
	ctx := context.WithoutCancel(r.Context())
	p.tasks.Add(1)
	go func() {
		defer p.tasks.Done()
		p.processEvent(ctx, &event, startTime)
	}()
}

// processEvent is the background boundary: every escaping error or panic is
// converted into a structured log entry.
func (p *Provider) processEvent(ctx context.Context, event *stripe.Event, startTime time.Time) {
	eventType := string(event.Type)
	if eventType == "" {
		eventType = "unknown"
	}

	defer func() {
		if rec := recover(); rec != nil {
			p.metrics.RecordWebhookEvent(providerName, eventType, "error")
			p.metrics.RecordWebhookError(providerName, "panic")
			p.logger.Error("panic while processing webhook event",
				entitlement.Field{Key: "event_id", Value: event.ID},
				entitlement.Field{Key: "event_type", Value: eventType},
				entitlement.Field{Key: "panic", Value: fmt.Sprint(rec)},
			)
		}
		p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
	}()

	if err := p.routeEvent(ctx, event); err != nil {
		p.metrics.RecordWebhookEvent(providerName, eventType, "error")
		p.metrics.RecordWebhookError(providerName, "processing_error")
		p.logger.Error("failed to process webhook event",
			entitlement.Field{Key: "event_id", Value: event.ID},
			entitlement.Field{Key: "event_type", Value: eventType},
			entitlement.Field{Key: "error", Value: err.Error()},
		)
		return
	}

	p.metrics.RecordWebhookEvent(providerName, eventType, "success")
}

func (p *Provider) writePreflight(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", p.allowedOrigin)
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Stripe-Signature")
	w.WriteHeader(http.StatusNoContent)
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
