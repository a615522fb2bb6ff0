// Command lluvia-billing runs the billing webhook service: it receives Stripe
// events, mirrors subscription state, and keeps user plan entitlements in sync.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lluvia-ai/lluvia-billing/pkg/billing"
	prommetrics "github.com/lluvia-ai/lluvia-billing/pkg/billing/metrics/prometheus"
	stripeprovider "github.com/lluvia-ai/lluvia-billing/pkg/billing/stripe"
	"github.com/lluvia-ai/lluvia-billing/pkg/entitlement"
	zerologger "github.com/lluvia-ai/lluvia-billing/pkg/entitlement/logger/zerolog"
	"github.com/lluvia-ai/lluvia-billing/pkg/identity"
	"github.com/lluvia-ai/lluvia-billing/storage/memory"
	"github.com/lluvia-ai/lluvia-billing/storage/postgres"
)

const shutdownTimeout = 15 * time.Second

func main() {
	zlog := zerolog.New(os.Stderr).With().Timestamp().Str("service", "lluvia-billing").Logger()

	if err := run(zlog); err != nil {
		zlog.Fatal().Err(err).Msg("service exited")
	}
}

func run(zlog zerolog.Logger) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Environment == "development" {
		zlog = zlog.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := newStore(ctx, cfg, zlog)
	if err != nil {
		return err
	}
	defer closeStore()

	var provisioner identity.Provisioner
	if cfg.IdentityBaseURL != "" {
		client, err := identity.NewAdminClient(identity.AdminConfig{
			BaseURL:    cfg.IdentityBaseURL,
			ServiceKey: cfg.IdentityServiceKey,
		})
		if err != nil {
			return err
		}
		provisioner = client
	} else {
		zlog.Warn().Msg("identity provisioning disabled, new buyers will not get accounts")
	}

	provider, err := stripeprovider.NewProvider(stripeprovider.Config{
		Config: billing.Config{
			Store:    store,
			Mapper:   newMapper(cfg),
			Identity: provisioner,
			Logger:   zerologger.NewLogger(zlog),
			Metrics:  prommetrics.DefaultMetrics("lluvia"),
		},
		APIKey:        cfg.StripeAPIKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		AllowedOrigin: cfg.AllowedOrigin,
	})
	if err != nil {
		return err
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Method(http.MethodPost, "/webhooks/stripe", provider.WebhookHandler())
	router.Method(http.MethodOptions, "/webhooks/stripe", provider.WebhookHandler())
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info().Str("addr", cfg.Addr).Msg("listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	zlog.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("server shutdown failed")
	}

	// Acknowledged webhook events may still be processing; drain them so
	// entitlement writes are not abandoned mid-flight.
	provider.Wait()
	zlog.Info().Msg("shutdown complete")
	return nil
}

func newStore(ctx context.Context, cfg *config, zlog zerolog.Logger) (entitlement.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		zlog.Warn().Msg("DATABASE_URL not set, using in-memory store")
		return memory.New(), func() {}, nil
	}

	pgConfig := postgres.DefaultConfig()
	pgConfig.ConnectionString = cfg.DatabaseURL
	store, err := postgres.New(ctx, pgConfig)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func newMapper(cfg *config) *entitlement.Mapper {
	prices := make(map[string]entitlement.Plan)
	if cfg.StripeBasicPriceID != "" {
		prices[cfg.StripeBasicPriceID] = entitlement.PlanBasic
	}
	if cfg.StripeProPriceID != "" {
		prices[cfg.StripeProPriceID] = entitlement.PlanPro
	}

	policy := entitlement.PolicyLenient
	if cfg.PricePolicy == "strict" {
		policy = entitlement.PolicyStrict
	}

	return entitlement.NewMapper(entitlement.MapperConfig{Prices: prices, Policy: policy})
}
