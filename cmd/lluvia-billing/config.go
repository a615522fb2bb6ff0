package main

import (
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// config is the service configuration, loaded from the environment with an
// optional .env file for local development.
type config struct {
	Addr        string `envconfig:"ADDR" default:":8080"`
	Environment string `envconfig:"ENV" default:"development"`

	// DatabaseURL selects the PostgreSQL store. When empty, the service
	// falls back to the in-memory store (local development only).
	DatabaseURL string `envconfig:"DATABASE_URL"`

	StripeAPIKey        string `envconfig:"STRIPE_API_KEY" required:"true"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET" required:"true"`
	StripeBasicPriceID  string `envconfig:"STRIPE_BASIC_PRICE_ID"`
	StripeProPriceID    string `envconfig:"STRIPE_PRO_PRICE_ID"`

	// PricePolicy is "lenient" or "strict".
	PricePolicy string `envconfig:"PRICE_POLICY" default:"lenient"`

	IdentityBaseURL    string `envconfig:"IDENTITY_BASE_URL"`
	IdentityServiceKey string `envconfig:"IDENTITY_SERVICE_KEY"`

	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"*"`
}

func loadConfig() (*config, error) {
	_ = godotenv.Load()

	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
