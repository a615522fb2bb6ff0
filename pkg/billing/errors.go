package billing

import "errors"

var (
	// ErrProviderNotConfigured is returned when a provider is not properly configured
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrInvalidWebhookSignature is returned when webhook signature validation fails
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when a webhook payload cannot be parsed
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrEmailRequired is returned when a payment event carries no buyer email,
	// which makes the user unresolvable
	ErrEmailRequired = errors.New("payment event has no buyer email")

	// ErrNoCustomer is returned when an event's object carries no customer
	// reference and is therefore not actionable
	ErrNoCustomer = errors.New("event object has no customer reference")

	// ErrProviderAPIError is returned when the provider's API returns an error
	ErrProviderAPIError = errors.New("billing provider API error")
)
