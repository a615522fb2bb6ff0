package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lluvia-ai/lluvia-billing/pkg/billing"
	"github.com/lluvia-ai/lluvia-billing/pkg/entitlement"
	"github.com/lluvia-ai/lluvia-billing/pkg/identity"
)

// resolveOrProvision finds the profile for a buyer email, provisioning a
// brand-new pre-verified account when none exists. The buyer already paid
// through hosted checkout, so the email is treated as deliverable.
//
// Races are handled on two levels: concurrent webhook deliveries within this
// process are collapsed by singleflight, and a cross-process loser of the
// unique-email constraint re-resolves to the row that won.
func (p *Provider) resolveOrProvision(ctx context.Context, email string) (*entitlement.UserProfile, error) {
	profile, err := p.store.GetProfileByEmail(ctx, email)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, entitlement.ErrProfileNotFound) {
		return nil, fmt.Errorf("failed to look up profile by email: %w", err)
	}

	v, err, _ := p.provisioning.Do(strings.ToLower(email), func() (interface{}, error) {
		return p.provision(ctx, email)
	})
	if err != nil {
		return nil, err
	}
	return v.(*entitlement.UserProfile), nil
}

func (p *Provider) provision(ctx context.Context, email string) (*entitlement.UserProfile, error) {
	// Re-check inside the flight: an earlier delivery may have finished
	// provisioning while this one waited.
	if profile, err := p.store.GetProfileByEmail(ctx, email); err == nil {
		return profile, nil
	}

	if p.identity == nil {
		return nil, fmt.Errorf("%w: identity provisioner required for new-user payments",
			billing.ErrProviderNotConfigured)
	}

	name := emailLocalPart(email)
	userID, err := p.identity.CreateUser(ctx, identity.CreateUserRequest{Email: email, Name: name})
	if err != nil {
		p.metrics.RecordUserProvisioned(providerName, "error")
		return nil, fmt.Errorf("failed to provision identity for %s: %w", email, err)
	}

	// Free placeholder values; the caller applies the real grant right after.
	free := entitlement.QuotasFor(entitlement.PlanFree)
	now := time.Now().UTC()
	profile := &entitlement.UserProfile{
		ID:               userID,
		Email:            email,
		Name:             name,
		Plan:             entitlement.PlanFree,
		AutomationsLimit: free.AutomationsLimit,
		AIMessagesLimit:  free.AIMessagesLimit,
		Status:           "active",
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := p.store.CreateProfile(ctx, profile); err != nil {
		if errors.Is(err, entitlement.ErrEmailTaken) {
			// Lost a cross-process race; the winning row is the user.
			winner, lookupErr := p.store.GetProfileByEmail(ctx, email)
			if lookupErr != nil {
				return nil, fmt.Errorf("failed to re-resolve after email conflict: %w", lookupErr)
			}
			return winner, nil
		}
		p.metrics.RecordUserProvisioned(providerName, "error")
		return nil, fmt.Errorf("failed to create profile for %s: %w", email, err)
	}

	p.metrics.RecordUserProvisioned(providerName, "success")
	p.logger.Info("provisioned new user from payment",
		entitlement.Field{Key: "user_id", Value: userID},
		entitlement.Field{Key: "email", Value: email},
	)
	return profile, nil
}
