package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/lluvia-ai/lluvia-billing/pkg/entitlement"
)

// applyGrant writes the resolved plan and quotas to the user's profile and
// mirrors the customer linkage. Both writes are upserts keyed on natural ids,
// so replaying the same event converges on the same rows.
func (p *Provider) applyGrant(
	ctx context.Context, profile *entitlement.UserProfile, customerID string, grant entitlement.Grant,
) error {
	change := &entitlement.PlanChange{
		Plan:             grant.Plan,
		AutomationsLimit: grant.AutomationsLimit,
		AIMessagesLimit:  grant.AIMessagesLimit,
	}
	if err := p.store.ApplyPlanChange(ctx, profile.ID, change); err != nil {
		return fmt.Errorf("failed to apply plan change for user %s: %w", profile.ID, err)
	}

	if profile.Plan != grant.Plan {
		p.metrics.RecordPlanChange(providerName, string(profile.Plan), string(grant.Plan))
	}

	mapping := &entitlement.CustomerMapping{
		UserID:     profile.ID,
		CustomerID: customerID,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := p.store.UpsertCustomerMapping(ctx, mapping); err != nil {
		return fmt.Errorf("failed to upsert customer mapping for user %s: %w", profile.ID, err)
	}

	p.logger.Info("entitlement applied",
		entitlement.Field{Key: "user_id", Value: profile.ID},
		entitlement.Field{Key: "customer_id", Value: customerID},
		entitlement.Field{Key: "plan", Value: string(grant.Plan)},
		entitlement.Field{Key: "automations_limit", Value: grant.AutomationsLimit},
		entitlement.Field{Key: "ai_messages_limit", Value: grant.AIMessagesLimit},
	)
	return nil
}
