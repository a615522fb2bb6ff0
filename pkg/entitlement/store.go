package entitlement

import "context"

// Store defines the interface for entitlement persistence.
// All writes are idempotent upserts keyed on natural unique identifiers
// (user id, email, customer id, session id), so replaying a webhook event
// produces the same end state as processing it once.
type Store interface {
	// GetProfile retrieves a profile by user id.
	// Returns ErrProfileNotFound when none exists.
	GetProfile(ctx context.Context, userID string) (*UserProfile, error)

	// GetProfileByEmail retrieves a profile by exact email match.
	// Returns ErrProfileNotFound when none exists.
	GetProfileByEmail(ctx context.Context, email string) (*UserProfile, error)

	// CreateProfile inserts a brand-new profile row.
	// Returns ErrEmailTaken when a profile with the same email already
	// exists, so callers can re-resolve after losing a provisioning race.
	CreateProfile(ctx context.Context, profile *UserProfile) error

	// ApplyPlanChange updates the plan and quota limit fields of a profile
	// and refreshes its updated_at timestamp. Usage counters and the
	// display name are left untouched.
	ApplyPlanChange(ctx context.Context, userID string, change *PlanChange) error

	// UserIDForCustomer resolves the local user for a processor customer id
	// via the customer mapping. Returns ErrMappingNotFound when none exists.
	UserIDForCustomer(ctx context.Context, customerID string) (string, error)

	// UpsertCustomerMapping creates or replaces the mapping row for the
	// mapping's user id.
	UpsertCustomerMapping(ctx context.Context, mapping *CustomerMapping) error

	// UpsertSubscriptionMirror creates or overwrites the mirror row for the
	// mirror's customer id. The row is replaced whole; fields are never
	// merged across calls.
	UpsertSubscriptionMirror(ctx context.Context, mirror *SubscriptionMirror) error

	// GetSubscriptionMirror retrieves the mirror row for a customer id.
	// Returns ErrMirrorNotFound when none exists.
	GetSubscriptionMirror(ctx context.Context, customerID string) (*SubscriptionMirror, error)

	// RecordOrder inserts an order row once per session id. Recording the
	// same session again is a no-op, not an error.
	RecordOrder(ctx context.Context, order *Order) error
}
