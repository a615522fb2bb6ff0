package entitlement

import "time"

// Plan identifies a subscription tier
type Plan string

const (
	// PlanFree is the default tier for users without an active subscription
	PlanFree Plan = "free"
	// PlanBasic is the entry paid tier
	PlanBasic Plan = "basic"
	// PlanPro is the top paid tier
	PlanPro Plan = "pro"
	// PlanCustom is a legacy value still present in older profile rows.
	// It is never assigned by the mapper.
	PlanCustom Plan = "custom"
)

// SubscriptionStatus mirrors the payment processor's subscription states,
// plus a local sentinel for customers with no subscription yet.
type SubscriptionStatus string

const (
	StatusActive            SubscriptionStatus = "active"
	StatusTrialing          SubscriptionStatus = "trialing"
	StatusPastDue           SubscriptionStatus = "past_due"
	StatusCanceled          SubscriptionStatus = "canceled"
	StatusUnpaid            SubscriptionStatus = "unpaid"
	StatusIncomplete        SubscriptionStatus = "incomplete"
	StatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	StatusPaused            SubscriptionStatus = "paused"
	// StatusNotStarted marks a mirror row for a customer that has no
	// subscription at all (e.g. one-time buyers).
	StatusNotStarted SubscriptionStatus = "not_started"
)

// UserProfile is the local per-user row carrying plan entitlements and
// usage counters. Usage counters are owned by the product surface; plan
// writes here must never touch them.
type UserProfile struct {
	ID               string
	Email            string
	Name             string
	Plan             Plan
	AutomationsUsed  int
	AutomationsLimit int
	AIMessagesUsed   int
	AIMessagesLimit  int
	Status           string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CustomerMapping links a local user to a payment-processor customer.
// At most one row per user (upsert keyed on UserID).
type CustomerMapping struct {
	UserID     string
	CustomerID string
	UpdatedAt  time.Time
}

// SubscriptionMirror is a read-replica of the processor's subscription
// object, keyed by customer id. It is overwritten whole on every sync and
// must never be treated as the source of truth beyond the snapshot time.
type SubscriptionMirror struct {
	CustomerID         string
	SubscriptionID     string // empty for one-time payments
	PriceID            string
	PeriodStart        int64 // epoch seconds
	PeriodEnd          int64
	CancelAtPeriodEnd  bool
	PaymentMethodBrand string
	PaymentMethodLast4 string
	Status             SubscriptionStatus
	UpdatedAt          time.Time
}

// Order records a completed one-time checkout. Write-once per session id.
type Order struct {
	SessionID       string
	PaymentIntentID string
	CustomerID      string
	AmountSubtotal  int64
	AmountTotal     int64
	Currency        string
	PaymentStatus   string
	Status          string
	CreatedAt       time.Time
}

// OrderStatusCompleted is the fixed status marker for recorded orders.
const OrderStatusCompleted = "completed"

// Grant is the result of mapping a price or amount to a plan: the tier plus
// its numeric quotas. PriceID is the recognized (or synthesized) price id.
type Grant struct {
	Plan             Plan
	AutomationsLimit int
	AIMessagesLimit  int
	PriceID          string
}

// PlanChange carries the fields the profile writer applies to a profile row.
type PlanChange struct {
	Plan             Plan
	AutomationsLimit int
	AIMessagesLimit  int
}
