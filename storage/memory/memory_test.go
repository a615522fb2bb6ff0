package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lluvia-ai/lluvia-billing/pkg/entitlement"
)

func testProfile(id, email string) *entitlement.UserProfile {
	return &entitlement.UserProfile{
		ID:               id,
		Email:            email,
		Name:             "Test User",
		Plan:             entitlement.PlanFree,
		AutomationsLimit: 1,
		Status:           "active",
	}
}

func TestStore_CreateAndGetProfile(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.CreateProfile(ctx, testProfile("u1", "a@example.com")))

	byID, err := store.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", byID.Email)
	assert.False(t, byID.CreatedAt.IsZero())

	byEmail, err := store.GetProfileByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", byEmail.ID)
}

func TestStore_GetProfileNotFound(t *testing.T) {
	store := New()
	ctx := context.Background()

	_, err := store.GetProfile(ctx, "missing")
	assert.ErrorIs(t, err, entitlement.ErrProfileNotFound)

	_, err = store.GetProfileByEmail(ctx, "missing@example.com")
	assert.ErrorIs(t, err, entitlement.ErrProfileNotFound)
}

func TestStore_CreateProfileEmailTaken(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.CreateProfile(ctx, testProfile("u1", "a@example.com")))

	err := store.CreateProfile(ctx, testProfile("u2", "a@example.com"))
	assert.ErrorIs(t, err, entitlement.ErrEmailTaken)

	// Email matching is case-insensitive.
	err = store.CreateProfile(ctx, testProfile("u3", "A@Example.COM"))
	assert.ErrorIs(t, err, entitlement.ErrEmailTaken)
}

func TestStore_ApplyPlanChangePreservesUsage(t *testing.T) {
	store := New()
	ctx := context.Background()

	profile := testProfile("u1", "a@example.com")
	profile.AutomationsUsed = 3
	profile.AIMessagesUsed = 12
	require.NoError(t, store.CreateProfile(ctx, profile))

	change := &entitlement.PlanChange{
		Plan:             entitlement.PlanPro,
		AutomationsLimit: 50,
		AIMessagesLimit:  1000,
	}
	require.NoError(t, store.ApplyPlanChange(ctx, "u1", change))

	got, err := store.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, entitlement.PlanPro, got.Plan)
	assert.Equal(t, 50, got.AutomationsLimit)
	assert.Equal(t, 1000, got.AIMessagesLimit)
	assert.Equal(t, 3, got.AutomationsUsed)
	assert.Equal(t, 12, got.AIMessagesUsed)
	assert.Equal(t, "Test User", got.Name)
}

func TestStore_ApplyPlanChangeUnknownUser(t *testing.T) {
	store := New()
	err := store.ApplyPlanChange(context.Background(), "missing", &entitlement.PlanChange{})
	assert.ErrorIs(t, err, entitlement.ErrProfileNotFound)
}

func TestStore_CustomerMappingUpsert(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.UpsertCustomerMapping(ctx, &entitlement.CustomerMapping{
		UserID: "u1", CustomerID: "cus_a",
	}))

	userID, err := store.UserIDForCustomer(ctx, "cus_a")
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)

	// Re-linking the user to a new customer retires the old mapping.
	require.NoError(t, store.UpsertCustomerMapping(ctx, &entitlement.CustomerMapping{
		UserID: "u1", CustomerID: "cus_b",
	}))

	_, err = store.UserIDForCustomer(ctx, "cus_a")
	assert.ErrorIs(t, err, entitlement.ErrMappingNotFound)

	userID, err = store.UserIDForCustomer(ctx, "cus_b")
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
}

func TestStore_SubscriptionMirrorReplacedWhole(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.UpsertSubscriptionMirror(ctx, &entitlement.SubscriptionMirror{
		CustomerID:         "cus_a",
		SubscriptionID:     "sub_1",
		PriceID:            "price_basic",
		PaymentMethodBrand: "visa",
		PaymentMethodLast4: "4242",
		Status:             entitlement.StatusActive,
	}))

	require.NoError(t, store.UpsertSubscriptionMirror(ctx, &entitlement.SubscriptionMirror{
		CustomerID: "cus_a",
		Status:     entitlement.StatusNotStarted,
	}))

	mirror, err := store.GetSubscriptionMirror(ctx, "cus_a")
	require.NoError(t, err)
	assert.Equal(t, entitlement.StatusNotStarted, mirror.Status)
	assert.Empty(t, mirror.SubscriptionID)
	assert.Empty(t, mirror.PriceID)
	assert.Empty(t, mirror.PaymentMethodBrand)
}

func TestStore_RecordOrderWriteOnce(t *testing.T) {
	store := New()
	ctx := context.Background()

	first := &entitlement.Order{
		SessionID:   "cs_1",
		CustomerID:  "cus_a",
		AmountTotal: 100,
		Status:      entitlement.OrderStatusCompleted,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, store.RecordOrder(ctx, first))

	replay := *first
	replay.AmountTotal = 999
	require.NoError(t, store.RecordOrder(ctx, &replay))

	got, ok := store.GetOrder(ctx, "cs_1")
	require.True(t, ok)
	assert.Equal(t, int64(100), got.AmountTotal, "replays must not overwrite the original order")
}

func TestStore_ConcurrentAccess(t *testing.T) {
	store := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("u%d", i)
			_ = store.CreateProfile(ctx, testProfile(id, fmt.Sprintf("%s@example.com", id)))
			_, _ = store.GetProfile(ctx, id)
			_ = store.UpsertSubscriptionMirror(ctx, &entitlement.SubscriptionMirror{
				CustomerID: fmt.Sprintf("cus_%d", i),
				Status:     entitlement.StatusActive,
			})
		}(i)
	}
	wg.Wait()

	profile, err := store.GetProfile(ctx, "u0")
	require.NoError(t, err)
	assert.Equal(t, "u0@example.com", profile.Email)
}
