package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/lluvia-ai/lluvia-billing/pkg/billing"
	"github.com/lluvia-ai/lluvia-billing/pkg/entitlement"
	"github.com/lluvia-ai/lluvia-billing/pkg/identity"
)

const (
	testWebhookSecret = "whsec_test_secret"
	testCustomerID    = "cus_test_123"
	testUserID        = "user_test_123"
	testEmail         = "buyer@example.com"
	testPriceBasic    = "price_basic_monthly"
	testPricePro      = "price_pro_monthly"
)

// fakeStore is an in-memory Store that counts writes, so tests can assert
// both end state and that replays do not multiply rows.
type fakeStore struct {
	mu       sync.Mutex
	profiles map[string]*entitlement.UserProfile
	emails   map[string]string
	mappings map[string]string // customer id -> user id
	mirrors  map[string]*entitlement.SubscriptionMirror
	orders   map[string]*entitlement.Order

	profileCreates int
	planChanges    []entitlement.PlanChange
	mappingWrites  int
	mirrorWrites   int
	orderInserts   int

	// createProfileHook runs inside CreateProfile before the insert,
	// letting tests simulate a competing writer.
	createProfileHook func(*entitlement.UserProfile) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		profiles: make(map[string]*entitlement.UserProfile),
		emails:   make(map[string]string),
		mappings: make(map[string]string),
		mirrors:  make(map[string]*entitlement.SubscriptionMirror),
		orders:   make(map[string]*entitlement.Order),
	}
}

func (s *fakeStore) GetProfile(_ context.Context, userID string) (*entitlement.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, entitlement.ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) GetProfileByEmail(_ context.Context, email string) (*entitlement.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.emails[email]
	if !ok {
		return nil, entitlement.ErrProfileNotFound
	}
	cp := *s.profiles[id]
	return &cp, nil
}

func (s *fakeStore) CreateProfile(_ context.Context, profile *entitlement.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createProfileHook != nil {
		if err := s.createProfileHook(profile); err != nil {
			return err
		}
	}
	if _, taken := s.emails[profile.Email]; taken {
		return entitlement.ErrEmailTaken
	}
	cp := *profile
	s.profiles[profile.ID] = &cp
	s.emails[profile.Email] = profile.ID
	s.profileCreates++
	return nil
}

func (s *fakeStore) ApplyPlanChange(_ context.Context, userID string, change *entitlement.PlanChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return entitlement.ErrProfileNotFound
	}
	p.Plan = change.Plan
	p.AutomationsLimit = change.AutomationsLimit
	p.AIMessagesLimit = change.AIMessagesLimit
	p.UpdatedAt = time.Now().UTC()
	s.planChanges = append(s.planChanges, *change)
	return nil
}

func (s *fakeStore) UserIDForCustomer(_ context.Context, customerID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.mappings[customerID]
	if !ok {
		return "", entitlement.ErrMappingNotFound
	}
	return id, nil
}

func (s *fakeStore) UpsertCustomerMapping(_ context.Context, mapping *entitlement.CustomerMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings[mapping.CustomerID] = mapping.UserID
	s.mappingWrites++
	return nil
}

func (s *fakeStore) UpsertSubscriptionMirror(_ context.Context, mirror *entitlement.SubscriptionMirror) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *mirror
	s.mirrors[mirror.CustomerID] = &cp
	s.mirrorWrites++
	return nil
}

func (s *fakeStore) GetSubscriptionMirror(_ context.Context, customerID string) (*entitlement.SubscriptionMirror, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mirrors[customerID]
	if !ok {
		return nil, entitlement.ErrMirrorNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *fakeStore) RecordOrder(_ context.Context, order *entitlement.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[order.SessionID]; exists {
		return nil
	}
	cp := *order
	s.orders[order.SessionID] = &cp
	s.orderInserts++
	return nil
}

func (s *fakeStore) totalWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profileCreates + len(s.planChanges) + s.mappingWrites + s.mirrorWrites + s.orderInserts
}

// fakeAPI serves canned subscription and checkout-session lookups.
type fakeAPI struct {
	mu           sync.Mutex
	sub          *stripe.Subscription
	subErr       error
	session      *stripe.CheckoutSession
	sessionErr   error
	subCalls     int
	sessionCalls int
}

func (a *fakeAPI) LatestSubscription(_ context.Context, _ string) (*stripe.Subscription, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subCalls++
	return a.sub, a.subErr
}

func (a *fakeAPI) CheckoutSession(_ context.Context, _ string) (*stripe.CheckoutSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessionCalls++
	return a.session, a.sessionErr
}

// fakeProvisioner mints deterministic user ids.
type fakeProvisioner struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeProvisioner) CreateUser(_ context.Context, req identity.CreateUserRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.calls++
	return fmt.Sprintf("user_provisioned_%d", f.calls), nil
}

func testMapper(policy entitlement.MappingPolicy) *entitlement.Mapper {
	return entitlement.NewMapper(entitlement.MapperConfig{
		Prices: map[string]entitlement.Plan{
			testPriceBasic: entitlement.PlanBasic,
			testPricePro:   entitlement.PlanPro,
		},
		Policy: policy,
	})
}

func newTestProvider(t *testing.T, store *fakeStore, api *fakeAPI) *Provider {
	t.Helper()
	provider, err := NewProvider(Config{
		Config: billing.Config{
			Store:    store,
			Mapper:   testMapper(entitlement.PolicyLenient),
			Identity: &fakeProvisioner{},
		},
		WebhookSecret: testWebhookSecret,
		API:           api,
	})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	return provider
}

// signPayload builds a Stripe-Signature header for a payload, matching the
// t=<ts>,v1=<hmac> scheme the verifier expects.
func signPayload(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func marshalEvent(t *testing.T, eventType string, object interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(object)
	if err != nil {
		t.Fatalf("failed to marshal event object: %v", err)
	}
	payload, err := json.Marshal(map[string]interface{}{
		"id":          "evt_test_1",
		"object":      "event",
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"data":        map[string]interface{}{"object": json.RawMessage(raw)},
	})
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	return payload
}

func subscriptionFixture(status stripe.SubscriptionStatus, priceID string) *stripe.Subscription {
	now := time.Now()
	return &stripe.Subscription{
		ID:       "sub_test_1",
		Status:   status,
		Customer: &stripe.Customer{ID: testCustomerID},
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{
					Price:              &stripe.Price{ID: priceID},
					CurrentPeriodStart: now.Unix(),
					CurrentPeriodEnd:   now.Add(30 * 24 * time.Hour).Unix(),
				},
			},
		},
	}
}

func seedProfile(store *fakeStore, userID, email string, plan entitlement.Plan) {
	q := entitlement.QuotasFor(plan)
	store.profiles[userID] = &entitlement.UserProfile{
		ID:               userID,
		Email:            email,
		Name:             "Seeded User",
		Plan:             plan,
		AutomationsLimit: q.AutomationsLimit,
		AIMessagesLimit:  q.AIMessagesLimit,
		Status:           "active",
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
	store.emails[email] = userID
}
