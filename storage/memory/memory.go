// Package memory provides an in-memory implementation of the
// entitlement.Store interface. It is intended for tests and local
// development; nothing survives a restart.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/lluvia-ai/lluvia-billing/pkg/entitlement"
)

// Store implements entitlement.Store using in-process maps.
// All methods are safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	profiles map[string]*entitlement.UserProfile
	emails   map[string]string // normalized email -> user id
	mappings map[string]*entitlement.CustomerMapping
	byUser   map[string]string // user id -> customer id
	mirrors  map[string]*entitlement.SubscriptionMirror
	orders   map[string]*entitlement.Order
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		profiles: make(map[string]*entitlement.UserProfile),
		emails:   make(map[string]string),
		mappings: make(map[string]*entitlement.CustomerMapping),
		byUser:   make(map[string]string),
		mirrors:  make(map[string]*entitlement.SubscriptionMirror),
		orders:   make(map[string]*entitlement.Order),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// GetProfile implements entitlement.Store
func (s *Store) GetProfile(_ context.Context, userID string) (*entitlement.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, entitlement.ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

// GetProfileByEmail implements entitlement.Store
func (s *Store) GetProfileByEmail(_ context.Context, email string) (*entitlement.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[normalizeEmail(email)]
	if !ok {
		return nil, entitlement.ErrProfileNotFound
	}
	cp := *s.profiles[id]
	return &cp, nil
}

// CreateProfile implements entitlement.Store
func (s *Store) CreateProfile(_ context.Context, profile *entitlement.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := normalizeEmail(profile.Email)
	if _, taken := s.emails[key]; taken {
		return entitlement.ErrEmailTaken
	}
	cp := *profile
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = cp.CreatedAt
	}
	s.profiles[cp.ID] = &cp
	s.emails[key] = cp.ID
	return nil
}

// ApplyPlanChange implements entitlement.Store
func (s *Store) ApplyPlanChange(_ context.Context, userID string, change *entitlement.PlanChange) error {
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
	return nil
}

// UserIDForCustomer implements entitlement.Store
func (s *Store) UserIDForCustomer(_ context.Context, customerID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.mappings[customerID]
	if !ok {
		return "", entitlement.ErrMappingNotFound
	}
	return m.UserID, nil
}

// UpsertCustomerMapping implements entitlement.Store
func (s *Store) UpsertCustomerMapping(_ context.Context, mapping *entitlement.CustomerMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// One mapping per user: re-linking a user to a new customer removes
	// the old customer row.
	if old, ok := s.byUser[mapping.UserID]; ok && old != mapping.CustomerID {
		delete(s.mappings, old)
	}

	cp := *mapping
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	s.mappings[cp.CustomerID] = &cp
	s.byUser[cp.UserID] = cp.CustomerID
	return nil
}

// UpsertSubscriptionMirror implements entitlement.Store
func (s *Store) UpsertSubscriptionMirror(_ context.Context, mirror *entitlement.SubscriptionMirror) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *mirror
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	s.mirrors[cp.CustomerID] = &cp
	return nil
}

// GetSubscriptionMirror implements entitlement.Store
func (s *Store) GetSubscriptionMirror(_ context.Context, customerID string) (*entitlement.SubscriptionMirror, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.mirrors[customerID]
	if !ok {
		return nil, entitlement.ErrMirrorNotFound
	}
	cp := *m
	return &cp, nil
}

// RecordOrder implements entitlement.Store
func (s *Store) RecordOrder(_ context.Context, order *entitlement.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[order.SessionID]; exists {
		return nil
	}
	cp := *order
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.orders[cp.SessionID] = &cp
	return nil
}

// GetOrder retrieves a recorded order by checkout session id. Primarily
// useful in tests and admin tooling.
func (s *Store) GetOrder(_ context.Context, sessionID string) (*entitlement.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[sessionID]
	if !ok {
		return nil, false
	}
	cp := *o
	return &cp, true
}
