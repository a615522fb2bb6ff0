// Package redis provides a Redis implementation of the entitlement.Store
// interface. Entities are stored as JSON values under prefixed keys; the
// email uniqueness guarantee is enforced with an atomic claim script.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lluvia-ai/lluvia-billing/pkg/entitlement"
)

// Store implements entitlement.Store using Redis
type Store struct {
	client redis.UniversalClient
	config Config

	createProfile *redis.Script
	linkCustomer  *redis.Script
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "billing:")
	KeyPrefix string
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "billing:",
	}
}

// New creates a new Redis storage adapter.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "billing:"
	}

	return &Store{
		client: client,
		config: config,

		// Claim the email index and write the profile in one step, so two
		// processes provisioning the same buyer cannot both win.
		createProfile: redis.NewScript(`
			if redis.call('EXISTS', KEYS[1]) == 1 then
				return 0
			end
			redis.call('SET', KEYS[1], ARGV[1])
			redis.call('SET', KEYS[2], ARGV[2])
			return 1
		`),

		// Point the customer index at the user and retire the user's
		// previous customer link, keeping one mapping per user.
		linkCustomer: redis.NewScript(`
			local old = redis.call('GET', KEYS[2])
			if old and old ~= ARGV[2] then
				redis.call('DEL', ARGV[3] .. old)
			end
			redis.call('SET', KEYS[1], ARGV[1])
			redis.call('SET', KEYS[2], ARGV[2])
			return 1
		`),
	}, nil
}

func (s *Store) key(parts ...string) string {
	return s.config.KeyPrefix + strings.Join(parts, ":")
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// GetProfile implements entitlement.Store
func (s *Store) GetProfile(ctx context.Context, userID string) (*entitlement.UserProfile, error) {
	var p entitlement.UserProfile
	if err := s.getJSON(ctx, s.key("profile", userID), &p, entitlement.ErrProfileNotFound); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProfileByEmail implements entitlement.Store
func (s *Store) GetProfileByEmail(ctx context.Context, email string) (*entitlement.UserProfile, error) {
	userID, err := s.client.Get(ctx, s.key("email", normalizeEmail(email))).Result()
	if err == redis.Nil {
		return nil, entitlement.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve email index: %w", err)
	}
	return s.GetProfile(ctx, userID)
}

// CreateProfile implements entitlement.Store
func (s *Store) CreateProfile(ctx context.Context, profile *entitlement.UserProfile) error {
	cp := *profile
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = cp.CreatedAt
	}

	data, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	keys := []string{
		s.key("email", normalizeEmail(cp.Email)),
		s.key("profile", cp.ID),
	}
	created, err := s.createProfile.Run(ctx, s.client, keys, cp.ID, string(data)).Int()
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}
	if created == 0 {
		return entitlement.ErrEmailTaken
	}
	return nil
}

// ApplyPlanChange implements entitlement.Store
func (s *Store) ApplyPlanChange(ctx context.Context, userID string, change *entitlement.PlanChange) error {
	key := s.key("profile", userID)

	// Optimistic transaction: re-read and retry if the profile changed
	// underneath (e.g. a usage counter write from the product surface).
	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return entitlement.ErrProfileNotFound
		}
		if err != nil {
			return err
		}

		var p entitlement.UserProfile
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("failed to unmarshal profile: %w", err)
		}

		p.Plan = change.Plan
		p.AutomationsLimit = change.AutomationsLimit
		p.AIMessagesLimit = change.AIMessagesLimit
		p.UpdatedAt = time.Now().UTC()

		updated, err := json.Marshal(&p)
		if err != nil {
			return fmt.Errorf("failed to marshal profile: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}

	for i := 0; i < 3; i++ {
		err := s.client.Watch(ctx, txn, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to apply plan change: %w", err)
		}
		return nil
	}
	return fmt.Errorf("failed to apply plan change: too many conflicts")
}

// UserIDForCustomer implements entitlement.Store
func (s *Store) UserIDForCustomer(ctx context.Context, customerID string) (string, error) {
	userID, err := s.client.Get(ctx, s.key("customer", customerID)).Result()
	if err == redis.Nil {
		return "", entitlement.ErrMappingNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve customer mapping: %w", err)
	}
	return userID, nil
}

// UpsertCustomerMapping implements entitlement.Store
func (s *Store) UpsertCustomerMapping(ctx context.Context, mapping *entitlement.CustomerMapping) error {
	keys := []string{
		s.key("customer", mapping.CustomerID),
		s.key("user_customer", mapping.UserID),
	}
	_, err := s.linkCustomer.Run(ctx, s.client, keys,
		mapping.UserID, mapping.CustomerID, s.key("customer", "")).Result()
	if err != nil {
		return fmt.Errorf("failed to upsert customer mapping: %w", err)
	}
	return nil
}

// UpsertSubscriptionMirror implements entitlement.Store
func (s *Store) UpsertSubscriptionMirror(ctx context.Context, mirror *entitlement.SubscriptionMirror) error {
	cp := *mirror
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription mirror: %w", err)
	}
	if err := s.client.Set(ctx, s.key("mirror", cp.CustomerID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to upsert subscription mirror: %w", err)
	}
	return nil
}

// GetSubscriptionMirror implements entitlement.Store
func (s *Store) GetSubscriptionMirror(ctx context.Context, customerID string) (*entitlement.SubscriptionMirror, error) {
	var m entitlement.SubscriptionMirror
	if err := s.getJSON(ctx, s.key("mirror", customerID), &m, entitlement.ErrMirrorNotFound); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordOrder implements entitlement.Store. SETNX makes the write once-only
// per session id.
func (s *Store) RecordOrder(ctx context.Context, order *entitlement.Order) error {
	cp := *order
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}
	if err := s.client.SetNX(ctx, s.key("order", cp.SessionID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to record order: %w", err)
	}
	return nil
}

func (s *Store) getJSON(ctx context.Context, key string, dst interface{}, notFound error) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return notFound
	}
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}
