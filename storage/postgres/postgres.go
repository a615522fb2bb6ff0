// Package postgres provides a PostgreSQL implementation of the
// entitlement.Store interface. All writes are single-statement upserts
// keyed on natural identifiers, so concurrent webhook deliveries and
// replays converge without explicit locking.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lluvia-ai/lluvia-billing/pkg/entitlement"
)

const uniqueViolationCode = "23505"

// Store implements entitlement.Store using PostgreSQL
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, config: config}, nil
}

// NewWithPool wraps an existing connection pool. The caller keeps ownership
// of the pool's lifecycle.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close closes the PostgreSQL connection pool
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// GetProfile implements entitlement.Store
func (s *Store) GetProfile(ctx context.Context, userID string) (*entitlement.UserProfile, error) {
	return s.queryProfile(ctx,
		`SELECT id, email, name, plan, automations_used, automations_limit,
			ai_messages_used, ai_messages_limit, status, created_at, updated_at
			FROM user_profiles WHERE id = $1`, userID)
}

// GetProfileByEmail implements entitlement.Store
func (s *Store) GetProfileByEmail(ctx context.Context, email string) (*entitlement.UserProfile, error) {
	return s.queryProfile(ctx,
		`SELECT id, email, name, plan, automations_used, automations_limit,
			ai_messages_used, ai_messages_limit, status, created_at, updated_at
			FROM user_profiles WHERE lower(email) = lower($1)`, email)
}

func (s *Store) queryProfile(ctx context.Context, query, arg string) (*entitlement.UserProfile, error) {
	var p entitlement.UserProfile
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&p.ID,
		&p.Email,
		&p.Name,
		&p.Plan,
		&p.AutomationsUsed,
		&p.AutomationsLimit,
		&p.AIMessagesUsed,
		&p.AIMessagesLimit,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entitlement.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}
	return &p, nil
}

// CreateProfile implements entitlement.Store
func (s *Store) CreateProfile(ctx context.Context, profile *entitlement.UserProfile) error {
	now := time.Now().UTC()
	createdAt := profile.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := profile.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_profiles
			(id, email, name, plan, automations_used, automations_limit,
			 ai_messages_used, ai_messages_limit, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		profile.ID,
		profile.Email,
		profile.Name,
		profile.Plan,
		profile.AutomationsUsed,
		profile.AutomationsLimit,
		profile.AIMessagesUsed,
		profile.AIMessagesLimit,
		profile.Status,
		createdAt,
		updatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return entitlement.ErrEmailTaken
		}
		return fmt.Errorf("failed to insert profile: %w", err)
	}
	return nil
}

// ApplyPlanChange implements entitlement.Store.
// Only plan and limit columns are touched; usage counters stay untouched.
func (s *Store) ApplyPlanChange(ctx context.Context, userID string, change *entitlement.PlanChange) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_profiles
			SET plan = $2, automations_limit = $3, ai_messages_limit = $4, updated_at = $5
			WHERE id = $1`,
		userID,
		change.Plan,
		change.AutomationsLimit,
		change.AIMessagesLimit,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to apply plan change: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entitlement.ErrProfileNotFound
	}
	return nil
}

// UserIDForCustomer implements entitlement.Store
func (s *Store) UserIDForCustomer(ctx context.Context, customerID string) (string, error) {
	var userID string
	err := s.pool.QueryRow(ctx,
		`SELECT user_id FROM customer_mappings WHERE customer_id = $1`,
		customerID).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", entitlement.ErrMappingNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query customer mapping: %w", err)
	}
	return userID, nil
}

// UpsertCustomerMapping implements entitlement.Store
func (s *Store) UpsertCustomerMapping(ctx context.Context, mapping *entitlement.CustomerMapping) error {
	updatedAt := mapping.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO customer_mappings (user_id, customer_id, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id) DO UPDATE SET
				customer_id = EXCLUDED.customer_id,
				updated_at = EXCLUDED.updated_at`,
		mapping.UserID,
		mapping.CustomerID,
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert customer mapping: %w", err)
	}
	return nil
}

// UpsertSubscriptionMirror implements entitlement.Store.
// Every column is overwritten so stale fields from a previous snapshot
// never leak into the current row.
func (s *Store) UpsertSubscriptionMirror(ctx context.Context, mirror *entitlement.SubscriptionMirror) error {
	updatedAt := mirror.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO subscription_mirrors
			(customer_id, subscription_id, price_id, period_start, period_end,
			 cancel_at_period_end, payment_method_brand, payment_method_last4,
			 status, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (customer_id) DO UPDATE SET
				subscription_id = EXCLUDED.subscription_id,
				price_id = EXCLUDED.price_id,
				period_start = EXCLUDED.period_start,
				period_end = EXCLUDED.period_end,
				cancel_at_period_end = EXCLUDED.cancel_at_period_end,
				payment_method_brand = EXCLUDED.payment_method_brand,
				payment_method_last4 = EXCLUDED.payment_method_last4,
				status = EXCLUDED.status,
				updated_at = EXCLUDED.updated_at`,
		mirror.CustomerID,
		mirror.SubscriptionID,
		mirror.PriceID,
		mirror.PeriodStart,
		mirror.PeriodEnd,
		mirror.CancelAtPeriodEnd,
		mirror.PaymentMethodBrand,
		mirror.PaymentMethodLast4,
		mirror.Status,
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription mirror: %w", err)
	}
	return nil
}

// GetSubscriptionMirror implements entitlement.Store
func (s *Store) GetSubscriptionMirror(ctx context.Context, customerID string) (*entitlement.SubscriptionMirror, error) {
	var m entitlement.SubscriptionMirror
	err := s.pool.QueryRow(ctx,
		`SELECT customer_id, subscription_id, price_id, period_start, period_end,
			cancel_at_period_end, payment_method_brand, payment_method_last4,
			status, updated_at
			FROM subscription_mirrors WHERE customer_id = $1`,
		customerID).Scan(
		&m.CustomerID,
		&m.SubscriptionID,
		&m.PriceID,
		&m.PeriodStart,
		&m.PeriodEnd,
		&m.CancelAtPeriodEnd,
		&m.PaymentMethodBrand,
		&m.PaymentMethodLast4,
		&m.Status,
		&m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entitlement.ErrMirrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query subscription mirror: %w", err)
	}
	return &m, nil
}

// RecordOrder implements entitlement.Store. ON CONFLICT DO NOTHING makes
// the insert write-once per session id.
func (s *Store) RecordOrder(ctx context.Context, order *entitlement.Order) error {
	createdAt := order.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders
			(session_id, payment_intent_id, customer_id, amount_subtotal,
			 amount_total, currency, payment_status, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (session_id) DO NOTHING`,
		order.SessionID,
		order.PaymentIntentID,
		order.CustomerID,
		order.AmountSubtotal,
		order.AmountTotal,
		order.Currency,
		order.PaymentStatus,
		order.Status,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record order: %w", err)
	}
	return nil
}
