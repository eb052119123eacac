package billing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SubscriptionStore persists the subscription snapshot in PostgreSQL.
// Only webhook ingestion and the reconciliation pass write here.
type SubscriptionStore struct {
	db *sql.DB
}

// NewSubscriptionStore creates a new subscription store
func NewSubscriptionStore(db *sql.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

// ListForReference lists all subscription snapshots for a reference,
// terminal ones included
func (s *SubscriptionStore) ListForReference(ctx context.Context, referenceID string) ([]*Subscription, error) {
	query := `
		SELECT id, reference_id, customer_type, plan, status, period_start, period_end,
		       stripe_customer_id, stripe_subscription_id, created_at, updated_at
		FROM subscriptions
		WHERE reference_id = $1
		ORDER BY created_at DESC
	`
	return s.list(ctx, query, referenceID)
}

// ListCurrentForReference lists the snapshots that still describe a live
// relationship with the provider. Canceled, expired and incomplete rows
// stay in the table for bookkeeping but are not current.
func (s *SubscriptionStore) ListCurrentForReference(ctx context.Context, referenceID string) ([]*Subscription, error) {
	query := `
		SELECT id, reference_id, customer_type, plan, status, period_start, period_end,
		       stripe_customer_id, stripe_subscription_id, created_at, updated_at
		FROM subscriptions
		WHERE reference_id = $1 AND status IN ($2, $3, $4)
		ORDER BY created_at DESC
	`
	return s.list(ctx, query, referenceID,
		SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue)
}

func (s *SubscriptionStore) list(ctx context.Context, query string, args ...interface{}) ([]*Subscription, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	subs := make([]*Subscription, 0)
	for rows.Next() {
		sub := &Subscription{}
		if err := rows.Scan(
			&sub.ID, &sub.ReferenceID, &sub.CustomerType, &sub.Plan, &sub.Status,
			&sub.PeriodStart, &sub.PeriodEnd, &sub.StripeCustomerID,
			&sub.StripeSubscriptionID, &sub.CreatedAt, &sub.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscriptions: %w", err)
	}

	return subs, nil
}

// GetByID retrieves a subscription snapshot by local ID
func (s *SubscriptionStore) GetByID(ctx context.Context, id string) (*Subscription, error) {
	query := `
		SELECT id, reference_id, customer_type, plan, status, period_start, period_end,
		       stripe_customer_id, stripe_subscription_id, created_at, updated_at
		FROM subscriptions
		WHERE id = $1
	`
	sub := &Subscription{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&sub.ID, &sub.ReferenceID, &sub.CustomerType, &sub.Plan, &sub.Status,
		&sub.PeriodStart, &sub.PeriodEnd, &sub.StripeCustomerID,
		&sub.StripeSubscriptionID, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNoSubscription
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	return sub, nil
}

// Upsert writes provider state into the snapshot, keyed by the provider
// subscription ID. Existing rows are updated in place.
func (s *SubscriptionStore) Upsert(ctx context.Context, sub *Subscription) error {
	now := time.Now().UTC()
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.CustomerType == "" {
		sub.CustomerType = CustomerTypeOrganization
	}

	query := `
		INSERT INTO subscriptions
			(id, reference_id, customer_type, plan, status, period_start, period_end,
			 stripe_customer_id, stripe_subscription_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (stripe_subscription_id) DO UPDATE SET
			plan = $4,
			status = $5,
			period_start = $6,
			period_end = $7,
			stripe_customer_id = $8,
			updated_at = $10
	`
	_, err := s.db.ExecContext(ctx, query,
		sub.ID, sub.ReferenceID, sub.CustomerType, sub.Plan, sub.Status,
		sub.PeriodStart, sub.PeriodEnd, sub.StripeCustomerID,
		sub.StripeSubscriptionID, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}

	return nil
}

// ExpireLapsed marks active-looking snapshots whose period ended before
// the cutoff as expired. Run by the janitor; catches subscriptions whose
// terminal webhook event never arrived.
func (s *SubscriptionStore) ExpireLapsed(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE subscriptions
		SET status = $1, updated_at = $2
		WHERE status IN ($3, $4) AND period_end IS NOT NULL AND period_end < $2
	`
	result, err := s.db.ExecContext(ctx, query,
		SubscriptionStatusExpired, cutoff,
		SubscriptionStatusActive, SubscriptionStatusTrialing,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire subscriptions: %w", err)
	}

	expired, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count expired subscriptions: %w", err)
	}

	return expired, nil
}
