package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"coachkit/internal/types"
)

// SubscriptionRepository stores one subscription snapshot per customer.
type SubscriptionRepository struct {
	db DBTX
}

// NewSubscriptionRepository creates a SubscriptionRepository.
func NewSubscriptionRepository(db DBTX) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// Upsert writes the full snapshot keyed on customer_id. Every column is
// overwritten because the snapshot always comes from a fresh provider read.
func (r *SubscriptionRepository) Upsert(ctx context.Context, rec *types.SubscriptionRecord) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO subscriptions (customer_id, subscription_id, price_id, status,
		   current_period_start, current_period_end, cancel_at_period_end,
		   payment_brand, payment_last4, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (customer_id) DO UPDATE SET
		   subscription_id      = EXCLUDED.subscription_id,
		   price_id             = EXCLUDED.price_id,
		   status               = EXCLUDED.status,
		   current_period_start = EXCLUDED.current_period_start,
		   current_period_end   = EXCLUDED.current_period_end,
		   cancel_at_period_end = EXCLUDED.cancel_at_period_end,
		   payment_brand        = EXCLUDED.payment_brand,
		   payment_last4        = EXCLUDED.payment_last4,
		   updated_at           = EXCLUDED.updated_at`,
		rec.CustomerID,
		rec.SubscriptionID,
		rec.PriceID,
		string(rec.Status),
		rec.CurrentPeriodStart,
		rec.CurrentPeriodEnd,
		rec.CancelAtPeriodEnd,
		nilIfEmpty(rec.PaymentBrand),
		nilIfEmpty(rec.PaymentLast4),
		rec.UpdatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert subscription", err)
	}
	return nil
}

// InsertPlaceholder records a not_started row for a customer entering
// subscription checkout. An existing snapshot is never overwritten.
func (r *SubscriptionRepository) InsertPlaceholder(ctx context.Context, customerID, priceID string, now time.Time) (types.Outcome, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO subscriptions (customer_id, subscription_id, price_id, status, updated_at)
		 VALUES ($1, '', $2, $3, $4)
		 ON CONFLICT (customer_id) DO NOTHING`,
		customerID,
		priceID,
		string(types.SubStatusNotStarted),
		now,
	)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to insert subscription placeholder", err)
	}
	if tag.RowsAffected() == 0 {
		return types.OutcomeReused, nil
	}
	return types.OutcomeCreated, nil
}

// GetByCustomerID returns ErrCodeNotFoundResource when no snapshot exists.
func (r *SubscriptionRepository) GetByCustomerID(ctx context.Context, customerID string) (*types.SubscriptionRecord, error) {
	var (
		rec          types.SubscriptionRecord
		status       string
		brand, last4 *string
	)
	err := r.db.QueryRow(ctx,
		`SELECT customer_id, subscription_id, price_id, status, current_period_start,
		   current_period_end, cancel_at_period_end, payment_brand, payment_last4, updated_at
		 FROM subscriptions WHERE customer_id = $1`,
		customerID,
	).Scan(
		&rec.CustomerID,
		&rec.SubscriptionID,
		&rec.PriceID,
		&status,
		&rec.CurrentPeriodStart,
		&rec.CurrentPeriodEnd,
		&rec.CancelAtPeriodEnd,
		&brand,
		&last4,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundResource, "subscription not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load subscription", err)
	}
	rec.Status = types.SubscriptionStatus(status)
	if brand != nil {
		rec.PaymentBrand = *brand
	}
	if last4 != nil {
		rec.PaymentLast4 = *last4
	}
	return &rec, nil
}
