package db

import (
	"context"

	"coachkit/internal/types"
)

// OrderRepository records completed one-time payments.
type OrderRepository struct {
	db DBTX
}

// NewOrderRepository creates an OrderRepository.
func NewOrderRepository(db DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

// Insert records the order once per checkout session. A conflict on
// checkout_session_id is a redelivery and reports OutcomeReused.
func (r *OrderRepository) Insert(ctx context.Context, o *types.OrderRecord) (types.Outcome, error) {
	fulfillment := o.FulfillmentStatus
	if fulfillment == "" {
		fulfillment = types.FulfillmentPending
	}
	tag, err := r.db.Exec(ctx,
		`INSERT INTO orders (checkout_session_id, payment_intent_id, customer_id,
		   amount_subtotal, amount_total, currency, payment_status, fulfillment_status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (checkout_session_id) DO NOTHING`,
		o.CheckoutSessionID,
		nilIfEmpty(o.PaymentIntentID),
		o.CustomerID,
		o.AmountSubtotal,
		o.AmountTotal,
		o.Currency,
		o.PaymentStatus,
		string(fulfillment),
		o.CreatedAt,
	)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to insert order", err)
	}
	if tag.RowsAffected() == 0 {
		return types.OutcomeReused, nil
	}
	return types.OutcomeCreated, nil
}

// MarkFulfilled flags the order fulfilled. Repeating it is harmless.
func (r *OrderRepository) MarkFulfilled(ctx context.Context, checkoutSessionID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE orders SET fulfillment_status = $1 WHERE checkout_session_id = $2`,
		string(types.FulfillmentFulfilled),
		checkoutSessionID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark order fulfilled", err)
	}
	return nil
}

// HasPurchase reports whether the user has a recorded one-time purchase on
// any customer ever mapped to them, including retired mappings. Only paid
// checkouts are recorded, so a pending row still counts.
func (r *OrderRepository) HasPurchase(ctx context.Context, userID string) (bool, error) {
	var found bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM orders o
		   JOIN customer_mappings m ON m.customer_id = o.customer_id
		   WHERE m.user_id = $1 AND o.payment_status = 'paid'
		 )`,
		userID,
	).Scan(&found)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check purchase history", err)
	}
	return found, nil
}
