package reconcile

import (
	"context"
	"log/slog"

	"coachkit/internal/types"
)

// OrderStore persists one-time orders.
type OrderStore interface {
	Insert(ctx context.Context, o *types.OrderRecord) (types.Outcome, error)
	MarkFulfilled(ctx context.Context, checkoutSessionID string) error
}

// OrderRecorder records paid one-time checkouts and grants their access.
type OrderRecorder struct {
	orders       OrderStore
	entitlements EntitlementApplier
	clock        types.Clock
	logger       *slog.Logger
}

// NewOrderRecorder creates an OrderRecorder.
func NewOrderRecorder(orders OrderStore, entitlements EntitlementApplier, clock types.Clock, logger *slog.Logger) *OrderRecorder {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderRecorder{orders: orders, entitlements: entitlements, clock: clock, logger: logger}
}

// Record inserts the order once per checkout session, then grants access
// and marks the order fulfilled. A redelivery finds the order already
// present and re-asserts the same entitlement.
func (r *OrderRecorder) Record(ctx context.Context, c CheckoutCompleted) (types.Outcome, error) {
	order := &types.OrderRecord{
		CheckoutSessionID: c.SessionID,
		PaymentIntentID:   c.PaymentIntentID,
		CustomerID:        c.CustomerID,
		AmountSubtotal:    c.AmountSubtotal,
		AmountTotal:       c.AmountTotal,
		Currency:          c.Currency,
		PaymentStatus:     c.PaymentStatus,
		FulfillmentStatus: types.FulfillmentPending,
		CreatedAt:         r.clock.Now(),
	}

	outcome, err := r.orders.Insert(ctx, order)
	if err != nil {
		return "", err
	}
	if outcome == types.OutcomeReused {
		r.logger.InfoContext(ctx, "order already recorded", "checkout_session_id", c.SessionID)
	}

	if _, err := r.entitlements.Apply(ctx, c.CustomerID, PaymentCompletedSignal()); err != nil {
		return outcome, err
	}
	if err := r.orders.MarkFulfilled(ctx, c.SessionID); err != nil {
		return outcome, err
	}
	return outcome, nil
}
