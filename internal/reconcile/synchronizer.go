package reconcile

import (
	"context"
	"log/slog"

	"coachkit/internal/types"
)

// SubscriptionSource reads the authoritative subscription from the provider.
type SubscriptionSource interface {
	LatestSubscription(ctx context.Context, customerID string) (*types.SubscriptionRecord, error)
}

// SubscriptionStore persists subscription snapshots.
type SubscriptionStore interface {
	Upsert(ctx context.Context, rec *types.SubscriptionRecord) error
}

// EntitlementApplier is the entitlement write step.
type EntitlementApplier interface {
	Apply(ctx context.Context, customerID string, sig Signal) (types.Entitlement, error)
}

// SyncResult describes one synchronization.
type SyncResult struct {
	// Record is nil when the customer has no subscriptions.
	Record      *types.SubscriptionRecord
	Entitlement types.Entitlement
}

// Synchronizer copies the provider's current subscription into the local
// snapshot and updates the entitlement from it. It never applies event
// payload deltas, so the stored status is always the latest fetched one.
type Synchronizer struct {
	source       SubscriptionSource
	store        SubscriptionStore
	entitlements EntitlementApplier
	clock        types.Clock
	logger       *slog.Logger
}

// NewSynchronizer creates a Synchronizer.
func NewSynchronizer(source SubscriptionSource, store SubscriptionStore, entitlements EntitlementApplier, clock types.Clock, logger *slog.Logger) *Synchronizer {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		source:       source,
		store:        store,
		entitlements: entitlements,
		clock:        clock,
		logger:       logger,
	}
}

// Sync fetches, stores and applies the customer's latest subscription. A
// customer with no subscriptions writes nothing and is not an error.
func (s *Synchronizer) Sync(ctx context.Context, customerID string) (SyncResult, error) {
	rec, err := s.source.LatestSubscription(ctx, customerID)
	if err != nil {
		return SyncResult{}, err
	}
	if rec == nil {
		s.logger.InfoContext(ctx, "customer has no subscriptions", "customer_id", customerID)
		return SyncResult{}, nil
	}

	rec.CustomerID = customerID
	rec.UpdatedAt = s.clock.Now()
	if err := s.store.Upsert(ctx, rec); err != nil {
		return SyncResult{}, err
	}

	s.logger.InfoContext(ctx, "subscription synchronized",
		"customer_id", customerID,
		"subscription_id", rec.SubscriptionID,
		"status", string(rec.Status),
		"cancel_at_period_end", rec.CancelAtPeriodEnd,
	)

	ent, err := s.entitlements.Apply(ctx, customerID, SubscriptionSignal(rec))
	if err != nil {
		return SyncResult{Record: rec}, err
	}
	return SyncResult{Record: rec, Entitlement: ent}, nil
}
