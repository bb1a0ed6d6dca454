package reconcile

import (
	"context"
	"log/slog"
	"time"

	"coachkit/internal/types"
)

// SignalKind distinguishes what drove an entitlement change.
type SignalKind int

const (
	// SignalSubscription carries a synchronized subscription status.
	SignalSubscription SignalKind = iota + 1
	// SignalPaymentCompleted is a settled one-time payment.
	SignalPaymentCompleted
)

// Signal is the input to an entitlement write.
type Signal struct {
	Kind      SignalKind
	Status    types.SubscriptionStatus
	PeriodEnd *time.Time
}

// SubscriptionSignal builds a signal from a synchronized snapshot.
func SubscriptionSignal(rec *types.SubscriptionRecord) Signal {
	return Signal{Kind: SignalSubscription, Status: rec.Status, PeriodEnd: rec.CurrentPeriodEnd}
}

// PaymentCompletedSignal is the signal for a settled one-time payment.
func PaymentCompletedSignal() Signal {
	return Signal{Kind: SignalPaymentCompleted}
}

// Derive computes the entitlement for a signal at now.
//
// Active and trialing subscriptions and completed payments grant pro with
// no expiry. Any other status revokes at now, unless graceToPeriodEnd is
// set and the paid period has not ended yet, in which case pro is kept
// until the period end.
func Derive(sig Signal, now time.Time, graceToPeriodEnd bool) types.Entitlement {
	if sig.Kind == SignalPaymentCompleted || sig.Status.GrantsAccess() {
		return types.Entitlement{Tier: types.TierPro}
	}
	if graceToPeriodEnd && sig.PeriodEnd != nil && sig.PeriodEnd.After(now) {
		end := *sig.PeriodEnd
		return types.Entitlement{Tier: types.TierPro, ExpiresAt: &end}
	}
	revokedAt := now
	return types.Entitlement{Tier: types.TierFree, ExpiresAt: &revokedAt}
}

// MappingResolver resolves a customer id to a user id.
type MappingResolver interface {
	UserIDFor(ctx context.Context, customerID string) (string, error)
}

// EntitlementStore persists profile entitlements.
type EntitlementStore interface {
	SetEntitlement(ctx context.Context, userID string, ent types.Entitlement, now time.Time) error
}

// PurchaseHistory reports whether a user owns a one-time purchase.
type PurchaseHistory interface {
	HasPurchase(ctx context.Context, userID string) (bool, error)
}

// EntitlementUpdater writes the authoritative profile entitlement.
type EntitlementUpdater struct {
	mappings         MappingResolver
	profiles         EntitlementStore
	purchases        PurchaseHistory
	clock            types.Clock
	graceToPeriodEnd bool
	logger           *slog.Logger
}

// EntitlementUpdaterConfig configures an EntitlementUpdater.
type EntitlementUpdaterConfig struct {
	// Purchases, when set, keeps pro for users with a one-time purchase
	// whose subscription lapses.
	Purchases        PurchaseHistory
	GraceToPeriodEnd bool
	Clock            types.Clock
	Logger           *slog.Logger
}

// NewEntitlementUpdater creates an EntitlementUpdater.
func NewEntitlementUpdater(mappings MappingResolver, profiles EntitlementStore, cfg EntitlementUpdaterConfig) *EntitlementUpdater {
	if cfg.Clock == nil {
		cfg.Clock = types.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &EntitlementUpdater{
		mappings:         mappings,
		profiles:         profiles,
		purchases:        cfg.Purchases,
		clock:            cfg.Clock,
		graceToPeriodEnd: cfg.GraceToPeriodEnd,
		logger:           cfg.Logger,
	}
}

// Apply resolves the customer's user and overwrites the profile
// entitlement. An unknown customer returns ErrCodeNotFoundCustomerMapping
// after logging the anomaly; callers treat it as a skip.
func (u *EntitlementUpdater) Apply(ctx context.Context, customerID string, sig Signal) (types.Entitlement, error) {
	userID, err := u.mappings.UserIDFor(ctx, customerID)
	if err != nil {
		if types.HasCode(err, types.ErrCodeNotFoundCustomerMapping) {
			u.logger.WarnContext(ctx, "entitlement update for unmapped customer",
				"customer_id", customerID,
				"status", string(sig.Status),
			)
		}
		return types.Entitlement{}, err
	}

	now := u.clock.Now()
	ent := Derive(sig, now, u.graceToPeriodEnd)
	if ent.ExpiresAt != nil && u.purchases != nil {
		owned, err := u.purchases.HasPurchase(ctx, userID)
		if err != nil {
			return types.Entitlement{}, err
		}
		if owned {
			u.logger.InfoContext(ctx, "subscription lapsed but one-time purchase keeps pro",
				"customer_id", customerID,
				"user_id", userID,
				"status", string(sig.Status),
			)
			ent = types.Entitlement{Tier: types.TierPro}
		}
	}
	if err := u.profiles.SetEntitlement(ctx, userID, ent, now); err != nil {
		return types.Entitlement{}, err
	}

	u.logger.InfoContext(ctx, "entitlement updated",
		"customer_id", customerID,
		"user_id", userID,
		"tier", string(ent.Tier),
		"expires_at", ent.ExpiresAt,
	)
	return ent, nil
}
