package reconcile

import (
	"context"
	"log/slog"

	stripe "github.com/stripe/stripe-go/v82"

	"coachkit/internal/types"
)

// Disposition is how the dispatcher settled one event.
type Disposition string

const (
	// DispositionProcessed means every write for the event succeeded.
	DispositionProcessed Disposition = "processed"
	// DispositionIgnored covers event types and shapes that need no work.
	DispositionIgnored Disposition = "ignored"
	// DispositionDropped means the event lacked identity data. Redelivery
	// cannot fix it, so it is acknowledged.
	DispositionDropped Disposition = "dropped"
	// DispositionSkipped means the customer has no active mapping.
	DispositionSkipped Disposition = "skipped"
	// DispositionFailed means a retryable error; the provider should redeliver.
	DispositionFailed Disposition = "failed"
)

// Result describes one dispatched event.
type Result struct {
	EventID     string
	EventType   string
	Disposition Disposition
}

// IdentityResolver is the Resolver as seen by the dispatcher.
type IdentityResolver interface {
	Resolve(ctx context.Context, id Identity) (Resolution, error)
}

// SubscriptionSyncer is the Synchronizer as seen by the dispatcher.
type SubscriptionSyncer interface {
	Sync(ctx context.Context, customerID string) (SyncResult, error)
}

// OrderWriter is the OrderRecorder as seen by the dispatcher.
type OrderWriter interface {
	Record(ctx context.Context, c CheckoutCompleted) (types.Outcome, error)
}

// MappingRemover soft deletes customer mappings.
type MappingRemover interface {
	SoftDelete(ctx context.Context, customerID string) (bool, error)
}

// Dispatcher routes verified events through the pipeline. Each event is
// handled synchronously; nothing is queued.
type Dispatcher struct {
	resolver     IdentityResolver
	sync         SubscriptionSyncer
	orders       OrderWriter
	entitlements EntitlementApplier
	mappings     MappingRemover
	metrics      Metrics
	clock        types.Clock
	logger       *slog.Logger
}

// DispatcherDeps are the collaborators of a Dispatcher.
type DispatcherDeps struct {
	Resolver     IdentityResolver
	Sync         SubscriptionSyncer
	Orders       OrderWriter
	Entitlements EntitlementApplier
	Mappings     MappingRemover
	Metrics      Metrics
	Clock        types.Clock
	Logger       *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	if deps.Metrics == nil {
		deps.Metrics = NopMetrics{}
	}
	if deps.Clock == nil {
		deps.Clock = types.RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Dispatcher{
		resolver:     deps.Resolver,
		sync:         deps.Sync,
		orders:       deps.Orders,
		entitlements: deps.Entitlements,
		mappings:     deps.Mappings,
		metrics:      deps.Metrics,
		clock:        deps.Clock,
		logger:       deps.Logger,
	}
}

// Dispatch parses and handles one verified event.
//
// Missing identity data and unknown customers are settled as dropped and
// skipped with a nil error, since redelivering the event cannot change
// them. A non-nil error is always worth retrying, except a malformed
// payload, which is reported as a validation error.
func (d *Dispatcher) Dispatch(ctx context.Context, raw stripe.Event) (Result, error) {
	start := d.clock.Now()
	res := Result{EventID: raw.ID, EventType: string(raw.Type)}

	ev, err := ParseEvent(raw)
	if err == nil {
		err = d.route(ctx, ev, &res)
	}
	res.Disposition, err = d.settle(ctx, res, err)

	d.metrics.RecordEvent(ctx, res.EventType, res.Disposition, d.clock.Now().Sub(start))
	return res, err
}

// settle folds terminal errors into a disposition.
func (d *Dispatcher) settle(ctx context.Context, res Result, err error) (Disposition, error) {
	switch {
	case err == nil:
		if res.Disposition == "" {
			return DispositionProcessed, nil
		}
		return res.Disposition, nil
	case types.HasCode(err, types.ErrCodeIdentityMissingData):
		d.logger.WarnContext(ctx, "dropping event without identity data",
			"event_id", res.EventID,
			"event_type", res.EventType,
			"error", err.Error(),
		)
		return DispositionDropped, nil
	case types.HasCode(err, types.ErrCodeNotFoundCustomerMapping):
		d.logger.WarnContext(ctx, "skipping event for unknown customer",
			"event_id", res.EventID,
			"event_type", res.EventType,
		)
		return DispositionSkipped, nil
	default:
		d.logger.ErrorContext(ctx, "event processing failed",
			"event_id", res.EventID,
			"event_type", res.EventType,
			"error", err.Error(),
		)
		return DispositionFailed, err
	}
}

func (d *Dispatcher) route(ctx context.Context, ev Event, res *Result) error {
	switch e := ev.(type) {
	case CheckoutCompleted:
		return d.handleCheckout(ctx, e, res)

	case SubscriptionChanged:
		if e.CustomerID == "" {
			res.Disposition = DispositionIgnored
			return nil
		}
		_, err := d.sync.Sync(ctx, e.CustomerID)
		return err

	case PaymentSucceeded:
		if e.ForInvoice || e.CustomerID == "" {
			res.Disposition = DispositionIgnored
			return nil
		}
		_, err := d.entitlements.Apply(ctx, e.CustomerID, PaymentCompletedSignal())
		return err

	case CustomerDeleted:
		removed, err := d.mappings.SoftDelete(ctx, e.CustomerID)
		if err != nil {
			return err
		}
		if !removed {
			res.Disposition = DispositionSkipped
		}
		return nil

	case Unhandled:
		d.logger.InfoContext(ctx, "ignoring unhandled event type",
			"event_id", e.EventID(),
			"event_type", e.EventType(),
		)
		res.Disposition = DispositionIgnored
		return nil

	default:
		// Unreachable while Event is sealed.
		res.Disposition = DispositionIgnored
		return nil
	}
}

func (d *Dispatcher) handleCheckout(ctx context.Context, e CheckoutCompleted, res *Result) error {
	if _, err := d.resolver.Resolve(ctx, Identity{Email: e.Email, Name: e.Name, CustomerID: e.CustomerID}); err != nil {
		return err
	}

	switch e.Mode {
	case types.CheckoutModeSubscription:
		_, err := d.sync.Sync(ctx, e.CustomerID)
		return err
	case types.CheckoutModePayment:
		if !e.IsPaidOneTime() {
			d.logger.InfoContext(ctx, "checkout payment not settled",
				"checkout_session_id", e.SessionID,
				"payment_status", e.PaymentStatus,
			)
			res.Disposition = DispositionIgnored
			return nil
		}
		_, err := d.orders.Record(ctx, e)
		return err
	default:
		res.Disposition = DispositionIgnored
		return nil
	}
}
