package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"coachkit/internal/types"
)

// CustomerLister lists the customers with an active mapping.
type CustomerLister interface {
	ListActiveCustomerIDs(ctx context.Context) ([]string, error)
}

// SweepSummary reports one sweep run.
type SweepSummary struct {
	Total     int
	Succeeded int
	Skipped   int
	Failed    int
}

// ErrSweepFailed is returned when every swept customer failed.
var ErrSweepFailed = errors.New("reconciliation sweep failed for every customer")

// Sweeper re-synchronizes every mapped customer, catching up on webhook
// deliveries the provider gave up on.
type Sweeper struct {
	customers   CustomerLister
	sync        SubscriptionSyncer
	metrics     Metrics
	concurrency int
	logger      *slog.Logger
}

// NewSweeper creates a Sweeper. Concurrency below one means one.
func NewSweeper(customers CustomerLister, sync SubscriptionSyncer, metrics Metrics, concurrency int, logger *slog.Logger) *Sweeper {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		customers:   customers,
		sync:        sync,
		metrics:     metrics,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run synchronizes all customers with bounded parallelism. Per-customer
// failures are logged and counted; Run returns ErrSweepFailed only when
// customers existed and none of them succeeded.
func (s *Sweeper) Run(ctx context.Context) (SweepSummary, error) {
	ids, err := s.customers.ListActiveCustomerIDs(ctx)
	if err != nil {
		return SweepSummary{}, err
	}

	var succeeded, skipped, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				failed.Add(1)
				return nil
			}
			_, err := s.sync.Sync(gctx, id)
			switch {
			case err == nil:
				succeeded.Add(1)
			case types.HasCode(err, types.ErrCodeNotFoundCustomerMapping):
				skipped.Add(1)
			default:
				failed.Add(1)
				s.logger.ErrorContext(gctx, "sweep failed for customer",
					"customer_id", id,
					"error", err.Error(),
				)
			}
			// Per-customer failures never cancel the rest of the sweep.
			return nil
		})
	}
	_ = g.Wait()

	summary := SweepSummary{
		Total:     len(ids),
		Succeeded: int(succeeded.Load()),
		Skipped:   int(skipped.Load()),
		Failed:    int(failed.Load()),
	}
	s.metrics.RecordSweep(ctx, summary.Succeeded, summary.Failed)
	s.logger.InfoContext(ctx, "reconciliation sweep complete",
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
	)

	if summary.Total > 0 && summary.Failed == summary.Total {
		return summary, ErrSweepFailed
	}
	return summary, nil
}
