package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coachkit/internal/types"
)

func TestSweeper_SynchronizesEveryActiveCustomer(t *testing.T) {
	p := newPipeline(t, false)
	ctx := context.Background()
	for i, cust := range []string{"cus_a", "cus_b", "cus_c"} {
		_, _ = p.db.Mappings().Upsert(ctx, cust, "user-"+string(rune('a'+i)))
		p.source.set(cust, types.SubStatusActive, nil)
	}
	_, _ = p.db.Mappings().Upsert(ctx, "cus_gone", "user-gone")
	_, _ = p.db.Mappings().SoftDelete(ctx, "cus_gone")

	s := NewSweeper(p.db.Mappings(), p.sync, p.metrics, 2, nil)
	summary, err := s.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, SweepSummary{Total: 3, Succeeded: 3}, summary)
	assert.Len(t, p.db.subs, 3)
	assert.Equal(t, types.TierPro, p.db.profile("user-b").Entitlement.Tier)
	assert.Equal(t, [][2]int{{3, 0}}, p.metrics.sweeps)
}

func TestSweeper_PartialFailureIsNotAnError(t *testing.T) {
	syncer := &scriptedSyncer{errs: map[string]error{
		"cus_b": types.NewAppError(types.ErrCodeUpstreamStripe, "stripe down", nil),
		"cus_c": types.NewAppError(types.ErrCodeNotFoundCustomerMapping, "gone", nil),
	}}
	lister := staticLister{"cus_a", "cus_b", "cus_c"}

	summary, err := NewSweeper(lister, syncer, nil, 4, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepSummary{Total: 3, Succeeded: 1, Skipped: 1, Failed: 1}, summary)
}

func TestSweeper_TotalFailure(t *testing.T) {
	boom := errors.New("network down")
	syncer := &scriptedSyncer{errs: map[string]error{"cus_a": boom, "cus_b": boom}}

	summary, err := NewSweeper(staticLister{"cus_a", "cus_b"}, syncer, nil, 1, nil).Run(context.Background())
	assert.ErrorIs(t, err, ErrSweepFailed)
	assert.Equal(t, 2, summary.Failed)
}

func TestSweeper_NoCustomers(t *testing.T) {
	summary, err := NewSweeper(staticLister{}, &scriptedSyncer{}, nil, 0, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Total)
}

func TestSweeper_ListError(t *testing.T) {
	_, err := NewSweeper(failingLister{}, &scriptedSyncer{}, nil, 1, nil).Run(context.Background())
	assert.True(t, types.HasCode(err, types.ErrCodeInternalDB))
}

func TestSweeper_RespectsConcurrencyLimit(t *testing.T) {
	ids := make(staticLister, 12)
	for i := range ids {
		ids[i] = "cus_" + string(rune('a'+i))
	}
	syncer := &scriptedSyncer{delay: 5 * time.Millisecond}

	_, err := NewSweeper(ids, syncer, nil, 3, nil).Run(context.Background())
	require.NoError(t, err)
	assert.LessOrEqual(t, syncer.maxInFlight.Load(), int64(3))
	assert.Equal(t, 12, syncer.count())
}

type staticLister []string

func (l staticLister) ListActiveCustomerIDs(context.Context) ([]string, error) { return l, nil }

type failingLister struct{}

func (failingLister) ListActiveCustomerIDs(context.Context) ([]string, error) {
	return nil, types.NewAppError(types.ErrCodeInternalDB, "db down", nil)
}

type scriptedSyncer struct {
	errs        map[string]error
	delay       time.Duration
	inFlight    atomic.Int64
	maxInFlight atomic.Int64

	mu    sync.Mutex
	calls []string
}

func (s *scriptedSyncer) Sync(_ context.Context, customerID string) (SyncResult, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		cur := s.maxInFlight.Load()
		if n <= cur || s.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	s.calls = append(s.calls, customerID)
	s.mu.Unlock()
	return SyncResult{}, s.errs[customerID]
}

func (s *scriptedSyncer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}
