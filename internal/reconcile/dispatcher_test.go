package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stripe "github.com/stripe/stripe-go/v82"

	"coachkit/internal/types"
)

func TestDispatch_SubscriptionCheckoutCreatesAccountAndGrantsPro(t *testing.T) {
	p := newPipeline(t, false)
	end := testNow.Add(30 * 24 * time.Hour)
	p.source.set("cus_1", types.SubStatusActive, &end)

	ev := stripeEvent(t, "evt_1", "checkout.session.completed",
		checkoutObject("cus_1", "subscription", "paid", "ann@example.com", "Ann"))

	res, err := p.dispatcher.Dispatch(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, DispositionProcessed, res.Disposition)

	userID := p.userID(t, "ann@example.com")
	assert.Equal(t, userID, p.db.mappings["cus_1"].UserID)
	assert.Equal(t, types.SubStatusActive, p.db.subs["cus_1"].Status)
	assert.Equal(t, types.TierPro, p.db.profile(userID).Entitlement.Tier)
	assert.Equal(t, 1, p.notifier.count())
	assert.Equal(t, []Disposition{DispositionProcessed}, p.metrics.events)
}

func TestDispatch_RedeliveredCheckoutConverges(t *testing.T) {
	p := newPipeline(t, false)
	p.source.set("cus_1", types.SubStatusActive, nil)
	ev := stripeEvent(t, "evt_1", "checkout.session.completed",
		checkoutObject("cus_1", "subscription", "paid", "ann@example.com", "Ann"))

	for i := 0; i < 3; i++ {
		res, err := p.dispatcher.Dispatch(context.Background(), ev)
		require.NoError(t, err)
		assert.Equal(t, DispositionProcessed, res.Disposition)
	}

	assert.Len(t, p.db.users, 1)
	assert.Len(t, p.db.mappings, 1)
	assert.Len(t, p.db.subs, 1)
	assert.Equal(t, 1, p.notifier.count())
	assert.Equal(t, types.TierPro, p.db.profile(p.userID(t, "ann@example.com")).Entitlement.Tier)
}

func TestDispatch_PaidOneTimeCheckoutRecordsOrder(t *testing.T) {
	p := newPipeline(t, false)
	ev := stripeEvent(t, "evt_2", "checkout.session.completed",
		checkoutObject("cus_2", "payment", "paid", "bob@example.com", "Bob"))

	res, err := p.dispatcher.Dispatch(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, DispositionProcessed, res.Disposition)

	order := p.db.orders["cs_cus_2"]
	require.NotNil(t, order)
	assert.Equal(t, "pi_cus_2", order.PaymentIntentID)
	assert.Equal(t, "usd", order.Currency)
	assert.Equal(t, types.TierPro, p.db.profile(p.userID(t, "bob@example.com")).Entitlement.Tier)
	assert.Zero(t, p.source.calls)

	// Redelivery leaves a single order and the same entitlement.
	_, err = p.dispatcher.Dispatch(context.Background(), ev)
	require.NoError(t, err)
	assert.Len(t, p.db.orders, 1)
}

func TestDispatch_UnpaidOneTimeCheckoutGrantsNothing(t *testing.T) {
	p := newPipeline(t, false)
	ev := stripeEvent(t, "evt_3", "checkout.session.completed",
		checkoutObject("cus_3", "payment", "unpaid", "cy@example.com", "Cy"))

	res, err := p.dispatcher.Dispatch(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, DispositionIgnored, res.Disposition)
	assert.Empty(t, p.db.orders)

	// The account still exists so the customer can log in.
	userID := p.userID(t, "cy@example.com")
	assert.Equal(t, types.TierFree, p.db.profile(userID).Entitlement.Tier)
}

func TestDispatch_CheckoutWithoutIdentityIsDropped(t *testing.T) {
	p := newPipeline(t, false)
	ev := stripeEvent(t, "evt_4", "checkout.session.completed",
		checkoutObject("cus_4", "subscription", "paid", "", "Dee"))

	res, err := p.dispatcher.Dispatch(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, DispositionDropped, res.Disposition)
	assert.Empty(t, p.db.users)
	assert.Empty(t, p.db.mappings)
	assert.Zero(t, p.source.calls)
}

func TestDispatch_CheckoutFallsBackToCustomerDetails(t *testing.T) {
	p := newPipeline(t, false)
	obj := checkoutObject("cus_5", "payment", "paid", "", "")
	obj["customer_details"] = map[string]any{"email": "eve@example.com", "name": "Eve"}
	ev := stripeEvent(t, "evt_5", "checkout.session.completed", obj)

	res, err := p.dispatcher.Dispatch(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, DispositionProcessed, res.Disposition)
	assert.Equal(t, "Eve", p.db.users["eve@example.com"].Name)
}

func TestDispatch_SubscriptionUpdated(t *testing.T) {
	p := newPipeline(t, false)
	ctx := context.Background()
	_, _ = p.db.Mappings().Upsert(ctx, "cus_1", "user-1")
	p.source.set("cus_1", types.SubStatusPastDue, nil)

	ev := stripeEvent(t, "evt_6", "customer.subscription.updated", map[string]any{
		"id":       "sub_cus_1",
		"object":   "subscription",
		"customer": "cus_1",
		// The payload status is stale; the provider's current state wins.
		"status": "active",
	})

	res, err := p.dispatcher.Dispatch(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, DispositionProcessed, res.Disposition)
	assert.Equal(t, types.SubStatusPastDue, p.db.subs["cus_1"].Status)
	assert.Equal(t, types.TierFree, p.db.profile("user-1").Entitlement.Tier)
}

func TestDispatch_SubscriptionForUnknownCustomerIsSkipped(t *testing.T) {
	p := newPipeline(t, false)
	p.source.set("cus_unknown", types.SubStatusActive, nil)
	ev := stripeEvent(t, "evt_7", "customer.subscription.deleted", map[string]any{
		"id": "sub_1", "object": "subscription", "customer": "cus_unknown",
	})

	res, err := p.dispatcher.Dispatch(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, DispositionSkipped, res.Disposition)
	assert.Empty(t, p.db.profiles)
}

func TestDispatch_UpstreamFailureIsRetryable(t *testing.T) {
	p := newPipeline(t, false)
	_, _ = p.db.Mappings().Upsert(context.Background(), "cus_1", "user-1")
	p.source.err = types.NewAppError(types.ErrCodeUpstreamStripe, "stripe unavailable", nil)
	ev := stripeEvent(t, "evt_8", "customer.subscription.updated", map[string]any{
		"id": "sub_1", "object": "subscription", "customer": "cus_1",
	})

	res, err := p.dispatcher.Dispatch(context.Background(), ev)
	require.Error(t, err)
	assert.False(t, types.IsPermanent(err))
	assert.Equal(t, DispositionFailed, res.Disposition)
	assert.Equal(t, []Disposition{DispositionFailed}, p.metrics.events)
}

func TestDispatch_PaymentIntentSucceeded(t *testing.T) {
	p := newPipeline(t, false)
	ctx := context.Background()
	_, _ = p.db.Mappings().Upsert(ctx, "cus_1", "user-1")

	standalone := stripeEvent(t, "evt_9", "payment_intent.succeeded", map[string]any{
		"id": "pi_1", "object": "payment_intent", "customer": "cus_1", "invoice": nil,
	})
	res, err := p.dispatcher.Dispatch(ctx, standalone)
	require.NoError(t, err)
	assert.Equal(t, DispositionProcessed, res.Disposition)
	assert.Equal(t, types.TierPro, p.db.profile("user-1").Entitlement.Tier)

	_, _ = p.db.Mappings().Upsert(ctx, "cus_2", "user-2")
	invoiced := stripeEvent(t, "evt_10", "payment_intent.succeeded", map[string]any{
		"id": "pi_2", "object": "payment_intent", "customer": "cus_2", "invoice": "in_1",
	})
	res, err = p.dispatcher.Dispatch(ctx, invoiced)
	require.NoError(t, err)
	assert.Equal(t, DispositionIgnored, res.Disposition)
	assert.Nil(t, p.db.profile("user-2"))
}

func TestDispatch_CustomerDeletedSoftDeletesMapping(t *testing.T) {
	p := newPipeline(t, false)
	ctx := context.Background()
	_, _ = p.db.Mappings().Upsert(ctx, "cus_1", "user-1")
	ev := stripeEvent(t, "evt_11", "customer.deleted", map[string]any{
		"id": "cus_1", "object": "customer", "deleted": true,
	})

	res, err := p.dispatcher.Dispatch(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, DispositionProcessed, res.Disposition)
	require.NotNil(t, p.db.mappings["cus_1"].DeletedAt)

	res, err = p.dispatcher.Dispatch(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, DispositionSkipped, res.Disposition)

	// Entitlement writes for the deleted customer are skipped.
	pay := stripeEvent(t, "evt_12", "payment_intent.succeeded", map[string]any{
		"id": "pi_1", "object": "payment_intent", "customer": "cus_1",
	})
	res, err = p.dispatcher.Dispatch(ctx, pay)
	require.NoError(t, err)
	assert.Equal(t, DispositionSkipped, res.Disposition)
}

func TestDispatch_UnhandledTypeIsIgnored(t *testing.T) {
	p := newPipeline(t, false)
	ev := stripeEvent(t, "evt_13", "invoice.finalized", map[string]any{"id": "in_1", "object": "invoice"})

	res, err := p.dispatcher.Dispatch(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, DispositionIgnored, res.Disposition)
	assert.Equal(t, "invoice.finalized", res.EventType)
	assert.Empty(t, p.db.users)
}

func TestDispatch_MalformedPayloadIsPermanent(t *testing.T) {
	p := newPipeline(t, false)
	ev := stripe.Event{ID: "evt_14", Type: "checkout.session.completed", Data: &stripe.EventData{Raw: []byte(`{"id":`)}}

	res, err := p.dispatcher.Dispatch(context.Background(), ev)
	require.Error(t, err)
	assert.True(t, types.IsPermanent(err))
	assert.Equal(t, DispositionFailed, res.Disposition)
}
