package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"coachkit/internal/types"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// memDB mimics the upsert semantics of the Postgres repositories.
type memDB struct {
	mu        sync.Mutex
	users     map[string]*types.User // keyed by email
	mappings  map[string]*types.CustomerMapping
	profiles  map[string]*types.Profile
	subs      map[string]*types.SubscriptionRecord
	orders    map[string]*types.OrderRecord
	subWrites int
	failWith  error // returned by every write when set
}

func newMemDB() *memDB {
	return &memDB{
		users:    map[string]*types.User{},
		mappings: map[string]*types.CustomerMapping{},
		profiles: map[string]*types.Profile{},
		subs:     map[string]*types.SubscriptionRecord{},
		orders:   map[string]*types.OrderRecord{},
	}
}

func (d *memDB) Users() *memUsers        { return &memUsers{d} }
func (d *memDB) Mappings() *memMappings  { return &memMappings{d} }
func (d *memDB) Profiles() *memProfiles  { return &memProfiles{d} }
func (d *memDB) Subscriptions() *memSubs { return &memSubs{d} }
func (d *memDB) Orders() *memOrders      { return &memOrders{d} }

func (d *memDB) profile(userID string) *types.Profile {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.profiles[userID]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

type memUsers struct{ d *memDB }

func (u *memUsers) GetByEmail(_ context.Context, email string) (*types.User, error) {
	u.d.mu.Lock()
	defer u.d.mu.Unlock()
	if usr, ok := u.d.users[email]; ok {
		cp := *usr
		return &cp, nil
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
}

func (u *memUsers) CreateIfAbsent(_ context.Context, user *types.User) (*types.User, types.Outcome, error) {
	u.d.mu.Lock()
	defer u.d.mu.Unlock()
	if u.d.failWith != nil {
		return nil, "", u.d.failWith
	}
	if existing, ok := u.d.users[user.Email]; ok {
		cp := *existing
		return &cp, types.OutcomeReused, nil
	}
	cp := *user
	u.d.users[user.Email] = &cp
	return user, types.OutcomeCreated, nil
}

type memMappings struct{ d *memDB }

func (m *memMappings) Upsert(_ context.Context, customerID, userID string) (types.Outcome, error) {
	m.d.mu.Lock()
	defer m.d.mu.Unlock()
	if m.d.failWith != nil {
		return "", m.d.failWith
	}
	for id, mp := range m.d.mappings {
		if id != customerID && mp.UserID == userID && mp.DeletedAt == nil {
			now := testNow
			mp.DeletedAt = &now
		}
	}
	if existing, ok := m.d.mappings[customerID]; ok {
		existing.UserID = userID
		existing.DeletedAt = nil
		return types.OutcomeReused, nil
	}
	m.d.mappings[customerID] = &types.CustomerMapping{CustomerID: customerID, UserID: userID}
	return types.OutcomeCreated, nil
}

func (m *memMappings) UserIDFor(_ context.Context, customerID string) (string, error) {
	m.d.mu.Lock()
	defer m.d.mu.Unlock()
	mp, ok := m.d.mappings[customerID]
	if !ok || mp.DeletedAt != nil {
		return "", types.NewAppErrorWithDetails(types.ErrCodeNotFoundCustomerMapping, "no active mapping", nil,
			map[string]any{"customer_id": customerID})
	}
	return mp.UserID, nil
}

func (m *memMappings) SoftDelete(_ context.Context, customerID string) (bool, error) {
	m.d.mu.Lock()
	defer m.d.mu.Unlock()
	mp, ok := m.d.mappings[customerID]
	if !ok || mp.DeletedAt != nil {
		return false, nil
	}
	now := testNow
	mp.DeletedAt = &now
	return true, nil
}

func (m *memMappings) ListActiveCustomerIDs(_ context.Context) ([]string, error) {
	m.d.mu.Lock()
	defer m.d.mu.Unlock()
	var ids []string
	for id, mp := range m.d.mappings {
		if mp.DeletedAt == nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

type memProfiles struct{ d *memDB }

func (p *memProfiles) EnsureProfile(_ context.Context, userID, displayName string, now time.Time) error {
	p.d.mu.Lock()
	defer p.d.mu.Unlock()
	if p.d.failWith != nil {
		return p.d.failWith
	}
	if existing, ok := p.d.profiles[userID]; ok {
		existing.DisplayName = displayName
		existing.UpdatedAt = now
		return nil
	}
	p.d.profiles[userID] = &types.Profile{
		UserID:      userID,
		DisplayName: displayName,
		Entitlement: types.Entitlement{Tier: types.TierFree},
		UpdatedAt:   now,
	}
	return nil
}

func (p *memProfiles) SetEntitlement(_ context.Context, userID string, ent types.Entitlement, now time.Time) error {
	p.d.mu.Lock()
	defer p.d.mu.Unlock()
	if p.d.failWith != nil {
		return p.d.failWith
	}
	existing, ok := p.d.profiles[userID]
	if !ok {
		existing = &types.Profile{UserID: userID}
		p.d.profiles[userID] = existing
	}
	if ent.Tier == types.TierFree && existing.Entitlement.Tier == types.TierFree && existing.Entitlement.ExpiresAt != nil {
		ent.ExpiresAt = existing.Entitlement.ExpiresAt
	}
	existing.Entitlement = ent
	existing.UpdatedAt = now
	return nil
}

type memSubs struct{ d *memDB }

func (s *memSubs) Upsert(_ context.Context, rec *types.SubscriptionRecord) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if s.d.failWith != nil {
		return s.d.failWith
	}
	cp := *rec
	s.d.subs[rec.CustomerID] = &cp
	s.d.subWrites++
	return nil
}

type memOrders struct{ d *memDB }

func (o *memOrders) Insert(_ context.Context, order *types.OrderRecord) (types.Outcome, error) {
	o.d.mu.Lock()
	defer o.d.mu.Unlock()
	if o.d.failWith != nil {
		return "", o.d.failWith
	}
	if _, ok := o.d.orders[order.CheckoutSessionID]; ok {
		return types.OutcomeReused, nil
	}
	cp := *order
	o.d.orders[order.CheckoutSessionID] = &cp
	return types.OutcomeCreated, nil
}

func (o *memOrders) MarkFulfilled(_ context.Context, sessionID string) error {
	o.d.mu.Lock()
	defer o.d.mu.Unlock()
	if order, ok := o.d.orders[sessionID]; ok {
		order.FulfillmentStatus = types.FulfillmentFulfilled
	}
	return nil
}

func (o *memOrders) HasPurchase(_ context.Context, userID string) (bool, error) {
	o.d.mu.Lock()
	defer o.d.mu.Unlock()
	for _, order := range o.d.orders {
		if mp, ok := o.d.mappings[order.CustomerID]; ok && mp.UserID == userID && order.PaymentStatus == "paid" {
			return true, nil
		}
	}
	return false, nil
}

// fakeSource is the provider's view of subscriptions.
type fakeSource struct {
	mu    sync.Mutex
	subs  map[string]*types.SubscriptionRecord
	err   error
	calls int
}

func newFakeSource() *fakeSource {
	return &fakeSource{subs: map[string]*types.SubscriptionRecord{}}
}

func (f *fakeSource) set(customerID string, status types.SubscriptionStatus, periodEnd *time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[customerID] = &types.SubscriptionRecord{
		CustomerID:       customerID,
		SubscriptionID:   "sub_" + customerID,
		PriceID:          "price_monthly",
		Status:           status,
		CurrentPeriodEnd: periodEnd,
	}
}

func (f *fakeSource) LatestSubscription(_ context.Context, customerID string) (*types.SubscriptionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	rec, ok := f.subs[customerID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

type fakeCredentials struct {
	n   int
	err error
}

func (c *fakeCredentials) TemporaryPasswordHash() (string, error) {
	if c.err != nil {
		return "", c.err
	}
	return "$2a$10$temporary", nil
}

func (c *fakeCredentials) NewRecoveryToken() (string, string, error) {
	if c.err != nil {
		return "", "", c.err
	}
	c.n++
	return fmt.Sprintf("token-%d", c.n), fmt.Sprintf("hash-%d", c.n), nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []types.RecoveryEmailMessage
	err  error
}

func (n *recordingNotifier) NotifyRecovery(_ context.Context, msg types.RecoveryEmailMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs)
}

type recordingMetrics struct {
	mu     sync.Mutex
	events []Disposition
	sweeps [][2]int
}

func (m *recordingMetrics) RecordEvent(_ context.Context, _ string, d Disposition, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, d)
}

func (m *recordingMetrics) RecordSweep(_ context.Context, succeeded, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweeps = append(m.sweeps, [2]int{succeeded, failed})
}

// pipeline wires the real components over in-memory stores.
type pipeline struct {
	db         *memDB
	source     *fakeSource
	notifier   *recordingNotifier
	metrics    *recordingMetrics
	dispatcher *Dispatcher
	sync       *Synchronizer
}

func newPipeline(t *testing.T, grace bool) *pipeline {
	t.Helper()
	db := newMemDB()
	source := newFakeSource()
	notifier := &recordingNotifier{}
	metrics := &recordingMetrics{}
	clock := fixedClock{t: testNow}

	entitlements := NewEntitlementUpdater(db.Mappings(), db.Profiles(), EntitlementUpdaterConfig{
		Purchases:        db.Orders(),
		GraceToPeriodEnd: grace,
		Clock:            clock,
	})
	syncer := NewSynchronizer(source, db.Subscriptions(), entitlements, clock, nil)
	resolver := NewResolver(db.Users(), db.Mappings(), db.Profiles(), &fakeCredentials{}, notifier, ResolverConfig{
		AppURL: "https://app.example.com",
		Clock:  clock,
	})
	orders := NewOrderRecorder(db.Orders(), entitlements, clock, nil)

	return &pipeline{
		db:       db,
		source:   source,
		notifier: notifier,
		metrics:  metrics,
		sync:     syncer,
		dispatcher: NewDispatcher(DispatcherDeps{
			Resolver:     resolver,
			Sync:         syncer,
			Orders:       orders,
			Entitlements: entitlements,
			Mappings:     db.Mappings(),
			Metrics:      metrics,
			Clock:        clock,
		}),
	}
}

func (p *pipeline) userID(t *testing.T, email string) string {
	t.Helper()
	u, err := p.db.Users().GetByEmail(context.Background(), email)
	if err != nil {
		t.Fatalf("user %s not found: %v", email, err)
	}
	return u.ID
}

func stripeEvent(t *testing.T, id, eventType string, object map[string]any) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	if err != nil {
		t.Fatalf("marshal event object: %v", err)
	}
	return stripe.Event{
		ID:   id,
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

func checkoutObject(customerID, mode, paymentStatus, email, name string) map[string]any {
	obj := map[string]any{
		"id":              "cs_" + customerID,
		"object":          "checkout.session",
		"customer":        customerID,
		"mode":            mode,
		"payment_status":  paymentStatus,
		"amount_subtotal": 4900,
		"amount_total":    4900,
		"currency":        "usd",
		"payment_intent":  "pi_" + customerID,
		"metadata":        map[string]string{},
	}
	md := obj["metadata"].(map[string]string)
	if email != "" {
		md["email"] = email
	}
	if name != "" {
		md["name"] = name
	}
	return obj
}
