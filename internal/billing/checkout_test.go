package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"coachkit/internal/types"
)

// --- Mock implementations ---

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) CreateCustomer(ctx context.Context, email, name, userID string) (string, error) {
	args := m.Called(ctx, email, name, userID)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) CreateCheckoutSession(ctx context.Context, req types.CheckoutRequest) (*types.CheckoutSession, error) {
	args := m.Called(ctx, req)
	if s := args.Get(0); s != nil {
		return s.(*types.CheckoutSession), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockUsers struct {
	mock.Mock
}

func (m *mockUsers) GetByID(ctx context.Context, id string) (*types.User, error) {
	args := m.Called(ctx, id)
	if u := args.Get(0); u != nil {
		return u.(*types.User), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockCustomers struct {
	mock.Mock
}

func (m *mockCustomers) CustomerIDForUser(ctx context.Context, userID string) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

func (m *mockCustomers) Upsert(ctx context.Context, customerID, userID string) (types.Outcome, error) {
	args := m.Called(ctx, customerID, userID)
	return args.Get(0).(types.Outcome), args.Error(1)
}

type mockPlaceholders struct {
	mock.Mock
}

func (m *mockPlaceholders) InsertPlaceholder(ctx context.Context, customerID, priceID string, now time.Time) (types.Outcome, error) {
	args := m.Called(ctx, customerID, priceID, now)
	return args.Get(0).(types.Outcome), args.Error(1)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var checkoutNow = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

// --- Helper ---

func setupCheckout(allowed ...string) (*CheckoutService, *mockProvider, *mockUsers, *mockCustomers, *mockPlaceholders) {
	provider := new(mockProvider)
	users := new(mockUsers)
	customers := new(mockCustomers)
	placeholders := new(mockPlaceholders)
	svc := NewCheckoutService(provider, users, customers, placeholders, CheckoutServiceConfig{
		AllowedPriceIDs: allowed,
		Clock:           fixedClock{t: checkoutNow},
	})
	return svc, provider, users, customers, placeholders
}

func testUser() *types.User {
	return &types.User{ID: "user_1", Email: "ann@example.com", Name: "Ann"}
}

func subscriptionInput() CheckoutInput {
	return CheckoutInput{
		PriceID:    "price_monthly",
		Mode:       types.CheckoutModeSubscription,
		SuccessURL: "https://app.example.com/billing/success",
		CancelURL:  "https://app.example.com/billing",
	}
}

// --- Tests ---

func TestCreateSession_ReusesMappedCustomer(t *testing.T) {
	svc, provider, users, customers, placeholders := setupCheckout()

	users.On("GetByID", mock.Anything, "user_1").Return(testUser(), nil)
	customers.On("CustomerIDForUser", mock.Anything, "user_1").Return("cus_existing", nil)
	placeholders.On("InsertPlaceholder", mock.Anything, "cus_existing", "price_monthly", checkoutNow).
		Return(types.OutcomeReused, nil)
	provider.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(req types.CheckoutRequest) bool {
		return req.CustomerID == "cus_existing" &&
			req.UserID == "user_1" &&
			req.Email == "ann@example.com" &&
			req.Mode == types.CheckoutModeSubscription &&
			req.URLs.Success == "https://app.example.com/billing/success"
	})).Return(&types.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.com/c/cs_1"}, nil)

	session, err := svc.CreateSession(context.Background(), "user_1", subscriptionInput())
	require.NoError(t, err)
	assert.Equal(t, "cs_1", session.ID)

	provider.AssertNotCalled(t, "CreateCustomer", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	customers.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything)
	placeholders.AssertExpectations(t)
}

func TestCreateSession_CreatesAndMapsCustomer(t *testing.T) {
	svc, provider, users, customers, placeholders := setupCheckout()

	users.On("GetByID", mock.Anything, "user_1").Return(testUser(), nil)
	customers.On("CustomerIDForUser", mock.Anything, "user_1").Return("", nil)
	provider.On("CreateCustomer", mock.Anything, "ann@example.com", "Ann", "user_1").Return("cus_new", nil)
	customers.On("Upsert", mock.Anything, "cus_new", "user_1").Return(types.OutcomeCreated, nil)
	provider.On("CreateCheckoutSession", mock.Anything, mock.Anything).
		Return(&types.CheckoutSession{ID: "cs_2", URL: "https://checkout.stripe.com/c/cs_2"}, nil)

	in := subscriptionInput()
	in.Mode = types.CheckoutModePayment
	session, err := svc.CreateSession(context.Background(), "user_1", in)
	require.NoError(t, err)
	assert.Equal(t, "cs_2", session.ID)

	customers.AssertExpectations(t)
	placeholders.AssertNotCalled(t, "InsertPlaceholder", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateSession_RejectsUnknownPrice(t *testing.T) {
	svc, _, users, _, _ := setupCheckout("price_monthly", "price_yearly")

	in := subscriptionInput()
	in.PriceID = "price_free_money"
	_, err := svc.CreateSession(context.Background(), "user_1", in)
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrCodeValidationInvalidField))
	users.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestCreateSession_ProviderErrorPropagates(t *testing.T) {
	svc, provider, users, customers, _ := setupCheckout()

	users.On("GetByID", mock.Anything, "user_1").Return(testUser(), nil)
	customers.On("CustomerIDForUser", mock.Anything, "user_1").Return("", nil)
	provider.On("CreateCustomer", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", types.NewAppError(types.ErrCodeUpstreamStripe, "stripe down", errors.New("503")))

	_, err := svc.CreateSession(context.Background(), "user_1", subscriptionInput())
	assert.True(t, types.HasCode(err, types.ErrCodeUpstreamStripe))
	customers.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateSession_UnknownUser(t *testing.T) {
	svc, _, users, _, _ := setupCheckout()
	users.On("GetByID", mock.Anything, "ghost").
		Return(nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil))

	_, err := svc.CreateSession(context.Background(), "ghost", subscriptionInput())
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundUser))
}
