// Package billing starts provider-hosted checkouts and validates coupon
// codes for the CoachKit web app.
package billing

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"coachkit/internal/types"
)

// CheckoutProvider is the payment provider as used by checkout.
type CheckoutProvider interface {
	CreateCustomer(ctx context.Context, email, name, userID string) (string, error)
	CreateCheckoutSession(ctx context.Context, req types.CheckoutRequest) (*types.CheckoutSession, error)
}

// UserLookup loads the authenticated user.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*types.User, error)
}

// CustomerDirectory finds and records the provider customer of a user.
type CustomerDirectory interface {
	CustomerIDForUser(ctx context.Context, userID string) (string, error)
	Upsert(ctx context.Context, customerID, userID string) (types.Outcome, error)
}

// PlaceholderStore records the not_started subscription row.
type PlaceholderStore interface {
	InsertPlaceholder(ctx context.Context, customerID, priceID string, now time.Time) (types.Outcome, error)
}

// CheckoutInput is a validated checkout request from the web app.
type CheckoutInput struct {
	PriceID    string
	Mode       types.CheckoutMode
	SuccessURL string
	CancelURL  string
}

// CheckoutService creates checkout sessions for signed-in users.
type CheckoutService struct {
	provider      CheckoutProvider
	users         UserLookup
	customers     CustomerDirectory
	subscriptions PlaceholderStore
	allowedPrices []string
	clock         types.Clock
	logger        *slog.Logger
}

// CheckoutServiceConfig configures a CheckoutService.
type CheckoutServiceConfig struct {
	// AllowedPriceIDs restricts checkout to known prices when non-empty.
	AllowedPriceIDs []string
	Clock           types.Clock
	Logger          *slog.Logger
}

// NewCheckoutService creates a CheckoutService.
func NewCheckoutService(provider CheckoutProvider, users UserLookup, customers CustomerDirectory, subscriptions PlaceholderStore, cfg CheckoutServiceConfig) *CheckoutService {
	if cfg.Clock == nil {
		cfg.Clock = types.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CheckoutService{
		provider:      provider,
		users:         users,
		customers:     customers,
		subscriptions: subscriptions,
		allowedPrices: cfg.AllowedPriceIDs,
		clock:         cfg.Clock,
		logger:        cfg.Logger,
	}
}

// CreateSession starts a hosted checkout for userID.
//
// The user's provider customer is reused when one is mapped; otherwise a
// customer is created and mapped before the session, so the completion
// event already resolves to this user.
func (s *CheckoutService) CreateSession(ctx context.Context, userID string, in CheckoutInput) (*types.CheckoutSession, error) {
	if len(s.allowedPrices) > 0 && !slices.Contains(s.allowedPrices, in.PriceID) {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidField,
			"price is not available for checkout", nil, map[string]any{"field": "price_id"})
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	customerID, err := s.ensureCustomer(ctx, user)
	if err != nil {
		return nil, err
	}

	if in.Mode == types.CheckoutModeSubscription {
		if _, err := s.subscriptions.InsertPlaceholder(ctx, customerID, in.PriceID, s.clock.Now()); err != nil {
			return nil, err
		}
	}

	session, err := s.provider.CreateCheckoutSession(ctx, types.CheckoutRequest{
		CustomerID: customerID,
		UserID:     user.ID,
		Email:      user.Email,
		Name:       user.Name,
		PriceID:    in.PriceID,
		Mode:       in.Mode,
		URLs:       types.RedirectURLs{Success: in.SuccessURL, Cancel: in.CancelURL},
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "checkout session created",
		"user_id", user.ID,
		"customer_id", customerID,
		"mode", string(in.Mode),
		"price_id", in.PriceID,
	)
	return session, nil
}

func (s *CheckoutService) ensureCustomer(ctx context.Context, user *types.User) (string, error) {
	customerID, err := s.customers.CustomerIDForUser(ctx, user.ID)
	if err != nil {
		return "", err
	}
	if customerID != "" {
		return customerID, nil
	}

	customerID, err = s.provider.CreateCustomer(ctx, user.Email, user.Name, user.ID)
	if err != nil {
		return "", err
	}
	if _, err := s.customers.Upsert(ctx, customerID, user.ID); err != nil {
		return "", err
	}
	return customerID, nil
}
