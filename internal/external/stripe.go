package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"coachkit/internal/types"
)

const stripeAPIBase = "https://api.stripe.com"

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string // defaults to stripeAPIBase
	Logger    *slog.Logger
}

// StripeClient implements PaymentProvider with direct form-encoded calls to
// the Stripe REST API through BaseClient, so every call shares the breaker,
// retry and error mapping of the other vendor clients.
type StripeClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	logger    *slog.Logger
}

// NewStripeClient creates a StripeClient. httpClient should carry the
// configured Stripe timeout.
func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig) *StripeClient {
	base := NewBaseClient(
		httpClient,
		"stripe",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"CoachKit/1.0",
	)
	return NewStripeClientWithBase(base, cfg)
}

// NewStripeClientWithBase creates a StripeClient around a pre-configured
// BaseClient.
func NewStripeClientWithBase(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// Base exposes the underlying BaseClient for health reporting.
func (s *StripeClient) Base() *BaseClient {
	return s.base
}

// LatestSubscription lists the customer's subscriptions across all statuses
// and returns the newest one. Stripe orders the list by creation date
// descending, so limit=1 is enough.
func (s *StripeClient) LatestSubscription(ctx context.Context, customerID string) (*types.SubscriptionRecord, error) {
	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("status", "all")
	params.Set("limit", "1")
	params.Add("expand[]", "data.default_payment_method")

	resp, err := s.doGet(ctx, "/v1/subscriptions", params)
	if err != nil {
		return nil, s.wrapStripeError("LatestSubscription", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "LatestSubscription")
	}

	var list stripeSubscriptionList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamStripe, "failed to decode Stripe subscription list", err)
	}
	if len(list.Data) == 0 {
		return nil, nil
	}

	rec := mapStripeSubscription(customerID, &list.Data[0])
	return rec, nil
}

// CreateCustomer creates a Stripe customer for a user. The idempotency key
// is derived from the user id so a retried request reuses the first customer.
func (s *StripeClient) CreateCustomer(ctx context.Context, email, name, userID string) (string, error) {
	params := url.Values{}
	params.Set("email", email)
	if name != "" {
		params.Set("name", name)
	}
	params.Set("metadata[user_id]", userID)

	resp, err := s.doPost(ctx, "/v1/customers", params, "customer-create-"+userID)
	if err != nil {
		return "", s.wrapStripeError("CreateCustomer", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(resp, "CreateCustomer")
	}

	var customer stripeCustomer
	if err := json.NewDecoder(resp.Body).Decode(&customer); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamStripe, "failed to decode Stripe customer response", err)
	}
	return customer.ID, nil
}

// CreateCheckoutSession creates a hosted checkout session. The user's email
// and name travel in session metadata so the webhook can resolve identity
// without a second lookup.
func (s *StripeClient) CreateCheckoutSession(ctx context.Context, req types.CheckoutRequest) (*types.CheckoutSession, error) {
	params := url.Values{}
	params.Set("mode", string(req.Mode))
	params.Set("success_url", req.URLs.Success)
	params.Set("cancel_url", req.URLs.Cancel)
	params.Set("line_items[0][price]", req.PriceID)
	params.Set("line_items[0][quantity]", "1")
	params.Set("allow_promotion_codes", "true")

	if req.CustomerID != "" {
		params.Set("customer", req.CustomerID)
	} else {
		params.Set("customer_email", req.Email)
		if req.Mode == types.CheckoutModePayment {
			params.Set("customer_creation", "always")
		}
	}
	if req.UserID != "" {
		params.Set("client_reference_id", req.UserID)
		params.Set("metadata[user_id]", req.UserID)
	}
	params.Set("metadata[email]", req.Email)
	params.Set("metadata[name]", req.Name)
	if req.Mode == types.CheckoutModeSubscription && req.UserID != "" {
		params.Set("subscription_data[metadata][user_id]", req.UserID)
	}

	resp, err := s.doPost(ctx, "/v1/checkout/sessions", params, "")
	if err != nil {
		return nil, s.wrapStripeError("CreateCheckoutSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "CreateCheckoutSession")
	}

	var session stripeCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamStripe, "failed to decode Stripe checkout session response", err)
	}
	return &types.CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

// LookupCoupon resolves code as an active promotion code first, then as a
// raw coupon id. A code matching neither returns ErrCodeNotFoundCoupon.
func (s *StripeClient) LookupCoupon(ctx context.Context, code string) (*types.Coupon, error) {
	params := url.Values{}
	params.Set("code", code)
	params.Set("active", "true")
	params.Set("limit", "1")

	resp, err := s.doGet(ctx, "/v1/promotion_codes", params)
	if err != nil {
		return nil, s.wrapStripeError("LookupCoupon.promotion", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "LookupCoupon.promotion")
	}

	var promos stripePromotionCodeList
	if err := json.NewDecoder(resp.Body).Decode(&promos); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamStripe, "failed to decode Stripe promotion code list", err)
	}
	if len(promos.Data) > 0 && promos.Data[0].Coupon != nil {
		promo := promos.Data[0]
		coupon := mapStripeCoupon(promo.Coupon)
		coupon.Promotion = &types.PromotionCode{
			ID:             promo.ID,
			Code:           promo.Code,
			ExpiresAt:      epochToTime(&promo.ExpiresAt),
			MaxRedemptions: promo.MaxRedemptions,
			TimesRedeemed:  promo.TimesRedeemed,
		}
		return coupon, nil
	}

	couponResp, err := s.doGet(ctx, "/v1/coupons/"+url.PathEscape(code), nil)
	if err != nil {
		return nil, s.wrapStripeError("LookupCoupon.coupon", err)
	}
	defer couponResp.Body.Close()

	if couponResp.StatusCode == http.StatusNotFound {
		return nil, types.NewAppError(types.ErrCodeNotFoundCoupon, "coupon not found", nil)
	}
	if couponResp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(couponResp, "LookupCoupon.coupon")
	}

	var coupon stripeCoupon
	if err := json.NewDecoder(couponResp.Body).Decode(&coupon); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamStripe, "failed to decode Stripe coupon", err)
	}
	return mapStripeCoupon(&coupon), nil
}

// ---------------------------------------------------------------------------
// HTTP Helpers
// ---------------------------------------------------------------------------

func (s *StripeClient) doGet(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values, idempotencyKey string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

func (s *StripeClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
}

// ---------------------------------------------------------------------------
// Error Handling
// ---------------------------------------------------------------------------

type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
	Param       string `json:"param"`
}

func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d with non-JSON body", operation, resp.StatusCode),
			jsonErr,
		)
	}

	s.logger.Warn("stripe request failed",
		"operation", operation,
		"status", resp.StatusCode,
		"stripe_type", stripeErr.Error.Type,
		"stripe_code", stripeErr.Error.Code,
	)
	return mapStripeError(operation, resp.StatusCode, &stripeErr.Error)
}

// mapStripeError translates a Stripe error body into an AppError. Caller
// mistakes (bad price ids, bad params) stay validation errors; everything
// else is an upstream failure.
func mapStripeError(operation string, statusCode int, stripeErr *stripeErrorBody) error {
	if stripeErr.Code == "card_declined" || stripeErr.DeclineCode != "" {
		return types.NewAppErrorWithDetails(
			types.ErrCodePaymentDeclined,
			fmt.Sprintf("%s: payment declined: %s", operation, stripeErr.Message),
			nil,
			map[string]any{
				"decline_code": stripeErr.DeclineCode,
				"stripe_code":  stripeErr.Code,
			},
		)
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, operation+": Stripe rate limit exceeded", nil)
	case statusCode >= 500:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, operation+": Stripe server error: "+stripeErr.Message, nil)
	case statusCode == http.StatusNotFound:
		return types.NewAppError(types.ErrCodeNotFoundResource, operation+": Stripe resource not found: "+stripeErr.Message, nil)
	case statusCode == http.StatusBadRequest && stripeErr.Type == "invalid_request_error":
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidField,
			stripeErr.Message,
			nil,
			map[string]any{"param": stripeErr.Param},
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe error (%d): %s", operation, statusCode, stripeErr.Message),
			nil,
		)
	}
}

func (s *StripeClient) wrapStripeError(operation string, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe request failed: %v", operation, err),
		err,
	)
}

// ---------------------------------------------------------------------------
// Stripe Response Types
// ---------------------------------------------------------------------------

type stripeCustomer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type stripeCheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// stripeSubscription accepts both API shapes: period bounds on the
// subscription items (current) and on the subscription itself (pre-2025).
type stripeSubscription struct {
	ID                   string                  `json:"id"`
	Status               string                  `json:"status"`
	CancelAtPeriodEnd    bool                    `json:"cancel_at_period_end"`
	CurrentPeriodStart   *int64                  `json:"current_period_start"`
	CurrentPeriodEnd     *int64                  `json:"current_period_end"`
	Items                stripeSubscriptionItems `json:"items"`
	DefaultPaymentMethod *stripePaymentMethodRef `json:"default_payment_method"`
}

type stripeSubscriptionItems struct {
	Data []stripeSubscriptionItem `json:"data"`
}

type stripeSubscriptionItem struct {
	Price              stripePrice `json:"price"`
	CurrentPeriodStart *int64      `json:"current_period_start"`
	CurrentPeriodEnd   *int64      `json:"current_period_end"`
}

type stripePrice struct {
	ID string `json:"id"`
}

// stripePaymentMethodRef decodes an expanded payment method. An unexpanded
// reference arrives as a bare id string and leaves the card empty.
type stripePaymentMethodRef struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Card *stripeCardInfo `json:"card"`
}

func (p *stripePaymentMethodRef) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		p.ID = id
		return nil
	}
	type alias stripePaymentMethodRef
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*p = stripePaymentMethodRef(a)
	return nil
}

type stripeCardInfo struct {
	Last4 string `json:"last4"`
	Brand string `json:"brand"`
}

type stripeSubscriptionList struct {
	Data    []stripeSubscription `json:"data"`
	HasMore bool                 `json:"has_more"`
}

type stripeCoupon struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Valid            bool    `json:"valid"`
	PercentOff       float64 `json:"percent_off"`
	AmountOff        int64   `json:"amount_off"`
	Currency         string  `json:"currency"`
	Duration         string  `json:"duration"`
	DurationInMonths int64   `json:"duration_in_months"`
	RedeemBy         int64   `json:"redeem_by"`
	MaxRedemptions   int64   `json:"max_redemptions"`
	TimesRedeemed    int64   `json:"times_redeemed"`
}

type stripePromotionCode struct {
	ID             string        `json:"id"`
	Code           string        `json:"code"`
	Coupon         *stripeCoupon `json:"coupon"`
	ExpiresAt      int64         `json:"expires_at"`
	MaxRedemptions int64         `json:"max_redemptions"`
	TimesRedeemed  int64         `json:"times_redeemed"`
}

type stripePromotionCodeList struct {
	Data []stripePromotionCode `json:"data"`
}

// ---------------------------------------------------------------------------
// Mapping Functions
// ---------------------------------------------------------------------------

func mapStripeSubscription(customerID string, sub *stripeSubscription) *types.SubscriptionRecord {
	rec := &types.SubscriptionRecord{
		CustomerID:        customerID,
		SubscriptionID:    sub.ID,
		Status:            types.SubscriptionStatus(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}

	start, end := sub.CurrentPeriodStart, sub.CurrentPeriodEnd
	if len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		rec.PriceID = item.Price.ID
		if item.CurrentPeriodStart != nil {
			start = item.CurrentPeriodStart
		}
		if item.CurrentPeriodEnd != nil {
			end = item.CurrentPeriodEnd
		}
	}
	rec.CurrentPeriodStart = epochToTime(start)
	rec.CurrentPeriodEnd = epochToTime(end)

	if pm := sub.DefaultPaymentMethod; pm != nil && pm.Card != nil {
		rec.PaymentBrand = pm.Card.Brand
		rec.PaymentLast4 = pm.Card.Last4
	}
	return rec
}

// epochToTime converts provider epoch seconds. Missing or zero means the
// provider defined no bound, which stays nil.
func epochToTime(sec *int64) *time.Time {
	if sec == nil || *sec == 0 {
		return nil
	}
	t := time.Unix(*sec, 0).UTC()
	return &t
}

func mapStripeCoupon(c *stripeCoupon) *types.Coupon {
	return &types.Coupon{
		ID:               c.ID,
		Name:             c.Name,
		Valid:            c.Valid,
		PercentOff:       c.PercentOff,
		AmountOff:        c.AmountOff,
		Currency:         c.Currency,
		Duration:         c.Duration,
		DurationInMonths: c.DurationInMonths,
		RedeemBy:         epochToTime(&c.RedeemBy),
		MaxRedemptions:   c.MaxRedemptions,
		TimesRedeemed:    c.TimesRedeemed,
	}
}
