package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"coachkit/internal/billing"
	"coachkit/internal/core"
	"coachkit/internal/types"
)

// CheckoutCreator creates hosted checkout sessions for a user.
type CheckoutCreator interface {
	CreateSession(ctx context.Context, userID string, in billing.CheckoutInput) (*types.CheckoutSession, error)
}

// CouponChecker validates coupon codes.
type CouponChecker interface {
	Validate(ctx context.Context, code string) (billing.CouponResult, error)
}

// CreateCheckoutRequest is the body of POST /checkout/sessions.
type CreateCheckoutRequest struct {
	PriceID    string `json:"price_id" validate:"required,max=255"`
	SuccessURL string `json:"success_url" validate:"required,redirect_url"`
	CancelURL  string `json:"cancel_url" validate:"required,redirect_url"`
	Mode       string `json:"mode" validate:"required,checkout_mode"`
}

// CheckoutResponse is returned after a session is created. The field names
// match what the web client passes to Stripe.js.
type CheckoutResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// CheckoutHandler serves the authenticated checkout endpoint.
type CheckoutHandler struct {
	checkout  CheckoutCreator
	validator *core.Validator
	logger    *slog.Logger
}

// NewCheckoutHandler creates a CheckoutHandler.
func NewCheckoutHandler(checkout CheckoutCreator, v *core.Validator, l *slog.Logger) *CheckoutHandler {
	if l == nil {
		l = slog.Default()
	}
	return &CheckoutHandler{checkout: checkout, validator: v, logger: l}
}

// RegisterRoutes mounts POST /checkout/sessions. It must be mounted behind
// the auth middleware.
func (h *CheckoutHandler) RegisterRoutes(r chi.Router) {
	r.Post("/checkout/sessions", h.CreateSession)
}

// CreateSession handles POST /checkout/sessions.
func (h *CheckoutHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok || actor.UserID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	var req CreateCheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	session, err := h.checkout.CreateSession(r.Context(), actor.UserID, billing.CheckoutInput{
		PriceID:    req.PriceID,
		Mode:       types.CheckoutMode(req.Mode),
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "checkout session creation failed",
			"user_id", actor.UserID,
			"price_id", req.PriceID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, CheckoutResponse{SessionID: session.ID, URL: session.URL})
}

// ValidateCouponRequest is the body of POST /coupons/validate.
type ValidateCouponRequest struct {
	CouponCode string `json:"coupon_code" validate:"required,max=255"`
}

// ValidateCouponResponse reports whether a coupon may be applied. Error is
// the reason shown to the user when Valid is false.
type ValidateCouponResponse struct {
	Valid    bool            `json:"valid"`
	Discount *types.Discount `json:"discount,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// CouponHandler serves the public coupon check.
type CouponHandler struct {
	coupons   CouponChecker
	validator *core.Validator
	logger    *slog.Logger
}

// NewCouponHandler creates a CouponHandler.
func NewCouponHandler(coupons CouponChecker, v *core.Validator, l *slog.Logger) *CouponHandler {
	if l == nil {
		l = slog.Default()
	}
	return &CouponHandler{coupons: coupons, validator: v, logger: l}
}

// RegisterRoutes mounts POST /coupons/validate.
func (h *CouponHandler) RegisterRoutes(r chi.Router) {
	r.Post("/coupons/validate", h.Validate)
}

// Validate handles POST /coupons/validate. An unusable coupon is a 200 with
// valid=false; only malformed requests and provider failures are errors.
func (h *CouponHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateCouponRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.coupons.Validate(r.Context(), req.CouponCode)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "coupon validation failed", "error", err)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, ValidateCouponResponse{
		Valid:    res.Valid,
		Discount: res.Discount,
		Error:    res.Reason,
	})
}
