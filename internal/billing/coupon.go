package billing

import (
	"context"
	"strings"

	"coachkit/internal/types"
)

// CouponLookup fetches a coupon by promotion code or coupon id.
type CouponLookup interface {
	LookupCoupon(ctx context.Context, code string) (*types.Coupon, error)
}

// CouponResult is the outcome of a coupon check. Reason is set when the
// coupon is not valid.
type CouponResult struct {
	Valid    bool
	Discount *types.Discount
	Reason   string
}

// CouponValidator checks coupon codes against the provider.
type CouponValidator struct {
	coupons CouponLookup
	clock   types.Clock
}

// NewCouponValidator creates a CouponValidator.
func NewCouponValidator(coupons CouponLookup, clock types.Clock) *CouponValidator {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &CouponValidator{coupons: coupons, clock: clock}
}

// Validate reports whether code can be redeemed now. An unknown code is a
// normal invalid result, not an error; provider failures are errors.
func (v *CouponValidator) Validate(ctx context.Context, code string) (CouponResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return CouponResult{}, types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
			"coupon_code is required", nil, map[string]any{"field": "coupon_code"})
	}

	coupon, err := v.coupons.LookupCoupon(ctx, code)
	if err != nil {
		if types.HasCode(err, types.ErrCodeNotFoundCoupon) {
			return CouponResult{Reason: "Invalid coupon code"}, nil
		}
		return CouponResult{}, err
	}

	now := v.clock.Now()
	if promo := coupon.Promotion; promo != nil {
		switch {
		case promo.ExpiresAt != nil && !promo.ExpiresAt.After(now):
			return CouponResult{Reason: "This coupon has expired"}, nil
		case promo.MaxRedemptions > 0 && promo.TimesRedeemed >= promo.MaxRedemptions:
			return CouponResult{Reason: "This coupon has reached its redemption limit"}, nil
		}
	}

	switch {
	case !coupon.Valid:
		return CouponResult{Reason: "This coupon is no longer valid"}, nil
	case coupon.RedeemBy != nil && !coupon.RedeemBy.After(now):
		return CouponResult{Reason: "This coupon has expired"}, nil
	case coupon.MaxRedemptions > 0 && coupon.TimesRedeemed >= coupon.MaxRedemptions:
		return CouponResult{Reason: "This coupon has reached its redemption limit"}, nil
	}

	return CouponResult{
		Valid: true,
		Discount: &types.Discount{
			CouponID:         coupon.ID,
			Name:             coupon.Name,
			PercentOff:       coupon.PercentOff,
			AmountOff:        coupon.AmountOff,
			Currency:         coupon.Currency,
			Duration:         coupon.Duration,
			DurationInMonths: coupon.DurationInMonths,
		},
	}, nil
}
