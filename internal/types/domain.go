package types

import "time"

// User is an internal account. Accounts created by the reconciliation pipeline
// start with an unusable random password and a pending recovery token.
type User struct {
	ID                string
	Email             string
	Name              string
	PasswordHash      string
	RecoveryTokenHash string
	RecoveryExpiresAt *time.Time
	CreatedAt         time.Time
	LastLoginAt       *time.Time
}

// Session is an authenticated browser session.
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// CustomerMapping binds a payment provider customer id to one user.
type CustomerMapping struct {
	CustomerID string
	UserID     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
}

// SubscriptionRecord is the locally cached snapshot of a customer's most
// recent subscription. Nil period bounds mean the provider reported none.
type SubscriptionRecord struct {
	CustomerID         string
	SubscriptionID     string
	PriceID            string
	Status             SubscriptionStatus
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	PaymentBrand       string
	PaymentLast4       string
	UpdatedAt          time.Time
}

// OrderRecord is one completed one-time payment.
type OrderRecord struct {
	CheckoutSessionID string
	PaymentIntentID   string
	CustomerID        string
	AmountSubtotal    int64
	AmountTotal       int64
	Currency          string
	PaymentStatus     string
	FulfillmentStatus FulfillmentStatus
	CreatedAt         time.Time
}

// Entitlement is the access state derived from billing data.
type Entitlement struct {
	Tier      Tier
	ExpiresAt *time.Time
}

// Effective returns the tier in force at now, treating a past expiry as free.
func (e Entitlement) Effective(now time.Time) Tier {
	if e.ExpiresAt != nil && !e.ExpiresAt.After(now) {
		return TierFree
	}
	if e.Tier == "" {
		return TierFree
	}
	return e.Tier
}

// Profile is the user-facing profile row carrying the entitlement fields.
type Profile struct {
	UserID      string
	DisplayName string
	Entitlement Entitlement
	UpdatedAt   time.Time
}

// RedirectURLs guides the user after provider-hosted checkout.
type RedirectURLs struct {
	Success string
	Cancel  string
}

// CheckoutRequest describes a checkout session to create at the provider.
type CheckoutRequest struct {
	CustomerID string
	UserID     string
	Email      string
	Name       string
	PriceID    string
	Mode       CheckoutMode
	URLs       RedirectURLs
}

// CheckoutSession is the created provider session.
type CheckoutSession struct {
	ID  string
	URL string
}

// Discount describes what a valid coupon takes off.
type Discount struct {
	CouponID         string  `json:"coupon_id"`
	Name             string  `json:"name,omitempty"`
	PercentOff       float64 `json:"percent_off,omitempty"`
	AmountOff        int64   `json:"amount_off,omitempty"`
	Currency         string  `json:"currency,omitempty"`
	Duration         string  `json:"duration"`
	DurationInMonths int64   `json:"duration_in_months,omitempty"`
}

// Coupon is the provider's coupon as needed for validation.
type Coupon struct {
	ID               string
	Name             string
	Valid            bool
	PercentOff       float64
	AmountOff        int64
	Currency         string
	Duration         string
	DurationInMonths int64
	RedeemBy         *time.Time
	MaxRedemptions   int64
	TimesRedeemed    int64

	// Promotion is set when the coupon was reached through a promotion
	// code, which carries its own expiry and redemption limit.
	Promotion *PromotionCode
}

// PromotionCode is a customer-facing code for a coupon.
type PromotionCode struct {
	ID             string
	Code           string
	ExpiresAt      *time.Time
	MaxRedemptions int64
	TimesRedeemed  int64
}

// SenderIdentity is the From address used for transactional email.
type SenderIdentity struct {
	Address string
	Name    string
}

// SendInput is a fully rendered email ready for transmission.
type SendInput struct {
	To          string
	From        SenderIdentity
	Subject     string
	BodyHTML    string
	BodyText    string
	ReferenceID string // tagged on the provider message for correlation
}

// RecoveryEmailMessage is the queued request to deliver an account recovery
// link to a user created during reconciliation.
type RecoveryEmailMessage struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	RecoveryURL string    `json:"recovery_url"`
	ExpiresAt   time.Time `json:"expires_at"`
	RequestedAt time.Time `json:"requested_at"`
}
