package types

// Tier is the access level stored on a user profile.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// SubscriptionStatus mirrors the payment provider's subscription states plus
// the local "not_started" placeholder written before checkout completes.
type SubscriptionStatus string

const (
	SubStatusNotStarted        SubscriptionStatus = "not_started"
	SubStatusActive            SubscriptionStatus = "active"
	SubStatusTrialing          SubscriptionStatus = "trialing"
	SubStatusPastDue           SubscriptionStatus = "past_due"
	SubStatusCanceled          SubscriptionStatus = "canceled"
	SubStatusIncomplete        SubscriptionStatus = "incomplete"
	SubStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubStatusUnpaid            SubscriptionStatus = "unpaid"
	SubStatusPaused            SubscriptionStatus = "paused"
)

// GrantsAccess reports whether the status entitles the customer to paid
// features.
func (s SubscriptionStatus) GrantsAccess() bool {
	return s == SubStatusActive || s == SubStatusTrialing
}

// CheckoutMode is the payment provider's checkout session mode.
type CheckoutMode string

const (
	CheckoutModeSubscription CheckoutMode = "subscription"
	CheckoutModePayment      CheckoutMode = "payment"
)

// Outcome tags the result of an idempotent write so callers can tell a first
// write from a redelivery without inspecting driver errors.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeReused  Outcome = "reused"
)

// FulfillmentStatus tracks order fulfillment.
type FulfillmentStatus string

const (
	FulfillmentPending   FulfillmentStatus = "pending"
	FulfillmentFulfilled FulfillmentStatus = "fulfilled"
)
