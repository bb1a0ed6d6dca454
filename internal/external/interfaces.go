package external

import (
	"context"

	stripe "github.com/stripe/stripe-go/v82"

	"coachkit/internal/types"
)

// PaymentProvider abstracts the Stripe REST calls the billing backend makes.
type PaymentProvider interface {
	// LatestSubscription returns the most recent subscription of any status
	// for the customer, or nil when the customer has never subscribed.
	LatestSubscription(ctx context.Context, customerID string) (*types.SubscriptionRecord, error)

	// CreateCustomer creates a Stripe customer tagged with the user id.
	CreateCustomer(ctx context.Context, email, name, userID string) (string, error)

	// CreateCheckoutSession creates a hosted checkout session.
	CreateCheckoutSession(ctx context.Context, req types.CheckoutRequest) (*types.CheckoutSession, error)

	// LookupCoupon resolves a customer-facing promotion code or a raw coupon id.
	LookupCoupon(ctx context.Context, code string) (*types.Coupon, error)
}

// WebhookVerifier authenticates a raw webhook delivery.
type WebhookVerifier interface {
	Verify(payload []byte, signatureHeader string) (stripe.Event, error)
}

// Stripe event types the reconciliation pipeline acts on.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventSubscriptionPaused  = "customer.subscription.paused"
	EventSubscriptionResumed = "customer.subscription.resumed"
	EventPaymentSucceeded    = "payment_intent.succeeded"
	EventCustomerDeleted     = "customer.deleted"
)

// EmailProvider transmits pre-rendered email content.
type EmailProvider interface {
	// Send returns the provider's message id.
	Send(ctx context.Context, input types.SendInput) (providerMsgID string, err error)
}
