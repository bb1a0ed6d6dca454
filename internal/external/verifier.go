package external

import (
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"coachkit/internal/types"
)

// StripeVerifier authenticates webhook deliveries with the endpoint's
// signing secret. The payload must be the raw request body exactly as
// received; re-encoded JSON will not match the signature.
type StripeVerifier struct {
	secret string
}

// NewStripeVerifier creates a verifier for one signing secret.
func NewStripeVerifier(secret string) *StripeVerifier {
	return &StripeVerifier{secret: secret}
}

// Verify checks the Stripe-Signature header (HMAC-SHA256 plus timestamp
// tolerance) and decodes the event. Any failure is auth_signature_invalid.
func (v *StripeVerifier) Verify(payload []byte, signatureHeader string) (stripe.Event, error) {
	if signatureHeader == "" {
		return stripe.Event{}, types.NewAppError(types.ErrCodeAuthSignatureInvalid, "missing Stripe-Signature header", nil)
	}

	// Events are decoded field by field downstream, so an account pinned to
	// a different API version is tolerated.
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, types.NewAppError(types.ErrCodeAuthSignatureInvalid, "signature mismatch", err)
	}
	return event, nil
}
