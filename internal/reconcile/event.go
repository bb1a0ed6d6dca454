// Package reconcile turns verified payment provider events into durable
// accounts, customer mappings, subscription snapshots, orders and profile
// entitlements. Every step is an idempotent upsert keyed on a provider id,
// so redelivered events converge on the same stored state.
package reconcile

import (
	"encoding/json"
	"fmt"
	"strings"

	stripe "github.com/stripe/stripe-go/v82"

	"coachkit/internal/external"
	"coachkit/internal/types"
)

// Event is the closed set of provider events the pipeline understands.
// Dispatcher.route switches over every variant.
type Event interface {
	EventID() string
	EventType() string
	isEvent()
}

// eventMeta carries the fields every variant shares.
type eventMeta struct {
	ID   string
	Type string
}

func (m eventMeta) EventID() string   { return m.ID }
func (m eventMeta) EventType() string { return m.Type }
func (eventMeta) isEvent()            {}

// CheckoutCompleted is a finished hosted checkout.
type CheckoutCompleted struct {
	eventMeta
	SessionID       string
	CustomerID      string
	Mode            types.CheckoutMode
	PaymentStatus   string
	PaymentIntentID string
	AmountSubtotal  int64
	AmountTotal     int64
	Currency        string
	Email           string
	Name            string
}

// IsPaidOneTime reports whether the session is a settled one-time payment.
func (c CheckoutCompleted) IsPaidOneTime() bool {
	return c.Mode == types.CheckoutModePayment && c.PaymentStatus == string(stripe.CheckoutSessionPaymentStatusPaid)
}

// SubscriptionChanged covers subscription lifecycle events. The payload is
// only used for the customer id; state is re-read from the provider.
type SubscriptionChanged struct {
	eventMeta
	CustomerID     string
	SubscriptionID string
}

// PaymentSucceeded is a payment intent that settled outside of an invoice.
// Invoice-backed intents are reported with ForInvoice set and are left to
// the subscription events.
type PaymentSucceeded struct {
	eventMeta
	PaymentIntentID string
	CustomerID      string
	ForInvoice      bool
}

// CustomerDeleted is the provider deleting a customer object.
type CustomerDeleted struct {
	eventMeta
	CustomerID string
}

// Unhandled is any event type the pipeline does not act on.
type Unhandled struct {
	eventMeta
}

// ParseEvent decodes a verified provider event into its variant. Unknown
// types become Unhandled; a known type with an undecodable payload is a
// validation error.
func ParseEvent(ev stripe.Event) (Event, error) {
	meta := eventMeta{ID: ev.ID, Type: string(ev.Type)}

	var raw json.RawMessage
	if ev.Data != nil {
		raw = ev.Data.Raw
	}

	switch meta.Type {
	case external.EventCheckoutCompleted:
		var s stripe.CheckoutSession
		if err := decodeObject(raw, &s); err != nil {
			return nil, err
		}
		return newCheckoutCompleted(meta, &s), nil

	case external.EventSubscriptionCreated,
		external.EventSubscriptionUpdated,
		external.EventSubscriptionDeleted,
		external.EventSubscriptionPaused,
		external.EventSubscriptionResumed:
		var sub stripe.Subscription
		if err := decodeObject(raw, &sub); err != nil {
			return nil, err
		}
		return SubscriptionChanged{
			eventMeta:      meta,
			CustomerID:     customerID(sub.Customer),
			SubscriptionID: sub.ID,
		}, nil

	case external.EventPaymentSucceeded:
		var pi stripe.PaymentIntent
		if err := decodeObject(raw, &pi); err != nil {
			return nil, err
		}
		// The invoice link is read separately so older and newer API
		// versions decode the same way.
		var link struct {
			Invoice json.RawMessage `json:"invoice"`
		}
		_ = json.Unmarshal(raw, &link)
		return PaymentSucceeded{
			eventMeta:       meta,
			PaymentIntentID: pi.ID,
			CustomerID:      customerID(pi.Customer),
			ForInvoice:      len(link.Invoice) > 0 && string(link.Invoice) != "null",
		}, nil

	case external.EventCustomerDeleted:
		var c stripe.Customer
		if err := decodeObject(raw, &c); err != nil {
			return nil, err
		}
		return CustomerDeleted{eventMeta: meta, CustomerID: c.ID}, nil

	default:
		return Unhandled{eventMeta: meta}, nil
	}
}

func decodeObject(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return types.NewAppError(types.ErrCodeValidationInvalidJSON, "event has no data object", nil)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidJSON, fmt.Sprintf("malformed event data object: %v", err), err)
	}
	return nil
}

func newCheckoutCompleted(meta eventMeta, s *stripe.CheckoutSession) CheckoutCompleted {
	c := CheckoutCompleted{
		eventMeta:      meta,
		SessionID:      s.ID,
		CustomerID:     customerID(s.Customer),
		Mode:           types.CheckoutMode(s.Mode),
		PaymentStatus:  string(s.PaymentStatus),
		AmountSubtotal: s.AmountSubtotal,
		AmountTotal:    s.AmountTotal,
		Currency:       string(s.Currency),
		Email:          strings.TrimSpace(s.Metadata["email"]),
		Name:           strings.TrimSpace(s.Metadata["name"]),
	}
	if s.PaymentIntent != nil {
		c.PaymentIntentID = s.PaymentIntent.ID
	}

	// Sessions started outside our checkout endpoint carry no metadata; the
	// details the customer typed on the hosted page are the fallback.
	if d := s.CustomerDetails; d != nil {
		if c.Email == "" {
			c.Email = strings.TrimSpace(d.Email)
		}
		if c.Name == "" {
			c.Name = strings.TrimSpace(d.Name)
		}
	}
	if c.Email == "" {
		c.Email = strings.TrimSpace(s.CustomerEmail)
	}
	return c
}

func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}
