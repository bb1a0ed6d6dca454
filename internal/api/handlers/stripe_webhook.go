// Package handlers contains the HTTP handlers of the CoachKit billing API.
//
// Each handler exposes RegisterRoutes so cmd/api can mount it in the
// webhook, public or protected route group of core.Server.
package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	stripe "github.com/stripe/stripe-go/v82"

	"coachkit/internal/archive"
	"coachkit/internal/core"
	"coachkit/internal/external"
	"coachkit/internal/reconcile"
	"coachkit/internal/types"
)

// maxWebhookBodySize caps a Stripe delivery at 64 KB.
const maxWebhookBodySize = 64 * 1024

// EventDispatcher runs a verified event through the reconciliation pipeline.
type EventDispatcher interface {
	Dispatch(ctx context.Context, event stripe.Event) (reconcile.Result, error)
}

// WebhookAck is the body returned for every accepted delivery.
type WebhookAck struct {
	Received bool `json:"received"`
}

// StripeWebhookHandler receives Stripe deliveries. It sits outside the auth
// middleware; the Stripe-Signature header is the only credential.
type StripeWebhookHandler struct {
	verifier   external.WebhookVerifier
	dispatcher EventDispatcher
	archiver   archive.Archiver
	logger     *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler. A nil archiver
// disables archiving.
func NewStripeWebhookHandler(
	verifier external.WebhookVerifier,
	dispatcher EventDispatcher,
	archiver archive.Archiver,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if archiver == nil {
		archiver = archive.NopArchiver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier:   verifier,
		dispatcher: dispatcher,
		archiver:   archiver,
		logger:     logger,
	}
}

// RegisterRoutes mounts POST /webhooks/stripe.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle verifies, archives and dispatches one delivery.
//
// The status tells Stripe whether to redeliver: 200 for anything settled
// (including ignored, dropped and skipped events), 400 for deliveries that
// can never succeed, 500 for failures worth retrying.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to read webhook body", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidJSON, "failed to read request body", err))
		return
	}

	event, err := h.verifier.Verify(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.WarnContext(ctx, "webhook signature verification failed", "error", err)
		core.Error(w, r, err)
		return
	}

	h.archive(ctx, event, payload)

	res, err := h.dispatcher.Dispatch(ctx, event)
	if err != nil {
		if types.IsPermanent(err) {
			core.Error(w, r, err)
			return
		}
		// Stripe only redelivers on 5xx, so upstream codes are not mapped to 502.
		core.JSON(w, r, http.StatusInternalServerError, core.APIErrorResponse{
			Error:     "event processing failed",
			Code:      string(types.CodeOf(err)),
			RequestID: types.GetRequestID(ctx),
		})
		return
	}

	h.logger.InfoContext(ctx, "stripe webhook handled",
		"event_id", res.EventID,
		"event_type", res.EventType,
		"disposition", string(res.Disposition),
	)
	core.JSON(w, r, http.StatusOK, WebhookAck{Received: true})
}

func (h *StripeWebhookHandler) archive(ctx context.Context, event stripe.Event, payload []byte) {
	created := time.Time{}
	if event.Created > 0 {
		created = time.Unix(event.Created, 0)
	}
	key, err := h.archiver.Archive(ctx, event.ID, created, payload)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to archive webhook payload",
			"event_id", event.ID,
			"error", err,
		)
		return
	}
	if key != "" {
		h.logger.DebugContext(ctx, "webhook payload archived", "event_id", event.ID, "key", key)
	}
}
