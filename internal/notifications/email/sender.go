package email

import (
	"context"
	"log/slog"

	"coachkit/internal/external"
	"coachkit/internal/notifications"
	"coachkit/internal/types"
)

// RecoveryRenderer renders a recovery message into email content.
type RecoveryRenderer interface {
	RenderRecovery(msg types.RecoveryEmailMessage) (*RenderedEmail, error)
}

// Sender renders recovery emails and hands them to the provider. The API
// process uses it directly as its reconcile.RecoveryNotifier when no queue
// is configured; the email worker uses it for every queued message.
type Sender struct {
	provider external.EmailProvider
	renderer RecoveryRenderer
	from     types.SenderIdentity
	metrics  notifications.DeliveryMetrics
	logger   *slog.Logger
}

// SenderConfig holds the dependencies needed to create a Sender.
type SenderConfig struct {
	Provider external.EmailProvider
	Renderer RecoveryRenderer
	From     types.SenderIdentity
	Metrics  notifications.DeliveryMetrics
	Logger   *slog.Logger
}

// NewSender creates a Sender with the given dependencies.
func NewSender(cfg SenderConfig) *Sender {
	s := &Sender{
		provider: cfg.Provider,
		renderer: cfg.Renderer,
		from:     cfg.From,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}
	if s.metrics == nil {
		s.metrics = notifications.NopDeliveryMetrics{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// NotifyRecovery renders and sends the recovery email. A blocked recipient
// is returned as ErrRecipientBlocked so callers can stop retrying.
func (s *Sender) NotifyRecovery(ctx context.Context, msg types.RecoveryEmailMessage) error {
	logger := s.logger.With("user_id", msg.UserID, "dest", RedactEmail(msg.Email))

	if msg.Email == "" {
		s.metrics.RecordDelivery(ctx, notifications.ResultInvalid)
		return types.NewAppError(types.ErrCodeValidationMissingField, "recovery email requires a recipient", nil)
	}

	rendered, err := s.renderer.RenderRecovery(msg)
	if err != nil {
		logger.ErrorContext(ctx, "recovery email rendering failed", "error", err)
		s.metrics.RecordDelivery(ctx, notifications.ResultInvalid)
		return err
	}

	msgID, err := s.provider.Send(ctx, types.SendInput{
		To:          msg.Email,
		From:        s.from,
		Subject:     rendered.Subject,
		BodyHTML:    rendered.BodyHTML,
		BodyText:    rendered.BodyText,
		ReferenceID: msg.UserID,
	})
	if err != nil {
		if IsBlocklistError(err) {
			logger.WarnContext(ctx, "recipient blocked by provider")
			s.metrics.RecordDelivery(ctx, notifications.ResultBlocked)
			return ErrRecipientBlocked
		}
		logger.ErrorContext(ctx, "recovery email send failed", "error", err)
		s.metrics.RecordDelivery(ctx, notifications.ResultFailed)
		return err
	}

	logger.InfoContext(ctx, "recovery email sent", "provider_msg_id", msgID)
	s.metrics.RecordDelivery(ctx, notifications.ResultSent)
	return nil
}
