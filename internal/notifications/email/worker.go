package email

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"coachkit/internal/notifications"
	"coachkit/internal/types"
)

// RecoveryNotifier delivers one recovery message.
type RecoveryNotifier interface {
	NotifyRecovery(ctx context.Context, msg types.RecoveryEmailMessage) error
}

// Worker consumes queued recovery messages. Each SQS record is processed
// independently; only transient failures are reported back in
// BatchItemFailures so SQS redelivers them.
type Worker struct {
	sender  RecoveryNotifier
	metrics notifications.DeliveryMetrics
	clock   types.Clock
	logger  *slog.Logger
}

// NewWorker creates a Worker.
func NewWorker(sender RecoveryNotifier, metrics notifications.DeliveryMetrics, clock types.Clock, logger *slog.Logger) *Worker {
	if metrics == nil {
		metrics = notifications.NopDeliveryMetrics{}
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{sender: sender, metrics: metrics, clock: clock, logger: logger}
}

// Handle is the Lambda SQS handler.
func (w *Worker) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := w.processMessage(ctx, record); err != nil {
			w.logger.ErrorContext(ctx, "failed to process SQS message",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

// processMessage returns an error only when redelivery could help.
func (w *Worker) processMessage(ctx context.Context, record events.SQSMessage) error {
	var msg types.RecoveryEmailMessage
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
		w.logger.ErrorContext(ctx, "failed to unmarshal recovery message",
			"message_id", record.MessageId,
			"error", err.Error(),
		)
		w.metrics.RecordDelivery(ctx, notifications.ResultInvalid)
		return nil
	}

	logger := w.logger.With("message_id", record.MessageId, "user_id", msg.UserID)

	if sent, ok := record.Attributes["SentTimestamp"]; ok {
		if ms, err := strconv.ParseInt(sent, 10, 64); err == nil {
			w.metrics.RecordQueueLag(ctx, w.clock.Now().Sub(time.UnixMilli(ms)))
		}
	}

	if !msg.ExpiresAt.IsZero() && !msg.ExpiresAt.After(w.clock.Now()) {
		logger.WarnContext(ctx, "recovery link expired before delivery, dropping")
		return nil
	}

	err := w.sender.NotifyRecovery(ctx, msg)
	switch {
	case err == nil:
		return nil
	case IsBlocklistError(err), types.IsPermanent(err):
		logger.WarnContext(ctx, "recovery email permanently undeliverable", "error", err.Error())
		return nil
	default:
		return err
	}
}
