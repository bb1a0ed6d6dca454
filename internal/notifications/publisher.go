// Package notifications moves account recovery emails from the
// reconciliation pipeline to the email worker.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"coachkit/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// RecoveryPublisher queues recovery emails on SQS for the email worker.
// It satisfies reconcile.RecoveryNotifier.
type RecoveryPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewRecoveryPublisher creates a RecoveryPublisher targeting queueURL.
func NewRecoveryPublisher(client SQSSender, queueURL string, logger *slog.Logger) *RecoveryPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecoveryPublisher{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// NotifyRecovery serializes msg and sends it to the recovery queue. The
// user id travels as a message attribute so the queue can be inspected
// without decoding bodies.
func (p *RecoveryPublisher) NotifyRecovery(ctx context.Context, msg types.RecoveryEmailMessage) error {
	if msg.Email == "" || msg.RecoveryURL == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "recovery message requires email and recovery_url", nil)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("recovery publisher: failed to marshal message: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"UserID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.UserID),
			},
		},
	}

	out, err := p.client.SendMessage(ctx, input)
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("failed to queue recovery email for user %s", msg.UserID), err)
	}

	var messageID string
	if out != nil {
		messageID = aws.ToString(out.MessageId)
	}
	p.logger.InfoContext(ctx, "recovery email queued",
		"user_id", msg.UserID,
		"message_id", messageID,
	)
	return nil
}

// DiscardNotifier drops recovery emails when email is disabled. The
// account is still created; the user can recover it once email is back on.
type DiscardNotifier struct {
	Logger *slog.Logger
}

func (d DiscardNotifier) NotifyRecovery(ctx context.Context, msg types.RecoveryEmailMessage) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.WarnContext(ctx, "recovery email disabled, message discarded", "user_id", msg.UserID)
	return nil
}
