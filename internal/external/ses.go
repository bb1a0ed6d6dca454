package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"coachkit/internal/types"
)

// SESAPI is the subset of the SES v2 client used by SESClient.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESClientConfig holds the configuration for creating an SESClient.
type SESClientConfig struct {
	ConfigSetName string // optional
	Logger        *slog.Logger
}

// SESClient implements EmailProvider on AWS SES v2. Credentials come from
// the execution role and the SDK retries throttling on its own, so it does
// not go through BaseClient.
type SESClient struct {
	api           SESAPI
	configSetName string
	logger        *slog.Logger
}

// NewSESClient creates an SESClient from an AWS config.
func NewSESClient(awsCfg aws.Config, cfg SESClientConfig) *SESClient {
	return NewSESClientWithAPI(sesv2.NewFromConfig(awsCfg), cfg)
}

// NewSESClientWithAPI creates an SESClient around an existing SESAPI.
func NewSESClientWithAPI(api SESAPI, cfg SESClientConfig) *SESClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SESClient{
		api:           api,
		configSetName: cfg.ConfigSetName,
		logger:        logger,
	}
}

// Send transmits pre-rendered content as a simple SES message.
func (s *SESClient) Send(ctx context.Context, input types.SendInput) (string, error) {
	if input.To == "" {
		return "", types.NewAppError(types.ErrCodeValidationMissingField, "recipient address is required", nil)
	}
	if input.BodyHTML == "" && input.BodyText == "" {
		return "", types.NewAppError(types.ErrCodeValidationMissingField, "email body is required", nil)
	}

	body := &sestypes.Body{}
	if input.BodyHTML != "" {
		body.Html = utf8Content(input.BodyHTML)
	}
	if input.BodyText != "" {
		body.Text = utf8Content(input.BodyText)
	}

	req := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(formatSender(input.From)),
		Destination:      &sestypes.Destination{ToAddresses: []string{input.To}},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: utf8Content(input.Subject),
				Body:    body,
			},
		},
	}
	if s.configSetName != "" {
		req.ConfigurationSetName = aws.String(s.configSetName)
	}
	if input.ReferenceID != "" {
		req.EmailTags = []sestypes.MessageTag{{
			Name:  aws.String("ReferenceID"),
			Value: aws.String(input.ReferenceID),
		}}
	}

	out, err := s.api.SendEmail(ctx, req)
	if err != nil {
		return "", mapSESError(err)
	}

	msgID := aws.ToString(out.MessageId)
	s.logger.DebugContext(ctx, "email sent", "provider_msg_id", msgID, "reference_id", input.ReferenceID)
	return msgID, nil
}

func utf8Content(data string) *sestypes.Content {
	return &sestypes.Content{Data: aws.String(data), Charset: aws.String("UTF-8")}
}

// formatSender renders "Name <addr>" with RFC 5322 quoting of the name.
func formatSender(from types.SenderIdentity) string {
	if from.Name == "" {
		return from.Address
	}
	return (&mail.Address{Name: from.Name, Address: from.Address}).String()
}

// mapSESError translates SES failures into AppErrors. A rejected message
// is permanent; throttling and paused sending are transient.
func mapSESError(err error) error {
	var rejected *sestypes.MessageRejected
	if errors.As(err, &rejected) {
		return types.NewAppError(types.ErrCodeValidationEmailBlocked, fmt.Sprintf("SES rejected message: %v", err), err)
	}

	var throttled *sestypes.TooManyRequestsException
	if errors.As(err, &throttled) {
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, fmt.Sprintf("SES rate limit exceeded: %v", err), err)
	}

	var paused *sestypes.SendingPausedException
	if errors.As(err, &paused) {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, fmt.Sprintf("SES account sending paused: %v", err), err)
	}

	return types.NewAppError(types.ErrCodeUpstreamEmailProvider, fmt.Sprintf("SES error: %v", err), err)
}

var _ EmailProvider = (*SESClient)(nil)
