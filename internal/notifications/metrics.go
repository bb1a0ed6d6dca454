package notifications

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"coachkit/internal/types"
)

// DeliveryResult categorizes a recovery email outcome for metrics reporting.
type DeliveryResult string

const (
	ResultSent    DeliveryResult = "sent"
	ResultBlocked DeliveryResult = "blocked"
	ResultFailed  DeliveryResult = "failed"
	ResultInvalid DeliveryResult = "invalid"
)

// DeliveryMetrics records recovery email delivery telemetry.
type DeliveryMetrics interface {
	RecordDelivery(ctx context.Context, result DeliveryResult)
	RecordQueueLag(ctx context.Context, lag time.Duration)
}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ DeliveryMetrics = (*CloudWatchDeliveryMetrics)(nil)

// CloudWatchDeliveryMetrics emits RecoveryEmail {Outcome} counts and
// RecoveryEmailQueueLag in milliseconds.
type CloudWatchDeliveryMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchDeliveryMetrics creates a CloudWatchDeliveryMetrics under the service namespace.
func NewCloudWatchDeliveryMetrics(client CloudWatchClient, logger *slog.Logger) *CloudWatchDeliveryMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchDeliveryMetrics{
		client:    client,
		namespace: types.MetricNamespace,
		logger:    logger,
	}
}

func (m *CloudWatchDeliveryMetrics) RecordDelivery(ctx context.Context, result DeliveryResult) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricRecoveryEmail),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(types.DimOutcome), Value: aws.String(string(result))},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to record delivery metric",
			"error", err.Error(),
			"result", string(result),
		)
	}
}

func (m *CloudWatchDeliveryMetrics) RecordQueueLag(ctx context.Context, lag time.Duration) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricRecoveryEmail + "QueueLag"),
				Value:      aws.Float64(float64(lag.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to record queue lag metric",
			"error", err.Error(),
			"lag_ms", lag.Milliseconds(),
		)
	}
}

// NopDeliveryMetrics discards everything.
type NopDeliveryMetrics struct{}

func (NopDeliveryMetrics) RecordDelivery(context.Context, DeliveryResult)  {}
func (NopDeliveryMetrics) RecordQueueLag(context.Context, time.Duration) {}
