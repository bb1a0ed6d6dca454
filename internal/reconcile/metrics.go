package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"coachkit/internal/types"
)

// Metrics records pipeline outcomes. Implementations must not fail the
// caller; emission errors are logged and dropped.
type Metrics interface {
	RecordEvent(ctx context.Context, eventType string, disposition Disposition, elapsed time.Duration)
	RecordSweep(ctx context.Context, succeeded, failed int)
}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ Metrics = (*CloudWatchMetrics)(nil)

// CloudWatchMetrics publishes pipeline metrics to CloudWatch.
//
// Metrics emitted:
//   - ReconcileEvent: Dims {EventType, Outcome}, one per dispatched event
//   - ReconcileLatency: Dims {EventType}, dispatch time in milliseconds
//   - SweepCustomer: Dims {Outcome}, per-run counts of swept customers
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchMetrics creates a CloudWatchMetrics under the service namespace.
func NewCloudWatchMetrics(client CloudWatchClient, logger *slog.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{
		client:    client,
		namespace: types.MetricNamespace,
		logger:    logger,
	}
}

// RecordEvent emits the event count and latency in a single call.
func (m *CloudWatchMetrics) RecordEvent(ctx context.Context, eventType string, disposition Disposition, elapsed time.Duration) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricReconcileEvent),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(types.DimEventType), Value: aws.String(eventType)},
					{Name: aws.String(types.DimOutcome), Value: aws.String(string(disposition))},
				},
			},
			{
				MetricName: aws.String(types.MetricReconcileLatency),
				Value:      aws.Float64(float64(elapsed.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(types.DimEventType), Value: aws.String(eventType)},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to record reconcile metric",
			"error", err.Error(),
			"event_type", eventType,
			"outcome", string(disposition),
		)
	}
}

// RecordSweep emits succeeded and failed customer counts for one sweep run.
func (m *CloudWatchMetrics) RecordSweep(ctx context.Context, succeeded, failed int) {
	datum := func(outcome string, n int) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricSweepCustomer),
			Value:      aws.Float64(float64(n)),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{
				{Name: aws.String(types.DimOutcome), Value: aws.String(outcome)},
			},
		}
	}
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			datum("succeeded", succeeded),
			datum("failed", failed),
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to record sweep metric",
			"error", err.Error(),
			"succeeded", succeeded,
			"failed", failed,
		)
	}
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordEvent(context.Context, string, Disposition, time.Duration) {}
func (NopMetrics) RecordSweep(context.Context, int, int)                           {}
