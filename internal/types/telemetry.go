package types

// CloudWatch metric names and dimensions.
const (
	MetricReconcileEvent   = "ReconcileEvent"
	MetricReconcileLatency = "ReconcileLatency"
	MetricSweepCustomer    = "SweepCustomer"
	MetricRecoveryEmail    = "RecoveryEmail"

	DimEventType = "EventType"
	DimOutcome   = "Outcome"

	MetricNamespace = "CoachKit"
)
