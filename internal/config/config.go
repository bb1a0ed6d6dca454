// Package config defines the process configuration for the CoachKit billing
// backend. Configuration is loaded once at startup and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// A missing required value or invalid format fails startup.
package config

import (
	"time"

	"coachkit/internal/types"
)

// SecretString is an alias for types.SecretString.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the subsets they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"coachkit"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Billing       BillingConfig
	Entitlement   EntitlementConfig
	Email         EmailConfig
	Auth          AuthConfig
	Security      SecurityConfig
	Observability ObservabilityConfig
	Reconcile     ReconcileConfig

	// Injected via ldflags, not env.
	Build BuildInfo
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`

	// Public URLs, no trailing slash.
	APIExternalURL string `envconfig:"API_EXTERNAL_URL" validate:"required,url"`
	AppURL         string `envconfig:"APP_URL" validate:"required,url"` // recovery links point here
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
	RunMigrations     bool          `envconfig:"DB_RUN_MIGRATIONS" default:"false"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// Optional: when empty, recovery email is sent inline through SES.
	RecoveryEmailQueue string `envconfig:"SQS_RECOVERY_EMAIL" validate:"omitempty,url"`
	// Optional: when empty, verified webhook payloads are not archived.
	EventArchiveBucket string `envconfig:"EVENT_ARCHIVE_BUCKET"`

	// LocalStack support (empty in prod).
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// BillingConfig holds Stripe credentials and checkout constraints.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`

	// Override for stripe-mock in local development.
	StripeAPIBase string        `envconfig:"STRIPE_API_BASE" validate:"omitempty,url"`
	StripeTimeout time.Duration `envconfig:"STRIPE_TIMEOUT" default:"20s"`
	// When non-empty, checkout only accepts these price ids.
	AllowedPriceIDs []string `envconfig:"STRIPE_ALLOWED_PRICE_IDS"`
}

// EntitlementConfig controls how subscription status maps to access.
type EntitlementConfig struct {
	// When true, a canceled or lapsed subscription keeps pro access until the
	// already-paid period ends instead of being revoked immediately.
	GraceToPeriodEnd bool `envconfig:"ENTITLEMENT_GRACE_TO_PERIOD_END" default:"false"`
}

// EmailConfig holds transactional email settings.
type EmailConfig struct {
	FromAddress      string        `envconfig:"EMAIL_FROM_ADDRESS" default:"hello@coachkit.app" validate:"email"`
	FromName         string        `envconfig:"EMAIL_FROM_NAME" default:"CoachKit"`
	RecoveryTokenTTL time.Duration `envconfig:"RECOVERY_TOKEN_TTL" default:"72h"`
	Enabled          bool          `envconfig:"FEATURE_ENABLE_EMAIL" default:"true"`
}

// AuthConfig holds session settings.
type AuthConfig struct {
	SessionTTL        time.Duration `envconfig:"SESSION_TTL" default:"720h"`
	MinPasswordLength int           `envconfig:"MIN_PASSWORD_LENGTH" default:"10" validate:"min=8"`
}

// SecurityConfig holds CORS and public endpoint throttling settings.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	// Per-IP limit on unauthenticated endpoints other than the webhook.
	PublicRateLimit  int           `envconfig:"PUBLIC_RATE_LIMIT" default:"60" validate:"min=1"`
	PublicRateWindow time.Duration `envconfig:"PUBLIC_RATE_WINDOW" default:"1m"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"CoachKit"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"false"`
}

// ReconcileConfig tunes the periodic reconciliation sweep.
type ReconcileConfig struct {
	Concurrency int           `envconfig:"RECONCILE_CONCURRENCY" default:"4" validate:"min=1,max=32"`
	Timeout     time.Duration `envconfig:"RECONCILE_TIMEOUT" default:"10m"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)

// IsLocal reports whether the process runs outside AWS.
func (c *Config) IsLocal() bool {
	return c.Environment == localEnv
}
