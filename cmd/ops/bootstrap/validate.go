package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// ValidationResult is the outcome of one check, with a message fit for the
// operator.
type ValidationResult struct {
	Valid   bool
	Message string
}

func invalid(format string, args ...any) ValidationResult {
	return ValidationResult{Message: fmt.Sprintf(format, args...)}
}

func valid(format string, args ...any) ValidationResult {
	return ValidationResult{Valid: true, Message: fmt.Sprintf(format, args...)}
}

// HTTPClient is used by validators that probe third-party APIs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DatabaseConnector opens and immediately closes a connection.
type DatabaseConnector interface {
	Connect(ctx context.Context, dsn string) error
}

// PgxConnector verifies a DSN with a real pgx connection.
type PgxConnector struct{}

func (PgxConnector) Connect(ctx context.Context, dsn string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	return conn.Close(ctx)
}

const (
	validateTimeout = 15 * time.Second
	stripeAPIBase   = "https://api.stripe.com"
)

// Validator holds the dependencies of the active checks.
type Validator struct {
	httpClient HTTPClient
	dbConn     DatabaseConnector
	stripeBase string
}

func NewValidator() *Validator {
	return NewValidatorWithDeps(&http.Client{Timeout: 10 * time.Second}, PgxConnector{})
}

func NewValidatorWithDeps(httpClient HTTPClient, dbConn DatabaseConnector) *Validator {
	return &Validator{httpClient: httpClient, dbConn: dbConn, stripeBase: stripeAPIBase}
}

// ValidateDatabaseURL checks the scheme and then connects with the given
// credentials.
func (v *Validator) ValidateDatabaseURL(ctx context.Context, rawURL string) ValidationResult {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return invalid("database URL must not be empty")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return invalid("invalid URL format: %v", err)
	}
	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return invalid("expected postgres:// or postgresql:// scheme, got %q", parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return invalid("database URL has no host")
	}

	connCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()
	if err := v.dbConn.Connect(connCtx, rawURL); err != nil {
		return invalid("connection failed: %v", err)
	}
	return valid("database connection verified (host=%s)", parsed.Hostname())
}

var stripeKeyRegex = regexp.MustCompile(`^(sk|rk)_(test|live)_[0-9a-zA-Z]{24,}$`)

// ValidateStripeKey checks the format, then calls GET /v1/account, which
// has no side effects.
func (v *Validator) ValidateStripeKey(ctx context.Context, key string) ValidationResult {
	key = strings.TrimSpace(key)
	if key == "" {
		return invalid("Stripe secret key must not be empty")
	}
	if !stripeKeyRegex.MatchString(key) {
		return invalid("Stripe secret key must match sk_(test|live)_... or rk_(test|live)_...")
	}

	probeCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, v.stripeBase+"/v1/account", nil)
	if err != nil {
		return invalid("failed to create request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("User-Agent", "CoachKit-Bootstrap/1.0")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return invalid("Stripe API probe failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return invalid("Stripe API returned 401 Unauthorized: key is invalid or revoked")
	case resp.StatusCode != http.StatusOK:
		return invalid("Stripe API returned HTTP %d: %s", resp.StatusCode, truncateBody(body, 200))
	}

	var account struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(body, &account)

	mode := "test"
	if strings.Contains(key, "_live_") {
		mode = "live"
	}
	if account.ID != "" {
		return valid("Stripe key verified [%s mode] (account: %s)", mode, account.ID)
	}
	return valid("Stripe key verified [%s mode]", mode)
}

var webhookSecretRegex = regexp.MustCompile(`^whsec_[0-9a-zA-Z]{24,}$`)

// ValidateWebhookSecret checks the endpoint signing secret format. It cannot
// be probed without a signed delivery.
func (v *Validator) ValidateWebhookSecret(_ context.Context, secret string) ValidationResult {
	secret = strings.TrimSpace(secret)
	if !webhookSecretRegex.MatchString(secret) {
		return invalid("webhook signing secret must match whsec_[alphanumeric 24+ chars]")
	}
	return valid("webhook signing secret format validated")
}

// ValidateRegex accepts input matching pattern.
func (v *Validator) ValidateRegex(_ context.Context, input, pattern, fieldName string) ValidationResult {
	input = strings.TrimSpace(input)
	if input == "" {
		return invalid("%s must not be empty", fieldName)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return invalid("invalid regex pattern %q: %v", pattern, err)
	}
	if !re.MatchString(input) {
		return invalid("%s does not match expected format (pattern: %s)", fieldName, pattern)
	}
	return valid("%s format validated", fieldName)
}

func truncateBody(body []byte, n int) string {
	if len(body) <= n {
		return string(body)
	}
	return string(body[:n]) + "..."
}
