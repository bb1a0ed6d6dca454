// Package main is the entrypoint for the Reconciler Lambda function.
//
// An EventBridge schedule invokes the reconciler to re-synchronize every
// mapped customer with Stripe. This repairs entitlements whose webhook
// deliveries Stripe eventually gave up on.
//
// Handler flow:
//  1. Bound the run by RECONCILE_TIMEOUT.
//  2. List customers with an active mapping.
//  3. Sync each one with RECONCILE_CONCURRENCY workers.
//  4. Report the summary; fail the invocation only if every customer failed.
//
// With APP_ENV=local the reconciler runs one sweep and exits.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/google/uuid"

	"coachkit/internal/config"
	"coachkit/internal/db"
	"coachkit/internal/external"
	"coachkit/internal/reconcile"
	"coachkit/internal/types"
)

// SweepRunner runs one reconciliation sweep.
type SweepRunner interface {
	Run(ctx context.Context) (reconcile.SweepSummary, error)
}

// Handler holds the dependencies for the reconciler Lambda handler.
type Handler struct {
	Sweeper SweepRunner
	Timeout time.Duration
	Logger  *slog.Logger
}

// Handle runs one sweep. The scheduled event carries no parameters; its id
// only correlates the logs of one run.
func (h *Handler) Handle(ctx context.Context, event events.CloudWatchEvent) (string, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	runID := event.ID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger = logger.With("run_id", runID)

	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	start := time.Now()
	logger.InfoContext(ctx, "reconciliation sweep started")

	summary, err := h.Sweeper.Run(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "reconciliation sweep failed",
			"total", summary.Total,
			"failed", summary.Failed,
			"error", err,
		)
		return "", fmt.Errorf("reconciliation sweep: %w", err)
	}

	result := fmt.Sprintf("sweep complete: %d customers, %d synced, %d skipped, %d failed",
		summary.Total, summary.Succeeded, summary.Skipped, summary.Failed)
	logger.InfoContext(ctx, result, "duration", time.Since(start).String())
	return result, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("reconciler initializing (cold start)")

	handler, cleanup, err := buildHandler(context.Background(), logger)
	if err != nil {
		logger.Error("failed to initialize reconciler", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	if os.Getenv("APP_ENV") == "local" {
		if _, err := handler.Handle(context.Background(), events.CloudWatchEvent{}); err != nil {
			cleanup()
			os.Exit(1)
		}
		return
	}

	lambda.Start(handler.Handle)
}

// buildHandler wires the sweep from the shared API configuration.
func buildHandler(ctx context.Context, logger *slog.Logger) (*Handler, func(), error) {
	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"))
	}
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}

	var metrics reconcile.Metrics = reconcile.NopMetrics{}
	if cfg.Observability.EnableMetrics {
		awsCfg, err := config.LoadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		metrics = reconcile.NewCloudWatchMetrics(cloudwatch.NewFromConfig(awsCfg), logger)
	}

	clock := types.RealClock{}
	repos := db.NewRepos(pool)
	stripeClient := external.NewStripeClient(
		&http.Client{Timeout: cfg.Billing.StripeTimeout},
		external.StripeClientConfig{
			SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
			BaseURL:   cfg.Billing.StripeAPIBase,
			Logger:    logger,
		},
	)
	entitlements := reconcile.NewEntitlementUpdater(repos.Mappings, repos.Profiles, reconcile.EntitlementUpdaterConfig{
		Purchases:        repos.Orders,
		GraceToPeriodEnd: cfg.Entitlement.GraceToPeriodEnd,
		Clock:            clock,
		Logger:           logger,
	})
	sync := reconcile.NewSynchronizer(stripeClient, repos.Subscriptions, entitlements, clock, logger)

	logger.Info("reconciler initialized",
		"concurrency", cfg.Reconcile.Concurrency,
		"timeout", cfg.Reconcile.Timeout.String(),
	)

	return &Handler{
		Sweeper: reconcile.NewSweeper(repos.Mappings, sync, metrics, cfg.Reconcile.Concurrency, logger),
		Timeout: cfg.Reconcile.Timeout,
		Logger:  logger,
	}, pool.Close, nil
}
