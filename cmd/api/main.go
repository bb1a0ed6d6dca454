// Package main is the entry point for the CoachKit billing API.
//
// It loads configuration, connects to Postgres, builds the reconciliation
// pipeline and the HTTP handlers around it, and serves until SIGINT or
// SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"coachkit/internal/api/handlers"
	"coachkit/internal/archive"
	"coachkit/internal/auth"
	"coachkit/internal/billing"
	"coachkit/internal/config"
	"coachkit/internal/core"
	"coachkit/internal/db"
	"coachkit/internal/external"
	"coachkit/internal/notifications"
	"coachkit/internal/notifications/email"
	"coachkit/internal/reconcile"
	"coachkit/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// services are the collaborators the HTTP layer is built from. main fills
// it with production implementations; tests use fakes.
type services struct {
	Verifier      external.WebhookVerifier
	Dispatcher    handlers.EventDispatcher
	Archiver      archive.Archiver
	Checkout      handlers.CheckoutCreator
	Coupons       handlers.CouponChecker
	Auth          handlers.AuthService
	Profiles      handlers.ProfileReader
	Authenticator core.Authenticator
	Probes        []core.HealthProbe
}

func run() error {
	cfg, err := config.LoadConfig(secretProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("coachkit API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	if cfg.Database.RunMigrations {
		if err := db.Migrate(cfg.Database.URL.Unmask(), logger); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	awsCfg, err := config.LoadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		pool.Close()
		return err
	}

	svc, err := wireServices(cfg, awsCfg, pool, logger)
	if err != nil {
		pool.Close()
		return err
	}

	srv, err := buildServer(cfg, logger, svc)
	if err != nil {
		pool.Close()
		return fmt.Errorf("creating server: %w", err)
	}
	srv.OnShutdown(func() error {
		pool.Close()
		return nil
	})

	return runHTTPServer(srv, cfg, logger)
}

// secretProvider returns nil locally so no AWS credentials are needed.
func secretProvider() config.SecretProvider {
	if os.Getenv("APP_ENV") == "local" {
		return nil
	}
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	return config.NewSSMProvider(region)
}

// pinger is the part of *pgxpool.Pool the wiring needs beyond db.DBTX.
type pinger interface {
	db.DBTX
	db.Beginner
	Ping(ctx context.Context) error
}

// wireServices builds the production pipeline.
func wireServices(cfg *config.Config, awsCfg aws.Config, pool pinger, logger *slog.Logger) (services, error) {
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

	var pipelineMetrics reconcile.Metrics = reconcile.NopMetrics{}
	var deliveryMetrics notifications.DeliveryMetrics = notifications.NopDeliveryMetrics{}
	if cfg.Observability.EnableMetrics {
		cw := cloudwatch.NewFromConfig(awsCfg)
		pipelineMetrics = reconcile.NewCloudWatchMetrics(cw, logger)
		deliveryMetrics = notifications.NewCloudWatchDeliveryMetrics(cw, logger)
	}

	notifier, err := newRecoveryNotifier(cfg, awsCfg, deliveryMetrics, logger)
	if err != nil {
		return services{}, err
	}

	var archiver archive.Archiver = archive.NopArchiver{}
	if cfg.AWS.EventArchiveBucket != "" {
		s3Archiver, err := archive.NewS3Archiver(s3.NewFromConfig(awsCfg), cfg.AWS.EventArchiveBucket, clock, logger)
		if err != nil {
			return services{}, fmt.Errorf("creating event archiver: %w", err)
		}
		archiver = s3Archiver
	}

	hasher := auth.NewBcryptHasher(0)
	tokens := auth.NewCryptoTokenGenerator()

	entitlements := reconcile.NewEntitlementUpdater(repos.Mappings, repos.Profiles, reconcile.EntitlementUpdaterConfig{
		Purchases:        repos.Orders,
		GraceToPeriodEnd: cfg.Entitlement.GraceToPeriodEnd,
		Clock:            clock,
		Logger:           logger,
	})
	resolver := reconcile.NewResolver(repos.Users, repos.Mappings, repos.Profiles,
		auth.NewCredentials(tokens, hasher), notifier,
		reconcile.ResolverConfig{
			AppURL:      cfg.Server.AppURL,
			RecoveryTTL: cfg.Email.RecoveryTokenTTL,
			Clock:       clock,
			Logger:      logger,
		})
	dispatcher := reconcile.NewDispatcher(reconcile.DispatcherDeps{
		Resolver:     resolver,
		Sync:         reconcile.NewSynchronizer(stripeClient, repos.Subscriptions, entitlements, clock, logger),
		Orders:       reconcile.NewOrderRecorder(repos.Orders, entitlements, clock, logger),
		Entitlements: entitlements,
		Mappings:     repos.Mappings,
		Metrics:      pipelineMetrics,
		Clock:        clock,
		Logger:       logger,
	})

	sessions := auth.NewSessionService(repos.Sessions, tokens,
		auth.SessionConfig{SessionDuration: cfg.Auth.SessionTTL}, clock, logger)
	authService := auth.NewAuthService(auth.AuthServiceConfig{
		UserRepo:          repos.Users,
		SessionService:    sessions,
		TxManager:         auth.NewTxManager(db.NewTxManager(pool)),
		Hasher:            hasher,
		MinPasswordLength: cfg.Auth.MinPasswordLength,
		Clock:             clock,
		Logger:            logger,
	})

	checkout := billing.NewCheckoutService(stripeClient, repos.Users, repos.Mappings, repos.Subscriptions,
		billing.CheckoutServiceConfig{
			AllowedPriceIDs: cfg.Billing.AllowedPriceIDs,
			Clock:           clock,
			Logger:          logger,
		})

	return services{
		Verifier:      external.NewStripeVerifier(cfg.Billing.StripeWebhookSecret.Unmask()),
		Dispatcher:    dispatcher,
		Archiver:      archiver,
		Checkout:      checkout,
		Coupons:       billing.NewCouponValidator(stripeClient, clock),
		Auth:          authService,
		Profiles:      repos.Profiles,
		Authenticator: auth.NewSessionAuthenticator(sessions),
		Probes:        []core.HealthProbe{core.NewPingProbe("database", pool.Ping)},
	}, nil
}

// newRecoveryNotifier queues recovery emails when a queue is configured and
// otherwise sends them inline through SES.
func newRecoveryNotifier(cfg *config.Config, awsCfg aws.Config, metrics notifications.DeliveryMetrics, logger *slog.Logger) (reconcile.RecoveryNotifier, error) {
	if !cfg.Email.Enabled {
		logger.Warn("email disabled; recovery links will not be delivered")
		return notifications.DiscardNotifier{Logger: logger}, nil
	}
	if cfg.AWS.RecoveryEmailQueue != "" {
		return notifications.NewRecoveryPublisher(sqs.NewFromConfig(awsCfg), cfg.AWS.RecoveryEmailQueue, logger), nil
	}

	renderer, err := email.NewRenderer(email.RendererConfig{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("loading email templates: %w", err)
	}
	return email.NewSender(email.SenderConfig{
		Provider: external.NewSESClient(awsCfg, external.SESClientConfig{Logger: logger}),
		Renderer: renderer,
		From:     types.SenderIdentity{Address: cfg.Email.FromAddress, Name: cfg.Email.FromName},
		Metrics:  metrics,
		Logger:   logger,
	}), nil
}

// buildServer mounts every handler in its route group.
func buildServer(cfg *config.Config, logger *slog.Logger, svc services) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, err
	}
	srv.Authenticator = svc.Authenticator
	srv.RateLimitStore = core.NewMemoryRateLimitStore(types.RealClock{})
	srv.HealthProbes = svc.Probes

	webhook := handlers.NewStripeWebhookHandler(svc.Verifier, svc.Dispatcher, svc.Archiver, logger)
	authHandler := handlers.NewAuthHandler(svc.Auth, srv.Validator, logger)
	checkout := handlers.NewCheckoutHandler(svc.Checkout, srv.Validator, logger)
	coupons := handlers.NewCouponHandler(svc.Coupons, srv.Validator, logger)
	me := handlers.NewMeHandler(svc.Profiles, nil, logger)

	srv.WebhookRoutes = append(srv.WebhookRoutes, webhook.RegisterRoutes)
	srv.PublicRoutes = append(srv.PublicRoutes, authHandler.RegisterRoutes, coupons.RegisterRoutes)
	srv.ProtectedRoutes = append(srv.ProtectedRoutes,
		authHandler.RegisterProtectedRoutes,
		checkout.RegisterRoutes,
		me.RegisterRoutes,
	)

	srv.MountRoutes()
	return srv, nil
}

// runHTTPServer serves until a shutdown signal, then drains in-flight
// requests for up to 10 seconds.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a JSON slog.Logger at the given level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
