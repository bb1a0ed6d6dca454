// Package main is the entrypoint for the Email Worker Lambda function.
//
// The worker consumes RecoveryEmailMessage records from the recovery email
// queue, renders the recovery template and sends it through SES. Each
// invocation receives a batch of SQS messages and reports partial batch
// failures so SQS redelivers only the messages worth retrying.
//
// With APP_ENV=local the worker reads one SQS event as JSON from stdin
// instead of starting the Lambda runtime:
//
//	echo '{"Records":[{"messageId":"1","body":"{...}"}]}' | go run ./cmd/email-worker
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"coachkit/internal/config"
	"coachkit/internal/external"
	"coachkit/internal/notifications"
	"coachkit/internal/notifications/email"
	"coachkit/internal/types"
)

// workerSettings is read straight from the environment; the worker needs a
// handful of values, not the full API configuration.
type workerSettings struct {
	Local         bool
	Region        string
	EndpointURL   string
	FromAddress   string
	FromName      string
	ProductName   string
	Timezone      string
	ConfigSet     string
	EnableMetrics bool
}

func loadSettings(getenv func(string) string) workerSettings {
	s := workerSettings{
		Local:         getenv("APP_ENV") == "local",
		Region:        getenv("AWS_REGION"),
		EndpointURL:   getenv("AWS_ENDPOINT_URL"),
		FromAddress:   getenv("EMAIL_FROM_ADDRESS"),
		FromName:      getenv("EMAIL_FROM_NAME"),
		ProductName:   getenv("PRODUCT_NAME"),
		Timezone:      getenv("EMAIL_TIMEZONE"),
		ConfigSet:     getenv("SES_CONFIGURATION_SET"),
		EnableMetrics: getenv("ENABLE_METRICS") == "true",
	}
	if s.Region == "" {
		s.Region = "us-east-1"
	}
	if s.FromAddress == "" {
		s.FromAddress = "hello@coachkit.app"
	}
	if s.FromName == "" {
		s.FromName = "CoachKit"
	}
	return s
}

func buildWorker(ctx context.Context, s workerSettings, logger *slog.Logger) (*email.Worker, error) {
	awsCfg, err := config.LoadAWSConfig(ctx, config.AWSConfig{Region: s.Region, EndpointURL: s.EndpointURL})
	if err != nil {
		return nil, err
	}

	loc := time.UTC
	if s.Timezone != "" {
		if loc, err = time.LoadLocation(s.Timezone); err != nil {
			return nil, fmt.Errorf("loading EMAIL_TIMEZONE %q: %w", s.Timezone, err)
		}
	}

	renderer, err := email.NewRenderer(email.RendererConfig{
		ProductName: s.ProductName,
		Location:    loc,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("loading email templates: %w", err)
	}

	var metrics notifications.DeliveryMetrics = notifications.NopDeliveryMetrics{}
	if s.EnableMetrics {
		metrics = notifications.NewCloudWatchDeliveryMetrics(cloudwatch.NewFromConfig(awsCfg), logger)
	}

	sender := email.NewSender(email.SenderConfig{
		Provider: external.NewSESClient(awsCfg, external.SESClientConfig{
			ConfigSetName: s.ConfigSet,
			Logger:        logger,
		}),
		Renderer: renderer,
		From:     types.SenderIdentity{Address: s.FromAddress, Name: s.FromName},
		Metrics:  metrics,
		Logger:   logger,
	})

	return email.NewWorker(sender, metrics, types.RealClock{}, logger), nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("email worker initializing (cold start)")

	settings := loadSettings(os.Getenv)
	worker, err := buildWorker(context.Background(), settings, logger)
	if err != nil {
		logger.Error("failed to initialize email worker", "error", err)
		os.Exit(1)
	}

	logger.Info("email worker initialized",
		"from_address", settings.FromAddress,
		"metrics", settings.EnableMetrics,
	)

	if settings.Local {
		if err := runLocal(context.Background(), worker, os.Stdin, os.Stderr, logger); err != nil {
			logger.Error("local invocation failed", "error", err)
			os.Exit(1)
		}
		return
	}

	lambda.Start(worker.Handle)
}

// runLocal feeds one SQS event read from in through the worker and writes
// any partial failures to out.
func runLocal(ctx context.Context, worker *email.Worker, in io.Reader, out io.Writer, logger *slog.Logger) error {
	payload, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	if len(payload) == 0 {
		return fmt.Errorf("no input received on stdin")
	}

	var event events.SQSEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("parsing stdin as SQS event: %w", err)
	}

	resp, err := worker.Handle(ctx, event)
	if err != nil {
		return err
	}
	if len(resp.BatchItemFailures) > 0 {
		logger.Warn("handler reported partial failures", "failed_count", len(resp.BatchItemFailures))
		respJSON, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Fprintln(out, string(respJSON))
	}
	logger.Info("handler execution completed",
		"records_processed", len(event.Records),
		"failures", len(resp.BatchItemFailures),
	)
	return nil
}
