package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/joho/godotenv"
)

// localDefaults make an exported .env runnable with `go run ./cmd/api`
// without further edits.
var localDefaults = map[string]string{
	"APP_ENV":              "local",
	"API_EXTERNAL_URL":     "http://localhost:8080",
	"APP_URL":              "http://localhost:3000",
	"FEATURE_ENABLE_EMAIL": "false",
	"DB_RUN_MIGRATIONS":    "true",
	"LOG_LEVEL":            "debug",
}

// ExportEnvConfig controls ExportEnvFile.
type ExportEnvConfig struct {
	OutputPath string
	SSM        *SSMManager
	Inventory  []BootstrapStep
	Stderr     io.Writer

	IncludeLocalDefaults bool
}

// ExportEnvFile reads every inventory parameter back from SSM and writes
// them as a dotenv file readable only by the owner. Missing optional
// parameters are left out; a missing required one fails the export.
func ExportEnvFile(ctx context.Context, cfg ExportEnvConfig) error {
	if cfg.OutputPath == "" {
		return errors.New("export path must not be empty")
	}
	if cfg.Stderr == nil {
		cfg.Stderr = io.Discard
	}

	env := make(map[string]string, len(cfg.Inventory)+len(localDefaults))
	if cfg.IncludeLocalDefaults {
		for k, v := range localDefaults {
			env[k] = v
		}
	}

	for _, step := range cfg.Inventory {
		path := cfg.SSM.SSMPath(step.SSMKey)
		value, err := cfg.SSM.GetParameterValue(ctx, path)
		if err != nil {
			var notFound *ssmtypes.ParameterNotFound
			if errors.As(err, &notFound) && step.Optional {
				fmt.Fprintf(cfg.Stderr, "  Skipping %s (not set)\n", step.EnvVar)
				continue
			}
			return fmt.Errorf("exporting %s: %w", step.EnvVar, err)
		}
		env[step.EnvVar] = value
	}

	content, err := godotenv.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding .env: %w", err)
	}
	if err := os.WriteFile(cfg.OutputPath, []byte(content+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", cfg.OutputPath, err)
	}

	fmt.Fprintf(cfg.Stderr, "  Wrote %d variables to %s\n", len(env), cfg.OutputPath)
	return nil
}
