package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
)

func TestExportEnvFile(t *testing.T) {
	mock := newMockSSM(map[string]string{
		"/coachkit/dev/database/url": "postgres://u:p@h/db",
	})
	out := filepath.Join(t.TempDir(), ".env")

	err := ExportEnvFile(context.Background(), ExportEnvConfig{
		OutputPath:           out,
		SSM:                  newTestSSMManager(mock),
		Inventory:            testInventory(),
		Stderr:               &bytes.Buffer{},
		IncludeLocalDefaults: true,
	})
	if err != nil {
		t.Fatalf("ExportEnvFile: %v", err)
	}

	env, err := godotenv.Read(out)
	if err != nil {
		t.Fatalf("reading exported file: %v", err)
	}
	if env["DATABASE_URL"] != "postgres://u:p@h/db" {
		t.Errorf("DATABASE_URL = %q", env["DATABASE_URL"])
	}
	if _, ok := env["EMAIL_FROM_ADDRESS"]; ok {
		t.Error("unset optional parameter exported")
	}
	if env["APP_ENV"] != "local" {
		t.Errorf("APP_ENV = %q", env["APP_ENV"])
	}

	info, err := os.Stat(out)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestExportEnvFile_MissingRequired(t *testing.T) {
	err := ExportEnvFile(context.Background(), ExportEnvConfig{
		OutputPath: filepath.Join(t.TempDir(), ".env"),
		SSM:        newTestSSMManager(newMockSSM(nil)),
		Inventory:  testInventory(),
	})
	if err == nil {
		t.Fatal("expected error for missing DATABASE_URL")
	}
}
