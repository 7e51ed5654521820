// Copyright 2026 © The Praxis Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("expected default storage driver sqlite, got %s", cfg.Storage.Driver)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("unexpected default log config: %+v", cfg.Log)
	}
	if cfg.Orchestrator.SubProcessTimeoutMs != 60_000 {
		t.Errorf("expected 60s default subprocess timeout, got %d", cfg.Orchestrator.SubProcessTimeoutMs)
	}
	if !cfg.Orchestrator.ContinueOnFailure {
		t.Error("expected continue_on_failure to default to true")
	}
	if cfg.Retry.MaxRetries != 3 || cfg.Retry.Multiplier != 2.0 {
		t.Errorf("unexpected default retry config: %+v", cfg.Retry)
	}
	if cfg.Telemetry.Exporter != "stdout" {
		t.Errorf("expected default telemetry exporter stdout, got %s", cfg.Telemetry.Exporter)
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("PRAXIS_STORAGE_DRIVER", "memory")
	t.Setenv("PRAXIS_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Storage.Driver != "memory" {
		t.Errorf("expected storage driver memory from env, got %s", cfg.Storage.Driver)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level debug from env, got %s", cfg.Log.Level)
	}
}

func TestLoadEnvMultiWordKeys(t *testing.T) {
	t.Setenv("PRAXIS_ORCHESTRATOR_EVENT_BUFFER", "64")
	t.Setenv("PRAXIS_ORCHESTRATOR_SUBPROCESS_TIMEOUT_MS", "30000")
	t.Setenv("PRAXIS_RETRY_INITIAL_BACKOFF_MS", "250")
	t.Setenv("PRAXIS_TELEMETRY_OTLP_ENDPOINT", "collector:4317")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Orchestrator.EventBuffer != 64 {
		t.Errorf("expected event_buffer 64 from env, got %d", cfg.Orchestrator.EventBuffer)
	}
	if cfg.Orchestrator.SubProcessTimeoutMs != 30_000 {
		t.Errorf("expected subprocess_timeout_ms 30000 from env, got %d", cfg.Orchestrator.SubProcessTimeoutMs)
	}
	if cfg.Retry.InitialBackoffMs != 250 {
		t.Errorf("expected initial_backoff_ms 250 from env, got %d", cfg.Retry.InitialBackoffMs)
	}
	if cfg.Telemetry.OTLPEndpoint != "collector:4317" {
		t.Errorf("expected otlp_endpoint from env, got %q", cfg.Telemetry.OTLPEndpoint)
	}
}

func TestLoadFile(t *testing.T) {
	tmpDir := t.TempDir()
	content := `
log:
  level: warn
  format: json
storage:
  driver: sqlite
  dsn: /var/lib/praxis/praxis.db
orchestrator:
  event_buffer: 64
  reverse_rollback: true
telemetry:
  exporter: otlp
  otlp_endpoint: collector:4317
  otlp_insecure: true
`
	path := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Log.Level != "warn" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log config: %+v", cfg.Log)
	}
	if cfg.Storage.DSN != "/var/lib/praxis/praxis.db" {
		t.Errorf("unexpected storage dsn: %s", cfg.Storage.DSN)
	}
	if cfg.Orchestrator.EventBuffer != 64 || !cfg.Orchestrator.ReverseRollback {
		t.Errorf("unexpected orchestrator config: %+v", cfg.Orchestrator)
	}
	if cfg.Telemetry.Exporter != "otlp" || cfg.Telemetry.OTLPEndpoint != "collector:4317" {
		t.Errorf("unexpected telemetry config: %+v", cfg.Telemetry)
	}
	// Untouched sections keep their defaults.
	if cfg.Retry.MaxRetries != 3 {
		t.Errorf("file load clobbered retry defaults: %+v", cfg.Retry)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("PRAXIS_LOG_LEVEL", "error")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("env should win over file, got %s", cfg.Log.Level)
	}
}
