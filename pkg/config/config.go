// Copyright 2026 © The Praxis Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the orchestration runtime configuration from
// YAML files and PRAXIS_-prefixed environment variables, with optional
// poll-based hot reload.
package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Log          LogConfig          `koanf:"log"`
	Storage      StorageConfig      `koanf:"storage"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Retry        RetryConfig        `koanf:"retry"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type StorageConfig struct {
	Driver string `koanf:"driver"` // sqlite, memory
	DSN    string `koanf:"dsn"`
}

type OrchestratorConfig struct {
	EventBuffer         int   `koanf:"event_buffer"`
	SubProcessTimeoutMs int64 `koanf:"subprocess_timeout_ms"`
	ContinueOnFailure   bool  `koanf:"continue_on_failure"`
	ReverseRollback     bool  `koanf:"reverse_rollback"`
}

type RetryConfig struct {
	MaxRetries       int     `koanf:"max_retries"`
	InitialBackoffMs int64   `koanf:"initial_backoff_ms"`
	MaxBackoffMs     int64   `koanf:"max_backoff_ms"`
	Multiplier       float64 `koanf:"multiplier"`
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

// Load reads configuration from the optional YAML file at path, then
// overlays PRAXIS_ environment variables (PRAXIS_STORAGE_DRIVER ->
// storage.driver, PRAXIS_RETRY_MAX_RETRIES -> retry.max_retries) over
// built-in defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	k.Set("log.level", "info")
	k.Set("log.format", "text")
	k.Set("storage.driver", "sqlite")
	k.Set("storage.dsn", "praxis.db")
	k.Set("orchestrator.event_buffer", 16)
	k.Set("orchestrator.subprocess_timeout_ms", 60_000)
	k.Set("orchestrator.continue_on_failure", true)
	k.Set("orchestrator.reverse_rollback", false)
	k.Set("retry.max_retries", 3)
	k.Set("retry.initial_backoff_ms", 100)
	k.Set("retry.max_backoff_ms", 5_000)
	k.Set("retry.multiplier", 2.0)
	k.Set("telemetry.exporter", "stdout")

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Load from ENV. The first underscore separates the section from
	// the key, so multi-word keys stay reachable:
	// PRAXIS_ORCHESTRATOR_EVENT_BUFFER -> orchestrator.event_buffer.
	if err := k.Load(env.Provider("PRAXIS_", ".", func(s string) string {
		name := strings.ToLower(strings.TrimPrefix(s, "PRAXIS_"))
		section, key, found := strings.Cut(name, "_")
		if !found {
			return name
		}
		return section + "." + key
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
