// Copyright 2026 © The Praxis Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/praxisflow/praxis/pkg/agent"
	"github.com/praxisflow/praxis/pkg/compensation"
	"github.com/praxisflow/praxis/pkg/config"
	"github.com/praxisflow/praxis/pkg/core"
	"github.com/praxisflow/praxis/pkg/events"
	"github.com/praxisflow/praxis/pkg/orchestrator"
	"github.com/praxisflow/praxis/pkg/resilience"
	"github.com/praxisflow/praxis/pkg/store"
	"github.com/praxisflow/praxis/pkg/subprocess"
	"github.com/praxisflow/praxis/pkg/telemetry"
	"github.com/praxisflow/praxis/pkg/workflow"
)

func runRun(ctx context.Context, args []string) {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := cmd.String("config", "", "Path to config file (YAML)")
	definitionID := cmd.String("definition", "", "Definition to start (defaults to the first file)")
	varsJSON := cmd.String("vars", "", "Initial process variables as JSON object")
	timeout := cmd.Duration("timeout", 5*time.Minute, "Maximum time to wait for the process")
	compensate := cmd.Bool("compensate", true, "Run compensation handlers when the process fails")
	noTelemetry := cmd.Bool("no-telemetry", false, "Disable telemetry output")

	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}
	if cmd.NArg() == 0 {
		fatal(fmt.Errorf("run needs at least one workflow definition file"))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(fmt.Errorf("failed to load config: %w", err))
	}

	logger, logLevel := telemetry.ConfigureReloadableSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	var metrics *telemetry.ProcessMetrics
	if !*noTelemetry {
		shutdown, err := telemetry.InitWithConfig("praxis", version, telemetry.Config{
			Exporter:     cfg.Telemetry.Exporter,
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		})
		if err != nil {
			fatal(fmt.Errorf("failed to init telemetry: %w", err))
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown", "error", err)
			}
		}()
		if metrics, err = telemetry.NewProcessMetrics(ctx); err != nil {
			fatal(fmt.Errorf("failed to init metrics: %w", err))
		}
	}

	registry, err := loadDefinitions(cmd.Args())
	if err != nil {
		fatal(err)
	}
	startID := *definitionID
	if startID == "" {
		first, err := workflow.Load(cmd.Arg(0))
		if err != nil {
			fatal(err)
		}
		startID = first.ID
	}

	variables := map[string]any{}
	if *varsJSON != "" {
		if err := json.Unmarshal([]byte(*varsJSON), &variables); err != nil {
			fatal(fmt.Errorf("invalid -vars JSON: %w", err))
		}
	}

	storage, closeStorage, err := openStorage(cfg.Storage)
	if err != nil {
		fatal(err)
	}
	defer closeStorage()

	agents := buildAgents(cfg, logger, metrics)

	live := config.NewReloadableConfig(cfg)
	if *configPath != "" {
		watcher, err := config.NewWatcher([]string{*configPath}, config.WithWatchLogger(logger))
		if err != nil {
			fatal(fmt.Errorf("failed to watch config: %w", err))
		}
		watcher.OnChange(applyConfigChange(live, logLevel, agents, logger))
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	bus := events.NewBus(events.WithBuffer(cfg.Orchestrator.EventBuffer), events.WithLogger(logger))
	orch, err := orchestrator.NewLocal(storage, agents, registry,
		orchestrator.WithLogger(logger),
		orchestrator.WithEventBus(bus),
		orchestrator.WithMetrics(metrics),
		orchestrator.WithSubProcessTimeout(time.Duration(cfg.Orchestrator.SubProcessTimeoutMs)*time.Millisecond),
	)
	if err != nil {
		fatal(err)
	}
	subMgr, err := subprocess.NewManager(orch, storage, subprocess.WithLogger(logger))
	if err != nil {
		fatal(err)
	}
	orch.AttachSubProcessRunner(subMgr)

	instanceID, err := orch.StartProcess(ctx, startID, variables)
	if err != nil {
		fatal(err)
	}
	logger.Info("process started", "instance_id", instanceID, "definition_id", startID)

	result, waitErr := subMgr.WaitForCompletion(ctx, instanceID, *timeout)
	if waitErr == nil {
		inst := orch.GetProcessInstance(instanceID)
		out, _ := json.MarshalIndent(map[string]any{
			"instanceId": result.InstanceID,
			"state":      result.State,
			"variables":  inst.Variables,
		}, "", "  ")
		fmt.Println(string(out))
		return
	}

	logger.Error("process failed", "instance_id", instanceID, "error", waitErr)

	if *compensate {
		// Rollback behavior follows the live config, so a reload that
		// happened while the process ran still applies here.
		orchCfg := live.Orchestrator()
		svc := compensation.NewService(storage, orch, agents,
			compensation.WithLogger(logger),
			compensation.WithMetrics(metrics),
			compensation.WithContinueOnFailure(orchCfg.ContinueOnFailure),
			compensation.WithReverseRollback(orchCfg.ReverseRollback),
		)
		executed, compErr := svc.CompensateProcess(ctx, instanceID, handlerSelector(registry))
		if compErr != nil {
			logger.Error("compensation aborted", "executed", executed, "error", compErr)
		} else {
			logger.Info("compensation finished", "executed", executed)
		}
	}
	os.Exit(1)
}

func loadDefinitions(paths []string) (*workflow.Registry, error) {
	defs := make([]*workflow.Definition, 0, len(paths))
	for _, path := range paths {
		def, err := workflow.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		defs = append(defs, def)
	}
	return workflow.NewRegistry(defs...)
}

func openStorage(cfg config.StorageConfig) (core.Storage, func(), error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemoryStore(), func() {}, nil
	case "", "sqlite":
		s, err := store.OpenSQLite(cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, func() { s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func buildAgents(cfg *config.Config, logger *slog.Logger, metrics *telemetry.ProcessMetrics) *agent.ResilientManager {
	inner := agent.NewManager(agent.WithLogger(logger), agent.WithMetrics(metrics))
	registerBuiltins(inner)

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "agents",
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	})
	return agent.NewResilientManager(inner, retryFromConfig(cfg.Retry, logger), breaker)
}

func retryFromConfig(cfg config.RetryConfig, logger *slog.Logger) resilience.RetryConfig {
	retry := resilience.DefaultRetryConfig().
		WithMaxAttempts(cfg.MaxRetries).
		WithInitialDelay(time.Duration(cfg.InitialBackoffMs) * time.Millisecond).
		WithOnRetry(func(attempt int, err error) {
			logger.Warn("task retry", "attempt", attempt, "error", err)
		})
	retry.MaxDelay = time.Duration(cfg.MaxBackoffMs) * time.Millisecond
	retry.Multiplier = cfg.Multiplier
	return retry
}

// applyConfigChange returns the reload callback: it swaps the live
// config and applies the settings that can take effect at runtime, the
// log level and the retry policy.
func applyConfigChange(live *config.ReloadableConfig, level *slog.LevelVar, agents *agent.ResilientManager, logger *slog.Logger) func(*config.Config) {
	return func(next *config.Config) {
		live.Update(next)
		level.Set(telemetry.ParseLevel(next.Log.Level))
		agents.SetRetry(retryFromConfig(next.Retry, logger))
		logger.Info("config.applied",
			"log_level", next.Log.Level,
			"max_retries", next.Retry.MaxRetries,
		)
	}
}

// handlerSelector resolves a task back to the compensation handler its
// step declared, using the step name the orchestrator records in the
// task metadata.
func handlerSelector(registry *workflow.Registry) compensation.HandlerSelector {
	return func(task core.Task) *core.CompensationHandler {
		defID, _ := task.Metadata["definition"].(string)
		stepName, _ := task.Metadata["step"].(string)
		if defID == "" || stepName == "" {
			return nil
		}
		def := registry.Lookup(defID)
		if def == nil {
			return nil
		}
		step := def.Step(stepName)
		if step == nil {
			return nil
		}
		return step.Compensation
	}
}
