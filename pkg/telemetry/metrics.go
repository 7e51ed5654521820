// Copyright 2026 © The Praxis Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/praxisflow/praxis/pkg/errors"
)

// ProcessMetrics tracks process outcomes, task dispatches, and error
// rates for production monitoring of the orchestration core.
type ProcessMetrics struct {
	// processCounter tracks terminated process instances by outcome
	processCounter metric.Int64Counter

	// taskCounter tracks task dispatches by service and outcome
	taskCounter metric.Int64Counter

	// errorCounter tracks total errors by code and component
	errorCounter metric.Int64Counter

	// recoveryCounter tracks successful recoveries (retry succeeded,
	// compensation applied)
	recoveryCounter metric.Int64Counter

	// compensationCounter tracks compensation handler executions by
	// service and outcome
	compensationCounter metric.Int64Counter

	// circuitBreakerStateGauge tracks breaker state per service
	// (0=open, 1=half-open, 2=closed)
	circuitBreakerStateGauge metric.Int64Gauge

	mu sync.RWMutex
}

// NewProcessMetrics creates a metrics tracker on the global OTEL meter.
func NewProcessMetrics(ctx context.Context) (*ProcessMetrics, error) {
	meter := otel.Meter("praxis/orchestration")

	processCounter, err := meter.Int64Counter(
		"praxis.process.total",
		metric.WithDescription("Terminated process instances by outcome"),
	)
	if err != nil {
		return nil, err
	}

	taskCounter, err := meter.Int64Counter(
		"praxis.task.dispatched",
		metric.WithDescription("Task dispatches by service and outcome"),
	)
	if err != nil {
		return nil, err
	}

	errorCounter, err := meter.Int64Counter(
		"praxis.errors.total",
		metric.WithDescription("Total errors by code and component"),
	)
	if err != nil {
		return nil, err
	}

	recoveryCounter, err := meter.Int64Counter(
		"praxis.errors.recovered",
		metric.WithDescription("Successful error recoveries by code"),
	)
	if err != nil {
		return nil, err
	}

	compensationCounter, err := meter.Int64Counter(
		"praxis.compensation.executed",
		metric.WithDescription("Compensation handler executions by service and outcome"),
	)
	if err != nil {
		return nil, err
	}

	circuitBreakerStateGauge, err := meter.Int64Gauge(
		"praxis.circuitbreaker.state",
		metric.WithDescription("Circuit breaker state per service (0=open, 1=half-open, 2=closed)"),
	)
	if err != nil {
		return nil, err
	}

	return &ProcessMetrics{
		processCounter:           processCounter,
		taskCounter:              taskCounter,
		errorCounter:             errorCounter,
		recoveryCounter:          recoveryCounter,
		compensationCounter:      compensationCounter,
		circuitBreakerStateGauge: circuitBreakerStateGauge,
	}, nil
}

// RecordProcess increments the process counter for a terminal outcome
// ("completed" or "failed").
func (pm *ProcessMetrics) RecordProcess(ctx context.Context, definitionID, outcome string) {
	if pm == nil {
		return
	}

	pm.mu.RLock()
	defer pm.mu.RUnlock()

	pm.processCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("definition.id", definitionID),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordTask increments the task counter for a dispatch to a service.
func (pm *ProcessMetrics) RecordTask(ctx context.Context, service string, succeeded bool) {
	if pm == nil {
		return
	}

	pm.mu.RLock()
	defer pm.mu.RUnlock()

	outcome := "failed"
	if succeeded {
		outcome = "completed"
	}
	pm.taskCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("service", service),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordError increments the error counter for the given error and
// component. Typed errors contribute their code and recoverability.
func (pm *ProcessMetrics) RecordError(ctx context.Context, err error, component string) {
	if pm == nil || err == nil {
		return
	}

	pm.mu.RLock()
	defer pm.mu.RUnlock()

	if pe, ok := err.(*errors.PraxisError); ok {
		pm.errorCounter.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("error.code", string(pe.Code)),
				attribute.String("component", component),
				attribute.String("recoverable", strconv.FormatBool(pe.Recoverable)),
			),
		)
		return
	}
	pm.errorCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error.code", "UNKNOWN"),
			attribute.String("component", component),
			attribute.String("recoverable", "unknown"),
		),
	)
}

// RecordRecovery increments the recovery counter for the given error
// code. Called when an error was handled successfully, e.g. a retry
// eventually succeeded or a compensation handler ran.
func (pm *ProcessMetrics) RecordRecovery(ctx context.Context, errorCode errors.ErrorCode) {
	if pm == nil {
		return
	}

	pm.mu.RLock()
	defer pm.mu.RUnlock()

	pm.recoveryCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error.code", string(errorCode)),
		),
	)
}

// RecordCompensation increments the compensation counter for a handler
// dispatch to a service.
func (pm *ProcessMetrics) RecordCompensation(ctx context.Context, service string, succeeded bool) {
	if pm == nil {
		return
	}

	pm.mu.RLock()
	defer pm.mu.RUnlock()

	outcome := "failed"
	if succeeded {
		outcome = "executed"
	}
	pm.compensationCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("service", service),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordCircuitBreakerState records the breaker state for a service
// (0=open, 1=half-open, 2=closed).
func (pm *ProcessMetrics) RecordCircuitBreakerState(ctx context.Context, service string, state int64) {
	if pm == nil {
		return
	}

	pm.mu.RLock()
	defer pm.mu.RUnlock()

	pm.circuitBreakerStateGauge.Record(ctx, state,
		metric.WithAttributes(
			attribute.String("service", service),
		),
	)
}
