// Copyright 2026 © The Praxis Authors
// SPDX-License-Identifier: Apache-2.0

// Package compensation implements the saga-style rollback engine: it
// derives compensatable task lists from process history, maps task results
// into compensation-handler inputs, and executes compensations through the
// agent manager.
package compensation

import (
	"context"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/praxisflow/praxis/pkg/core"
	"github.com/praxisflow/praxis/pkg/errors"
	"github.com/praxisflow/praxis/pkg/expr"
	"github.com/praxisflow/praxis/pkg/telemetry"
)

// Service executes compensations for completed tasks of a process
// instance. Only the agent manager is required to execute a single
// compensation; a missing storage or orchestrator degrades task discovery
// to an empty result instead of failing.
type Service struct {
	storage      core.Storage
	orchestrator core.Orchestrator
	agents       core.AgentManager

	continueOnFailure bool
	reverseRollback   bool
	logger            *slog.Logger
	tracer            trace.Tracer
	metrics           *telemetry.ProcessMetrics
}

// Option configures a Service.
type Option func(*Service)

// WithContinueOnFailure governs whether a failing compensation handler
// aborts a multi-task rollback or is logged and skipped. Default true.
func WithContinueOnFailure(continueOnFailure bool) Option {
	return func(s *Service) {
		s.continueOnFailure = continueOnFailure
	}
}

// WithReverseRollback makes CompensateProcess walk tasks most-recent-first
// (conventional saga order). The default preserves ascending chronological
// order; CompensatableTasks itself always returns ascending order.
func WithReverseRollback(reverse bool) Option {
	return func(s *Service) {
		s.reverseRollback = reverse
	}
}

// WithMetrics records compensation outcomes on the given tracker.
func WithMetrics(metrics *telemetry.ProcessMetrics) Option {
	return func(s *Service) {
		s.metrics = metrics
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a compensation service. Any dependency may be nil;
// operations that need a missing one degrade or fail as documented.
func NewService(storage core.Storage, orchestrator core.Orchestrator, agents core.AgentManager, opts ...Option) *Service {
	s := &Service{
		storage:           storage,
		orchestrator:      orchestrator,
		agents:            agents,
		continueOnFailure: true,
		logger:            slog.Default(),
		tracer:            otel.Tracer("praxis/compensation"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CompensatableTasks returns the completed tasks of a process instance in
// ascending start-time order. When fromTaskID is non-empty, only tasks
// strictly before the matching task are returned; an unknown fromTaskID
// leaves the list uncut. Without a storage or orchestrator the result is
// empty. Storage is never mutated.
func (s *Service) CompensatableTasks(ctx context.Context, processInstanceID, fromTaskID string) ([]core.Task, error) {
	if s.storage == nil || s.orchestrator == nil {
		s.logger.Warn("compensation.tasks.degraded",
			slog.String("process_instance_id", processInstanceID),
			slog.Bool("storage", s.storage != nil),
			slog.Bool("orchestrator", s.orchestrator != nil),
		)
		return nil, nil
	}

	bindings, err := s.storage.GetAllRoleBindings(ctx)
	if err != nil {
		return nil, errors.New(errors.CodeStorage, "list role bindings", err).
			WithContext("process_instance_id", processInstanceID)
	}

	taskRole := s.orchestrator.RoleIDs()[core.RoleTaskInstance]
	var tasks []core.Task
	for _, b := range bindings {
		if b.RoleID != taskRole {
			continue
		}
		if b.Witness.ProcessInstanceID != processInstanceID {
			continue
		}
		if b.Witness.State != core.TaskStateCompleted {
			continue
		}
		tasks = append(tasks, core.TaskFromBinding(b))
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].StartTime.Before(tasks[j].StartTime)
	})

	if fromTaskID != "" {
		for i, task := range tasks {
			if task.ID == fromTaskID {
				tasks = tasks[:i]
				break
			}
		}
	}
	return tasks, nil
}

// MapInput translates a task's result into a compensation-handler input.
// An empty mapping passes the result through unchanged. String values of
// the form "${result.<path>}" are resolved against the task result with
// their original type preserved; everything else is copied verbatim.
func (s *Service) MapInput(task core.Task, inputMapping map[string]any) any {
	if len(inputMapping) == 0 {
		return task.Result
	}

	root := map[string]any{"result": task.Result}
	input := make(map[string]any, len(inputMapping))
	for key, value := range inputMapping {
		if str, ok := value.(string); ok {
			if inner, ok := expr.Placeholder(str); ok {
				input[key] = expr.Resolve(inner, root)
				continue
			}
		}
		input[key] = value
	}
	return input
}

// EvaluateExpression evaluates a restricted arithmetic/property-access
// expression against the given variables. Malformed or unresolvable input
// yields nil, never an error.
func (s *Service) EvaluateExpression(expression string, vars map[string]any) any {
	return expr.Evaluate(expression, vars)
}

// ExecuteHandler runs a single compensation handler for a task through
// the agent manager and returns the backend's result. The agent manager
// is a hard precondition.
func (s *Service) ExecuteHandler(ctx context.Context, task core.Task, handler core.CompensationHandler) (any, error) {
	if s.agents == nil {
		return nil, errors.New(errors.CodeDependencyMissing, "agent manager not available", nil).
			WithContext("task_id", task.ID)
	}

	attrs := telemetry.CompensationAttributes(handler.Service, handler.Action, "", 0)
	attrs = append(attrs, attribute.String(telemetry.AttrTaskID, task.ID))
	ctx, span := s.tracer.Start(ctx, "Compensation.ExecuteHandler", trace.WithAttributes(attrs...))
	defer span.End()

	input := s.MapInput(task, handler.InputMapping)
	record := core.NewCompensationTask(task.ID, handler.Service, handler.Action, input)

	s.logger.Info("compensation.execute",
		slog.String("task_id", task.ID),
		slog.String("service", handler.Service),
		slog.String("action", handler.Action),
	)

	result, err := s.agents.AssignTask(ctx, record)
	s.metrics.RecordCompensation(ctx, handler.Service, err == nil)
	if err != nil {
		dispatchErr := errors.New(errors.CodeAgentFailure, "compensation dispatch failed", err).
			WithContext("task_id", task.ID).
			WithRecoverable(true)
		s.metrics.RecordError(ctx, dispatchErr, "compensation")
		return nil, dispatchErr
	}
	return result, nil
}

// HandlerSelector returns the compensation handler for a task, or nil when
// the task has none.
type HandlerSelector func(task core.Task) *core.CompensationHandler

// CompensateProcess rolls back every compensatable task of a process
// instance. Tasks without a handler are skipped. Handler failures are
// logged and skipped unless the service was built with
// WithContinueOnFailure(false), in which case the first failure aborts the
// rollback. Returns the number of executed compensations.
func (s *Service) CompensateProcess(ctx context.Context, processInstanceID string, selector HandlerSelector) (int, error) {
	if selector == nil {
		return 0, errors.New(errors.CodeInvalidInput, "handler selector is required", nil)
	}

	ctx, span := s.tracer.Start(ctx, "Compensation.CompensateProcess", trace.WithAttributes(
		attribute.String(telemetry.AttrProcessInstanceID, processInstanceID),
	))
	defer span.End()

	tasks, err := s.CompensatableTasks(ctx, processInstanceID, "")
	if err != nil {
		return 0, err
	}
	if s.reverseRollback {
		for i, j := 0, len(tasks)-1; i < j; i, j = i+1, j-1 {
			tasks[i], tasks[j] = tasks[j], tasks[i]
		}
	}

	executed := 0
	for _, task := range tasks {
		handler := selector(task)
		if handler == nil {
			continue
		}
		if _, err := s.ExecuteHandler(ctx, task, *handler); err != nil {
			if !s.continueOnFailure {
				return executed, errors.New(errors.CodeCompensationFailed, "rollback aborted", err).
					WithContext("task_id", task.ID).
					WithContext("process_instance_id", processInstanceID)
			}
			s.logger.Error("compensation.handler.failed",
				slog.String("task_id", task.ID),
				slog.String("process_instance_id", processInstanceID),
				slog.String("error", err.Error()),
			)
			continue
		}
		executed++
	}
	span.SetAttributes(attribute.Int(telemetry.AttrCompensationExecuted, executed))
	return executed, nil
}
