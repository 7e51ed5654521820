// Package agent provides the local agent manager: an in-process execution
// backend that dispatches task records to registered handler functions.
package agent

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/praxisflow/praxis/pkg/core"
	"github.com/praxisflow/praxis/pkg/errors"
	"github.com/praxisflow/praxis/pkg/telemetry"
)

// Handler executes one service action and returns its result.
type Handler func(ctx context.Context, input any) (any, error)

// Manager dispatches task records to handlers registered per
// service/action pair. It implements core.AgentManager.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *telemetry.ProcessMetrics
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics records task dispatch outcomes on the given tracker.
func WithMetrics(metrics *telemetry.ProcessMetrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithHandler registers a handler during construction.
func WithHandler(service, action string, handler Handler) Option {
	return func(m *Manager) {
		m.handlers[key(service, action)] = handler
	}
}

// NewManager creates an empty agent manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		handlers: make(map[string]Handler),
		logger:   slog.Default(),
		tracer:   otel.Tracer("praxis/agent"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds or replaces the handler for a service action.
func (m *Manager) Register(service, action string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[key(service, action)] = handler
}

// AssignTask implements core.AgentManager: it routes the record to the
// registered handler and returns whatever the handler produced.
func (m *Manager) AssignTask(ctx context.Context, task core.TaskRecord) (any, error) {
	m.mu.RLock()
	handler := m.handlers[key(task.Data.Service, task.Data.Action)]
	m.mu.RUnlock()

	if handler == nil {
		return nil, errors.New(errors.CodeNotFound, "no handler registered", nil).
			WithContext("service", task.Data.Service).
			WithContext("action", task.Data.Action)
	}

	ctx, span := m.tracer.Start(ctx, "Agent.AssignTask", trace.WithAttributes(
		attribute.String(telemetry.AttrTaskID, task.ID),
		attribute.String(telemetry.AttrTaskType, task.Type),
		attribute.String(telemetry.AttrTaskService, task.Data.Service),
		attribute.String(telemetry.AttrTaskAction, task.Data.Action),
	))
	defer span.End()

	m.logger.Debug("agent.assign",
		slog.String("task_id", task.ID),
		slog.String("service", task.Data.Service),
		slog.String("action", task.Data.Action),
	)

	result, err := handler(ctx, task.Data.Input)
	m.metrics.RecordTask(ctx, task.Data.Service, err == nil)
	if err != nil {
		m.logger.Error("agent.assign.error",
			slog.String("task_id", task.ID),
			slog.String("error", err.Error()),
		)
		taskErr := errors.New(errors.CodeAgentFailure, "task execution failed", err).
			WithContext("task_id", task.ID).
			WithRecoverable(true)
		m.metrics.RecordError(ctx, taskErr, "agent")
		return nil, taskErr
	}
	return result, nil
}

func key(service, action string) string {
	return service + "/" + action
}
