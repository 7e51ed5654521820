// Copyright 2026 © The Praxis Authors
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator provides the in-process orchestrator: it owns
// process-instance lifecycle, executes workflow definitions step by step
// through the agent manager, records task history as role bindings, and
// publishes lifecycle events.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/praxisflow/praxis/pkg/core"
	"github.com/praxisflow/praxis/pkg/errors"
	"github.com/praxisflow/praxis/pkg/events"
	"github.com/praxisflow/praxis/pkg/expr"
	"github.com/praxisflow/praxis/pkg/subprocess"
	"github.com/praxisflow/praxis/pkg/telemetry"
	"github.com/praxisflow/praxis/pkg/workflow"
)

const defaultSubProcessTimeout = time.Minute

// SubProcessRunner launches and awaits child process instances on behalf
// of a running step. *subprocess.Manager satisfies it.
type SubProcessRunner interface {
	StartSubProcess(ctx context.Context, parentID, definitionID string, parentVars, inputMapping map[string]any) (string, error)
	WaitForCompletion(ctx context.Context, childID string, timeout time.Duration) (subprocess.CompletionResult, error)
}

// Local implements core.Orchestrator in-process.
type Local struct {
	storage  core.Storage
	agents   core.AgentManager
	registry *workflow.Registry
	bus      *events.Bus
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *telemetry.ProcessMetrics

	subTimeout time.Duration
	roleIDs    map[string]string

	mu        sync.Mutex
	subRunner SubProcessRunner
	instances map[string]*core.ProcessInstance
	wg        sync.WaitGroup
}

// Option configures a Local orchestrator.
type Option func(*Local)

// WithLogger sets the orchestrator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Local) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSubProcessTimeout sets the default wait for sub-process steps that
// declare no timeout of their own.
func WithSubProcessTimeout(d time.Duration) Option {
	return func(o *Local) {
		if d > 0 {
			o.subTimeout = d
		}
	}
}

// WithEventBus replaces the default event bus.
func WithEventBus(bus *events.Bus) Option {
	return func(o *Local) {
		if bus != nil {
			o.bus = bus
		}
	}
}

// WithMetrics records process and error outcomes on the given tracker.
func WithMetrics(metrics *telemetry.ProcessMetrics) Option {
	return func(o *Local) {
		o.metrics = metrics
	}
}

// NewLocal creates an orchestrator over the given store, agent backend
// and definition registry.
func NewLocal(storage core.Storage, agents core.AgentManager, registry *workflow.Registry, opts ...Option) (*Local, error) {
	if storage == nil {
		return nil, errors.New(errors.CodeDependencyMissing, "storage is required", nil)
	}
	if agents == nil {
		return nil, errors.New(errors.CodeDependencyMissing, "agent manager is required", nil)
	}
	if registry == nil {
		return nil, errors.New(errors.CodeDependencyMissing, "definition registry is required", nil)
	}
	o := &Local{
		storage:    storage,
		agents:     agents,
		registry:   registry,
		bus:        events.NewBus(),
		logger:     slog.Default(),
		tracer:     otel.Tracer("praxis/orchestrator"),
		subTimeout: defaultSubProcessTimeout,
		roleIDs:    map[string]string{core.RoleTaskInstance: "role-task-instance"},
		instances:  make(map[string]*core.ProcessInstance),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// AttachSubProcessRunner wires the sub-process manager in after
// construction; the manager itself needs a reference to this orchestrator,
// so the two are linked once both exist. Attaching after processes have
// started is safe: running steps read the runner under the same lock.
func (o *Local) AttachSubProcessRunner(runner SubProcessRunner) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subRunner = runner
}

func (o *Local) subProcessRunner() SubProcessRunner {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.subRunner
}

// RoleIDs implements core.Orchestrator.
func (o *Local) RoleIDs() map[string]string {
	return o.roleIDs
}

// Events implements core.Orchestrator.
func (o *Local) Events() core.EventStream {
	return o.bus
}

// GetProcessInstance implements core.Orchestrator. A snapshot is
// returned; nil means the instance is unknown.
func (o *Local) GetProcessInstance(id string) *core.ProcessInstance {
	o.mu.Lock()
	defer o.mu.Unlock()
	inst, ok := o.instances[id]
	if !ok {
		return nil
	}
	snapshot := *inst
	return &snapshot
}

// StartProcess implements core.Orchestrator: it creates a running
// instance for the definition and executes its steps asynchronously.
func (o *Local) StartProcess(ctx context.Context, definitionID string, variables map[string]any) (string, error) {
	def := o.registry.Lookup(definitionID)
	if def == nil {
		return "", errors.New(errors.CodeNotFound, "unknown workflow definition", nil).
			WithContext("definition_id", definitionID)
	}

	inst := core.NewProcessInstance(definitionID, variables)
	o.mu.Lock()
	o.instances[inst.ID] = inst
	o.mu.Unlock()

	o.logger.Info("process.started",
		slog.String("instance_id", inst.ID),
		slog.String("definition_id", definitionID),
	)

	ctx, runID := core.EnsureRunID(context.WithoutCancel(ctx))
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(ctx, runID, def, inst.ID)
	}()
	return inst.ID, nil
}

// Wait blocks until every started process instance has terminated.
func (o *Local) Wait() {
	o.wg.Wait()
}

func (o *Local) run(ctx context.Context, runID string, def *workflow.Definition, instanceID string) {
	attrs := telemetry.ProcessAttributes(instanceID, def.ID, "")
	attrs = append(attrs, attribute.String(telemetry.AttrProcessRunID, runID))
	ctx, span := o.tracer.Start(ctx, "Orchestrator.Run", trace.WithAttributes(attrs...))
	defer span.End()

	for _, step := range def.Steps {
		if err := o.runStep(ctx, def, instanceID, step); err != nil {
			o.finish(ctx, instanceID, def.ID, core.ProcessStateFailed, err)
			return
		}
	}
	o.finish(ctx, instanceID, def.ID, core.ProcessStateCompleted, nil)
}

func (o *Local) runStep(ctx context.Context, def *workflow.Definition, instanceID string, step workflow.Step) error {
	task := core.NewTask(instanceID)
	task.State = core.TaskStateActive
	task.Metadata = map[string]any{"step": step.Name, "definition": def.ID}
	if err := o.writeBinding(ctx, *task); err != nil {
		return err
	}

	result, err := o.execStep(ctx, instanceID, step)
	if err != nil {
		task.Fail()
		if werr := o.writeBinding(ctx, *task); werr != nil {
			o.logger.Error("process.step.record",
				slog.String("instance_id", instanceID),
				slog.String("error", werr.Error()),
			)
		}
		return errors.AsPraxisError(err).
			WithContext("step", step.Name).
			WithContext("instance_id", instanceID)
	}

	task.Complete(result)
	if err := o.writeBinding(ctx, *task); err != nil {
		return err
	}
	o.recordStepResult(instanceID, step.Name, result)
	return nil
}

func (o *Local) execStep(ctx context.Context, instanceID string, step workflow.Step) (any, error) {
	if step.SubProcess != nil {
		return o.execSubProcess(ctx, instanceID, step)
	}

	input := o.resolveInput(instanceID, step.Input)
	record := core.NewTaskRecord(instanceID+"/"+step.Name, step.Service, step.Action, input)
	return o.agents.AssignTask(ctx, record)
}

func (o *Local) execSubProcess(ctx context.Context, instanceID string, step workflow.Step) (any, error) {
	runner := o.subProcessRunner()
	if runner == nil {
		return nil, errors.New(errors.CodeDependencyMissing, "sub-process runner not attached", nil).
			WithContext("step", step.Name)
	}

	vars := o.variablesSnapshot(instanceID)
	childID, err := runner.StartSubProcess(ctx, instanceID, step.SubProcess.DefinitionID, vars, step.SubProcess.InputMapping)
	if err != nil {
		return nil, err
	}

	timeout := o.subTimeout
	if step.SubProcess.TimeoutMs > 0 {
		timeout = time.Duration(step.SubProcess.TimeoutMs) * time.Millisecond
	}
	result, err := runner.WaitForCompletion(ctx, childID, timeout)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"instanceId": result.InstanceID,
		"state":      string(result.State),
	}, nil
}

// resolveInput interpolates ${...} step inputs against the instance
// variables; step results of earlier steps are available under the step
// name.
func (o *Local) resolveInput(instanceID string, input map[string]any) any {
	if len(input) == 0 {
		return nil
	}
	vars := o.variablesSnapshot(instanceID)
	resolved := make(map[string]any, len(input))
	for key, value := range input {
		if str, ok := value.(string); ok {
			if inner, ok := expr.Placeholder(str); ok {
				resolved[key] = expr.Resolve(inner, vars)
				continue
			}
		}
		resolved[key] = value
	}
	return resolved
}

func (o *Local) variablesSnapshot(instanceID string) map[string]any {
	o.mu.Lock()
	defer o.mu.Unlock()
	inst, ok := o.instances[instanceID]
	if !ok {
		return map[string]any{}
	}
	vars := make(map[string]any, len(inst.Variables))
	for k, v := range inst.Variables {
		vars[k] = v
	}
	return vars
}

func (o *Local) recordStepResult(instanceID, stepName string, result any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if inst, ok := o.instances[instanceID]; ok {
		inst.Variables[stepName] = result
	}
}

func (o *Local) writeBinding(ctx context.Context, task core.Task) error {
	binding := core.BindingFromTask(task, o.roleIDs[core.RoleTaskInstance])
	if err := o.storage.UpdateRoleBinding(ctx, binding); err != nil {
		return errors.New(errors.CodeStorage, "record task state", err).
			WithContext("task_id", task.ID)
	}
	return nil
}

func (o *Local) finish(ctx context.Context, instanceID, definitionID string, state core.ProcessState, cause error) {
	o.mu.Lock()
	inst, ok := o.instances[instanceID]
	if ok {
		inst.State = state
		inst.EndedAt = time.Now().UTC()
		if cause != nil {
			inst.Error = cause.Error()
		}
	}
	o.mu.Unlock()

	switch state {
	case core.ProcessStateCompleted:
		o.logger.Info("process.completed", slog.String("instance_id", instanceID))
		o.metrics.RecordProcess(ctx, definitionID, "completed")
		o.bus.Publish(core.ProcessEvent{Type: core.ProcessCompleted, InstanceID: instanceID})
	case core.ProcessStateFailed:
		o.logger.Error("process.failed",
			slog.String("instance_id", instanceID),
			slog.String("error", cause.Error()),
		)
		o.metrics.RecordProcess(ctx, definitionID, "failed")
		o.metrics.RecordError(ctx, cause, "orchestrator")
		o.bus.Publish(core.ProcessEvent{Type: core.ProcessFailed, InstanceID: instanceID, Err: cause})
	}
}
