// Copyright 2026 © The Praxis Authors
// SPDX-License-Identifier: Apache-2.0

// Package praxistest provides scripted fakes for the orchestration core's
// external collaborators: the role-binding store, the agent manager, and
// the process orchestrator.
package praxistest

import (
	"context"
	"fmt"
	"sync"

	"github.com/praxisflow/praxis/pkg/core"
	"github.com/praxisflow/praxis/pkg/events"
)

// AgentCall records a single task dispatched to the scripted manager.
type AgentCall struct {
	Task core.TaskRecord
}

// ScriptedAgentManager is an in-memory core.AgentManager whose responses
// are keyed by "service/action". Unkeyed dispatches fall back to Default.
type ScriptedAgentManager struct {
	mu        sync.Mutex
	calls     []AgentCall
	responses map[string]ScriptedResponse
	Default   ScriptedResponse
}

// ScriptedResponse is the outcome a scripted dispatch resolves with.
type ScriptedResponse struct {
	Result any
	Err    error
}

// NewScriptedAgentManager creates an empty scripted manager that resolves
// every dispatch with a nil result.
func NewScriptedAgentManager() *ScriptedAgentManager {
	return &ScriptedAgentManager{responses: make(map[string]ScriptedResponse)}
}

// Script sets the response for a service/action pair.
func (m *ScriptedAgentManager) Script(service, action string, result any, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[service+"/"+action] = ScriptedResponse{Result: result, Err: err}
}

// AssignTask implements core.AgentManager.
func (m *ScriptedAgentManager) AssignTask(_ context.Context, task core.TaskRecord) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, AgentCall{Task: task})
	if resp, ok := m.responses[task.Data.Service+"/"+task.Data.Action]; ok {
		return resp.Result, resp.Err
	}
	return m.Default.Result, m.Default.Err
}

// Calls returns a copy of the recorded dispatches.
func (m *ScriptedAgentManager) Calls() []AgentCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AgentCall(nil), m.calls...)
}

// StubStorage is an in-memory core.Storage seeded with fixed bindings.
// Err, when set, is returned by every operation.
type StubStorage struct {
	mu       sync.Mutex
	Bindings []core.RoleBinding
	Err      error
}

// GetAllRoleBindings implements core.Storage.
func (s *StubStorage) GetAllRoleBindings(_ context.Context) ([]core.RoleBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]core.RoleBinding(nil), s.Bindings...), nil
}

// UpdateRoleBinding implements core.Storage with upsert semantics on
// (thing id, role id).
func (s *StubStorage) UpdateRoleBinding(_ context.Context, binding core.RoleBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for i, b := range s.Bindings {
		if b.ThingID == binding.ThingID && b.RoleID == binding.RoleID {
			s.Bindings[i] = binding
			return nil
		}
	}
	s.Bindings = append(s.Bindings, binding)
	return nil
}

// StubOrchestrator is a minimal core.Orchestrator: it hands out sequential
// instance ids, records started processes, and publishes whatever the test
// pushes through its bus.
type StubOrchestrator struct {
	mu        sync.Mutex
	bus       *events.Bus
	roleIDs   map[string]string
	instances map[string]*core.ProcessInstance
	started   []StartedProcess
	nextID    int
	StartErr  error
}

// StartedProcess records one StartProcess call.
type StartedProcess struct {
	DefinitionID string
	Variables    map[string]any
	InstanceID   string
}

// NewStubOrchestrator creates a stub with a TaskInstance role id.
func NewStubOrchestrator() *StubOrchestrator {
	return &StubOrchestrator{
		bus:       events.NewBus(),
		roleIDs:   map[string]string{core.RoleTaskInstance: "role-task-instance"},
		instances: make(map[string]*core.ProcessInstance),
	}
}

// StartProcess implements core.Orchestrator.
func (o *StubOrchestrator) StartProcess(_ context.Context, definitionID string, variables map[string]any) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.StartErr != nil {
		return "", o.StartErr
	}
	o.nextID++
	id := fmt.Sprintf("instance-%d", o.nextID)
	o.instances[id] = &core.ProcessInstance{
		ID:           id,
		DefinitionID: definitionID,
		State:        core.ProcessStateRunning,
		Variables:    variables,
	}
	o.started = append(o.started, StartedProcess{
		DefinitionID: definitionID,
		Variables:    variables,
		InstanceID:   id,
	})
	return id, nil
}

// GetProcessInstance implements core.Orchestrator.
func (o *StubOrchestrator) GetProcessInstance(id string) *core.ProcessInstance {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.instances[id]
}

// RoleIDs implements core.Orchestrator.
func (o *StubOrchestrator) RoleIDs() map[string]string {
	return o.roleIDs
}

// Events implements core.Orchestrator.
func (o *StubOrchestrator) Events() core.EventStream {
	return o.bus
}

// Started returns a copy of the recorded StartProcess calls.
func (o *StubOrchestrator) Started() []StartedProcess {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]StartedProcess(nil), o.started...)
}

// Complete marks the instance terminal (when known) and publishes a
// process:completed event.
func (o *StubOrchestrator) Complete(instanceID string) {
	o.mu.Lock()
	if inst, ok := o.instances[instanceID]; ok {
		inst.State = core.ProcessStateCompleted
	}
	o.mu.Unlock()
	o.bus.Publish(core.ProcessEvent{Type: core.ProcessCompleted, InstanceID: instanceID})
}

// Fail marks the instance terminal (when known) and publishes a
// process:failed event.
func (o *StubOrchestrator) Fail(instanceID string, err error) {
	o.mu.Lock()
	if inst, ok := o.instances[instanceID]; ok {
		inst.State = core.ProcessStateFailed
		if err != nil {
			inst.Error = err.Error()
		}
	}
	o.mu.Unlock()
	o.bus.Publish(core.ProcessEvent{Type: core.ProcessFailed, InstanceID: instanceID, Err: err})
}
