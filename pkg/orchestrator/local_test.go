// Copyright 2026 © The Praxis Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/praxisflow/praxis/pkg/core"
	perrors "github.com/praxisflow/praxis/pkg/errors"
	"github.com/praxisflow/praxis/pkg/praxistest"
	"github.com/praxisflow/praxis/pkg/store"
	"github.com/praxisflow/praxis/pkg/subprocess"
	"github.com/praxisflow/praxis/pkg/telemetry"
	"github.com/praxisflow/praxis/pkg/workflow"
)

func newOrchestrator(t *testing.T, agents core.AgentManager, defs ...*workflow.Definition) (*Local, *store.MemoryStore) {
	t.Helper()
	registry, err := workflow.NewRegistry(defs...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	storage := store.NewMemoryStore()
	o, err := NewLocal(storage, agents, registry)
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	return o, storage
}

func paymentDefinition() *workflow.Definition {
	return &workflow.Definition{
		ID: "payment",
		Steps: []workflow.Step{
			{Name: "reserve", Service: "inventory", Action: "reserve", Input: map[string]any{"sku": "${sku}"}},
			{Name: "charge", Service: "billing", Action: "charge", Input: map[string]any{"amount": "${amount}"}},
		},
	}
}

func awaitState(t *testing.T, o *Local, id string, want core.ProcessState) *core.ProcessInstance {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if inst := o.GetProcessInstance(id); inst != nil && inst.State == want {
			return inst
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("instance %s never reached state %s (now %+v)", id, want, o.GetProcessInstance(id))
	return nil
}

func TestStartProcessRunsStepsInOrder(t *testing.T) {
	agents := praxistest.NewScriptedAgentManager()
	agents.Script("inventory", "reserve", map[string]any{"reservationId": "r-9"}, nil)
	agents.Script("billing", "charge", map[string]any{"chargeId": "ch-1"}, nil)

	o, storage := newOrchestrator(t, agents, paymentDefinition())

	id, err := o.StartProcess(context.Background(), "payment", map[string]any{"sku": "A-100", "amount": 42})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	inst := awaitState(t, o, id, core.ProcessStateCompleted)

	calls := agents.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 dispatches, got %d", len(calls))
	}
	if calls[0].Task.Data.Service != "inventory" || calls[1].Task.Data.Service != "billing" {
		t.Fatalf("steps ran out of order: %+v", calls)
	}
	// Placeholder inputs resolve against the instance variables.
	input, ok := calls[0].Task.Data.Input.(map[string]any)
	if !ok || input["sku"] != "A-100" {
		t.Fatalf("unexpected resolved input: %+v", calls[0].Task.Data.Input)
	}

	// Step results land in the variables under the step name.
	reserve, ok := inst.Variables["reserve"].(map[string]any)
	if !ok || reserve["reservationId"] != "r-9" {
		t.Fatalf("step result not recorded: %+v", inst.Variables)
	}

	// Task history lands in the store as completed TaskInstance bindings.
	bindings, err := storage.GetAllRoleBindings(context.Background())
	if err != nil {
		t.Fatalf("bindings: %v", err)
	}
	completed := 0
	for _, b := range bindings {
		if b.RoleID != o.RoleIDs()[core.RoleTaskInstance] {
			t.Fatalf("unexpected role id %q", b.RoleID)
		}
		if b.Witness.ProcessInstanceID != id {
			t.Fatalf("binding for wrong instance: %+v", b)
		}
		if b.Witness.State == core.TaskStateCompleted {
			completed++
		}
	}
	if completed != 2 {
		t.Fatalf("expected 2 completed bindings, got %d of %d", completed, len(bindings))
	}
}

func TestStartProcessUnknownDefinition(t *testing.T) {
	o, _ := newOrchestrator(t, praxistest.NewScriptedAgentManager(), paymentDefinition())
	_, err := o.StartProcess(context.Background(), "no-such-def", nil)
	if !perrors.HasCode(err, perrors.CodeNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestStepFailureFailsProcess(t *testing.T) {
	agents := praxistest.NewScriptedAgentManager()
	agents.Script("inventory", "reserve", map[string]any{"reservationId": "r-9"}, nil)
	agents.Script("billing", "charge", nil, errors.New("card declined"))

	o, storage := newOrchestrator(t, agents, paymentDefinition())

	events, cancel := o.Events().Subscribe()
	defer cancel()

	id, err := o.StartProcess(context.Background(), "payment", map[string]any{"sku": "A-100", "amount": 42})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	inst := awaitState(t, o, id, core.ProcessStateFailed)
	if inst.Error == "" {
		t.Fatalf("failed instance carries no error")
	}

	select {
	case ev := <-events:
		if ev.Type != core.ProcessFailed || ev.InstanceID != id {
			t.Fatalf("unexpected event: %+v", ev)
		}
		if ev.Err == nil {
			t.Fatalf("failure event carries no cause")
		}
	case <-time.After(time.Second):
		t.Fatalf("no failure event published")
	}

	// The failed step is recorded, and compensation can find the one
	// completed task that preceded it.
	bindings, err := storage.GetAllRoleBindings(context.Background())
	if err != nil {
		t.Fatalf("bindings: %v", err)
	}
	states := map[core.TaskState]int{}
	for _, b := range bindings {
		states[b.Witness.State]++
	}
	if states[core.TaskStateCompleted] != 1 || states[core.TaskStateFailed] != 1 {
		t.Fatalf("unexpected binding states: %v", states)
	}
}

func TestCompletedEventPublished(t *testing.T) {
	agents := praxistest.NewScriptedAgentManager()
	o, _ := newOrchestrator(t, agents, paymentDefinition())

	events, cancel := o.Events().Subscribe()
	defer cancel()

	id, err := o.StartProcess(context.Background(), "payment", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Type != core.ProcessCompleted || ev.InstanceID != id {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("no completion event published")
	}
}

func TestSubProcessStepRunsChildToCompletion(t *testing.T) {
	agents := praxistest.NewScriptedAgentManager()
	agents.Script("shipping", "dispatch", map[string]any{"tracking": "T-1"}, nil)
	agents.Script("billing", "invoice", "inv-7", nil)

	parent := &workflow.Definition{
		ID: "order",
		Steps: []workflow.Step{
			{Name: "ship", SubProcess: &workflow.SubProcessSpec{
				DefinitionID: "shipment",
				InputMapping: map[string]any{"destination": "${address}"},
				TimeoutMs:    2000,
			}},
			{Name: "invoice", Service: "billing", Action: "invoice"},
		},
	}
	child := &workflow.Definition{
		ID: "shipment",
		Steps: []workflow.Step{
			{Name: "dispatch", Service: "shipping", Action: "dispatch", Input: map[string]any{"to": "${destination}"}},
		},
	}

	o, storage := newOrchestrator(t, agents, parent, child)
	mgr, err := subprocess.NewManager(o, storage)
	if err != nil {
		t.Fatalf("subprocess manager: %v", err)
	}
	o.AttachSubProcessRunner(mgr)

	id, err := o.StartProcess(context.Background(), "order", map[string]any{"address": "12 Quay St"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	inst := awaitState(t, o, id, core.ProcessStateCompleted)

	// The child ran with the mapped variables.
	var dispatch *core.TaskRecord
	for _, call := range agents.Calls() {
		if call.Task.Data.Service == "shipping" {
			task := call.Task
			dispatch = &task
		}
	}
	if dispatch == nil {
		t.Fatalf("child step never dispatched")
	}
	input, ok := dispatch.Data.Input.(map[string]any)
	if !ok || input["to"] != "12 Quay St" {
		t.Fatalf("child input not mapped: %+v", dispatch.Data.Input)
	}

	// The parent step records the child outcome.
	ship, ok := inst.Variables["ship"].(map[string]any)
	if !ok || ship["state"] != string(core.ProcessStateCompleted) {
		t.Fatalf("sub-process result not recorded: %+v", inst.Variables)
	}
	childID, _ := ship["instanceId"].(string)
	if parentID, ok := mgr.ParentProcess(childID); !ok || parentID != id {
		t.Fatalf("hierarchy not registered for child %q", childID)
	}
}

func TestSubProcessFailurePropagates(t *testing.T) {
	agents := praxistest.NewScriptedAgentManager()
	agents.Script("shipping", "dispatch", nil, errors.New("no carrier"))

	parent := &workflow.Definition{
		ID: "order",
		Steps: []workflow.Step{
			{Name: "ship", SubProcess: &workflow.SubProcessSpec{DefinitionID: "shipment", TimeoutMs: 2000}},
		},
	}
	child := &workflow.Definition{
		ID: "shipment",
		Steps: []workflow.Step{
			{Name: "dispatch", Service: "shipping", Action: "dispatch"},
		},
	}

	o, storage := newOrchestrator(t, agents, parent, child)
	mgr, err := subprocess.NewManager(o, storage)
	if err != nil {
		t.Fatalf("subprocess manager: %v", err)
	}
	o.AttachSubProcessRunner(mgr)

	id, err := o.StartProcess(context.Background(), "order", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	inst := awaitState(t, o, id, core.ProcessStateFailed)
	if inst.Error == "" {
		t.Fatalf("parent carries no failure cause")
	}
}

func TestSubProcessStepWithoutRunner(t *testing.T) {
	parent := &workflow.Definition{
		ID: "order",
		Steps: []workflow.Step{
			{Name: "ship", SubProcess: &workflow.SubProcessSpec{DefinitionID: "shipment"}},
		},
	}
	o, _ := newOrchestrator(t, praxistest.NewScriptedAgentManager(), parent)

	id, err := o.StartProcess(context.Background(), "order", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	awaitState(t, o, id, core.ProcessStateFailed)
}

func TestProcessOutcomesRecorded(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() { otel.SetMeterProvider(noop.NewMeterProvider()) })

	pm, err := telemetry.NewProcessMetrics(context.Background())
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}

	agents := praxistest.NewScriptedAgentManager()
	agents.Script("inventory", "reserve", map[string]any{"reservationId": "r-9"}, nil)
	agents.Script("billing", "charge", map[string]any{"chargeId": "ch-1"}, nil)
	agents.Script("billing", "refund", nil, errors.New("gateway down"))

	refund := &workflow.Definition{
		ID:    "refund",
		Steps: []workflow.Step{{Name: "refund", Service: "billing", Action: "refund"}},
	}
	registry, err := workflow.NewRegistry(paymentDefinition(), refund)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	o, err := NewLocal(store.NewMemoryStore(), agents, registry, WithMetrics(pm))
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}

	ok, err := o.StartProcess(context.Background(), "payment", map[string]any{"sku": "A-100", "amount": 42})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	awaitState(t, o, ok, core.ProcessStateCompleted)

	bad, err := o.StartProcess(context.Background(), "refund", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	awaitState(t, o, bad, core.ProcessStateFailed)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}

	outcomes := map[string]int64{}
	var errorCount int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case "praxis.process.total":
				sum, ok := m.Data.(metricdata.Sum[int64])
				if !ok {
					t.Fatalf("process counter has unexpected data type %T", m.Data)
				}
				for _, dp := range sum.DataPoints {
					if outcome, ok := dp.Attributes.Value("outcome"); ok {
						outcomes[outcome.AsString()] += dp.Value
					}
				}
			case "praxis.errors.total":
				sum, ok := m.Data.(metricdata.Sum[int64])
				if !ok {
					t.Fatalf("error counter has unexpected data type %T", m.Data)
				}
				for _, dp := range sum.DataPoints {
					errorCount += dp.Value
				}
			}
		}
	}
	if outcomes["completed"] != 1 || outcomes["failed"] != 1 {
		t.Fatalf("unexpected process outcomes: %v", outcomes)
	}
	if errorCount == 0 {
		t.Fatalf("failed process recorded no error metric")
	}
}

func TestGetProcessInstanceReturnsSnapshot(t *testing.T) {
	o, _ := newOrchestrator(t, praxistest.NewScriptedAgentManager(), paymentDefinition())
	if o.GetProcessInstance("missing") != nil {
		t.Fatalf("unknown instance must be nil")
	}

	id, err := o.StartProcess(context.Background(), "payment", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	awaitState(t, o, id, core.ProcessStateCompleted)

	snapshot := o.GetProcessInstance(id)
	snapshot.State = core.ProcessStateFailed
	if o.GetProcessInstance(id).State != core.ProcessStateCompleted {
		t.Fatalf("mutating the snapshot leaked into the orchestrator")
	}
}
