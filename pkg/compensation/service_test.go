// Copyright 2026 © The Praxis Authors
// SPDX-License-Identifier: Apache-2.0

package compensation

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
	"github.com/praxisflow/praxis/pkg/telemetry"
)

func binding(thingID, instanceID string, state core.TaskState, start time.Time, result any) core.RoleBinding {
	return core.RoleBinding{
		ThingID: thingID,
		RoleID:  "role-task-instance",
		Witness: core.Witness{
			ProcessInstanceID: instanceID,
			State:             state,
			StartTime:         start,
			Result:            result,
		},
	}
}

func newFixture() (*praxistest.StubStorage, *praxistest.StubOrchestrator, *praxistest.ScriptedAgentManager) {
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	storage := &praxistest.StubStorage{
		Bindings: []core.RoleBinding{
			binding("task-b", "proc-1", core.TaskStateCompleted, base.Add(2*time.Minute), map[string]any{"n": 2.0}),
			binding("task-a", "proc-1", core.TaskStateCompleted, base, map[string]any{"n": 1.0}),
			binding("task-c", "proc-1", core.TaskStateActive, base.Add(3*time.Minute), nil),
			binding("task-d", "proc-2", core.TaskStateCompleted, base.Add(time.Minute), nil),
			{ThingID: "other", RoleID: "role-menu", Witness: core.Witness{ProcessInstanceID: "proc-1", State: core.TaskStateCompleted}},
			binding("task-e", "proc-1", core.TaskStateCompleted, base.Add(4*time.Minute), map[string]any{"n": 3.0}),
		},
	}
	return storage, praxistest.NewStubOrchestrator(), praxistest.NewScriptedAgentManager()
}

func TestCompensatableTasksFiltersAndSorts(t *testing.T) {
	storage, orch, agents := newFixture()
	svc := NewService(storage, orch, agents)

	tasks, err := svc.CompensatableTasks(context.Background(), "proc-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"task-a", "task-b", "task-e"}
	if len(tasks) != len(want) {
		t.Fatalf("expected %d tasks, got %d", len(want), len(tasks))
	}
	for i, id := range want {
		if tasks[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, tasks[i].ID)
		}
	}
}

func TestCompensatableTasksFromTaskID(t *testing.T) {
	storage, orch, agents := newFixture()
	svc := NewService(storage, orch, agents)

	tasks, err := svc.CompensatableTasks(context.Background(), "proc-1", "task-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "task-a" {
		t.Fatalf("expected only task-a before the cut, got %+v", tasks)
	}

	// An unknown cut id leaves the list whole.
	tasks, err = svc.CompensatableTasks(context.Background(), "proc-1", "task-zzz")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected full list for unknown cut, got %d", len(tasks))
	}
}

func TestCompensatableTasksEmptyAndDegraded(t *testing.T) {
	storage, orch, agents := newFixture()
	svc := NewService(storage, orch, agents)
	tasks, err := svc.CompensatableTasks(context.Background(), "proc-none", "")
	if err != nil || len(tasks) != 0 {
		t.Fatalf("expected empty result, got %v, %v", tasks, err)
	}

	degraded := NewService(nil, nil, agents)
	tasks, err = degraded.CompensatableTasks(context.Background(), "proc-1", "")
	if err != nil || len(tasks) != 0 {
		t.Fatalf("expected graceful empty result without storage, got %v, %v", tasks, err)
	}
}

func TestCompensatableTasksStorageError(t *testing.T) {
	storage, orch, agents := newFixture()
	storage.Err = errors.New("disk gone")
	svc := NewService(storage, orch, agents)
	_, err := svc.CompensatableTasks(context.Background(), "proc-1", "")
	if !perrors.HasCode(err, perrors.CodeStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestMapInputIdentity(t *testing.T) {
	svc := NewService(nil, nil, nil)
	result := map[string]any{"amount": 12.5}
	task := core.Task{ID: "t", Result: result}

	got := svc.MapInput(task, nil)
	if gotMap, ok := got.(map[string]any); !ok || gotMap["amount"] != 12.5 {
		t.Fatalf("expected identity for empty mapping, got %v", got)
	}
	got = svc.MapInput(task, map[string]any{})
	if gotMap, ok := got.(map[string]any); !ok || gotMap["amount"] != 12.5 {
		t.Fatalf("expected identity for empty mapping, got %v", got)
	}
}

func TestMapInputInterpolationAndLiterals(t *testing.T) {
	svc := NewService(nil, nil, nil)
	task := core.Task{
		ID: "t",
		Result: map[string]any{
			"amount": 42.0,
			"order":  map[string]any{"id": "ord-7"},
		},
	}
	mapping := map[string]any{
		"value":   "${result.amount}",
		"orderId": "${result.order.id}",
		"reason":  "Process cancelled",
		"count":   3,
		"missing": "${result.nothing}",
	}

	got, ok := svc.MapInput(task, mapping).(map[string]any)
	if !ok {
		t.Fatalf("expected mapped object")
	}
	if got["value"] != 42.0 {
		t.Errorf("expected number preserved, got %T %v", got["value"], got["value"])
	}
	if got["orderId"] != "ord-7" {
		t.Errorf("expected nested resolution, got %v", got["orderId"])
	}
	if got["reason"] != "Process cancelled" {
		t.Errorf("expected literal passthrough, got %v", got["reason"])
	}
	if got["count"] != 3 {
		t.Errorf("expected non-string literal passthrough, got %v", got["count"])
	}
	if got["missing"] != nil {
		t.Errorf("expected nil for unresolvable path, got %v", got["missing"])
	}
}

func TestExecuteHandlerRequiresAgentManager(t *testing.T) {
	svc := NewService(nil, nil, nil)
	_, err := svc.ExecuteHandler(context.Background(), core.Task{ID: "t"}, core.CompensationHandler{})
	if !perrors.HasCode(err, perrors.CodeDependencyMissing) {
		t.Fatalf("expected dependency-missing error, got %v", err)
	}
}

func TestExecuteHandlerDispatches(t *testing.T) {
	storage, orch, agents := newFixture()
	agents.Script("billing", "refund", map[string]any{"refunded": true}, nil)
	svc := NewService(storage, orch, agents)

	task := core.Task{ID: "task-a", Result: map[string]any{"amount": 9.0}}
	handler := core.CompensationHandler{
		Service:      "billing",
		Action:       "refund",
		InputMapping: map[string]any{"amount": "${result.amount}"},
	}

	result, err := svc.ExecuteHandler(context.Background(), task, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res, ok := result.(map[string]any); !ok || res["refunded"] != true {
		t.Fatalf("expected backend result, got %v", result)
	}

	calls := agents.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 dispatch, got %d", len(calls))
	}
	record := calls[0].Task
	if record.ID != "compensation-task-a" || record.Type != "compensation" {
		t.Errorf("unexpected record identity: %+v", record)
	}
	input, ok := record.Data.Input.(map[string]any)
	if !ok || input["amount"] != 9.0 {
		t.Errorf("expected mapped input, got %v", record.Data.Input)
	}
}

func TestEvaluateExpression(t *testing.T) {
	svc := NewService(nil, nil, nil)
	vars := map[string]any{"result": map[string]any{"amount": 21.0}}
	if got := svc.EvaluateExpression("result.amount * 2", vars); got != 42.0 {
		t.Errorf("expected 42.0, got %v", got)
	}
	if got := svc.EvaluateExpression("result.amount +", vars); got != nil {
		t.Errorf("expected nil for malformed expression, got %v", got)
	}
}

func TestExecuteHandlerRecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() { otel.SetMeterProvider(noop.NewMeterProvider()) })

	pm, err := telemetry.NewProcessMetrics(context.Background())
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}

	storage, orch, agents := newFixture()
	agents.Script("billing", "refund", map[string]any{"refunded": true}, nil)
	agents.Script("billing", "void", nil, errors.New("gateway down"))
	svc := NewService(storage, orch, agents, WithMetrics(pm))

	task := core.Task{ID: "task-a", Result: map[string]any{"amount": 9.0}}
	if _, err := svc.ExecuteHandler(context.Background(), task, core.CompensationHandler{Service: "billing", Action: "refund"}); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if _, err := svc.ExecuteHandler(context.Background(), task, core.CompensationHandler{Service: "billing", Action: "void"}); err == nil {
		t.Fatal("void should fail")
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	outcomes := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "praxis.compensation.executed" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("compensation counter has unexpected data type %T", m.Data)
			}
			for _, dp := range sum.DataPoints {
				if outcome, ok := dp.Attributes.Value("outcome"); ok {
					outcomes[outcome.AsString()] += dp.Value
				}
			}
		}
	}
	if outcomes["executed"] != 1 || outcomes["failed"] != 1 {
		t.Fatalf("unexpected compensation outcomes: %v", outcomes)
	}
}
