package core

import (
	"testing"
	"time"
)

func TestTaskLifecycle(t *testing.T) {
	task := NewTask("proc-1")
	if task.State != TaskStatePending {
		t.Fatalf("expected pending state")
	}
	if task.ID == "" {
		t.Fatalf("expected generated id")
	}
	task.Complete(map[string]any{"ok": true})
	if task.State != TaskStateCompleted {
		t.Fatalf("expected completed state")
	}
	if task.Result == nil {
		t.Fatalf("expected result to be set")
	}
	task.Fail()
	if task.State != TaskStateFailed {
		t.Fatalf("expected failed state")
	}
}

func TestBindingRoundTrip(t *testing.T) {
	task := Task{
		ID:                "task-1",
		ProcessInstanceID: "proc-1",
		State:             TaskStateCompleted,
		StartTime:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Result:            map[string]any{"amount": 42.0},
	}
	binding := BindingFromTask(task, "role-task-instance")
	if binding.ThingID != "task-1" || binding.RoleID != "role-task-instance" {
		t.Fatalf("unexpected binding identity: %+v", binding)
	}
	back := TaskFromBinding(binding)
	if back.ID != task.ID || !back.StartTime.Equal(task.StartTime) {
		t.Fatalf("projection lost identity: %+v", back)
	}
	if back.ProcessInstanceID != "proc-1" || back.State != TaskStateCompleted {
		t.Fatalf("projection lost witness fields: %+v", back)
	}
}

func TestNewCompensationTask(t *testing.T) {
	ct := NewCompensationTask("task-9", "billing", "refund", map[string]any{"amount": 10})
	if ct.ID != "compensation-task-9" {
		t.Fatalf("expected prefixed id, got %q", ct.ID)
	}
	if ct.Type != "compensation" {
		t.Fatalf("expected compensation type, got %q", ct.Type)
	}
	if ct.Data.Service != "billing" || ct.Data.Action != "refund" {
		t.Fatalf("unexpected data: %+v", ct.Data)
	}
}
