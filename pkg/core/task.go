package core

import (
	"time"

	"github.com/google/uuid"
)

// TaskState describes the lifecycle state of a task instance.
type TaskState string

const (
	TaskStatePending     TaskState = "pending"
	TaskStateActive      TaskState = "active"
	TaskStateCompleted   TaskState = "completed"
	TaskStateFailed      TaskState = "failed"
	TaskStateCompensated TaskState = "compensated"
)

// Task is the core-facing projection of a TaskInstance role binding.
// Metadata carries orchestrator annotations such as the originating step
// name; the compensation layer uses it to select handlers.
type Task struct {
	ID                string
	ProcessInstanceID string
	State             TaskState
	StartTime         time.Time
	Result            any
	Metadata          map[string]any
}

// NewTask creates a pending task for a process instance with a generated ID.
func NewTask(processInstanceID string) *Task {
	return &Task{
		ID:                uuid.NewString(),
		ProcessInstanceID: processInstanceID,
		State:             TaskStatePending,
		StartTime:         time.Now().UTC(),
	}
}

// Complete marks the task completed and records its result.
func (t *Task) Complete(result any) {
	t.State = TaskStateCompleted
	t.Result = result
}

// Fail marks the task failed.
func (t *Task) Fail() {
	t.State = TaskStateFailed
}
