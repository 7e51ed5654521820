package core

import (
	"time"

	"github.com/google/uuid"
)

// ProcessState describes the lifecycle state of a process instance.
type ProcessState string

const (
	ProcessStateRunning   ProcessState = "running"
	ProcessStateCompleted ProcessState = "completed"
	ProcessStateFailed    ProcessState = "failed"
)

// ProcessInstance is a running execution of a workflow definition.
// The orchestration core treats the ID as an opaque key for hierarchy
// tracking and event correlation.
type ProcessInstance struct {
	ID           string
	DefinitionID string
	State        ProcessState
	Variables    map[string]any
	Error        string
	StartedAt    time.Time
	EndedAt      time.Time
}

// NewProcessInstance creates a running instance with a generated ID.
func NewProcessInstance(definitionID string, variables map[string]any) *ProcessInstance {
	if variables == nil {
		variables = make(map[string]any)
	}
	return &ProcessInstance{
		ID:           uuid.NewString(),
		DefinitionID: definitionID,
		State:        ProcessStateRunning,
		Variables:    variables,
		StartedAt:    time.Now().UTC(),
	}
}
