package core

import "context"

// Storage is the generic entity/relationship store the orchestration core
// reads task history from. Implementations live in pkg/store.
type Storage interface {
	GetAllRoleBindings(ctx context.Context) ([]RoleBinding, error)
	UpdateRoleBinding(ctx context.Context, binding RoleBinding) error
}

// AgentManager executes task records against an execution backend and
// returns whatever result the backend produced.
type AgentManager interface {
	AssignTask(ctx context.Context, task TaskRecord) (any, error)
}

// Orchestrator owns process-instance lifecycle. The orchestration core
// consumes it for sub-process launches, role lookups, and lifecycle events.
type Orchestrator interface {
	StartProcess(ctx context.Context, definitionID string, variables map[string]any) (string, error)
	GetProcessInstance(id string) *ProcessInstance
	RoleIDs() map[string]string
	Events() EventStream
}
