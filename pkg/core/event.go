package core

// ProcessEventType identifies a process lifecycle event.
type ProcessEventType string

const (
	ProcessCompleted ProcessEventType = "process:completed"
	ProcessFailed    ProcessEventType = "process:failed"
)

// ProcessEvent is emitted by the orchestrator when a process instance
// reaches a terminal state. Err is set only for ProcessFailed.
type ProcessEvent struct {
	Type       ProcessEventType
	InstanceID string
	Err        error
}

// EventStream is the orchestrator's lifecycle event source. Subscribe
// returns a receive channel and a cancel function; the cancel function
// must be safe to call more than once.
type EventStream interface {
	Subscribe() (<-chan ProcessEvent, func())
	Publish(event ProcessEvent)
}
