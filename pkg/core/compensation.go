package core

// CompensationHandler declares, per workflow step, how to undo the step.
// InputMapping maps a target field name to either a literal value or an
// interpolation expression of the form "${result.<path>}" resolved against
// the originating task's result.
type CompensationHandler struct {
	Service      string         `json:"service" yaml:"service"`
	Action       string         `json:"action" yaml:"action"`
	InputMapping map[string]any `json:"inputMapping,omitempty" yaml:"input_mapping,omitempty"`
}

// TaskRecord is the dispatch record handed to the agent manager: a service
// action plus its resolved input. The orchestrator dispatches records of
// type "task"; the compensation engine dispatches type "compensation".
type TaskRecord struct {
	ID   string         `json:"id"`
	Type string         `json:"type"`
	Data TaskRecordData `json:"data"`
}

// TaskRecordData carries the resolved call for the agent manager.
type TaskRecordData struct {
	Service string `json:"service"`
	Action  string `json:"action"`
	Input   any    `json:"input"`
}

// NewTaskRecord builds a regular task dispatch record.
func NewTaskRecord(taskID, service, action string, input any) TaskRecord {
	return TaskRecord{
		ID:   taskID,
		Type: "task",
		Data: TaskRecordData{Service: service, Action: action, Input: input},
	}
}

// NewCompensationTask builds the ephemeral compensation record for an
// original task. It is constructed immediately before dispatch and never
// persisted.
func NewCompensationTask(originalTaskID, service, action string, input any) TaskRecord {
	return TaskRecord{
		ID:   "compensation-" + originalTaskID,
		Type: "compensation",
		Data: TaskRecordData{Service: service, Action: action, Input: input},
	}
}
