package core

import "time"

// RoleTaskInstance is the semantic role name under which the orchestrator
// registers task instances in the binding store.
const RoleTaskInstance = "TaskInstance"

// Witness carries the process/task state payload of a role binding.
type Witness struct {
	ProcessInstanceID string         `json:"processInstanceId"`
	State             TaskState      `json:"state"`
	StartTime         time.Time      `json:"startTime"`
	Result            any            `json:"result,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// RoleBinding associates a thing (entity) with a semantic role and a
// witness payload. Task instances are tracked as bindings whose role id
// equals the orchestrator's TaskInstance role.
type RoleBinding struct {
	ThingID string  `json:"thingId"`
	RoleID  string  `json:"roleId"`
	Witness Witness `json:"witness"`
}

// TaskFromBinding projects a role binding onto the core task shape.
func TaskFromBinding(b RoleBinding) Task {
	return Task{
		ID:                b.ThingID,
		ProcessInstanceID: b.Witness.ProcessInstanceID,
		State:             b.Witness.State,
		StartTime:         b.Witness.StartTime,
		Result:            b.Witness.Result,
		Metadata:          b.Witness.Metadata,
	}
}

// BindingFromTask builds the role binding representation of a task under
// the given role id.
func BindingFromTask(t Task, roleID string) RoleBinding {
	return RoleBinding{
		ThingID: t.ID,
		RoleID:  roleID,
		Witness: Witness{
			ProcessInstanceID: t.ProcessInstanceID,
			State:             t.State,
			StartTime:         t.StartTime,
			Result:            t.Result,
			Metadata:          t.Metadata,
		},
	}
}
