// Copyright 2026 © The Praxis Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic conventions for orchestration telemetry. These follow
// OpenTelemetry naming conventions where applicable.
const (
	// Process attributes
	AttrProcessInstanceID = "praxis.process.instance_id"
	AttrProcessDefinition = "praxis.process.definition_id"
	AttrProcessState      = "praxis.process.state"
	AttrProcessParentID   = "praxis.process.parent_id"
	AttrProcessRunID      = "praxis.process.run_id"

	// Step attributes
	AttrStepName    = "praxis.step.name"
	AttrStepService = "praxis.step.service"
	AttrStepAction  = "praxis.step.action"

	// Task attributes
	AttrTaskID         = "praxis.task.id"
	AttrTaskType       = "praxis.task.type"
	AttrTaskService    = "praxis.task.service"
	AttrTaskAction     = "praxis.task.action"
	AttrTaskState      = "praxis.task.state"
	AttrTaskDurationMs = "praxis.task.duration_ms"

	// Compensation attributes
	AttrCompensationService  = "praxis.compensation.service"
	AttrCompensationAction   = "praxis.compensation.action"
	AttrCompensationExecuted = "praxis.compensation.executed_count"
	AttrCompensationFromTask = "praxis.compensation.from_task_id"

	// Sub-process attributes
	AttrSubProcessChildID   = "praxis.subprocess.child_id"
	AttrSubProcessTimeoutMs = "praxis.subprocess.timeout_ms"

	// Event attributes
	AttrEventType       = "praxis.event.type"
	AttrEventInstanceID = "praxis.event.instance_id"

	// Error attributes
	AttrErrorCode        = "praxis.error.code"
	AttrErrorRecoverable = "praxis.error.recoverable"
)

// ProcessAttributes returns common attributes for process spans.
func ProcessAttributes(instanceID, definitionID, state string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrProcessInstanceID, instanceID),
	}
	if definitionID != "" {
		attrs = append(attrs, attribute.String(AttrProcessDefinition, definitionID))
	}
	if state != "" {
		attrs = append(attrs, attribute.String(AttrProcessState, state))
	}
	return attrs
}

// StepAttributes returns attributes for a step execution span.
func StepAttributes(name, service, action string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrStepName, name),
	}
	if service != "" {
		attrs = append(attrs, attribute.String(AttrStepService, service))
	}
	if action != "" {
		attrs = append(attrs, attribute.String(AttrStepAction, action))
	}
	return attrs
}

// TaskAttributes returns attributes for task dispatch spans.
func TaskAttributes(taskID, state string, durationMs float64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if taskID != "" {
		attrs = append(attrs, attribute.String(AttrTaskID, taskID))
	}
	if state != "" {
		attrs = append(attrs, attribute.String(AttrTaskState, state))
	}
	if durationMs > 0 {
		attrs = append(attrs, attribute.Float64(AttrTaskDurationMs, durationMs))
	}
	return attrs
}

// CompensationAttributes returns attributes for compensation spans.
func CompensationAttributes(service, action, fromTaskID string, executed int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrCompensationService, service),
	}
	if action != "" {
		attrs = append(attrs, attribute.String(AttrCompensationAction, action))
	}
	if fromTaskID != "" {
		attrs = append(attrs, attribute.String(AttrCompensationFromTask, fromTaskID))
	}
	if executed > 0 {
		attrs = append(attrs, attribute.Int(AttrCompensationExecuted, executed))
	}
	return attrs
}

// SubProcessAttributes returns attributes for sub-process launch and
// wait spans.
func SubProcessAttributes(parentID, childID string, timeoutMs int64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrProcessParentID, parentID),
	}
	if childID != "" {
		attrs = append(attrs, attribute.String(AttrSubProcessChildID, childID))
	}
	if timeoutMs > 0 {
		attrs = append(attrs, attribute.Int64(AttrSubProcessTimeoutMs, timeoutMs))
	}
	return attrs
}

// EventAttributes returns attributes for lifecycle event handling.
func EventAttributes(eventType, instanceID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrEventType, eventType),
		attribute.String(AttrEventInstanceID, instanceID),
	}
}

// ErrorAttributes returns attributes describing a typed failure.
func ErrorAttributes(code string, recoverable bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrErrorCode, code),
		attribute.Bool(AttrErrorRecoverable, recoverable),
	}
}
