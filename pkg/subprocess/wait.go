// Copyright 2026 © The Praxis Authors
// SPDX-License-Identifier: Apache-2.0

package subprocess

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/praxisflow/praxis/pkg/core"
	"github.com/praxisflow/praxis/pkg/errors"
)

// CompletionResult is the successful outcome of WaitForCompletion.
type CompletionResult struct {
	State      core.ProcessState `json:"state"`
	InstanceID string            `json:"instanceId"`
}

// WaitForCompletion blocks until the orchestrator reports a terminal event
// for childID, the timeout elapses, or ctx is canceled. The subscription
// discriminates by instance id: events for other instances are skipped,
// and once a matching event resolves the wait, the listener and timer are
// released. The first matching event wins.
func (m *Manager) WaitForCompletion(ctx context.Context, childID string, timeout time.Duration) (CompletionResult, error) {
	ctx, span := m.tracer.Start(ctx, "SubProcess.WaitForCompletion", trace.WithAttributes(
		attribute.String("child.instance_id", childID),
		attribute.String("timeout", timeout.String()),
	))
	defer span.End()

	events, cancel := m.orchestrator.Events().Subscribe()
	defer cancel()

	// The child may already be terminal if it finished before the
	// subscription above was in place.
	if res, done, err := m.completedAlready(childID); done {
		return res, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return CompletionResult{}, errors.New(errors.CodeInternal, "event stream closed", nil).
					WithContext("child_instance_id", childID)
			}
			if ev.InstanceID != childID {
				continue
			}
			switch ev.Type {
			case core.ProcessCompleted:
				m.logger.Debug("subprocess.completed",
					slog.String("child_instance_id", childID),
				)
				return CompletionResult{State: core.ProcessStateCompleted, InstanceID: childID}, nil
			case core.ProcessFailed:
				return CompletionResult{}, errors.New(errors.CodeSubprocessFailed, "subprocess failed", ev.Err).
					WithContext("child_instance_id", childID).
					WithRecoverable(true)
			}
		case <-timer.C:
			return CompletionResult{}, errors.New(errors.CodeTimeout, "subprocess execution timeout", nil).
				WithContext("child_instance_id", childID).
				WithContext("timeout", timeout.String())
		case <-ctx.Done():
			return CompletionResult{}, errors.New(errors.CodeTimeout, "wait canceled", ctx.Err()).
				WithContext("child_instance_id", childID)
		}
	}
}

// completedAlready checks the orchestrator's instance snapshot for a
// terminal state reached before the event subscription existed.
func (m *Manager) completedAlready(childID string) (CompletionResult, bool, error) {
	inst := m.orchestrator.GetProcessInstance(childID)
	if inst == nil {
		return CompletionResult{}, false, nil
	}
	switch inst.State {
	case core.ProcessStateCompleted:
		return CompletionResult{State: core.ProcessStateCompleted, InstanceID: childID}, true, nil
	case core.ProcessStateFailed:
		var cause error
		if inst.Error != "" {
			cause = errors.New(errors.CodeInternal, inst.Error, nil)
		}
		return CompletionResult{}, true, errors.New(errors.CodeSubprocessFailed, "subprocess failed", cause).
			WithContext("child_instance_id", childID).
			WithRecoverable(true)
	}
	return CompletionResult{}, false, nil
}
