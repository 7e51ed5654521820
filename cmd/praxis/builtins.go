// Copyright 2026 © The Praxis Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/praxisflow/praxis/pkg/agent"
)

// registerBuiltins adds the services available to workflows run from
// the CLI. Real deployments embed the orchestrator as a library and
// register their own handlers instead.
func registerBuiltins(m *agent.Manager) {
	// echo/say returns its input unchanged. Useful for wiring checks
	// and for feeding results into later steps.
	m.Register("echo", "say", func(_ context.Context, input any) (any, error) {
		return input, nil
	})

	// delay/sleep pauses for {"ms": n} milliseconds.
	m.Register("delay", "sleep", func(ctx context.Context, input any) (any, error) {
		ms := int64(0)
		if in, ok := input.(map[string]any); ok {
			switch v := in["ms"].(type) {
			case float64:
				ms = int64(v)
			case int:
				ms = int64(v)
			case int64:
				ms = v
			}
		}
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
			return map[string]any{"sleptMs": ms}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	// fail/always rejects every dispatch. Exercises retry, failure
	// events, and compensation paths from workflow files.
	m.Register("fail", "always", func(_ context.Context, input any) (any, error) {
		return nil, fmt.Errorf("step configured to fail: %v", input)
	})
}
