package agent

import (
	"context"
	"sync"

	"github.com/praxisflow/praxis/pkg/core"
	"github.com/praxisflow/praxis/pkg/resilience"
)

// ResilientManager wraps an AgentManager with retry and a circuit breaker.
// Dispatch failures marked recoverable are retried with backoff; repeated
// failures open the breaker and reject dispatches until the backend
// recovers.
type ResilientManager struct {
	inner   core.AgentManager
	breaker *resilience.CircuitBreaker

	mu    sync.RWMutex
	retry resilience.RetryConfig
}

// NewResilientManager wraps inner. A zero RetryConfig gets defaults.
func NewResilientManager(inner core.AgentManager, retry resilience.RetryConfig, breaker *resilience.CircuitBreaker) *ResilientManager {
	if retry.MaxAttempts < 1 {
		retry = resilience.DefaultRetryConfig()
	}
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "agent"})
	}
	return &ResilientManager{inner: inner, retry: retry, breaker: breaker}
}

// SetRetry replaces the retry policy for subsequent dispatches.
// Configs with MaxAttempts below 1 are ignored. In-flight dispatches
// finish under the policy they started with.
func (m *ResilientManager) SetRetry(retry resilience.RetryConfig) {
	if retry.MaxAttempts < 1 {
		return
	}
	m.mu.Lock()
	m.retry = retry
	m.mu.Unlock()
}

// AssignTask implements core.AgentManager.
func (m *ResilientManager) AssignTask(ctx context.Context, task core.TaskRecord) (any, error) {
	m.mu.RLock()
	retry := m.retry
	m.mu.RUnlock()

	return retry.DoWithResult(ctx, func() (any, error) {
		var result any
		err := m.breaker.Call(ctx, func() error {
			var innerErr error
			result, innerErr = m.inner.AssignTask(ctx, task)
			return innerErr
		})
		return result, err
	})
}
