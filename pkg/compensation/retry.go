// Copyright 2026 © The Praxis Authors
// SPDX-License-Identifier: Apache-2.0

package compensation

import (
	"context"
	"log/slog"
)

// Operation is a retriable unit of work.
type Operation func(ctx context.Context) (any, error)

// CompensateFunc undoes the side effects of a failed operation attempt.
type CompensateFunc func(ctx context.Context) error

// ExecuteWithCompensation attempts operation up to maxRetries times. On
// success the result is returned immediately and compensate is never
// invoked. Each failed attempt triggers one best-effort compensate call
// before the next attempt; a failing compensate is logged and does not
// stop retrying. After exhaustion the last operation error is returned
// unchanged. Context cancellation between attempts also returns the last
// operation error, or the context error when no attempt ran.
func (s *Service) ExecuteWithCompensation(ctx context.Context, operation Operation, compensate CompensateFunc, maxRetries int) (any, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, ctx.Err()
		default:
		}

		result, err := operation(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		s.logger.Warn("compensation.attempt.failed",
			slog.Int("attempt", attempt),
			slog.Int("max_retries", maxRetries),
			slog.String("error", err.Error()),
		)

		if compensate != nil {
			if cerr := compensate(ctx); cerr != nil {
				s.logger.Error("compensation.rollback.failed",
					slog.Int("attempt", attempt),
					slog.String("error", cerr.Error()),
				)
			}
		}
	}
	return nil, lastErr
}
