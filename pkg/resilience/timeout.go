// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"time"

	"github.com/praxisflow/praxis/pkg/errors"
)

// WithTimeout executes fn with a timeout boundary. A zero duration means
// no boundary. Returns errors.CodeTimeout if the deadline is exceeded.
func WithTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	if d == 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case <-ctx.Done():
		return errors.New(errors.CodeTimeout, "operation exceeded timeout", ctx.Err()).
			WithContext("timeout", d.String()).
			WithRecoverable(true)
	case err := <-done:
		return err
	}
}

// WithTimeoutResult executes fn with a timeout boundary, returning both
// result and error.
func WithTimeoutResult(ctx context.Context, d time.Duration, fn func(ctx context.Context) (any, error)) (any, error) {
	if d == 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, err := fn(ctx)
		done <- outcome{value: value, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, errors.New(errors.CodeTimeout, "operation exceeded timeout", ctx.Err()).
			WithContext("timeout", d.String()).
			WithRecoverable(true)
	case out := <-done:
		return out.value, out.err
	}
}
