// Package worker provides small building blocks for background loops:
// ticker-driven task loops, context-aware waits and panic recovery.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Wait blocks until d elapses or the context is canceled, returning a
// wrapped context error in the latter case. Non-positive durations return
// immediately.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("wait interrupted: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}

// RecoverPanic logs a recovered panic with its stack. Deferred at the top
// of goroutines that must not take the process down.
func RecoverPanic(logger *zerolog.Logger, operation string) {
	if r := recover(); r != nil {
		logger.Error().
			Str("operation", operation).
			Interface("panic", r).
			Bytes("stack", debug.Stack()).
			Msg("recovered from panic")
	}
}
