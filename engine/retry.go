package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quartet-sh/quartet"
	"github.com/quartet-sh/quartet/workflow"
)

// runStep drives step i through bounded retry: up to maxRetries+1
// attempts, waiting bo.Delay(n) after the nth failure. When retries
// are exhausted the run is marked failed, persisted, and the last
// dispatcher error is propagated; no later step executes.
//
// Infrastructure errors (bad index, persistence failure) are never
// retried and surface immediately, leaving the run state as the last
// successful persist recorded it.
func (e *Engine) runStep(ctx context.Context, run *workflow.Run, i int) error {
	var last *StepError

	for attempt := 1; attempt <= e.maxRetries+1; attempt++ {
		err := e.executeStep(ctx, run, i)
		if err == nil {
			return nil
		}

		var se *StepError
		if !errors.As(err, &se) {
			return err
		}
		last = se

		if attempt > e.maxRetries {
			break
		}

		delay := e.bo.Delay(attempt)
		e.logger.Warn("step attempt failed, retrying",
			slog.String("run_id", run.ID.String()),
			slog.String("step", se.Step),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", se.Err.Error()),
		)
		e.emit(ctx, run, workflow.LevelWarn, "step attempt failed", map[string]any{
			"step":     se.Step,
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
			"error":    se.Err.Error(),
		})

		// The backoff wait is a suspension point. If the caller's context
		// is cancelled here, the run is left as last persisted (step
		// failed, run still running) and remains resumable.
		if werr := e.wait(ctx, delay); werr != nil {
			return fmt.Errorf("run %s step %q: backoff interrupted: %w", run.ID, se.Step, werr)
		}
	}

	now := time.Now().UTC()
	run.State = workflow.RunStateFailed
	run.Error = last.Err.Error()
	run.CompletedAt = &now
	if perr := e.store.UpdateRun(ctx, run); perr != nil {
		return fmt.Errorf("persist failed run %s: %w", run.ID, perr)
	}

	e.logger.Error("step failed, retries exhausted",
		slog.String("run_id", run.ID.String()),
		slog.String("step", last.Step),
		slog.Int("attempts", e.maxRetries+1),
		slog.String("error", last.Err.Error()),
	)
	e.emit(ctx, run, workflow.LevelError, "workflow failed", map[string]any{
		"step":     last.Step,
		"attempts": e.maxRetries + 1,
		"error":    last.Err.Error(),
	})

	return fmt.Errorf("run %s step %q: %w: %s",
		run.ID, last.Step, quartet.ErrMaxRetriesExceeded, last.Err)
}

// wait blocks for d or until ctx is cancelled.
func (e *Engine) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
