package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/quartet-sh/quartet/workflow"
)

// Recover returns middleware that recovers from panics in the handler
// chain. Panics are converted to step failures and logged with a stack
// trace, so a panicking dispatcher cannot kill the process with
// unpersisted run state.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, run *workflow.Run, step workflow.StepSpec, next Handler) (artifacts []string, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("dispatcher panicked",
					slog.String("run_id", run.ID.String()),
					slog.String("step", step.Name),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				artifacts = nil
				retErr = fmt.Errorf("panic in step %s: %v", step.Name, r)
			}
		}()
		return next(ctx)
	}
}
