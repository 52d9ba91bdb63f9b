package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/quartet-sh/quartet/workflow"
)

// Logging returns middleware that logs step attempt start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, run *workflow.Run, step workflow.StepSpec, next Handler) ([]string, error) {
		logger.Info("step attempt started",
			slog.String("run_id", run.ID.String()),
			slog.String("step", step.Name),
			slog.String("role", string(step.Role)),
		)

		start := time.Now()
		artifacts, err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("step attempt failed",
				slog.String("run_id", run.ID.String()),
				slog.String("step", step.Name),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("step attempt completed",
				slog.String("run_id", run.ID.String()),
				slog.String("step", step.Name),
				slog.Duration("elapsed", elapsed),
				slog.Int("artifacts", len(artifacts)),
			)
		}

		return artifacts, err
	}
}
