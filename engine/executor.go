package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/quartet-sh/quartet"
	"github.com/quartet-sh/quartet/role"
	"github.com/quartet-sh/quartet/workflow"
)

// roleContext derives the dispatcher inputs for a run from its
// recorded request. Artifacts go under a per-run directory.
func (e *Engine) roleContext(run *workflow.Run) role.Context {
	rc := role.Context{
		ProjectRoot: run.Request.ProjectRoot,
		Prompt:      run.Request.Prompt,
		Model:       e.model,
	}
	if run.Request.ArtifactsRoot != "" {
		rc.ArtifactsDir = filepath.Join(run.Request.ArtifactsRoot, run.ID.String())
	}
	return rc
}

// StepError marks a failure produced by a role dispatcher (or the
// middleware around it), as opposed to an infrastructure failure such
// as a persistence error. Only StepErrors are retried.
type StepError struct {
	Step string
	Err  error
}

// Error returns the step name with the underlying message.
func (e *StepError) Error() string {
	return fmt.Sprintf("step %q: %v", e.Step, e.Err)
}

// Unwrap returns the underlying dispatcher error.
func (e *StepError) Unwrap() error { return e.Err }

// executeStep runs one attempt of step i, mutating run.Steps[i] in
// place. The run is persisted twice: after marking the step running
// (so an observer never sees a stale pending snapshot) and after the
// attempt's outcome is recorded.
//
// Dispatcher failures return a *StepError. Any other error (bad index,
// dispatch table gap, persistence failure) is returned as-is and is
// never retried.
func (e *Engine) executeStep(ctx context.Context, run *workflow.Run, i int) error {
	if i < 0 || i >= len(run.Steps) {
		return fmt.Errorf("run %s: step index %d not in [0,%d): %w",
			run.ID, i, len(run.Steps), quartet.ErrInvalidStepIndex)
	}

	step := &run.Steps[i]

	// Resolve the dispatcher before mutating anything.
	d, err := e.table.Dispatcher(step.Spec.Role)
	if err != nil {
		return fmt.Errorf("run %s step %q: %w", run.ID, step.Spec.Name, err)
	}

	now := time.Now().UTC()
	step.State = workflow.StepStateRunning
	step.StartedAt = &now
	step.CompletedAt = nil
	step.DurationMS = 0
	step.Error = ""
	step.Artifacts = nil
	idx := i
	run.CurrentStep = &idx

	if err := e.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("persist run %s before step %q: %w", run.ID, step.Spec.Name, err)
	}
	e.emit(ctx, run, workflow.LevelInfo, "step started", map[string]any{
		"step":  step.Spec.Name,
		"role":  string(step.Spec.Role),
		"index": i,
	})

	rc := e.roleContext(run)
	start := time.Now()
	artifacts, stepErr := e.mw(ctx, run, step.Spec, func(hctx context.Context) ([]string, error) {
		return d.Execute(hctx, rc)
	})
	elapsed := time.Since(start)

	done := time.Now().UTC()
	step.CompletedAt = &done
	step.DurationMS = elapsed.Milliseconds()

	if stepErr != nil {
		step.State = workflow.StepStateFailed
		step.Error = stepErr.Error()
		if perr := e.store.UpdateRun(ctx, run); perr != nil {
			// Durability past this point is not guaranteed; the step keeps
			// its in-memory outcome but the write error wins.
			return fmt.Errorf("persist run %s after step %q failed: %w", run.ID, step.Spec.Name, perr)
		}
		e.emit(ctx, run, workflow.LevelError, "step failed", map[string]any{
			"step":        step.Spec.Name,
			"role":        string(step.Spec.Role),
			"index":       i,
			"duration_ms": step.DurationMS,
			"error":       stepErr.Error(),
		})
		return &StepError{Step: step.Spec.Name, Err: stepErr}
	}

	step.State = workflow.StepStateCompleted
	step.Artifacts = artifacts
	if perr := e.store.UpdateRun(ctx, run); perr != nil {
		return fmt.Errorf("persist run %s after step %q: %w", run.ID, step.Spec.Name, perr)
	}
	e.logger.Debug("step completed",
		slog.String("run_id", run.ID.String()),
		slog.String("step", step.Spec.Name),
		slog.Duration("elapsed", elapsed),
	)
	e.emit(ctx, run, workflow.LevelInfo, "step completed", map[string]any{
		"step":        step.Spec.Name,
		"role":        string(step.Spec.Role),
		"index":       i,
		"duration_ms": step.DurationMS,
		"artifacts":   artifacts,
	})

	return nil
}
