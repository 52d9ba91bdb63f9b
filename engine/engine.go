package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quartet-sh/quartet"
	"github.com/quartet-sh/quartet/backoff"
	"github.com/quartet-sh/quartet/id"
	"github.com/quartet-sh/quartet/middleware"
	"github.com/quartet-sh/quartet/role"
	"github.com/quartet-sh/quartet/workflow"
)

// Engine drives workflow runs: creating them, executing steps in
// order with bounded retry, and persisting the run document after
// every transition. One engine instance drives a given run at a time;
// concurrent drivers of the same run id would race on the persisted
// document (single-operator local tool, no locking).
type Engine struct {
	store      workflow.Store
	sink       workflow.Sink
	table      role.Table
	bo         backoff.Strategy
	maxRetries int
	mw         middleware.Middleware
	logger     *slog.Logger
	model      role.ModelDriver
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. The default discards
// everything; the engine has no implicit global logging state.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithSink sets the run log sink. The default discards events.
func WithSink(s workflow.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithMaxRetries sets the number of retries after a step's first
// failed attempt.
func WithMaxRetries(n int) Option {
	return func(e *Engine) { e.maxRetries = n }
}

// WithBackoff sets the delay strategy between attempts.
func WithBackoff(s backoff.Strategy) Option {
	return func(e *Engine) { e.bo = s }
}

// WithMiddleware wraps every step attempt with the given middleware,
// outermost first.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(e *Engine) { e.mw = middleware.Chain(mws...) }
}

// WithModel sets the optional model driver handed to role dispatchers.
func WithModel(m role.ModelDriver) Option {
	return func(e *Engine) { e.model = m }
}

// WithConfig applies retry settings from a quartet.Config.
func WithConfig(cfg quartet.Config) Option {
	return func(e *Engine) {
		e.maxRetries = cfg.MaxRetries
		e.bo = backoff.NewLinear(cfg.RetryDelay, cfg.MaxRetryDelay)
	}
}

// New creates an engine over the given store and dispatch table.
func New(store workflow.Store, table role.Table, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		sink:       workflow.NopSink{},
		table:      table,
		bo:         backoff.DefaultStrategy(),
		maxRetries: quartet.DefaultConfig().MaxRetries,
		mw:         middleware.Chain(),
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start initializes a new run of the definition for the given change
// request and executes its steps in order. The request is recorded on
// the run document so resume and retry can re-execute steps without
// it. The run is persisted before the first step begins; on failure it
// remains persisted as failed and the error is returned alongside it.
func (e *Engine) Start(ctx context.Context, def workflow.Definition, req workflow.Request) (*workflow.Run, error) {
	if e.store == nil {
		return nil, quartet.ErrNoStore
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	run := workflow.NewRun(def)
	run.Request = req
	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run for workflow %q: %w", def.Name, err)
	}

	e.logger.Info("workflow run started",
		slog.String("run_id", run.ID.String()),
		slog.String("workflow", run.Workflow),
		slog.Int("steps", len(run.Steps)),
	)
	e.emit(ctx, run, workflow.LevelInfo, "workflow started", map[string]any{
		"workflow": run.Workflow,
		"steps":    len(run.Steps),
	})

	return e.executeFrom(ctx, run, 0)
}

// Resume loads the run and continues forward execution from its first
// pending or failed step (or a step stranded in running by a crashed
// driver). No prior step is reset; the recorded StepSpec sequence of
// the loaded run is used, so resume cannot change the workflow shape.
// Fails with quartet.ErrNothingToResume when every step is terminal.
func (e *Engine) Resume(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}

	from := run.FirstResumable()
	if from < 0 {
		return nil, fmt.Errorf("run %s: %w", runID, quartet.ErrNothingToResume)
	}

	run.State = workflow.RunStateRunning
	run.Error = ""
	run.CompletedAt = nil
	if err := e.store.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("persist resumed run %s: %w", runID, err)
	}

	e.logger.Info("workflow run resumed",
		slog.String("run_id", run.ID.String()),
		slog.String("workflow", run.Workflow),
		slog.Int("from_step", from),
	)
	e.emit(ctx, run, workflow.LevelInfo, "workflow resumed", map[string]any{
		"from_step": from,
	})

	return e.executeFrom(ctx, run, from)
}

// RetryFromStep loads the run, resets every step at and after
// stepIndex back to pending (clearing timestamps, errors, and
// artifacts), and re-executes forward from there. Steps before
// stepIndex are left untouched; their recorded outcome is trusted.
// An out-of-range index fails with quartet.ErrInvalidStepIndex and
// leaves the persisted run unchanged.
func (e *Engine) RetryFromStep(ctx context.Context, runID id.RunID, stepIndex int) (*workflow.Run, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}

	if stepIndex < 0 || stepIndex >= len(run.Steps) {
		return nil, fmt.Errorf("run %s: step index %d not in [0,%d): %w",
			runID, stepIndex, len(run.Steps), quartet.ErrInvalidStepIndex)
	}

	for i := stepIndex; i < len(run.Steps); i++ {
		run.Steps[i].Reset()
	}
	idx := stepIndex
	run.CurrentStep = &idx
	run.State = workflow.RunStateRunning
	run.Error = ""
	run.CompletedAt = nil
	if err := e.store.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("persist run %s for retry: %w", runID, err)
	}

	e.logger.Info("workflow run retrying",
		slog.String("run_id", run.ID.String()),
		slog.String("workflow", run.Workflow),
		slog.Int("from_step", stepIndex),
	)
	e.emit(ctx, run, workflow.LevelInfo, "workflow retrying from step", map[string]any{
		"from_step": stepIndex,
	})

	return e.executeFrom(ctx, run, stepIndex)
}

// Inspect returns the persisted run without mutating it.
func (e *Engine) Inspect(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return run, nil
}

// List returns persisted runs, newest first.
func (e *Engine) List(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	return e.store.ListRuns(ctx, opts)
}

// executeFrom runs steps from index from to the end, then marks the
// run completed. A step error aborts the loop; the run has already
// been persisted in its failed state by the retry controller.
func (e *Engine) executeFrom(ctx context.Context, run *workflow.Run, from int) (*workflow.Run, error) {
	start := time.Now()

	for i := from; i < len(run.Steps); i++ {
		if err := e.runStep(ctx, run, i); err != nil {
			return run, err
		}
	}

	now := time.Now().UTC()
	run.State = workflow.RunStateCompleted
	run.CompletedAt = &now
	run.Error = ""
	if err := e.store.UpdateRun(ctx, run); err != nil {
		return run, fmt.Errorf("persist completed run %s: %w", run.ID, err)
	}

	elapsed := time.Since(start)
	e.logger.Info("workflow run completed",
		slog.String("run_id", run.ID.String()),
		slog.String("workflow", run.Workflow),
		slog.Duration("elapsed", elapsed),
	)
	e.emit(ctx, run, workflow.LevelInfo, "workflow completed", map[string]any{
		"elapsed_ms": elapsed.Milliseconds(),
	})

	return run, nil
}

// emit appends an event to the run log. Sink failures are logged and
// swallowed: the persisted run document is the primary reporting
// channel, the log is secondary.
func (e *Engine) emit(ctx context.Context, run *workflow.Run, level, msg string, meta map[string]any) {
	if err := e.sink.AppendEvent(ctx, workflow.NewEvent(run.ID, level, msg, meta)); err != nil {
		e.logger.Warn("failed to append run event",
			slog.String("run_id", run.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}
