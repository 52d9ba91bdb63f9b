package workflow

import (
	"time"

	"github.com/quartet-sh/quartet/id"
)

// RunState represents the lifecycle state of a workflow run.
type RunState string

const (
	// RunStateRunning means the workflow is currently executing, or was
	// interrupted before reaching a terminal state.
	RunStateRunning RunState = "running"
	// RunStateCompleted means every step finished successfully.
	RunStateCompleted RunState = "completed"
	// RunStateFailed means a step exhausted its retries.
	RunStateFailed RunState = "failed"
	// RunStateCancelled is reserved for external cancellation. No engine
	// code path produces it.
	RunStateCancelled RunState = "cancelled"
)

// StepState represents the lifecycle state of a single step.
type StepState string

const (
	// StepStatePending means the step has not started yet.
	StepStatePending StepState = "pending"
	// StepStateRunning means the step is executing. At most one step of
	// a run is in this state at any time.
	StepStateRunning StepState = "running"
	// StepStateCompleted means the step finished successfully.
	StepStateCompleted StepState = "completed"
	// StepStateFailed means the step's last attempt failed.
	StepStateFailed StepState = "failed"
	// StepStateSkipped means the step was deliberately not executed.
	StepStateSkipped StepState = "skipped"
)

// StepResult records the outcome of one step. It is index-aligned with
// the originating definition and mutated in place by the engine as the
// step moves through pending, running, and a terminal state.
type StepResult struct {
	Spec        StepSpec   `json:"spec"`
	State       StepState  `json:"state"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  int64      `json:"duration_ms,omitempty"`
	Error       string     `json:"error,omitempty"`
	Artifacts   []string   `json:"artifacts,omitempty"`
}

// Reset returns the step to pending, clearing everything except the
// originating spec. Used by retry-from-step before re-execution.
func (s *StepResult) Reset() {
	s.State = StepStatePending
	s.StartedAt = nil
	s.CompletedAt = nil
	s.DurationMS = 0
	s.Error = ""
	s.Artifacts = nil
}

// Terminal reports whether the step reached completed or failed.
func (s *StepResult) Terminal() bool {
	return s.State == StepStateCompleted || s.State == StepStateFailed
}

// Request is the change request a run was started for. It is recorded
// on the run document so that resume and retry can re-execute steps
// without the caller restating the original inputs.
type Request struct {
	// Prompt is the original change request text.
	Prompt string `json:"prompt,omitempty"`

	// ProjectRoot is the repository the change is applied to.
	ProjectRoot string `json:"project_root,omitempty"`

	// ArtifactsRoot is the base directory for run artifacts; each run
	// writes under its own id.
	ArtifactsRoot string `json:"artifacts_root,omitempty"`
}

// Run represents a single execution of a workflow. The step slice is
// sized once at initialization and never resized.
type Run struct {
	ID          id.RunID     `json:"id"`
	Workflow    string       `json:"workflow"`
	Request     Request      `json:"request"`
	State       RunState     `json:"state"`
	CurrentStep *int         `json:"current_step,omitempty"`
	Steps       []StepResult `json:"steps"`
	Error       string       `json:"error,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// NewRun builds a fresh running Run for the definition: a new run ID,
// StartedAt stamped, and one pending StepResult per step spec.
func NewRun(def Definition) *Run {
	steps := make([]StepResult, len(def.Steps))
	for i, spec := range def.Steps {
		steps[i] = StepResult{Spec: spec, State: StepStatePending}
	}

	return &Run{
		ID:        id.NewRunID(),
		Workflow:  def.Name,
		State:     RunStateRunning,
		Steps:     steps,
		StartedAt: time.Now().UTC(),
	}
}

// FirstResumable returns the index of the first pending or failed
// step, or -1 if every step is completed or skipped. This is the
// resume point after a crash or failure.
func (r *Run) FirstResumable() int {
	for i := range r.Steps {
		switch r.Steps[i].State {
		case StepStatePending, StepStateFailed, StepStateRunning:
			// A step left in "running" belongs to a driver that crashed
			// mid-step; it never reached a terminal state, so re-run it.
			return i
		case StepStateCompleted, StepStateSkipped:
		}
	}
	return -1
}

// Clone returns a deep copy of the run. Stores snapshot via Clone (or
// via immediate serialization) so that a slow write can never observe
// a torn, concurrently mutated document.
func (r *Run) Clone() *Run {
	cp := *r

	if r.CurrentStep != nil {
		v := *r.CurrentStep
		cp.CurrentStep = &v
	}
	if r.CompletedAt != nil {
		v := *r.CompletedAt
		cp.CompletedAt = &v
	}

	cp.Steps = make([]StepResult, len(r.Steps))
	for i, s := range r.Steps {
		sc := s
		if s.StartedAt != nil {
			v := *s.StartedAt
			sc.StartedAt = &v
		}
		if s.CompletedAt != nil {
			v := *s.CompletedAt
			sc.CompletedAt = &v
		}
		if s.Artifacts != nil {
			sc.Artifacts = append([]string(nil), s.Artifacts...)
		}
		cp.Steps[i] = sc
	}

	return &cp
}
