package workflow

import (
	"context"

	"github.com/quartet-sh/quartet/id"
)

// ListOpts controls filtering for run list queries.
type ListOpts struct {
	// Limit is the maximum number of runs to return. Zero means no limit.
	Limit int
	// State filters by run state. Empty means all states.
	State RunState
}

// Store defines the persistence contract for workflow runs.
//
// Implementations must write a snapshot of the run: either a deep copy
// taken under the call, or an immediate serialization, so that the
// engine mutating the in-memory run after the call returns can never
// tear an in-flight write.
type Store interface {
	// CreateRun persists a new run document.
	CreateRun(ctx context.Context, run *Run) error

	// GetRun retrieves a run by ID. Returns an error wrapping
	// quartet.ErrRunNotFound if no document exists for the ID, or
	// quartet.ErrRunCorrupt if the document cannot be decoded.
	GetRun(ctx context.Context, runID id.RunID) (*Run, error)

	// UpdateRun overwrites the persisted document for run.ID with the
	// full run. It is idempotent and total.
	UpdateRun(ctx context.Context, run *Run) error

	// ListRuns returns runs matching opts, ordered by StartedAt
	// descending. Malformed run documents are skipped, not fatal.
	ListRuns(ctx context.Context, opts ListOpts) ([]*Run, error)
}
