// Package role defines the closed set of workflow roles and the
// dispatcher capability that performs a role's actual work.
//
// The engine treats all roles uniformly: it looks up the dispatcher
// bound to a step's role and invokes it. Role-specific logic (what a
// planner plans, how a builder applies a diff) lives entirely behind
// the Dispatcher interface.
package role

import (
	"context"
	"fmt"

	"github.com/quartet-sh/quartet"
)

// Role is one of the four fixed workflow roles.
type Role string

const (
	// Planner produces an implementation plan for the change request.
	Planner Role = "planner"
	// Builder applies the planned code change to the working tree.
	Builder Role = "builder"
	// Verifier runs lint, typecheck, and test commands against the change.
	Verifier Role = "verifier"
	// Reviewer reviews the change and records findings.
	Reviewer Role = "reviewer"
)

// All returns the four roles in canonical order.
func All() []Role {
	return []Role{Planner, Builder, Verifier, Reviewer}
}

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	switch r {
	case Planner, Builder, Verifier, Reviewer:
		return true
	default:
		return false
	}
}

// ModelDriver is an optional language-model capability handed to
// dispatchers. Implementations are external to the engine; a nil
// driver means the dispatcher works without model access.
type ModelDriver interface {
	// Complete sends a prompt and returns the model's response.
	Complete(ctx context.Context, prompt string) (string, error)
}

// Context carries the inputs a dispatcher needs to do its work.
type Context struct {
	// ProjectRoot is the repository the change is applied to.
	ProjectRoot string

	// ArtifactsDir is where dispatchers write their outputs. Artifact
	// paths returned by Execute are relative to this directory.
	ArtifactsDir string

	// Prompt is the original change request.
	Prompt string

	// Model is the optional model driver. May be nil.
	Model ModelDriver
}

// Dispatcher performs the work of one role within a run. It returns
// the relative paths of artifacts it produced, and fails by returning
// an error with a descriptive message.
type Dispatcher interface {
	Execute(ctx context.Context, rc Context) ([]string, error)
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, rc Context) ([]string, error)

// Execute calls f.
func (f DispatcherFunc) Execute(ctx context.Context, rc Context) ([]string, error) {
	return f(ctx, rc)
}

// Table maps each role to its dispatcher. Use NewTable to construct
// one; a Table built any other way may be incomplete.
type Table map[Role]Dispatcher

// NewTable builds a complete dispatch table. All four dispatchers are
// required; passing nil for any of them is a programming error
// surfaced at construction time rather than mid-run.
func NewTable(planner, builder, verifier, reviewer Dispatcher) (Table, error) {
	t := Table{
		Planner:  planner,
		Builder:  builder,
		Verifier: verifier,
		Reviewer: reviewer,
	}
	for _, r := range All() {
		if t[r] == nil {
			return nil, fmt.Errorf("role: nil dispatcher for %q", r)
		}
	}
	return t, nil
}

// Dispatcher returns the dispatcher bound to r, or ErrUnknownRole if
// the table has no binding (unknown role or incomplete table).
func (t Table) Dispatcher(r Role) (Dispatcher, error) {
	d, ok := t[r]
	if !ok || d == nil {
		return nil, fmt.Errorf("%w: %q", quartet.ErrUnknownRole, r)
	}
	return d, nil
}
