package workflow

import (
	"fmt"

	"github.com/quartet-sh/quartet/role"
)

// StepSpec describes one step of a workflow definition.
type StepSpec struct {
	// Role selects the dispatcher that executes this step.
	Role role.Role `json:"role"`

	// Name is a short human label, unique within the definition by
	// convention (not enforced).
	Name string `json:"name"`

	// Description explains what the step is expected to produce.
	Description string `json:"description,omitempty"`
}

// Definition is an ordered workflow definition. It is supplied by the
// caller and copied into the Run at initialization; the engine never
// mutates it.
type Definition struct {
	// Name labels runs started from this definition.
	Name string `json:"name"`

	// Steps execute strictly in order.
	Steps []StepSpec `json:"steps"`
}

// Validate checks that the definition can be run: a non-empty name,
// at least one step, and a known role on every step.
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("workflow: definition has no name")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("workflow %q: definition has no steps", d.Name)
	}
	for i, s := range d.Steps {
		if !s.Role.Valid() {
			return fmt.Errorf("workflow %q: step %d has unknown role %q", d.Name, i, s.Role)
		}
		if s.Name == "" {
			return fmt.Errorf("workflow %q: step %d has no name", d.Name, i)
		}
	}
	return nil
}
