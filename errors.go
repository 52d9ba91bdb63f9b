package quartet

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("quartet: no store configured")
	ErrRunNotFound = errors.New("quartet: run not found")
	ErrRunCorrupt  = errors.New("quartet: run document corrupt")

	// Lifecycle errors.
	ErrInvalidStepIndex   = errors.New("quartet: step index out of range")
	ErrNothingToResume    = errors.New("quartet: no pending or failed step to resume")
	ErrMaxRetriesExceeded = errors.New("quartet: max retries exceeded")

	// Dispatch errors.
	ErrUnknownRole = errors.New("quartet: no dispatcher bound for role")
)
