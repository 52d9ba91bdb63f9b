package workflow

import (
	"context"
	"time"

	"github.com/quartet-sh/quartet/id"
)

// Event is one record of a run's append-only log: a structured
// counterpart to the run document, kept for post-mortem inspection.
// The persisted state is the primary error-reporting channel; the
// event log is secondary.
type Event struct {
	ID      id.EventID     `json:"id"`
	Time    time.Time      `json:"ts"`
	Level   string         `json:"level"`
	Message string         `json:"msg"`
	RunID   id.RunID       `json:"run_id"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Event levels.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// NewEvent builds a timestamped event for the given run.
func NewEvent(runID id.RunID, level, message string, meta map[string]any) Event {
	return Event{
		ID:      id.NewEventID(),
		Time:    time.Now().UTC(),
		Level:   level,
		Message: message,
		RunID:   runID,
		Meta:    meta,
	}
}

// Sink receives run log events. Append failures must not abort the
// run; the engine logs them and moves on.
type Sink interface {
	AppendEvent(ctx context.Context, ev Event) error
}

// NopSink discards all events. It is the engine default when no sink
// is configured.
type NopSink struct{}

// AppendEvent discards ev.
func (NopSink) AppendEvent(_ context.Context, _ Event) error { return nil }
