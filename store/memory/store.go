// Package memory provides a fully in-memory run store. Safe for
// concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/quartet-sh/quartet"
	"github.com/quartet-sh/quartet/id"
	"github.com/quartet-sh/quartet/workflow"
)

var (
	_ workflow.Store = (*Store)(nil)
	_ workflow.Sink  = (*Store)(nil)
)

// Store is an in-memory implementation of workflow.Store and
// workflow.Sink. Runs are stored as deep copies on both write and
// read, so callers can never mutate stored state through a shared
// pointer.
type Store struct {
	mu     sync.RWMutex
	runs   map[string]*workflow.Run
	events map[string][]workflow.Event
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		runs:   make(map[string]*workflow.Run),
		events: make(map[string][]workflow.Event),
	}
}

// CreateRun persists a new run document.
func (m *Store) CreateRun(_ context.Context, run *workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs[run.ID.String()] = run.Clone()
	return nil
}

// GetRun retrieves a run by ID.
func (m *Store) GetRun(_ context.Context, runID id.RunID) (*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[runID.String()]
	if !ok {
		return nil, quartet.ErrRunNotFound
	}
	return run.Clone(), nil
}

// UpdateRun overwrites the stored document for run.ID.
func (m *Store) UpdateRun(_ context.Context, run *workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs[run.ID.String()] = run.Clone()
	return nil
}

// ListRuns returns runs matching opts, newest first.
func (m *Store) ListRuns(_ context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := make([]*workflow.Run, 0, len(m.runs))
	for _, run := range m.runs {
		if opts.State != "" && run.State != opts.State {
			continue
		}
		runs = append(runs, run.Clone())
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	if opts.Limit > 0 && len(runs) > opts.Limit {
		runs = runs[:opts.Limit]
	}
	return runs, nil
}

// AppendEvent records a run log event.
func (m *Store) AppendEvent(_ context.Context, ev workflow.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ev.RunID.String()
	m.events[key] = append(m.events[key], ev)
	return nil
}

// Events returns the recorded log events for a run, in append order.
func (m *Store) Events(runID id.RunID) []workflow.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]workflow.Event(nil), m.events[runID.String()]...)
}
