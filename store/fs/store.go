// Package fs provides the filesystem run store: one directory per run
// under a root, holding the full run document as run.json and the
// append-only run log as events.jsonl (one JSON record per line).
//
// Documents are written atomically (temp file + rename), so a reader
// never observes a half-written run.json. No cross-process locking is
// done; the design assumes a single driver per run id.
package fs

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/quartet-sh/quartet"
	"github.com/quartet-sh/quartet/id"
	"github.com/quartet-sh/quartet/workflow"
)

const (
	runFile    = "run.json"
	eventsFile = "events.jsonl"

	// listConcurrency bounds parallel run.json reads during ListRuns.
	listConcurrency = 8
)

var (
	_ workflow.Store = (*Store)(nil)
	_ workflow.Sink  = (*Store)(nil)
)

// Store persists runs under root, one directory per run id.
type Store struct {
	root string

	// mu serializes event appends; run.json writes are atomic renames
	// and need no lock within the single-driver model.
	mu sync.Mutex
}

// New creates the root directory if needed and returns a Store.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("fs: create store root %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

func (s *Store) runDir(runID id.RunID) string {
	return filepath.Join(s.root, runID.String())
}

// CreateRun persists a new run document.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	dir := s.runDir(run.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fs: create run dir %s: %w", dir, err)
	}
	return s.writeRun(ctx, dir, run)
}

// UpdateRun atomically overwrites the persisted document for run.ID.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	dir := s.runDir(run.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fs: create run dir %s: %w", dir, err)
	}
	return s.writeRun(ctx, dir, run)
}

// writeRun serializes the run (the snapshot) and renames it into
// place. MarshalIndent keeps the document diffable and greppable for
// operators inspecting runs by hand.
func (s *Store) writeRun(_ context.Context, dir string, run *workflow.Run) error {
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("fs: encode run %s: %w", run.ID, err)
	}

	tmp, err := os.CreateTemp(dir, runFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("fs: create temp file for run %s: %w", run.ID, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("fs: write run %s: %w", run.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("fs: close temp file for run %s: %w", run.ID, err)
	}

	if err := os.Rename(tmpName, filepath.Join(dir, runFile)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("fs: replace run document %s: %w", run.ID, err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(_ context.Context, runID id.RunID) (*workflow.Run, error) {
	return s.readRun(filepath.Join(s.runDir(runID), runFile))
}

func (s *Store) readRun(path string) (*workflow.Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("fs: %s: %w", path, quartet.ErrRunNotFound)
		}
		return nil, fmt.Errorf("fs: read %s: %w", path, err)
	}

	var run workflow.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("fs: decode %s: %v: %w", path, err, quartet.ErrRunCorrupt)
	}
	return &run, nil
}

// ListRuns loads every run document under the root, newest first.
// Directories whose run.json is missing or malformed are skipped so a
// single corrupt document cannot break listing. Documents load
// concurrently with a bounded errgroup.
func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("fs: read store root %s: %w", s.root, err)
	}

	var (
		mu   sync.Mutex
		runs []*workflow.Run
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(listConcurrency)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(s.root, entry.Name(), runFile)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			run, err := s.readRun(path)
			if err != nil {
				return nil // skip unreadable or corrupt documents
			}
			if opts.State != "" && run.State != opts.State {
				return nil
			}
			mu.Lock()
			runs = append(runs, run)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fs: list runs: %w", err)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if opts.Limit > 0 && len(runs) > opts.Limit {
		runs = runs[:opts.Limit]
	}
	return runs, nil
}

// AppendEvent appends one JSON line to the run's events.jsonl.
func (s *Store) AppendEvent(_ context.Context, ev workflow.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.runDir(ev.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fs: create run dir %s: %w", dir, err)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("fs: encode event for run %s: %w", ev.RunID, err)
	}

	f, err := os.OpenFile(filepath.Join(dir, eventsFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("fs: open event log for run %s: %w", ev.RunID, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("fs: append event for run %s: %w", ev.RunID, err)
	}
	return nil
}

// Events reads the run's event log in append order. A missing log
// file yields an empty slice. Malformed lines are skipped.
func (s *Store) Events(_ context.Context, runID id.RunID) ([]workflow.Event, error) {
	f, err := os.Open(filepath.Join(s.runDir(runID), eventsFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("fs: open event log for run %s: %w", runID, err)
	}
	defer f.Close()

	var events []workflow.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev workflow.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("fs: read event log for run %s: %w", runID, err)
	}
	return events, nil
}
