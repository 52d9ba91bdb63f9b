// Package sqlite provides a SQLite-backed run store using the pure-Go
// modernc.org/sqlite driver. The full run document is stored as JSON
// in a single column, with the fields needed for listing and filtering
// broken out alongside it. Run log events land in their own table.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/quartet-sh/quartet"
	"github.com/quartet-sh/quartet/id"
	"github.com/quartet-sh/quartet/workflow"
)

var (
	_ workflow.Store = (*Store)(nil)
	_ workflow.Sink  = (*Store)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	workflow   TEXT NOT NULL,
	state      TEXT NOT NULL,
	started_at TEXT NOT NULL,
	document   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	seq    INTEGER PRIMARY KEY AUTOINCREMENT,
	id     TEXT NOT NULL,
	run_id TEXT NOT NULL,
	ts     TEXT NOT NULL,
	level  TEXT NOT NULL,
	msg    TEXT NOT NULL,
	meta   TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_events_run_id ON events(run_id);
`

// timeLayout is a fixed-width RFC 3339 layout. RFC3339Nano trims
// trailing zeros, which breaks byte-wise ORDER BY on the column;
// padding the fraction keeps lexicographic order equal to time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a SQLite implementation of workflow.Store and workflow.Sink.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at path and runs the
// schema migration.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate %s: %w", path, err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun persists a new run document.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	return s.upsert(ctx, run)
}

// UpdateRun overwrites the persisted document for run.ID.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	return s.upsert(ctx, run)
}

// upsert serializes the run (the snapshot) and replaces any prior row.
func (s *Store) upsert(ctx context.Context, run *workflow.Run) error {
	doc, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("sqlite: encode run %s: %w", run.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, workflow, state, started_at, document)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workflow = excluded.workflow,
			state = excluded.state,
			started_at = excluded.started_at,
			document = excluded.document`,
		run.ID, run.Workflow, string(run.State), run.StartedAt.UTC().Format(timeLayout), string(doc),
	)
	if err != nil {
		return fmt.Errorf("sqlite: persist run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM runs WHERE id = ?`, runID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: run %s: %w", runID, quartet.ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: query run %s: %w", runID, err)
	}

	var run workflow.Run
	if err := json.Unmarshal([]byte(doc), &run); err != nil {
		return nil, fmt.Errorf("sqlite: decode run %s: %v: %w", runID, err, quartet.ErrRunCorrupt)
	}
	return &run, nil
}

// ListRuns returns runs matching opts, newest first. Rows whose
// document no longer decodes are skipped.
func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	query := `SELECT document FROM runs`
	args := []any{}
	if opts.State != "" {
		query += ` WHERE state = ?`
		args = append(args, string(opts.State))
	}
	query += ` ORDER BY started_at DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list runs: %w", err)
	}
	defer rows.Close()

	var runs []*workflow.Run
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("sqlite: scan run row: %w", err)
		}
		var run workflow.Run
		if err := json.Unmarshal([]byte(doc), &run); err != nil {
			continue
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate runs: %w", err)
	}
	return runs, nil
}

// AppendEvent records a run log event.
func (s *Store) AppendEvent(ctx context.Context, ev workflow.Event) error {
	var meta any
	if ev.Meta != nil {
		data, err := json.Marshal(ev.Meta)
		if err != nil {
			return fmt.Errorf("sqlite: encode event meta for run %s: %w", ev.RunID, err)
		}
		meta = string(data)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, run_id, ts, level, msg, meta)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.RunID, ev.Time.UTC().Format(timeLayout), ev.Level, ev.Message, meta,
	)
	if err != nil {
		return fmt.Errorf("sqlite: append event for run %s: %w", ev.RunID, err)
	}
	return nil
}

// Events reads the run's event log in append order.
func (s *Store) Events(ctx context.Context, runID id.RunID) ([]workflow.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, ts, level, msg, meta
		FROM events WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query events for run %s: %w", runID, err)
	}
	defer rows.Close()

	var events []workflow.Event
	for rows.Next() {
		var (
			ev   workflow.Event
			ts   string
			meta sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.RunID, &ts, &ev.Level, &ev.Message, &meta); err != nil {
			return nil, fmt.Errorf("sqlite: scan event row: %w", err)
		}
		if t, err := time.Parse(timeLayout, ts); err == nil {
			ev.Time = t
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &ev.Meta); err != nil {
				ev.Meta = nil
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate events: %w", err)
	}
	return events, nil
}
