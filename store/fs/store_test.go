package fs_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quartet-sh/quartet"
	"github.com/quartet-sh/quartet/id"
	"github.com/quartet-sh/quartet/role"
	storefs "github.com/quartet-sh/quartet/store/fs"
	"github.com/quartet-sh/quartet/workflow"
)

func newStore(t *testing.T) *storefs.Store {
	t.Helper()
	s, err := storefs.New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func newRun(name string) *workflow.Run {
	return workflow.NewRun(workflow.Definition{
		Name: name,
		Steps: []workflow.StepSpec{
			{Role: role.Planner, Name: "plan"},
			{Role: role.Verifier, Name: "verify"},
		},
	})
}

func TestStore_RoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	run := newRun("wf")
	now := time.Now().UTC().Truncate(time.Millisecond)
	idx := 1
	run.CurrentStep = &idx
	run.Steps[0].State = workflow.StepStateCompleted
	run.Steps[0].StartedAt = &now
	run.Steps[0].CompletedAt = &now
	run.Steps[0].DurationMS = 17
	run.Steps[0].Artifacts = []string{"plan.md"}
	run.Steps[1].State = workflow.StepStateFailed
	run.Steps[1].Error = "lint failed"
	run.State = workflow.RunStateFailed
	run.Error = "lint failed"
	run.CompletedAt = &now

	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}

	if got.ID.String() != run.ID.String() {
		t.Errorf("ID = %q, want %q", got.ID, run.ID)
	}
	if got.State != workflow.RunStateFailed || got.Error != "lint failed" {
		t.Errorf("state/error = %q/%q", got.State, got.Error)
	}
	if *got.CurrentStep != 1 {
		t.Errorf("CurrentStep = %d, want 1", *got.CurrentStep)
	}
	if got.Steps[0].DurationMS != 17 || len(got.Steps[0].Artifacts) != 1 {
		t.Errorf("step 0 lost fields: %+v", got.Steps[0])
	}
	if !got.Steps[0].StartedAt.Equal(now) {
		t.Errorf("step 0 StartedAt = %v, want %v", got.Steps[0].StartedAt, now)
	}
	if got.Steps[1].Error != "lint failed" {
		t.Errorf("step 1 error = %q", got.Steps[1].Error)
	}
}

func TestStore_GetUnknownRun(t *testing.T) {
	s := newStore(t)

	_, err := s.GetRun(context.Background(), id.NewRunID())
	if !errors.Is(err, quartet.ErrRunNotFound) {
		t.Errorf("err = %v, want ErrRunNotFound", err)
	}
}

func TestStore_GetCorruptRun(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	run := newRun("wf")
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	path := filepath.Join(s.Root(), run.ID.String(), "run.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("corrupt document: %v", err)
	}

	_, err := s.GetRun(ctx, run.ID)
	if !errors.Is(err, quartet.ErrRunCorrupt) {
		t.Errorf("err = %v, want ErrRunCorrupt", err)
	}
}

func TestStore_UpdateOverwrites(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	run := newRun("wf")
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	run.State = workflow.RunStateCompleted
	now := time.Now().UTC()
	run.CompletedAt = &now
	if err := s.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.State != workflow.RunStateCompleted || got.CompletedAt == nil {
		t.Errorf("update not visible: %+v", got)
	}
}

func TestStore_ListSkipsCorruptDocuments(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	first := newRun("a")
	second := newRun("b")
	second.StartedAt = first.StartedAt.Add(time.Millisecond)
	for _, r := range []*workflow.Run{first, second} {
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}

	// Corrupt one document and drop a stray non-run directory.
	path := filepath.Join(s.Root(), first.ID.String(), "run.json")
	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatalf("corrupt document: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(s.Root(), "not-a-run"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	runs, err := s.ListRuns(ctx, workflow.ListOpts{})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("len = %d, want 1 (corrupt and stray skipped)", len(runs))
	}
	if runs[0].Workflow != "b" {
		t.Errorf("surviving run = %q, want b", runs[0].Workflow)
	}
}

func TestStore_ListOrdersNewestFirst(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	names := []string{"first", "second", "third"}
	for i, name := range names {
		r := newRun(name)
		r.StartedAt = base.Add(time.Duration(i) * time.Second)
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}

	runs, err := s.ListRuns(ctx, workflow.ListOpts{})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("len = %d, want 3", len(runs))
	}
	for i, want := range []string{"third", "second", "first"} {
		if runs[i].Workflow != want {
			t.Errorf("runs[%d] = %q, want %q", i, runs[i].Workflow, want)
		}
	}

	limited, err := s.ListRuns(ctx, workflow.ListOpts{Limit: 2})
	if err != nil {
		t.Fatalf("ListRuns(limit): %v", err)
	}
	if len(limited) != 2 || limited[0].Workflow != "third" {
		t.Errorf("limited = %v", limited)
	}
}

func TestStore_EventLogAppendsJSONL(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	run := newRun("wf")

	msgs := []string{"workflow started", "step started", "step completed"}
	for _, msg := range msgs {
		ev := workflow.NewEvent(run.ID, workflow.LevelInfo, msg, map[string]any{"step": "plan"})
		if err := s.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	events, err := s.Events(ctx, run.ID)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len = %d, want 3", len(events))
	}
	for i, msg := range msgs {
		if events[i].Message != msg {
			t.Errorf("events[%d] = %q, want %q", i, events[i].Message, msg)
		}
		if events[i].RunID.String() != run.ID.String() {
			t.Errorf("events[%d] run_id = %q", i, events[i].RunID)
		}
	}
}

func TestStore_EventsForUnknownRunIsEmpty(t *testing.T) {
	s := newStore(t)

	events, err := s.Events(context.Background(), id.NewRunID())
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("len = %d, want 0", len(events))
	}
}
