package runs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"github.com/strandlabs/strand/internal/store"
	"github.com/strandlabs/strand/pkg/models"
)

func newSQLiteRunStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)

	migrator, err := store.NewMigrator(db, store.DriverSQLite)
	if err != nil {
		t.Fatalf("NewMigrator() error = %v", err)
	}
	if _, err := migrator.Up(context.Background(), 0); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewSQLiteStore(db)
}

func TestSQLiteRunsCreateAndGet(t *testing.T) {
	s := newSQLiteRunStore(t)
	ctx := context.Background()

	run, err := s.Create(ctx, "t1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if run.ID == "" || run.Status != models.RunStatusRunning {
		t.Fatalf("Create() = %+v", run)
	}

	got, err := s.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ThreadID != "t1" || got.Status != models.RunStatusRunning {
		t.Fatalf("Get() = %+v", got)
	}
	if got.StartedAt.IsZero() || got.CompletedAt != nil || got.Error != "" || got.Responses != nil {
		t.Fatalf("fresh run carries terminal fields: %+v", got)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteRunsListByThread(t *testing.T) {
	s := newSQLiteRunStore(t)
	ctx := context.Background()

	a, _ := s.Create(ctx, "t1")
	b, _ := s.Create(ctx, "t1")
	if _, err := s.Create(ctx, "t2"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	runs, err := s.ListByThread(ctx, "t1")
	if err != nil {
		t.Fatalf("ListByThread() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ListByThread() returned %d runs, want 2", len(runs))
	}
	seen := map[string]bool{}
	for _, r := range runs {
		seen[r.ID] = true
	}
	if !seen[a.ID] || !seen[b.ID] {
		t.Fatalf("ListByThread() missing runs: %v", seen)
	}

	empty, err := s.ListByThread(ctx, "t9")
	if err != nil || len(empty) != 0 {
		t.Fatalf("ListByThread(t9) = %v, %v", empty, err)
	}
}

func TestSQLiteRunsListRunning(t *testing.T) {
	s := newSQLiteRunStore(t)
	ctx := context.Background()

	running, _ := s.Create(ctx, "t1")
	finished, _ := s.Create(ctx, "t2")
	if err := s.Finish(ctx, finished.ID, models.RunStatusCompleted, "", nil); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	runs, err := s.ListRunning(ctx)
	if err != nil {
		t.Fatalf("ListRunning() error = %v", err)
	}
	if len(runs) != 1 || runs[0].ID != running.ID {
		t.Fatalf("ListRunning() = %+v", runs)
	}
}

func TestSQLiteRunsFinishLifecycle(t *testing.T) {
	s := newSQLiteRunStore(t)
	ctx := context.Background()

	run, _ := s.Create(ctx, "t1")
	responses := json.RawMessage(`[{"type":"content","content":"hi"}]`)
	if err := s.Finish(ctx, run.ID, models.RunStatusCompleted, "", responses); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	got, err := s.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != models.RunStatusCompleted || got.CompletedAt == nil {
		t.Fatalf("finished run = %+v", got)
	}
	if string(got.Responses) != string(responses) {
		t.Fatalf("responses = %s", got.Responses)
	}

	if err := s.Finish(ctx, run.ID, models.RunStatusStopped, "", nil); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("second Finish() error = %v, want ErrAlreadyTerminal", err)
	}
	if err := s.Finish(ctx, "missing", models.RunStatusCompleted, "", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Finish(missing) error = %v, want ErrNotFound", err)
	}
	other, _ := s.Create(ctx, "t1")
	if err := s.Finish(ctx, other.ID, models.RunStatusRunning, "", nil); err == nil || !strings.Contains(err.Error(), "terminal") {
		t.Fatalf("Finish(running) error = %v", err)
	}
}

func TestSQLiteRunsFinishFailed(t *testing.T) {
	s := newSQLiteRunStore(t)
	ctx := context.Background()

	run, _ := s.Create(ctx, "t1")
	if err := s.Finish(ctx, run.ID, models.RunStatusFailed, "provider unavailable", nil); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	got, _ := s.Get(ctx, run.ID)
	if got.Status != models.RunStatusFailed || got.Error != "provider unavailable" {
		t.Fatalf("failed run = %+v", got)
	}
	if got.Responses != nil {
		t.Fatalf("failed run has responses: %s", got.Responses)
	}
}
