package runs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/strandlabs/strand/pkg/models"
)

// SQLiteStore persists agent runs in SQLite. Timestamps are stored as unix
// nanoseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed run store on an open db.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Create(ctx context.Context, threadID string) (*models.AgentRun, error) {
	run := &models.AgentRun{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Status:    models.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_runs (id, thread_id, status, started_at)
		 VALUES (?, ?, ?, ?)`,
		run.ID, run.ThreadID, string(run.Status), run.StartedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("create agent run: %w", err)
	}
	return run, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.AgentRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, thread_id, status, started_at, completed_at, error, responses
		 FROM agent_runs WHERE id = ?`, id)

	run, err := scanSQLiteRun(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent run: %w", err)
	}
	return run, nil
}

func (s *SQLiteStore) ListByThread(ctx context.Context, threadID string) ([]*models.AgentRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, status, started_at, completed_at, error, responses
		 FROM agent_runs WHERE thread_id = ? ORDER BY started_at DESC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list agent runs: %w", err)
	}
	return collectSQLiteRuns(rows)
}

func (s *SQLiteStore) ListRunning(ctx context.Context) ([]*models.AgentRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, status, started_at, completed_at, error, responses
		 FROM agent_runs WHERE status = ? ORDER BY started_at`,
		string(models.RunStatusRunning))
	if err != nil {
		return nil, fmt.Errorf("list running agent runs: %w", err)
	}
	return collectSQLiteRuns(rows)
}

// Finish updates the run only while it is still running; the status guard
// keeps terminal statuses absorbing without a read-modify-write cycle.
func (s *SQLiteStore) Finish(ctx context.Context, id string, status models.RunStatus, errMsg string, responses json.RawMessage) error {
	if !status.Terminal() {
		return fmt.Errorf("finish agent run: %q is not a terminal status", status)
	}

	var resp any
	if responses != nil {
		resp = string(responses)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_runs
		 SET status = ?, completed_at = ?, error = ?, responses = COALESCE(?, responses)
		 WHERE id = ? AND status = ?`,
		string(status), time.Now().UTC().UnixNano(), errMsg, resp, id, string(models.RunStatusRunning))
	if err != nil {
		return fmt.Errorf("finish agent run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish agent run: %w", err)
	}
	if n > 0 {
		return nil
	}

	// The guard matched nothing: the run is either gone or already
	// terminal.
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return ErrAlreadyTerminal
}

func scanSQLiteRun(scan func(dest ...any) error) (*models.AgentRun, error) {
	var (
		run         models.AgentRun
		status      string
		startedAt   int64
		completedAt sql.NullInt64
		responses   sql.NullString
	)
	err := scan(&run.ID, &run.ThreadID, &status, &startedAt, &completedAt, &run.Error, &responses)
	if err != nil {
		return nil, err
	}
	run.Status = models.RunStatus(status)
	run.StartedAt = time.Unix(0, startedAt).UTC()
	if completedAt.Valid {
		t := time.Unix(0, completedAt.Int64).UTC()
		run.CompletedAt = &t
	}
	if responses.Valid && responses.String != "" {
		run.Responses = json.RawMessage(responses.String)
	}
	return &run, nil
}

func collectSQLiteRuns(rows *sql.Rows) ([]*models.AgentRun, error) {
	defer rows.Close()

	runs := []*models.AgentRun{}
	for rows.Next() {
		run, err := scanSQLiteRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan agent run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agent runs: %w", err)
	}
	return runs, nil
}

var _ Store = (*SQLiteStore)(nil)
