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

// PostgresStore persists agent runs in Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed run store on an open db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, threadID string) (*models.AgentRun, error) {
	run := &models.AgentRun{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Status:    models.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_runs (id, thread_id, status, started_at)
		 VALUES ($1,$2,$3,$4)`,
		run.ID, run.ThreadID, string(run.Status), run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("create agent run: %w", err)
	}
	return run, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.AgentRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, thread_id, status, started_at, completed_at, error, responses
		 FROM agent_runs WHERE id = $1`, id)

	run, err := scanPostgresRun(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent run: %w", err)
	}
	return run, nil
}

func (s *PostgresStore) ListByThread(ctx context.Context, threadID string) ([]*models.AgentRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, status, started_at, completed_at, error, responses
		 FROM agent_runs WHERE thread_id = $1 ORDER BY started_at DESC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list agent runs: %w", err)
	}
	return collectPostgresRuns(rows)
}

func (s *PostgresStore) ListRunning(ctx context.Context) ([]*models.AgentRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, status, started_at, completed_at, error, responses
		 FROM agent_runs WHERE status = $1 ORDER BY started_at`,
		string(models.RunStatusRunning))
	if err != nil {
		return nil, fmt.Errorf("list running agent runs: %w", err)
	}
	return collectPostgresRuns(rows)
}

// Finish updates the run only while it is still running; the status guard
// keeps terminal statuses absorbing without a read-modify-write cycle.
func (s *PostgresStore) Finish(ctx context.Context, id string, status models.RunStatus, errMsg string, responses json.RawMessage) error {
	if !status.Terminal() {
		return fmt.Errorf("finish agent run: %q is not a terminal status", status)
	}

	var resp any
	if responses != nil {
		resp = []byte(responses)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_runs
		 SET status = $1, completed_at = $2, error = $3, responses = COALESCE($4, responses)
		 WHERE id = $5 AND status = $6`,
		string(status), time.Now().UTC(), errMsg, resp, id, string(models.RunStatusRunning))
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

func scanPostgresRun(scan func(dest ...any) error) (*models.AgentRun, error) {
	var (
		run         models.AgentRun
		status      string
		completedAt sql.NullTime
		responses   []byte
	)
	err := scan(&run.ID, &run.ThreadID, &status, &run.StartedAt, &completedAt, &run.Error, &responses)
	if err != nil {
		return nil, err
	}
	run.Status = models.RunStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	if len(responses) > 0 {
		run.Responses = json.RawMessage(responses)
	}
	return &run, nil
}

func collectPostgresRuns(rows *sql.Rows) ([]*models.AgentRun, error) {
	defer rows.Close()

	runs := []*models.AgentRun{}
	for rows.Next() {
		run, err := scanPostgresRun(rows.Scan)
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

var _ Store = (*PostgresStore)(nil)
