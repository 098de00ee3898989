// Package runs owns the lifecycle of agent runs: the persistent run records,
// the per-run in-memory event logs, the controller that starts and stops runs
// across instances, and the background supervisor that drives the agent loop
// to a terminal status.
package runs

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/strandlabs/strand/pkg/models"
)

// ErrNotFound is returned when an agent run does not exist.
var ErrNotFound = errors.New("agent run not found")

// ErrAlreadyTerminal is returned by Finish when the run already reached a
// terminal status. Terminal statuses are absorbing: a stopped run is never
// promoted to completed by a supervisor that lost the race, and vice versa.
var ErrAlreadyTerminal = errors.New("agent run already terminal")

// ErrAccessDenied is returned when a caller does not own the thread behind a
// run.
var ErrAccessDenied = errors.New("access denied")

// Store persists agent run records.
type Store interface {
	// Create inserts a new run for the thread in running status.
	Create(ctx context.Context, threadID string) (*models.AgentRun, error)

	// Get returns a run by id. Returns ErrNotFound when absent.
	Get(ctx context.Context, id string) (*models.AgentRun, error)

	// ListByThread returns the runs of a thread, most recent first.
	ListByThread(ctx context.Context, threadID string) ([]*models.AgentRun, error)

	// ListRunning returns every run still in running status.
	ListRunning(ctx context.Context) ([]*models.AgentRun, error)

	// Finish moves a running run to a terminal status, recording the
	// completion time, the error text, and, when responses is non-nil, the
	// serialized event log. Returns ErrAlreadyTerminal when the run is no
	// longer running and ErrNotFound when it does not exist.
	Finish(ctx context.Context, id string, status models.RunStatus, errMsg string, responses json.RawMessage) error
}
