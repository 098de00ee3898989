package runs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strandlabs/strand/pkg/models"
)

// MemoryStore is an in-memory run store for tests and single-node use.
type MemoryStore struct {
	mu    sync.RWMutex
	runs  map[string]*models.AgentRun
	order []string
}

// NewMemoryStore creates an empty in-memory run store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*models.AgentRun)}
}

// Create inserts a new run for the thread in running status.
func (s *MemoryStore) Create(ctx context.Context, threadID string) (*models.AgentRun, error) {
	run := &models.AgentRun{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Status:    models.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.runs[run.ID] = run
	s.order = append(s.order, run.ID)
	s.mu.Unlock()

	return cloneRun(run), nil
}

// Get returns a run by id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.AgentRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRun(run), nil
}

// ListByThread returns the runs of a thread, most recent first.
func (s *MemoryStore) ListByThread(ctx context.Context, threadID string) ([]*models.AgentRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*models.AgentRun{}
	for i := len(s.order) - 1; i >= 0; i-- {
		run := s.runs[s.order[i]]
		if run.ThreadID == threadID {
			out = append(out, cloneRun(run))
		}
	}
	return out, nil
}

// ListRunning returns every run still in running status.
func (s *MemoryStore) ListRunning(ctx context.Context) ([]*models.AgentRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.AgentRun
	for _, id := range s.order {
		run := s.runs[id]
		if run.Status == models.RunStatusRunning {
			out = append(out, cloneRun(run))
		}
	}
	return out, nil
}

// Finish moves a running run to a terminal status.
func (s *MemoryStore) Finish(ctx context.Context, id string, status models.RunStatus, errMsg string, responses json.RawMessage) error {
	if !status.Terminal() {
		return fmt.Errorf("finish agent run: %q is not a terminal status", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ErrNotFound
	}
	if run.Status != models.RunStatusRunning {
		return ErrAlreadyTerminal
	}

	now := time.Now().UTC()
	run.Status = status
	run.CompletedAt = &now
	run.Error = errMsg
	if responses != nil {
		run.Responses = append(json.RawMessage(nil), responses...)
	}
	return nil
}

func cloneRun(run *models.AgentRun) *models.AgentRun {
	out := *run
	if run.CompletedAt != nil {
		t := *run.CompletedAt
		out.CompletedAt = &t
	}
	if run.Responses != nil {
		out.Responses = append(json.RawMessage(nil), run.Responses...)
	}
	return &out
}

var _ Store = (*MemoryStore)(nil)
