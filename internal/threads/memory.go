package threads

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strandlabs/strand/pkg/models"
)

// MemoryStore provides an in-memory Store.
type MemoryStore struct {
	mu       sync.RWMutex
	threads  map[string]*models.Thread
	messages map[string][]models.Message
}

// NewMemoryStore creates an in-memory thread store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads:  make(map[string]*models.Thread),
		messages: make(map[string][]models.Message),
	}
}

func (s *MemoryStore) CreateThread(ctx context.Context, projectID, userID string) (*models.Thread, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, fmt.Errorf("project id is required")
	}
	now := time.Now().UTC()
	thread := &models.Thread{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.threads[thread.ID] = thread
	s.messages[thread.ID] = nil
	s.mu.Unlock()

	copied := *thread
	return &copied, nil
}

func (s *MemoryStore) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	thread, ok := s.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *thread
	return &copied, nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, threadID string, msg models.Message) (models.Message, error) {
	if msg.Role == "" {
		return models.Message{}, fmt.Errorf("message role is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	thread, ok := s.threads[threadID]
	if !ok {
		return models.Message{}, ErrNotFound
	}
	if msg.Role == models.RoleUser {
		s.repairLocked(threadID)
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.ThreadID = threadID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.messages[threadID] = append(s.messages[threadID], msg)
	thread.UpdatedAt = time.Now().UTC()
	return msg, nil
}

func (s *MemoryStore) UpdateLastAssistant(ctx context.Context, threadID string, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[threadID]; !ok {
		return ErrNotFound
	}
	list := s.messages[threadID]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Role != models.RoleAssistant {
			continue
		}
		list[i].Content = msg.Content
		list[i].Parts = msg.Parts
		list[i].ToolCalls = msg.ToolCalls
		s.threads[threadID].UpdatedAt = time.Now().UTC()
		return nil
	}
	return ErrNoAssistantMessage
}

func (s *MemoryStore) ListMessages(ctx context.Context, threadID string, filter ListFilter) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.threads[threadID]; !ok {
		return nil, ErrNotFound
	}
	list := s.messages[threadID]
	out := make([]models.Message, len(list))
	copy(out, list)
	return applyFilter(out, filter), nil
}

func (s *MemoryStore) RepairIncompleteToolCalls(ctx context.Context, threadID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[threadID]; !ok {
		return 0, ErrNotFound
	}
	return s.repairLocked(threadID), nil
}

// repairLocked inserts interrupted-execution placeholders right after the
// last tool-calling assistant message. Callers hold s.mu.
func (s *MemoryStore) repairLocked(threadID string) int {
	list := s.messages[threadID]
	anchor, placeholders := missingToolResults(list)
	if len(placeholders) == 0 {
		return 0
	}
	now := time.Now().UTC()
	for i := range placeholders {
		placeholders[i].ID = uuid.NewString()
		placeholders[i].ThreadID = threadID
		placeholders[i].CreatedAt = now
	}

	repaired := make([]models.Message, 0, len(list)+len(placeholders))
	repaired = append(repaired, list[:anchor+1]...)
	repaired = append(repaired, placeholders...)
	repaired = append(repaired, list[anchor+1:]...)
	s.messages[threadID] = repaired
	return len(placeholders)
}

var _ Store = (*MemoryStore)(nil)
