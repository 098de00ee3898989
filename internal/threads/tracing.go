package threads

import (
	"context"

	"github.com/strandlabs/strand/internal/observability"
	"github.com/strandlabs/strand/pkg/models"
)

// tracedStore wraps a Store so every operation opens a store.query span.
type tracedStore struct {
	next   Store
	tracer *observability.Tracer
}

// NewTracedStore decorates s with query spans. A nil tracer produces
// non-recording spans.
func NewTracedStore(s Store, tracer *observability.Tracer) Store {
	return &tracedStore{next: s, tracer: tracer}
}

func (t *tracedStore) CreateThread(ctx context.Context, projectID, userID string) (*models.Thread, error) {
	ctx, span := t.tracer.StartStoreQuery(ctx, "threads", "CreateThread")
	defer span.End()
	thread, err := t.next.CreateThread(ctx, projectID, userID)
	t.tracer.RecordError(span, err)
	return thread, err
}

func (t *tracedStore) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	ctx, span := t.tracer.StartStoreQuery(ctx, "threads", "GetThread")
	defer span.End()
	thread, err := t.next.GetThread(ctx, id)
	t.tracer.RecordError(span, err)
	return thread, err
}

func (t *tracedStore) AppendMessage(ctx context.Context, threadID string, msg models.Message) (models.Message, error) {
	ctx, span := t.tracer.StartStoreQuery(ctx, "threads", "AppendMessage")
	defer span.End()
	stored, err := t.next.AppendMessage(ctx, threadID, msg)
	t.tracer.RecordError(span, err)
	return stored, err
}

func (t *tracedStore) UpdateLastAssistant(ctx context.Context, threadID string, msg models.Message) error {
	ctx, span := t.tracer.StartStoreQuery(ctx, "threads", "UpdateLastAssistant")
	defer span.End()
	err := t.next.UpdateLastAssistant(ctx, threadID, msg)
	t.tracer.RecordError(span, err)
	return err
}

func (t *tracedStore) ListMessages(ctx context.Context, threadID string, filter ListFilter) ([]models.Message, error) {
	ctx, span := t.tracer.StartStoreQuery(ctx, "threads", "ListMessages")
	defer span.End()
	msgs, err := t.next.ListMessages(ctx, threadID, filter)
	t.tracer.RecordError(span, err)
	return msgs, err
}

func (t *tracedStore) RepairIncompleteToolCalls(ctx context.Context, threadID string) (int, error) {
	ctx, span := t.tracer.StartStoreQuery(ctx, "threads", "RepairIncompleteToolCalls")
	defer span.End()
	n, err := t.next.RepairIncompleteToolCalls(ctx, threadID)
	t.tracer.RecordError(span, err)
	return n, err
}
