package runs

import (
	"context"
	"encoding/json"

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

func (t *tracedStore) Create(ctx context.Context, threadID string) (*models.AgentRun, error) {
	ctx, span := t.tracer.StartStoreQuery(ctx, "runs", "Create")
	defer span.End()
	run, err := t.next.Create(ctx, threadID)
	t.tracer.RecordError(span, err)
	return run, err
}

func (t *tracedStore) Get(ctx context.Context, id string) (*models.AgentRun, error) {
	ctx, span := t.tracer.StartStoreQuery(ctx, "runs", "Get")
	defer span.End()
	run, err := t.next.Get(ctx, id)
	t.tracer.RecordError(span, err)
	return run, err
}

func (t *tracedStore) ListByThread(ctx context.Context, threadID string) ([]*models.AgentRun, error) {
	ctx, span := t.tracer.StartStoreQuery(ctx, "runs", "ListByThread")
	defer span.End()
	list, err := t.next.ListByThread(ctx, threadID)
	t.tracer.RecordError(span, err)
	return list, err
}

func (t *tracedStore) ListRunning(ctx context.Context) ([]*models.AgentRun, error) {
	ctx, span := t.tracer.StartStoreQuery(ctx, "runs", "ListRunning")
	defer span.End()
	list, err := t.next.ListRunning(ctx)
	t.tracer.RecordError(span, err)
	return list, err
}

func (t *tracedStore) Finish(ctx context.Context, id string, status models.RunStatus, errMsg string, responses json.RawMessage) error {
	ctx, span := t.tracer.StartStoreQuery(ctx, "runs", "Finish")
	defer span.End()
	err := t.next.Finish(ctx, id, status, errMsg, responses)
	t.tracer.RecordError(span, err)
	return err
}
