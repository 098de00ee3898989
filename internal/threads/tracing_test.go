package threads

import (
	"context"
	"errors"
	"testing"

	"github.com/strandlabs/strand/pkg/models"
)

// The decorator must stay transparent: same results, same sentinel errors,
// and safe with a nil tracer.
func TestTracedStorePassesThrough(t *testing.T) {
	ctx := context.Background()
	store := NewTracedStore(NewMemoryStore(), nil)

	thread, err := store.CreateThread(ctx, "p1", "u1")
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}

	got, err := store.GetThread(ctx, thread.ID)
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if got.ProjectID != "p1" || got.UserID != "u1" {
		t.Fatalf("thread = %+v, want project p1 user u1", got)
	}

	if _, err := store.AppendMessage(ctx, thread.ID, models.Message{Role: models.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if _, err := store.AppendMessage(ctx, thread.ID, models.Message{Role: models.RoleAssistant, Content: "hello"}); err != nil {
		t.Fatalf("AppendMessage assistant: %v", err)
	}
	if err := store.UpdateLastAssistant(ctx, thread.ID, models.Message{Role: models.RoleAssistant, Content: "edited"}); err != nil {
		t.Fatalf("UpdateLastAssistant: %v", err)
	}

	msgs, err := store.ListMessages(ctx, thread.ID, ListFilter{})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[1].Content != "edited" {
		t.Errorf("assistant content = %q, want edited", msgs[1].Content)
	}

	if _, err := store.RepairIncompleteToolCalls(ctx, thread.ID); err != nil {
		t.Fatalf("RepairIncompleteToolCalls: %v", err)
	}
}

func TestTracedStoreKeepsSentinels(t *testing.T) {
	store := NewTracedStore(NewMemoryStore(), nil)

	_, err := store.GetThread(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
