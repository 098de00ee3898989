package bus

import (
	"context"
	"errors"
	"testing"
	"time"
)

func recvMessage(t *testing.T, sub Subscription) Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		if !ok {
			t.Fatal("subscription channel closed before message arrived")
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Message{}
}

func TestMemoryBusPubSub(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "alpha", "beta")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	if err := b.Publish(ctx, "alpha", SignalStop); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	msg := recvMessage(t, sub)
	if msg.Channel != "alpha" {
		t.Errorf("expected channel alpha, got %s", msg.Channel)
	}
	if msg.Payload != SignalStop {
		t.Errorf("expected payload %s, got %s", SignalStop, msg.Payload)
	}

	if err := b.Publish(ctx, "beta", SignalEndStream); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	msg = recvMessage(t, sub)
	if msg.Channel != "beta" || msg.Payload != SignalEndStream {
		t.Errorf("unexpected message %+v", msg)
	}
}

func TestMemoryBusIgnoresOtherChannels(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "alpha")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	if err := b.Publish(ctx, "gamma", "x"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	select {
	case msg := <-sub.Messages():
		t.Errorf("expected no delivery, got %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusMultipleSubscribers(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	first, err := b.Subscribe(ctx, "control")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer first.Close()
	second, err := b.Subscribe(ctx, "control")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer second.Close()

	if err := b.Publish(ctx, "control", SignalStop); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if msg := recvMessage(t, first); msg.Payload != SignalStop {
		t.Errorf("first subscriber got %q", msg.Payload)
	}
	if msg := recvMessage(t, second); msg.Payload != SignalStop {
		t.Errorf("second subscriber got %q", msg.Payload)
	}
}

func TestMemoryBusCloseStopsDelivery(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "control")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Closing again must be safe.
	if err := sub.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	if err := b.Publish(ctx, "control", "x"); err != nil {
		t.Fatalf("Publish after close failed: %v", err)
	}
	if _, ok := <-sub.Messages(); ok {
		t.Error("expected closed message channel")
	}

	if err := b.Close(); err != nil {
		t.Fatalf("bus Close failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second bus Close failed: %v", err)
	}
}

func TestMemoryBusCloseClosesSubscriptions(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "control")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, ok := <-sub.Messages(); ok {
		t.Error("expected message channel closed by bus Close")
	}
	// Subscription Close after bus Close must not panic.
	if err := sub.Close(); err != nil {
		t.Fatalf("subscription Close failed: %v", err)
	}
}

func TestMemoryKeysLifecycle(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	if _, err := b.GetKey(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := b.RefreshKey(ctx, "missing", time.Minute); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on refresh, got %v", err)
	}

	if err := b.SetKey(ctx, "k", "v", 0); err != nil {
		t.Fatalf("SetKey failed: %v", err)
	}
	got, err := b.GetKey(ctx, "k")
	if err != nil {
		t.Fatalf("GetKey failed: %v", err)
	}
	if got != "v" {
		t.Errorf("expected v, got %q", got)
	}

	if err := b.RefreshKey(ctx, "k", time.Minute); err != nil {
		t.Fatalf("RefreshKey failed: %v", err)
	}
	if err := b.DeleteKey(ctx, "k"); err != nil {
		t.Fatalf("DeleteKey failed: %v", err)
	}
	if _, err := b.GetKey(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	// Deleting a missing key is not an error.
	if err := b.DeleteKey(ctx, "k"); err != nil {
		t.Errorf("DeleteKey on missing key failed: %v", err)
	}
}

func TestMemoryKeyExpiry(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	if err := b.SetKey(ctx, "ephemeral", "v", 10*time.Millisecond); err != nil {
		t.Fatalf("SetKey failed: %v", err)
	}
	if _, err := b.GetKey(ctx, "ephemeral"); err != nil {
		t.Fatalf("GetKey before expiry failed: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	if _, err := b.GetKey(ctx, "ephemeral"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestMemoryRefreshExtendsExpiry(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	if err := b.SetKey(ctx, "k", "v", 30*time.Millisecond); err != nil {
		t.Fatalf("SetKey failed: %v", err)
	}
	if err := b.RefreshKey(ctx, "k", time.Minute); err != nil {
		t.Fatalf("RefreshKey failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := b.GetKey(ctx, "k"); err != nil {
		t.Errorf("expected key to survive after refresh, got %v", err)
	}
}

func TestMemoryScanKeys(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	if err := b.SetKey(ctx, PresenceKey("inst-a", "run1"), "1", 0); err != nil {
		t.Fatalf("SetKey failed: %v", err)
	}
	if err := b.SetKey(ctx, PresenceKey("inst-b", "run1"), "1", 0); err != nil {
		t.Fatalf("SetKey failed: %v", err)
	}
	if err := b.SetKey(ctx, PresenceKey("inst-a", "run2"), "1", 0); err != nil {
		t.Fatalf("SetKey failed: %v", err)
	}

	keys, err := b.ScanKeys(ctx, PresencePattern("run1"))
	if err != nil {
		t.Fatalf("ScanKeys failed: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d: %v", len(keys), keys)
	}
	instances := make(map[string]bool)
	for _, key := range keys {
		instances[InstanceFromPresenceKey(key)] = true
	}
	if !instances["inst-a"] || !instances["inst-b"] {
		t.Errorf("expected instances inst-a and inst-b, got %v", instances)
	}
}

func TestChannelBuilders(t *testing.T) {
	if got := RunControlChannel("r1"); got != "agent_run:r1:control" {
		t.Errorf("RunControlChannel = %q", got)
	}
	if got := RunInstanceControlChannel("r1", "i1"); got != "agent_run:r1:control:i1" {
		t.Errorf("RunInstanceControlChannel = %q", got)
	}
	if got := PresenceKey("i1", "r1"); got != "active_run:i1:r1" {
		t.Errorf("PresenceKey = %q", got)
	}
	if got := PresencePattern("r1"); got != "active_run:*:r1" {
		t.Errorf("PresencePattern = %q", got)
	}
	if got := InstanceFromPresenceKey("active_run:i1:r1"); got != "i1" {
		t.Errorf("InstanceFromPresenceKey = %q", got)
	}
	if got := InstanceFromPresenceKey("garbage"); got != "" {
		t.Errorf("InstanceFromPresenceKey on garbage = %q", got)
	}
}
