package bus

import (
	"context"
	"path"
	"sync"
	"time"
)

// MemoryBus is an in-process Bus for tests and single-node deployments.
// Deliveries are buffered per subscription; a subscriber that stops draining
// loses messages rather than blocking publishers.
type MemoryBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*memorySubscription
	keys   map[string]memoryKey
	closed bool
}

type memoryKey struct {
	value   string
	expires time.Time // zero means no expiry
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs: make(map[int]*memorySubscription),
		keys: make(map[string]memoryKey),
	}
}

func (b *MemoryBus) Publish(ctx context.Context, channel, payload string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if !sub.channels[channel] {
			continue
		}
		select {
		case sub.msgs <- Message{Channel: channel, Payload: payload}:
		default:
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	set := make(map[string]bool, len(channels))
	for _, ch := range channels {
		set[ch] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	sub := &memorySubscription{
		bus:      b,
		id:       id,
		channels: set,
		msgs:     make(chan Message, 16),
	}
	b.subs[id] = sub
	return sub, nil
}

func (b *MemoryBus) SetKey(ctx context.Context, key, value string, ttl time.Duration) error {
	entry := memoryKey{value: value}
	if ttl > 0 {
		entry.expires = time.Now().Add(ttl)
	}
	b.mu.Lock()
	b.keys[key] = entry
	b.mu.Unlock()
	return nil
}

func (b *MemoryBus) GetKey(ctx context.Context, key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.liveKey(key)
	if !ok {
		return "", ErrNotFound
	}
	return entry.value, nil
}

func (b *MemoryBus) RefreshKey(ctx context.Context, key string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.liveKey(key)
	if !ok {
		return ErrNotFound
	}
	if ttl > 0 {
		entry.expires = time.Now().Add(ttl)
	} else {
		entry.expires = time.Time{}
	}
	b.keys[key] = entry
	return nil
}

func (b *MemoryBus) DeleteKey(ctx context.Context, key string) error {
	b.mu.Lock()
	delete(b.keys, key)
	b.mu.Unlock()
	return nil
}

func (b *MemoryBus) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for key := range b.keys {
		if _, ok := b.liveKey(key); !ok {
			continue
		}
		matched, err := path.Match(pattern, key)
		if err != nil {
			return nil, err
		}
		if matched {
			out = append(out, key)
		}
	}
	return out, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.msgs)
		delete(b.subs, id)
	}
	return nil
}

// liveKey returns the entry if present and unexpired, reaping it otherwise.
// Callers hold b.mu.
func (b *MemoryBus) liveKey(key string) (memoryKey, bool) {
	entry, ok := b.keys[key]
	if !ok {
		return memoryKey{}, false
	}
	if !entry.expires.IsZero() && time.Now().After(entry.expires) {
		delete(b.keys, key)
		return memoryKey{}, false
	}
	return entry, true
}

type memorySubscription struct {
	bus      *MemoryBus
	id       int
	channels map[string]bool
	msgs     chan Message
	once     sync.Once
}

func (s *memorySubscription) Messages() <-chan Message {
	return s.msgs
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		if _, ok := s.bus.subs[s.id]; ok {
			delete(s.bus.subs, s.id)
			close(s.msgs)
		}
		s.bus.mu.Unlock()
	})
	return nil
}

var _ Bus = (*MemoryBus)(nil)
