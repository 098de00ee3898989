package runs

import (
	"sync"

	"github.com/strandlabs/strand/pkg/models"
)

// EventLog is the in-memory response log of one agent run. The run's
// supervisor is the only writer; any number of stream readers take
// length-then-slice snapshots concurrently. Events are never mutated after
// they are appended, so snapshots can be read without further coordination.
type EventLog struct {
	mu     sync.RWMutex
	events []*models.Event
}

// NewEventLog creates an empty log.
func NewEventLog() *EventLog {
	return &EventLog{}
}

// Append adds an event to the log.
func (l *EventLog) Append(ev *models.Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

// Len returns the number of events appended so far. The log only grows, so a
// length observed here stays valid for Slice.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Slice returns a copy of the events in [from, to). Bounds are clamped to
// the current length.
func (l *EventLog) Slice(from, to int) []*models.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if from < 0 {
		from = 0
	}
	if to > len(l.events) {
		to = len(l.events)
	}
	if from >= to {
		return nil
	}
	out := make([]*models.Event, to-from)
	copy(out, l.events[from:to])
	return out
}

// Snapshot returns a copy of every event appended so far.
func (l *EventLog) Snapshot() []*models.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*models.Event, len(l.events))
	copy(out, l.events)
	return out
}
