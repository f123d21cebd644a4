package engine

import (
	"sync"
	"time"
)

// Trace is the append-only audit log for one question's lifecycle. An
// optional emit hook forwards every event as it is recorded, which is how
// the streaming entry point observes progress without a second code path.
type Trace struct {
	mu     sync.Mutex
	events []TraceEvent
	emit   func(TraceEvent)
}

// NewTrace creates an empty trace. emit may be nil.
func NewTrace(emit func(TraceEvent)) *Trace {
	return &Trace{emit: emit}
}

// Append records one event, stamping it if unstamped.
func (t *Trace) Append(ev TraceEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	t.mu.Lock()
	t.events = append(t.events, ev)
	emit := t.emit
	t.mu.Unlock()
	if emit != nil {
		emit(ev)
	}
}

// Events returns a snapshot of all recorded events in order.
func (t *Trace) Events() []TraceEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TraceEvent, len(t.events))
	copy(out, t.events)
	return out
}
