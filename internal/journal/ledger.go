package journal

import "sync"

// Ledger keeps the most recent events in memory.
type Ledger struct {
	mu       sync.Mutex
	capacity int
	events   []Event
}

// NewLedger creates a ledger holding at most capacity events (unbounded when capacity <= 0).
func NewLedger(capacity int) *Ledger {
	if capacity < 0 {
		capacity = 0
	}
	return &Ledger{capacity: capacity, events: make([]Event, 0, min(capacity, 1024))}
}

// Record appends an event, dropping the oldest once full.
func (l *Ledger) Record(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.capacity > 0 && len(l.events) == l.capacity {
		copy(l.events, l.events[1:])
		l.events = l.events[:len(l.events)-1]
	}
	l.events = append(l.events, e)
}

// Snapshot returns a copy of the recorded events, oldest first.
func (l *Ledger) Snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Reset clears all stored events.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.events = l.events[:0]
	l.mu.Unlock()
}
