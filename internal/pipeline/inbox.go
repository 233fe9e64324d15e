package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/metrics"
	"github.com/Quantam-imo/quantum-market-observer--sub001/internal/signal"
)

// DefaultInboxSize bounds the ticks waiting for the ingest loop.
const DefaultInboxSize = 256

// Inbox is the source boundary. Offer never blocks; when the queue is full the oldest
// queued tick is discarded and counted.
type Inbox struct {
	mu      sync.Mutex
	ch      chan signal.Tick
	closed  bool
	dropped atomic.Uint64
}

// NewInbox creates an inbox holding at most size ticks.
func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = DefaultInboxSize
	}
	return &Inbox{ch: make(chan signal.Tick, size)}
}

// Offer queues t, evicting the oldest queued tick when full. It reports false if the inbox is closed.
func (i *Inbox) Offer(t signal.Tick) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return false
	}
	for {
		select {
		case i.ch <- t:
			return true
		default:
		}
		select {
		case <-i.ch:
			i.dropped.Add(1)
			metrics.TicksDropped.Inc()
		default:
		}
	}
}

// C is the consuming end; it is closed by Close.
func (i *Inbox) C() <-chan signal.Tick { return i.ch }

// Dropped is the number of ticks evicted so far.
func (i *Inbox) Dropped() uint64 { return i.dropped.Load() }

// Len is the number of queued ticks.
func (i *Inbox) Len() int { return len(i.ch) }

// Close stops accepting ticks; queued ticks remain readable.
func (i *Inbox) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.closed {
		i.closed = true
		close(i.ch)
	}
}

// Pump forwards ticks from src into the inbox until src closes or ctx is done, then closes the inbox.
func (i *Inbox) Pump(ctx context.Context, src <-chan signal.Tick) {
	defer i.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-src:
			if !ok {
				return
			}
			i.Offer(t)
		}
	}
}
