package gateway

import (
	"sync"
	"sync/atomic"

	"beacon/internal/domain/entity"
)

// outQueue is the bounded per-connection buffer of presence events awaiting
// the write pump. A slow reader never blocks the dispatcher: when the queue
// is full, the newest event for a vendor replaces the older queued event for
// that same vendor, so the client still converges on the latest state.
// Offline events are never coalesced away.
type outQueue struct {
	mu       sync.Mutex
	capacity int
	events   []entity.PresenceEvent
	notify   chan struct{}
	dropped  atomic.Uint64
}

func newOutQueue(capacity int) *outQueue {
	if capacity < 1 {
		capacity = 1
	}

	return &outQueue{
		capacity: capacity,
		events:   make([]entity.PresenceEvent, 0, capacity),
		notify:   make(chan struct{}, 1),
	}
}

func (q *outQueue) push(event entity.PresenceEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) < q.capacity {
		q.events = append(q.events, event)
		q.signal()

		return
	}

	// Full: coalesce onto an older queued event for the same vendor.
	for i := len(q.events) - 1; i >= 0; i-- {
		if q.events[i].VendorID == event.VendorID && !q.events[i].Kind.Terminal() {
			q.events[i] = event
			q.signal()

			return
		}
	}

	// No coalescible slot for this vendor: evict the oldest non-terminal
	// event to make room.
	for i, queued := range q.events {
		if !queued.Kind.Terminal() {
			copy(q.events[i:], q.events[i+1:])
			q.events[len(q.events)-1] = event
			q.dropped.Add(1)
			q.signal()

			return
		}
	}

	// Everything queued is an offline event. A newer event for the same
	// vendor still supersedes its queued slot; dispatch order guarantees it
	// carries a higher sequence, so the client converges on it.
	for i := len(q.events) - 1; i >= 0; i-- {
		if q.events[i].VendorID == event.VendorID {
			q.events[i] = event
			q.signal()

			return
		}
	}

	// Terminal events for other vendors must reach the client, so the
	// incoming event is sacrificed instead.
	q.dropped.Add(1)
}

// drain removes and returns all queued events.
func (q *outQueue) drain() []entity.PresenceEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return nil
	}
	out := q.events
	q.events = make([]entity.PresenceEvent, 0, q.capacity)

	return out
}

// wait returns a channel that receives after push adds or replaces an event.
func (q *outQueue) wait() <-chan struct{} {
	return q.notify
}

func (q *outQueue) droppedCount() uint64 {
	return q.dropped.Load()
}

func (q *outQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
