// Package events fans pipeline state transitions and progress updates out to
// observers. Delivery is at-least-once: a subscriber that reconnects from an
// older sequence may see events again and deduplicates by (job_id, seq).
package events

import (
	"context"
	"sync"
	"time"
)

// Event is one observable pipeline occurrence.
type Event struct {
	Seq       uint64    `json:"seq"`
	JobID     int64     `json:"job_id"`
	Status    string    `json:"status"`
	Stage     string    `json:"stage,omitempty"`
	Progress  float64   `json:"progress,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub stores recent events in a bounded ring and wakes waiters when new
// events arrive. The pipeline never blocks on slow observers.
type Hub struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	buffer   []Event
	nextSeq  uint64
}

const defaultCapacity = 1024

// NewHub constructs a bounded in-memory event buffer.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	h := &Hub{capacity: capacity}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Publish appends an event to the hub, assigning its sequence number.
func (h *Hub) Publish(evt Event) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.nextSeq++
	evt.Seq = h.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if len(h.buffer) == h.capacity {
		copy(h.buffer, h.buffer[1:])
		h.buffer = h.buffer[:h.capacity-1]
	}
	h.buffer = append(h.buffer, evt)
	h.cond.Broadcast()
	h.mu.Unlock()
}

// Fetch returns events with sequence greater than since, optionally only for
// one job (jobID 0 matches all). When wait is true and nothing is available,
// Fetch blocks until an event arrives or ctx ends.
func (h *Hub) Fetch(ctx context.Context, since uint64, jobID int64, limit int, wait bool) ([]Event, uint64, error) {
	if h == nil {
		return nil, since, nil
	}
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}

	cancelWait := make(chan struct{})
	if wait && ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				// The lock orders this broadcast after any waiter that checked
				// ctx.Err() but has not yet parked in Wait; without it the
				// wakeup can land in that window and be lost.
				h.mu.Lock()
				h.cond.Broadcast()
				h.mu.Unlock()
			case <-cancelWait:
			}
		}()
	}
	defer close(cancelWait)

	h.mu.Lock()
	defer h.mu.Unlock()

	for {
		events, next := h.snapshotLocked(since, jobID, limit)
		if len(events) > 0 || !wait {
			return events, next, nil
		}
		if ctx != nil && ctx.Err() != nil {
			return nil, since, ctx.Err()
		}
		h.cond.Wait()
	}
}

// Subscribe streams events for one job (or all when jobID is 0) onto the
// returned channel until ctx ends. The channel is closed on return.
func (h *Hub) Subscribe(ctx context.Context, jobID int64) <-chan Event {
	out := make(chan Event, 64)
	go func() {
		defer close(out)
		var since uint64
		for {
			events, next, err := h.Fetch(ctx, since, jobID, 0, true)
			if err != nil {
				return
			}
			since = next
			for _, evt := range events {
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (h *Hub) snapshotLocked(since uint64, jobID int64, limit int) ([]Event, uint64) {
	next := since
	var events []Event
	for _, evt := range h.buffer {
		if evt.Seq <= since {
			continue
		}
		if jobID != 0 && evt.JobID != jobID {
			// Filtered events advance the cursor so pollers make progress.
			next = evt.Seq
			continue
		}
		events = append(events, evt)
		next = evt.Seq
		if len(events) == limit {
			break
		}
	}
	return events, next
}
