// Package gate provides per-stage admission control: a fixed number of
// permits with a wait queue ordered by priority, then arrival.
package gate

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
)

// Gate bounds concurrent stage executions. Among waiters the highest
// priority is granted first; ties go to the earliest arrival, so low
// priority work is never starved once high priority submissions stop.
type Gate struct {
	mu       sync.Mutex
	capacity int
	inUse    int
	seq      uint64
	waiters  waiterHeap
}

// New constructs a gate with the given capacity.
func New(capacity int) (*Gate, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("gate capacity must be at least 1, got %d", capacity)
	}
	return &Gate{capacity: capacity}, nil
}

// Permit is the capacity token held for the duration of one stage
// execution. Release is idempotent.
type Permit struct {
	gate     *Gate
	released bool
	mu       sync.Mutex
}

// Release returns the permit's slot to the gate. Safe to call more than
// once; only the first call has an effect.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return
	}
	p.released = true
	p.mu.Unlock()
	p.gate.release()
}

type waiter struct {
	priority int
	seq      uint64
	index    int
	ready    chan struct{}
	granted  bool
}

// Acquire blocks until a slot is free or ctx ends. Waiters are admitted by
// priority, then arrival order.
func (g *Gate) Acquire(ctx context.Context, priority int) (*Permit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	if g.inUse < g.capacity && g.waiters.Len() == 0 {
		g.inUse++
		g.mu.Unlock()
		return &Permit{gate: g}, nil
	}

	w := &waiter{priority: priority, seq: g.seq, ready: make(chan struct{})}
	g.seq++
	heap.Push(&g.waiters, w)
	g.mu.Unlock()

	select {
	case <-w.ready:
		return &Permit{gate: g}, nil
	case <-ctx.Done():
		g.mu.Lock()
		if w.granted {
			// The grant raced the cancellation; hand the slot back.
			g.inUse--
			g.grantLocked()
			g.mu.Unlock()
			return nil, ctx.Err()
		}
		heap.Remove(&g.waiters, w.index)
		g.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Resize reconfigures capacity at runtime. Raising it admits waiting work
// immediately; lowering it never preempts running work, only future
// admissions.
func (g *Gate) Resize(capacity int) error {
	if capacity < 1 {
		return fmt.Errorf("gate capacity must be at least 1, got %d", capacity)
	}
	g.mu.Lock()
	g.capacity = capacity
	g.grantLocked()
	g.mu.Unlock()
	return nil
}

// Capacity returns the configured slot count.
func (g *Gate) Capacity() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.capacity
}

// InUse returns the number of slots currently held.
func (g *Gate) InUse() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inUse
}

// Waiting returns the number of queued acquirers.
func (g *Gate) Waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiters.Len()
}

func (g *Gate) release() {
	g.mu.Lock()
	g.inUse--
	g.grantLocked()
	g.mu.Unlock()
}

func (g *Gate) grantLocked() {
	for g.inUse < g.capacity && g.waiters.Len() > 0 {
		w := heap.Pop(&g.waiters).(*waiter)
		w.granted = true
		g.inUse++
		close(w.ready)
	}
}

type waiterHeap []*waiter

func (h waiterHeap) Len() int { return len(h) }

func (h waiterHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h waiterHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *waiterHeap) Push(x any) {
	w := x.(*waiter)
	w.index = len(*h)
	*h = append(*h, w)
}

func (h *waiterHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return w
}
