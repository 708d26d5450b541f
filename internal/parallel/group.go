// Package parallel provides the fixed-size worker group the search
// controller runs on: every worker executes the same controller logic in
// lockstep (single-program, multiple-data), rank 0 is the designated
// coordinator, and a reusable barrier marks phase boundaries.
package parallel

import "sync"

// Group is a fixed set of cooperating workers sharing one barrier.
type Group struct {
	size    int
	barrier *cyclicBarrier
}

// NewGroup creates a group of the given size. Size must be at least 1.
func NewGroup(size int) *Group {
	if size < 1 {
		size = 1
	}
	return &Group{
		size:    size,
		barrier: newCyclicBarrier(size),
	}
}

// Size returns the number of workers in the group.
func (g *Group) Size() int { return g.size }

// Worker returns the group member with the given rank in [0, size).
func (g *Group) Worker(rank int) *Worker {
	return &Worker{rank: rank, group: g}
}

// Worker is one member of a group. It satisfies the controller's GroupWorker
// contract: coordinator election plus a collective barrier.
type Worker struct {
	rank  int
	group *Group
}

// Rank returns this worker's rank within the group.
func (w *Worker) Rank() int { return w.rank }

// IsCoordinator reports whether this worker's state copy is authoritative.
// Rank 0 is always the coordinator.
func (w *Worker) IsCoordinator() bool { return w.rank == 0 }

// Barrier blocks until all group members arrive.
func (w *Worker) Barrier() { w.group.barrier.await() }

// Solo returns the coordinator of a fresh group of one, for single-worker
// runs and tests.
func Solo() *Worker {
	return NewGroup(1).Worker(0)
}

// cyclicBarrier is a reusable barrier for a fixed number of parties.
// The generation counter lets waiters distinguish consecutive cycles.
type cyclicBarrier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	parties    int
	waiting    int
	generation uint64
}

func newCyclicBarrier(parties int) *cyclicBarrier {
	b := &cyclicBarrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *cyclicBarrier) await() {
	b.mu.Lock()
	defer b.mu.Unlock()

	gen := b.generation
	b.waiting++

	if b.waiting == b.parties {
		// last arrival trips the barrier and starts the next cycle
		b.waiting = 0
		b.generation++
		b.cond.Broadcast()
		return
	}

	for gen == b.generation {
		b.cond.Wait()
	}
}
