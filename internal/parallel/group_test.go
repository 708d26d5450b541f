package parallel

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewGroup_SizeFloor(t *testing.T) {
	if got := NewGroup(0).Size(); got != 1 {
		t.Errorf("Expected size floor of 1, got %d", got)
	}
	if got := NewGroup(-3).Size(); got != 1 {
		t.Errorf("Expected size floor of 1, got %d", got)
	}
	if got := NewGroup(4).Size(); got != 4 {
		t.Errorf("Expected size 4, got %d", got)
	}
}

func TestWorker_CoordinatorIsRankZero(t *testing.T) {
	group := NewGroup(3)

	if !group.Worker(0).IsCoordinator() {
		t.Error("Rank 0 must be the coordinator")
	}
	for rank := 1; rank < group.Size(); rank++ {
		if group.Worker(rank).IsCoordinator() {
			t.Errorf("Rank %d must not be the coordinator", rank)
		}
	}
	if group.Worker(2).Rank() != 2 {
		t.Errorf("Expected rank 2, got %d", group.Worker(2).Rank())
	}
}

func TestSolo(t *testing.T) {
	w := Solo()
	if !w.IsCoordinator() {
		t.Error("A solo worker must be its own coordinator")
	}
	// must not block
	w.Barrier()
	w.Barrier()
}

func TestBarrier_ReleasesAllTogether(t *testing.T) {
	const size = 4
	group := NewGroup(size)

	var before, after atomic.Int32
	var wg sync.WaitGroup

	for rank := 0; rank < size; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			w := group.Worker(rank)

			before.Add(1)
			w.Barrier()

			// every arrival must be counted before anyone passes
			if got := before.Load(); got != size {
				t.Errorf("Rank %d passed the barrier with %d arrivals", rank, got)
			}
			after.Add(1)
		}(rank)
	}

	wg.Wait()
	if after.Load() != size {
		t.Errorf("Expected %d workers released, got %d", size, after.Load())
	}
}

func TestBarrier_BlocksUntilLastArrival(t *testing.T) {
	group := NewGroup(2)

	released := make(chan struct{})
	go func() {
		group.Worker(0).Barrier()
		close(released)
	}()

	select {
	case <-released:
		t.Fatal("Barrier released before all workers arrived")
	case <-time.After(20 * time.Millisecond):
	}

	group.Worker(1).Barrier()

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("Barrier did not release after the last arrival")
	}
}

func TestBarrier_Reusable(t *testing.T) {
	const size = 3
	const cycles = 50
	group := NewGroup(size)

	var counter atomic.Int32
	var wg sync.WaitGroup

	for rank := 0; rank < size; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			w := group.Worker(rank)

			for c := 1; c <= cycles; c++ {
				counter.Add(1)
				w.Barrier()

				// all increments of this cycle land before anyone proceeds
				if got := counter.Load(); got < int32(c*size) {
					t.Errorf("Cycle %d: rank %d saw %d increments, want at least %d",
						c, rank, got, c*size)
				}
				w.Barrier()
			}
		}(rank)
	}

	wg.Wait()
	if counter.Load() != size*cycles {
		t.Errorf("Expected %d total increments, got %d", size*cycles, counter.Load())
	}
}
