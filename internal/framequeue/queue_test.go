package framequeue_test

import (
	"sync"
	"testing"

	"github.com/AlecFessler/hand-motion-capture/internal/framequeue"
)

type frame struct {
	id int
}

// TestQueueFIFO validates ordering through the ring.
//
// Contract:
//   - Dequeue returns elements in Enqueue order
//   - Dequeue on an empty queue returns nil
func TestQueueFIFO(t *testing.T) {
	q := framequeue.NewSPSC[frame](4)

	if got := q.Dequeue(); got != nil {
		t.Fatalf("Dequeue() on empty queue = %v, want nil", got)
	}

	frames := []*frame{{id: 0}, {id: 1}, {id: 2}}
	for _, f := range frames {
		if !q.Enqueue(f) {
			t.Fatalf("Enqueue(%d) failed on non-full queue", f.id)
		}
	}

	for i, want := range frames {
		got := q.Dequeue()
		if got != want {
			t.Fatalf("Dequeue() #%d = %v, want frame %d", i, got, want.id)
		}
	}
	if got := q.Dequeue(); got != nil {
		t.Fatalf("Dequeue() after drain = %v, want nil", got)
	}
}

// TestQueueFull validates the capacity bound.
//
// Contract:
//   - Enqueue returns false exactly when tail-head == capacity
//   - a Dequeue frees one slot
func TestQueueFull(t *testing.T) {
	q := framequeue.NewSPSC[frame](2)
	a, b, c := &frame{id: 0}, &frame{id: 1}, &frame{id: 2}

	if !q.Enqueue(a) || !q.Enqueue(b) {
		t.Fatal("Enqueue failed below capacity")
	}
	if q.Enqueue(c) {
		t.Fatal("Enqueue succeeded on full queue")
	}
	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}

	if q.Dequeue() != a {
		t.Fatal("Dequeue returned wrong element")
	}
	if !q.Enqueue(c) {
		t.Fatal("Enqueue failed after Dequeue freed a slot")
	}
}

// TestQueueWrapAround validates that index wrapping preserves FIFO
// order across many times the capacity.
func TestQueueWrapAround(t *testing.T) {
	q := framequeue.NewSPSC[frame](3)
	frames := make([]frame, 100)

	next := 0
	for i := range frames {
		frames[i].id = i
		if !q.Enqueue(&frames[i]) {
			t.Fatalf("Enqueue(%d) failed", i)
		}
		if i%2 == 1 {
			for j := 0; j < 2; j++ {
				got := q.Dequeue()
				if got == nil || got.id != next {
					t.Fatalf("Dequeue() = %v, want id %d", got, next)
				}
				next++
			}
		}
	}
}

// TestQueueConcurrent exercises the single-producer/single-consumer
// fast path: one goroutine enqueues 10k frames while another drains
// them, and every frame must come out exactly once, in order.
func TestQueueConcurrent(t *testing.T) {
	const n = 10000
	q := framequeue.NewSPSC[frame](8)
	frames := make([]frame, n)
	for i := range frames {
		frames[i].id = i
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < n; {
			if q.Enqueue(&frames[i]) {
				i++
			}
		}
	}()

	var got []int
	go func() {
		defer wg.Done()
		for len(got) < n {
			if f := q.Dequeue(); f != nil {
				got = append(got, f.id)
			}
		}
	}()

	wg.Wait()
	for i, id := range got {
		if id != i {
			t.Fatalf("element %d has id %d, order broken", i, id)
		}
	}
}
