package collections

import (
	"context"
	"testing"
	"time"
)

func TestDequeLifoOrder(t *testing.T) {
	d := NewDeque[int](false)
	d.AddFirst(1)
	d.AddFirst(2)
	d.AddFirst(3)

	for _, want := range []int{3, 2, 1} {
		got, ok := d.PollFirst()
		if !ok || got != want {
			t.Fatalf("PollFirst() = %d, %v; want %d, true", got, ok, want)
		}
	}
	if _, ok := d.PollFirst(); ok {
		t.Fatal("PollFirst() on empty deque returned ok=true")
	}
}

func TestDequeFifoOrder(t *testing.T) {
	d := NewDeque[int](false)
	d.AddLast(1)
	d.AddLast(2)
	d.AddLast(3)

	for _, want := range []int{1, 2, 3} {
		got, ok := d.PollFirst()
		if !ok || got != want {
			t.Fatalf("PollFirst() = %d, %v; want %d, true", got, ok, want)
		}
	}
}

func TestDequeTakeFirstBlocksUntilPush(t *testing.T) {
	d := NewDeque[int](false)
	result := make(chan int, 1)
	go func() {
		v, err := d.TakeFirst(context.Background())
		if err != nil {
			t.Errorf("TakeFirst() error = %v", err)
			return
		}
		result <- v
	}()

	// Give the goroutine a chance to block before pushing.
	time.Sleep(20 * time.Millisecond)
	d.AddLast(42)

	select {
	case v := <-result:
		if v != 42 {
			t.Fatalf("got %d, want 42", v)
		}
	case <-time.After(time.Second):
		t.Fatal("TakeFirst did not unblock after push")
	}
}

func TestDequeTakeFirstTimesOut(t *testing.T) {
	d := NewDeque[int](false)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := d.TakeFirst(ctx)
	if err != ErrTimeout {
		t.Fatalf("TakeFirst() error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("TakeFirst returned after %v, want >= 30ms", elapsed)
	}
}

func TestDequeFairReleasesInArrivalOrder(t *testing.T) {
	d := NewDeque[int](true)
	const n = 5
	order := make(chan [2]int, n) // {waiter index, value received}

	for i := 0; i < n; i++ {
		i := i
		go func() {
			v, err := d.TakeFirst(context.Background())
			if err != nil {
				t.Errorf("TakeFirst() error = %v", err)
				return
			}
			order <- [2]int{i, v}
		}()
		// Stagger starts so arrival order is deterministic.
		time.Sleep(5 * time.Millisecond)
	}

	for i := 0; i < n; i++ {
		d.AddLast(i)
	}

	for i := 0; i < n; i++ {
		select {
		case got := <-order:
			if got[1] != got[0] {
				t.Fatalf("waiter %d received value %d, want %d (fairness violated)", got[0], got[1], got[0])
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fair handoff")
		}
	}
}

func TestDequeInterruptTakeWaiters(t *testing.T) {
	for _, fair := range []bool{false, true} {
		d := NewDeque[int](fair)
		errCh := make(chan error, 1)
		go func() {
			_, err := d.TakeFirst(context.Background())
			errCh <- err
		}()
		time.Sleep(20 * time.Millisecond)
		d.InterruptTakeWaiters()

		select {
		case err := <-errCh:
			if err != ErrClosed {
				t.Fatalf("fair=%v: TakeFirst() error = %v, want ErrClosed", fair, err)
			}
		case <-time.After(time.Second):
			t.Fatalf("fair=%v: TakeFirst did not unblock on InterruptTakeWaiters", fair)
		}
	}
}

func TestDequeRemoveFirstOccurrence(t *testing.T) {
	d := NewDeque[int](false)
	d.AddLast(1)
	d.AddLast(2)
	d.AddLast(3)

	if !d.RemoveFirstOccurrence(2) {
		t.Fatal("RemoveFirstOccurrence(2) = false, want true")
	}
	if d.RemoveFirstOccurrence(2) {
		t.Fatal("second RemoveFirstOccurrence(2) = true, want false")
	}
	if got := d.All(); len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("All() = %v, want [1 3]", got)
	}
}

func TestDequeEvictionSnapshotOrder(t *testing.T) {
	// LIFO: pushes go through AddFirst, so oldest is at the tail.
	lifo := NewDeque[int](false)
	lifo.AddFirst(1) // oldest
	lifo.AddFirst(2)
	lifo.AddFirst(3) // newest
	if got := lifo.EvictionSnapshot(true); len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("EvictionSnapshot(lifo=true) = %v, want oldest-first [1 2 3]", got)
	}

	// FIFO: pushes go through AddLast, so oldest is already at the head.
	fifo := NewDeque[int](false)
	fifo.AddLast(1) // oldest
	fifo.AddLast(2)
	fifo.AddLast(3) // newest
	if got := fifo.EvictionSnapshot(false); len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("EvictionSnapshot(lifo=false) = %v, want oldest-first [1 2 3]", got)
	}
}
