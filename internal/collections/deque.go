// Package collections reconstructs the blocking double-ended queue the
// teacher library calls collections.LinkedBlockingDeque. It backs the pool's
// idle store (spec component C2): push/poll from either end for LIFO/FIFO
// selection, oldest-first snapshotting for the evictor, and two waiter
// disciplines — a strict FIFO handoff queue for "fairness" mode, and a plain
// condition variable (no ordering guarantee) otherwise.
package collections

import (
	"container/list"
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by a blocking Take when the deque has been shut down.
var ErrClosed = errors.New("collections: deque closed")

// ErrTimeout is returned by a blocking Take whose context deadline elapsed.
var ErrTimeout = errors.New("collections: take timed out")

// ErrInterrupted is returned by a blocking Take whose context was cancelled
// for a reason other than its deadline (caller cancellation).
var ErrInterrupted = errors.New("collections: take interrupted")

// ticket is a single waiter's handoff slot in fair mode.
type ticket[E comparable] struct {
	ch chan ticketResult[E]
}

type ticketResult[E comparable] struct {
	val    E
	closed bool
}

// Deque is a generic blocking double-ended queue. E is constrained to
// comparable rather than any because RemoveFirstOccurrence needs to compare
// elements by identity; every caller in this module stores *PooledObject[T]
// values, and pointers are always comparable regardless of T.
type Deque[E comparable] struct {
	mu   sync.Mutex
	cond *sync.Cond

	items *list.List

	fair    bool
	waiters *list.List // fair mode only: queue of *ticket[E]

	condWaiting int // non-fair mode: count of goroutines currently blocked

	closed bool
}

// NewDeque constructs an empty deque. When fair is true, blocked Take
// callers are released in strict FIFO arrival order via direct handoff;
// otherwise release order is whatever sync.Cond happens to provide.
func NewDeque[E comparable](fair bool) *Deque[E] {
	d := &Deque[E]{
		items:   list.New(),
		fair:    fair,
		waiters: list.New(),
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// AddFirst pushes v onto the head of the deque, or hands it directly to the
// longest-waiting Take caller in fair mode.
func (d *Deque[E]) AddFirst(v E) { d.add(v, true) }

// AddLast pushes v onto the tail of the deque, or hands it directly to the
// longest-waiting Take caller in fair mode.
func (d *Deque[E]) AddLast(v E) { d.add(v, false) }

func (d *Deque[E]) add(v E, front bool) {
	d.mu.Lock()
	if d.fair {
		if el := d.waiters.Front(); el != nil {
			d.waiters.Remove(el)
			t := el.Value.(*ticket[E])
			d.mu.Unlock()
			t.ch <- ticketResult[E]{val: v}
			return
		}
	}
	if front {
		d.items.PushFront(v)
	} else {
		d.items.PushBack(v)
	}
	d.mu.Unlock()
	if !d.fair {
		d.cond.Broadcast()
	}
}

// PollFirst removes and returns the head element without blocking.
func (d *Deque[E]) PollFirst() (v E, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	el := d.items.Front()
	if el == nil {
		return v, false
	}
	d.items.Remove(el)
	return el.Value.(E), true
}

// PollLast removes and returns the tail element without blocking.
func (d *Deque[E]) PollLast() (v E, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	el := d.items.Back()
	if el == nil {
		return v, false
	}
	d.items.Remove(el)
	return el.Value.(E), true
}

// TakeFirst removes and returns the head element, blocking until one is
// available, ctx is done, or the deque is closed.
func (d *Deque[E]) TakeFirst(ctx context.Context) (E, error) {
	if v, ok := d.PollFirst(); ok {
		return v, nil
	}
	if d.fair {
		return d.takeFair(ctx)
	}
	return d.takeCond(ctx)
}

func (d *Deque[E]) takeFair(ctx context.Context) (E, error) {
	var zero E
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return zero, ErrClosed
	}
	if el := d.items.Front(); el != nil {
		d.items.Remove(el)
		d.mu.Unlock()
		return el.Value.(E), nil
	}
	t := &ticket[E]{ch: make(chan ticketResult[E], 1)}
	d.waiters.PushBack(t)
	d.mu.Unlock()

	select {
	case res := <-t.ch:
		if res.closed {
			return zero, ErrClosed
		}
		return res.val, nil
	case <-ctx.Done():
		d.mu.Lock()
		stillQueued := false
		for e := d.waiters.Front(); e != nil; e = e.Next() {
			if e.Value.(*ticket[E]) == t {
				d.waiters.Remove(e)
				stillQueued = true
				break
			}
		}
		d.mu.Unlock()
		if !stillQueued {
			// A value (or close) was handed to us in the race between the
			// context firing and the handoff; honor it rather than losing it.
			select {
			case res := <-t.ch:
				if !res.closed {
					return res.val, nil
				}
				return zero, ErrClosed
			default:
			}
		}
		if ctx.Err() == context.DeadlineExceeded {
			return zero, ErrTimeout
		}
		return zero, ErrInterrupted
	}
}

func (d *Deque[E]) takeCond(ctx context.Context) (E, error) {
	var zero E

	cancelled := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		close(cancelled)
		d.mu.Lock()
		d.cond.Broadcast()
		d.mu.Unlock()
	})
	defer stop()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.condWaiting++
	defer func() { d.condWaiting-- }()

	for {
		if el := d.items.Front(); el != nil {
			d.items.Remove(el)
			return el.Value.(E), nil
		}
		if d.closed {
			return zero, ErrClosed
		}
		select {
		case <-cancelled:
			if ctx.Err() == context.DeadlineExceeded {
				return zero, ErrTimeout
			}
			return zero, ErrInterrupted
		default:
		}
		d.cond.Wait()
	}
}

// RemoveFirstOccurrence removes the first element equal to v, if present,
// and reports whether it found one. Used when a record is destroyed while
// it may or may not still be sitting in the idle store (e.g. a borrow raced
// the evictor).
func (d *Deque[E]) RemoveFirstOccurrence(v E) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for e := d.items.Front(); e != nil; e = e.Next() {
		if e.Value.(E) == v {
			d.items.Remove(e)
			return true
		}
	}
	return false
}

// Size returns the number of elements currently in the deque.
func (d *Deque[E]) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.items.Len()
}

// HasTakeWaiters reports whether any goroutine is currently blocked in
// TakeFirst.
func (d *Deque[E]) HasTakeWaiters() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fair {
		return d.waiters.Len() > 0
	}
	return d.condWaiting > 0
}

// NumWaiters returns the number of goroutines currently blocked in
// TakeFirst, for the num_waiters gauge (spec §4.8).
func (d *Deque[E]) NumWaiters() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fair {
		return d.waiters.Len()
	}
	return d.condWaiting
}

// InterruptTakeWaiters wakes every goroutine currently blocked in TakeFirst
// with ErrClosed and marks the deque closed, so subsequent Take calls fail
// immediately rather than blocking. Non-blocking calls (PollFirst, etc.)
// remain usable after this call; it only affects waiters.
func (d *Deque[E]) InterruptTakeWaiters() {
	d.mu.Lock()
	d.closed = true
	if d.fair {
		for e := d.waiters.Front(); e != nil; e = e.Next() {
			e.Value.(*ticket[E]).ch <- ticketResult[E]{closed: true}
		}
		d.waiters.Init()
	}
	d.mu.Unlock()
	if !d.fair {
		d.cond.Broadcast()
	}
}

// Reopen clears the closed flag, allowing a deque to be reused. The pool
// never calls this in practice (a closed pool stays closed) but it keeps
// the primitive generally reusable and easy to unit test in isolation.
func (d *Deque[E]) Reopen() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = false
}

// EvictionSnapshot returns every element currently in the deque ordered
// oldest-first. When lifo is true, the deque's natural head is the newest
// element (pushes happen via AddFirst), so oldest-first means tail-to-head;
// when lifo is false, the natural head is already the oldest element.
func (d *Deque[E]) EvictionSnapshot(lifo bool) []E {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]E, 0, d.items.Len())
	if lifo {
		for e := d.items.Back(); e != nil; e = e.Prev() {
			out = append(out, e.Value.(E))
		}
	} else {
		for e := d.items.Front(); e != nil; e = e.Next() {
			out = append(out, e.Value.(E))
		}
	}
	return out
}

// All returns a head-to-tail snapshot, used by callers (e.g. Clear) that
// need to drain the deque without caring about LIFO/FIFO semantics.
func (d *Deque[E]) All() []E {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]E, 0, d.items.Len())
	for e := d.items.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(E))
	}
	return out
}
