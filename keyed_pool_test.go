package objectpool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// keyedCountingFactory hands out *int identities tagged with the key they
// were created for, so tests can verify per-key isolation.
type keyedCountingFactory struct {
	mu        sync.Mutex
	nextID    int
	created   map[string]int
	destroyed map[string]int
}

func newKeyedCountingFactory() *keyedCountingFactory {
	return &keyedCountingFactory{created: map[string]int{}, destroyed: map[string]int{}}
}

func (f *keyedCountingFactory) MakeObject(ctx context.Context, key string) (*int, error) {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.created[key]++
	f.mu.Unlock()
	v := id
	return &v, nil
}

func (f *keyedCountingFactory) DestroyObject(ctx context.Context, key string, obj *int, reason DestroyReason) error {
	f.mu.Lock()
	f.destroyed[key]++
	f.mu.Unlock()
	return nil
}

func (f *keyedCountingFactory) ValidateObject(ctx context.Context, key string, obj *int) bool {
	return true
}

func (f *keyedCountingFactory) ActivateObject(ctx context.Context, key string, obj *int) error {
	return nil
}

func (f *keyedCountingFactory) PassivateObject(ctx context.Context, key string, obj *int) error {
	return nil
}

func TestKeyedBorrowIsolatedPerKey(t *testing.T) {
	f := newKeyedCountingFactory()
	kp, err := NewKeyedObjectPool[string, *int](f, WithMaxPerKey(2))
	if err != nil {
		t.Fatalf("NewKeyedObjectPool: %v", err)
	}
	defer kp.Close(context.Background())

	ctx := context.Background()
	a, err := kp.Borrow(ctx, "a")
	if err != nil {
		t.Fatalf("Borrow a: %v", err)
	}
	b, err := kp.Borrow(ctx, "b")
	if err != nil {
		t.Fatalf("Borrow b: %v", err)
	}
	if kp.NumActiveForKey("a") != 1 || kp.NumActiveForKey("b") != 1 {
		t.Fatalf("per-key active counts = %d/%d, want 1/1", kp.NumActiveForKey("a"), kp.NumActiveForKey("b"))
	}
	if err := kp.Return(ctx, "a", a); err != nil {
		t.Fatalf("Return a: %v", err)
	}
	if err := kp.Return(ctx, "b", b); err != nil {
		t.Fatalf("Return b: %v", err)
	}
}

func TestKeyedMaxPerKeyExhausts(t *testing.T) {
	f := newKeyedCountingFactory()
	kp, err := NewKeyedObjectPool[string, *int](f, WithMaxPerKey(1), WithKeyedExhaustedAction(ExhaustedFail))
	if err != nil {
		t.Fatalf("NewKeyedObjectPool: %v", err)
	}
	defer kp.Close(context.Background())

	ctx := context.Background()
	if _, err := kp.Borrow(ctx, "k"); err != nil {
		t.Fatalf("first Borrow: %v", err)
	}
	if _, err := kp.Borrow(ctx, "k"); !errors.Is(err, ErrNoSuchElement) {
		t.Fatalf("second Borrow for same key error = %v, want ErrNoSuchElement", err)
	}
	// A different key is unaffected by "k" being exhausted.
	if _, err := kp.Borrow(ctx, "other"); err != nil {
		t.Fatalf("Borrow different key: %v", err)
	}
}

// TestKeyedGlobalCapEvictsAcrossKeys exercises spec scenario 6: a global
// MaxTotal below the sum of what every key could otherwise hold forces the
// least-recently-returned idle record from another key to be evicted to
// make room for a new key's first instance.
func TestKeyedGlobalCapEvictsAcrossKeys(t *testing.T) {
	f := newKeyedCountingFactory()
	kp, err := NewKeyedObjectPool[string, *int](f,
		WithKeyedMaxTotal(2),
		WithMaxPerKey(2),
		WithMaxIdlePerKey(2),
	)
	if err != nil {
		t.Fatalf("NewKeyedObjectPool: %v", err)
	}
	defer kp.Close(context.Background())

	ctx := context.Background()

	a, err := kp.Borrow(ctx, "a")
	if err != nil {
		t.Fatalf("Borrow a: %v", err)
	}
	if err := kp.Return(ctx, "a", a); err != nil {
		t.Fatalf("Return a: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	b, err := kp.Borrow(ctx, "b")
	if err != nil {
		t.Fatalf("Borrow b: %v", err)
	}
	if err := kp.Return(ctx, "b", b); err != nil {
		t.Fatalf("Return b: %v", err)
	}

	// Global count is now 2 (one idle under "a", one idle under "b"), at
	// MaxTotal. Borrowing a brand-new key "c" must evict "a"'s idle record
	// (the least-recently-returned) to free a global slot.
	c, err := kp.Borrow(ctx, "c")
	if err != nil {
		t.Fatalf("Borrow c: %v", err)
	}
	if err := kp.Return(ctx, "c", c); err != nil {
		t.Fatalf("Return c: %v", err)
	}

	if got := kp.TotalIdle() + kp.TotalActive(); got > 2 {
		t.Fatalf("total records = %d, want <= 2 (global cap)", got)
	}
	if kp.NumIdleForKey("a") != 0 {
		t.Fatalf("NumIdleForKey(a) = %d, want 0 (evicted for space)", kp.NumIdleForKey("a"))
	}
}

// TestKeyedGlobalCapBlocksWhenNothingEvictable covers the path
// TestKeyedGlobalCapEvictsAcrossKeys doesn't: the global cap is exhausted,
// every existing record is actively borrowed (nothing idle anywhere to
// evict), and the keyed pool's default ExhaustedBlock must still honor
// MaxWait by actually waiting instead of failing the borrow immediately as
// though the factory itself had errored.
func TestKeyedGlobalCapBlocksWhenNothingEvictable(t *testing.T) {
	f := newKeyedCountingFactory()
	kp, err := NewKeyedObjectPool[string, *int](f,
		WithKeyedMaxTotal(1),
		WithMaxPerKey(1),
		WithKeyedMaxWait(50*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("NewKeyedObjectPool: %v", err)
	}
	defer kp.Close(context.Background())

	ctx := context.Background()
	a, err := kp.Borrow(ctx, "a")
	if err != nil {
		t.Fatalf("Borrow a: %v", err)
	}

	start := time.Now()
	_, err = kp.Borrow(ctx, "b")
	elapsed := time.Since(start)
	if !errors.Is(err, ErrNoSuchElement) {
		t.Fatalf("Borrow b error = %v, want ErrNoSuchElement after timing out", err)
	}
	if elapsed < 40*time.Millisecond {
		t.Fatalf("Borrow b returned after %v, want it to have blocked for close to MaxWait (50ms)", elapsed)
	}

	if err := kp.Return(ctx, "a", a); err != nil {
		t.Fatalf("Return a: %v", err)
	}
}

// TestKeyedGlobalCapFailActionReturnsImmediately checks the same exhausted,
// nothing-to-evict scenario with ExhaustedFail: the borrow must fail right
// away rather than blocking, since FAIL never waits.
func TestKeyedGlobalCapFailActionReturnsImmediately(t *testing.T) {
	f := newKeyedCountingFactory()
	kp, err := NewKeyedObjectPool[string, *int](f,
		WithKeyedMaxTotal(1),
		WithMaxPerKey(1),
		WithKeyedExhaustedAction(ExhaustedFail),
	)
	if err != nil {
		t.Fatalf("NewKeyedObjectPool: %v", err)
	}
	defer kp.Close(context.Background())

	ctx := context.Background()
	a, err := kp.Borrow(ctx, "a")
	if err != nil {
		t.Fatalf("Borrow a: %v", err)
	}

	start := time.Now()
	_, err = kp.Borrow(ctx, "b")
	elapsed := time.Since(start)
	if !errors.Is(err, ErrNoSuchElement) {
		t.Fatalf("Borrow b error = %v, want ErrNoSuchElement", err)
	}
	if elapsed > 20*time.Millisecond {
		t.Fatalf("Borrow b with ExhaustedFail took %v, want an immediate failure", elapsed)
	}

	if err := kp.Return(ctx, "a", a); err != nil {
		t.Fatalf("Return a: %v", err)
	}
}

// TestKeyedClearKeyRetiresEmptySubPool covers spec §4.6's key lifecycle:
// once a key's sub-pool is quiet (no active borrows, no waiters), ClearKey
// must retire it from the keyed pool rather than leaving its evictor
// goroutine running forever.
func TestKeyedClearKeyRetiresEmptySubPool(t *testing.T) {
	f := newKeyedCountingFactory()
	kp, err := NewKeyedObjectPool[string, *int](f)
	if err != nil {
		t.Fatalf("NewKeyedObjectPool: %v", err)
	}
	defer kp.Close(context.Background())

	ctx := context.Background()
	a, err := kp.Borrow(ctx, "a")
	if err != nil {
		t.Fatalf("Borrow a: %v", err)
	}
	if err := kp.Return(ctx, "a", a); err != nil {
		t.Fatalf("Return a: %v", err)
	}

	kp.mu.Lock()
	_, stillRegistered := kp.pools["a"]
	kp.mu.Unlock()
	if !stillRegistered {
		t.Fatalf("sub-pool for \"a\" vanished before ClearKey")
	}

	kp.ClearKey(ctx, "a")

	kp.mu.Lock()
	_, registered := kp.pools["a"]
	kp.mu.Unlock()
	if registered {
		t.Fatalf("sub-pool for \"a\" still registered after ClearKey retired it")
	}

	// The key is usable again; a fresh sub-pool is lazily created for it.
	b, err := kp.Borrow(ctx, "a")
	if err != nil {
		t.Fatalf("Borrow a after ClearKey: %v", err)
	}
	if err := kp.Return(ctx, "a", b); err != nil {
		t.Fatalf("Return a after ClearKey: %v", err)
	}
}

// TestKeyedClearKeyKeepsSubPoolWithActiveBorrow ensures ClearKey never tears
// down a sub-pool that still has an outstanding borrow, even though its idle
// records were just cleared.
func TestKeyedClearKeyKeepsSubPoolWithActiveBorrow(t *testing.T) {
	f := newKeyedCountingFactory()
	kp, err := NewKeyedObjectPool[string, *int](f)
	if err != nil {
		t.Fatalf("NewKeyedObjectPool: %v", err)
	}
	defer kp.Close(context.Background())

	ctx := context.Background()
	a, err := kp.Borrow(ctx, "a")
	if err != nil {
		t.Fatalf("Borrow a: %v", err)
	}

	kp.ClearKey(ctx, "a")

	kp.mu.Lock()
	_, registered := kp.pools["a"]
	kp.mu.Unlock()
	if !registered {
		t.Fatalf("sub-pool for \"a\" retired while a borrow was still active")
	}

	if err := kp.Return(ctx, "a", a); err != nil {
		t.Fatalf("Return a: %v", err)
	}
}

func TestKeyedCloseClosesEverySubPool(t *testing.T) {
	f := newKeyedCountingFactory()
	kp, err := NewKeyedObjectPool[string, *int](f)
	if err != nil {
		t.Fatalf("NewKeyedObjectPool: %v", err)
	}
	ctx := context.Background()
	if _, err := kp.Borrow(ctx, "x"); err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	if err := kp.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := kp.Borrow(ctx, "x"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Borrow after Close error = %v, want ErrClosed", err)
	}
	if _, err := kp.Borrow(ctx, "new-key"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Borrow new key after Close error = %v, want ErrClosed", err)
	}
}
