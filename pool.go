package objectpool

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arrowlabs/objectpool/internal/clock"
	"github.com/arrowlabs/objectpool/internal/collections"
	"github.com/arrowlabs/objectpool/internal/concurrent"
)

// ObjectPool is a single-key pool of T instances. The zero value is not
// usable; construct with NewObjectPool.
type ObjectPool[T any] struct {
	factory PooledObjectFactory[T]
	config  ObjectPoolConfig
	policy  EvictionPolicy
	clk     clock.Clock

	idle *collections.Deque[*PooledObject[T]]

	mu         sync.Mutex
	allObjects map[uint64]*PooledObject[T]
	nextID     uint64
	closed     bool

	createCount concurrent.AtomicInt64

	stats Stats

	evictionMu     sync.Mutex
	evictionCancel context.CancelFunc
	eg             *errgroup.Group
}

// NewObjectPool constructs a pool backed by factory, applying opts over
// NewDefaultPoolConfig. If Config.MinIdle > 0 it eagerly fills to that floor
// before returning, matching Apache Commons Pool's actual constructor
// behavior (the teacher's preparePool exists but is never wired into its
// NewObjectPool — a gap this spec closes per SPEC_FULL.md §6.1).
func NewObjectPool[T any](factory PooledObjectFactory[T], opts ...ObjectPoolOption) (*ObjectPool[T], error) {
	cfg := NewDefaultPoolConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	policy, _ := GetEvictionPolicy(cfg.EvictionPolicyName)

	p := &ObjectPool[T]{
		factory:    factory,
		config:     *cfg,
		policy:     policy,
		clk:        clock.System{},
		idle:       collections.NewDeque[*PooledObject[T]](cfg.Fairness),
		allObjects: make(map[uint64]*PooledObject[T]),
	}
	p.startEvictor(cfg.TimeBetweenEvictionRuns)
	if p.getMinIdle() > 0 {
		p.preparePool(context.Background())
	}
	return p, nil
}

func (p *ObjectPool[T]) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *ObjectPool[T]) nextRecordID() uint64 {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.mu.Unlock()
	return id
}

func (p *ObjectPool[T]) registerRecord(rec *PooledObject[T]) {
	p.mu.Lock()
	p.allObjects[rec.id] = rec
	p.mu.Unlock()
}

func (p *ObjectPool[T]) unregisterRecord(id uint64) {
	p.mu.Lock()
	delete(p.allObjects, id)
	p.mu.Unlock()
}

// reserveCreate claims one slot against MaxTotal (the allocated-record cap,
// spec's max_active), rolling back on overflow. It returns false rather than
// an error: hitting the cap is a routine outcome the caller decides how to
// handle (retry idle, block, fail, grow), not a failure in itself.
func (p *ObjectPool[T]) reserveCreate() bool {
	if p.config.MaxTotal < 0 {
		p.createCount.IncrementAndGet()
		return true
	}
	n := p.createCount.IncrementAndGet()
	if n > int64(p.config.MaxTotal) {
		p.createCount.DecrementAndGet()
		return false
	}
	return true
}

// create makes a brand-new record subject to the MaxTotal cap. A nil, nil
// result means the cap was reached; it is not an error.
func (p *ObjectPool[T]) create(ctx context.Context) (*PooledObject[T], error) {
	if !p.reserveCreate() {
		return nil, nil
	}
	return p.finishCreate(ctx)
}

// forceCreate makes a new record ignoring MaxTotal, for the GROW exhaustion
// policy (spec §4.3.1 step 5: "always succeeds if factory succeeds").
func (p *ObjectPool[T]) forceCreate(ctx context.Context) (*PooledObject[T], error) {
	p.createCount.IncrementAndGet()
	return p.finishCreate(ctx)
}

// errCapacityReached is a factory-internal signal, never returned to a
// caller: KeyedObjectPool's per-key factory adapter raises it when the
// *global* cap (across every key, spec §4.6) has no room and nothing is
// evictable to free one. finishCreate treats it exactly like reserveCreate
// hitting the local cap — a nil, nil "try something else" result — rather
// than a genuine factory failure, so Borrow's loop falls through to
// handleExhausted and FAIL/BLOCK/GROW is honored for the global cap the
// same way it already is for the per-key one.
var errCapacityReached = errors.New("objectpool: capacity reached")

func (p *ObjectPool[T]) finishCreate(ctx context.Context) (*PooledObject[T], error) {
	instance, err := p.factory.MakeObject(ctx)
	if err != nil {
		p.createCount.DecrementAndGet()
		if errors.Is(err, errCapacityReached) {
			return nil, nil
		}
		return nil, wrapFactoryErr("MakeObject", err)
	}
	now := clock.Millis(p.clk.Now())
	rec := newPooledObject(p.nextRecordID(), instance, now)
	if p.config.UseUsageTracking {
		rec.createTrace = captureTrace(2)
	}
	p.registerRecord(rec)
	p.stats.created.IncrementAndGet()
	return rec, nil
}

// destroyRecord retires rec for good: invalidates it, removes it from both
// the idle store and the record table, and calls the factory's destroy hook.
// Any destroy error is swallowed per spec §7 — reclamation must not be
// blocked by factory misbehaviour.
func (p *ObjectPool[T]) destroyRecord(ctx context.Context, rec *PooledObject[T], reason DestroyReason) {
	rec.invalidate()
	p.idle.RemoveFirstOccurrence(rec)
	p.unregisterRecord(rec.id)
	if err := p.factory.DestroyObject(ctx, rec.instance, reason); err != nil {
		Logger().Warn("factory DestroyObject failed", "reason", reason.String(), "error", err)
	}
	p.createCount.DecrementAndGet()
	p.stats.destroyed.IncrementAndGet()
}

func (p *ObjectPool[T]) pushIdle(rec *PooledObject[T]) {
	if p.config.Lifo {
		p.idle.AddFirst(rec)
	} else {
		p.idle.AddLast(rec)
	}
}

// getMinIdle clamps MinIdle to MaxIdle, matching the teacher's getMinIdle.
func (p *ObjectPool[T]) getMinIdle() int {
	if p.config.MaxIdle >= 0 && p.config.MinIdle > p.config.MaxIdle {
		return p.config.MaxIdle
	}
	return p.config.MinIdle
}

// ensureIdle tops up the idle store to idleCount. When always is false it
// only bothers if borrowers are actually blocked waiting (the teacher's
// ensureIdle(1, false) called after every destroy-on-return/invalidate, so a
// waiter gets a freshly created replacement instead of timing out).
func (p *ObjectPool[T]) ensureIdle(ctx context.Context, idleCount int, always bool) {
	if idleCount < 1 || p.isClosed() {
		return
	}
	if !always && !p.idle.HasTakeWaiters() {
		return
	}
	for p.idle.Size() < idleCount {
		rec, err := p.create(ctx)
		if err != nil || rec == nil {
			break
		}
		if perr := p.factory.PassivateObject(ctx, rec.instance); perr != nil {
			p.destroyRecord(ctx, rec, ReasonPassivationFailed)
			break
		}
		p.pushIdle(rec)
	}
	if p.isClosed() {
		p.Clear(ctx)
	}
}

func (p *ObjectPool[T]) ensureMinIdle(ctx context.Context) {
	p.ensureIdle(ctx, p.getMinIdle(), true)
}

func (p *ObjectPool[T]) preparePool(ctx context.Context) {
	if p.getMinIdle() < 1 {
		return
	}
	p.ensureMinIdle(ctx)
}

// AddObject eagerly creates one instance, passivates it, and places it in
// the idle store (spec §6.1, the teacher's AddObject).
func (p *ObjectPool[T]) AddObject(ctx context.Context) error {
	if p.isClosed() {
		return ErrClosed
	}
	rec, err := p.create(ctx)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrNoSuchElement
	}
	if perr := p.factory.PassivateObject(ctx, rec.instance); perr != nil {
		p.destroyRecord(ctx, rec, ReasonPassivationFailed)
		return wrapFactoryErr("PassivateObject", perr)
	}
	p.pushIdle(rec)
	return nil
}

// AddObjects calls AddObject n times, stopping at the first error.
func (p *ObjectPool[T]) AddObjects(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if err := p.AddObject(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Borrow obtains an instance, blocking, failing, or growing past the cap per
// Config.ExhaustedAction when the pool is exhausted (spec §4.3.1). The
// caller must eventually pass the returned handle to Return or Invalidate
// exactly once.
func (p *ObjectPool[T]) Borrow(ctx context.Context) (*Borrowed[T], error) {
	if p.isClosed() {
		return nil, ErrClosed
	}
	if ac := p.config.Abandoned; ac != nil && ac.RemoveAbandonedOnBorrow {
		p.removeAbandoned(ctx, ac)
	}

	start := p.clk.Now()
	var rec *PooledObject[T]
	var freshlyCreated bool

	// Bounds retries against a persistently broken factory (spec §4.3.4): a
	// freshly created instance that keeps failing activate/validate stops
	// being retried after |idle|+1 retries rather than spinning forever.
	maxFreshRetries := p.idle.Size() + 1
	freshRetries := 0

	for rec == nil {
		if p.isClosed() {
			return nil, ErrClosed
		}
		freshlyCreated = false

		if r, ok := p.idle.PollFirst(); ok {
			rec = r
		} else {
			created, err := p.create(ctx)
			if err != nil {
				return nil, err
			}
			if created != nil {
				rec, freshlyCreated = created, true
			}
		}

		if rec == nil {
			var err error
			rec, freshlyCreated, err = p.handleExhausted(ctx)
			if err != nil {
				return nil, err
			}
		}
		if rec == nil {
			continue
		}

		now := clock.Millis(p.clk.Now())
		if !freshlyCreated {
			p.stats.idleTimes.record(time.Duration(rec.idleTimeMillis(now)) * time.Millisecond)
		}
		if !rec.allocate(now) {
			rec = nil
			continue
		}

		if err := p.factory.ActivateObject(ctx, rec.instance); err != nil {
			p.destroyRecord(ctx, rec, ReasonNormal)
			rec = nil
			if freshlyCreated {
				freshRetries++
				if freshRetries > maxFreshRetries {
					return nil, wrapFactoryErr("ActivateObject", err)
				}
			}
			continue
		}

		if p.config.TestOnBorrow || (freshlyCreated && p.config.TestOnCreate) {
			if !p.factory.ValidateObject(ctx, rec.instance) {
				p.stats.destroyedByBorrowValidation.IncrementAndGet()
				p.destroyRecord(ctx, rec, ReasonValidationFailed)
				rec = nil
				if freshlyCreated {
					freshRetries++
					if freshRetries > maxFreshRetries {
						return nil, ErrNoSuchElement
					}
				}
				continue
			}
		}
	}

	p.stats.borrowed.IncrementAndGet()
	p.stats.borrowWaitTimes.record(p.clk.Now().Sub(start))
	return &Borrowed[T]{record: rec}, nil
}

func (p *ObjectPool[T]) handleExhausted(ctx context.Context) (*PooledObject[T], bool, error) {
	switch p.config.ExhaustedAction {
	case ExhaustedFail:
		return nil, false, ErrNoSuchElement
	case ExhaustedGrow:
		rec, err := p.forceCreate(ctx)
		if err != nil {
			return nil, false, err
		}
		if rec == nil {
			// Only reachable through a keyed pool's global-cap factory
			// adapter: even forcing past the per-key cap couldn't get a new
			// instance, because the cross-key global cap had no room and
			// nothing was evictable. GROW can't actually ignore that cap (it
			// is shared with every other key), so surface ErrNoSuchElement
			// instead of spinning forceCreate forever.
			return nil, false, ErrNoSuchElement
		}
		return rec, true, nil
	case ExhaustedBlock:
		waitCtx := ctx
		var cancel context.CancelFunc
		if p.config.MaxWait >= 0 {
			waitCtx, cancel = context.WithTimeout(ctx, p.config.MaxWait)
		}
		rec, err := p.idle.TakeFirst(waitCtx)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			switch {
			case errors.Is(err, collections.ErrClosed):
				return nil, false, ErrClosed
			case errors.Is(err, collections.ErrTimeout):
				return nil, false, ErrNoSuchElement
			default:
				return nil, false, ErrInterrupted
			}
		}
		return rec, false, nil
	default:
		return nil, false, ErrIllegalState
	}
}

// Return releases a borrowed instance back to the pool (spec §4.3.2). A
// legitimate return of a record the Abandonment Detector already reclaimed
// is a no-op, per spec §4.5.
func (p *ObjectPool[T]) Return(ctx context.Context, b *Borrowed[T]) error {
	if b == nil {
		return ErrIllegalState
	}
	rec := b.record
	p.mu.Lock()
	owned := p.allObjects[rec.id] == rec
	p.mu.Unlock()
	if !owned && !b.consumed.Load() && rec.getState() != stateAbandoned {
		// The handle was never borrowed from this pool.
		return ErrIllegalState
	}
	if !b.markConsumed() {
		return ErrInvalidBorrow
	}

	if !rec.startReturning() {
		if rec.getState() == stateAbandoned {
			return nil
		}
		return ErrIllegalState
	}

	now := clock.Millis(p.clk.Now())
	activeTime := time.Duration(rec.activeTimeMillis(now)) * time.Millisecond

	finishDestroyed := func(reason DestroyReason) {
		p.destroyRecord(ctx, rec, reason)
		p.ensureIdle(ctx, 1, false)
		p.stats.returned.IncrementAndGet()
		p.stats.activeTimes.record(activeTime)
	}

	if p.config.TestOnReturn && !p.factory.ValidateObject(ctx, rec.instance) {
		finishDestroyed(ReasonValidationFailed)
		return nil
	}
	if err := p.factory.PassivateObject(ctx, rec.instance); err != nil {
		finishDestroyed(ReasonPassivationFailed)
		return nil
	}

	now = clock.Millis(p.clk.Now())
	if !rec.deallocate(now) {
		return ErrIllegalState
	}

	if p.isClosed() || (p.config.MaxIdle >= 0 && p.idle.Size() >= p.config.MaxIdle) {
		p.destroyRecord(ctx, rec, ReasonNormal)
	} else {
		p.pushIdle(rec)
		if p.isClosed() {
			p.Clear(ctx)
		}
	}
	p.stats.returned.IncrementAndGet()
	p.stats.activeTimes.record(activeTime)
	return nil
}

// Invalidate unconditionally destroys a borrowed instance (spec §4.3.3).
// Invalidating an already-abandoned or already-invalid record is a no-op,
// the Open Question decision recorded in DESIGN.md.
func (p *ObjectPool[T]) Invalidate(ctx context.Context, b *Borrowed[T]) error {
	if b == nil {
		return ErrIllegalState
	}
	rec := b.record
	p.mu.Lock()
	owned := p.allObjects[rec.id] == rec
	p.mu.Unlock()
	if !owned && !b.consumed.Load() {
		if s := rec.getState(); s != stateAbandoned && s != stateInvalid {
			// The handle was never borrowed from this pool.
			return ErrIllegalState
		}
	}
	if !b.markConsumed() {
		return ErrInvalidBorrow
	}
	switch rec.getState() {
	case stateAbandoned, stateInvalid:
		return nil
	}
	p.destroyRecord(ctx, rec, ReasonNormal)
	p.ensureIdle(ctx, 1, false)
	return nil
}

// Clear destroys every idle record without affecting checked-out ones.
func (p *ObjectPool[T]) Clear(ctx context.Context) {
	for {
		rec, ok := p.idle.PollFirst()
		if !ok {
			return
		}
		p.destroyRecord(ctx, rec, ReasonNormal)
	}
}

// Close destroys all idle records, stops background tasks, wakes every
// blocked borrower with ErrClosed, and makes subsequent Borrow calls fail.
// Idempotent.
func (p *ObjectPool[T]) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.stopEvictor()
	p.Clear(ctx)
	p.idle.InterruptTakeWaiters()
	return nil
}

// NumIdle returns the number of idle records.
func (p *ObjectPool[T]) NumIdle() int { return p.idle.Size() }

// NumActive returns the number of currently allocated records.
func (p *ObjectPool[T]) NumActive() int {
	p.mu.Lock()
	total := len(p.allObjects)
	p.mu.Unlock()
	return total - p.idle.Size()
}

// NumWaiters returns the number of goroutines currently blocked in Borrow.
func (p *ObjectPool[T]) NumWaiters() int { return p.idle.NumWaiters() }

// Stats returns a point-in-time snapshot of the pool's counters and gauges.
func (p *ObjectPool[T]) Stats() PoolStats {
	return p.stats.snapshot(p.NumActive(), p.NumIdle(), p.NumWaiters())
}

func (p *ObjectPool[T]) startEvictor(period time.Duration) {
	p.evictionMu.Lock()
	defer p.evictionMu.Unlock()
	if p.evictionCancel != nil {
		p.evictionCancel()
		p.evictionCancel = nil
	}
	if period <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.evictionCancel = cancel
	eg, egCtx := errgroup.WithContext(ctx)
	p.eg = eg
	eg.Go(func() error {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-egCtx.Done():
				return nil
			case <-ticker.C:
				p.runEvictionSweep(egCtx)
			}
		}
	})
}

func (p *ObjectPool[T]) stopEvictor() {
	p.evictionMu.Lock()
	cancel := p.evictionCancel
	eg := p.eg
	p.evictionCancel = nil
	p.eg = nil
	p.evictionMu.Unlock()
	if cancel != nil {
		cancel()
	}
	if eg != nil {
		_ = eg.Wait()
	}
}

// pollOldestIdle removes the oldest idle record for eviction examination.
// The deque's natural head is newest under Lifo (AddFirst on return), so
// oldest-first means popping the tail; under Fifo the head is already
// oldest.
func (p *ObjectPool[T]) pollOldestIdle() (*PooledObject[T], bool) {
	if p.config.Lifo {
		return p.idle.PollLast()
	}
	return p.idle.PollFirst()
}

// peekOldestIdle returns the oldest idle record without removing it, for
// KeyedObjectPool's cross-key LRU eviction (spec §4.6). Because it does not
// remove the record, a peeked record can still be taken by a concurrent
// Borrow or eviction sweep before the caller acts on it, which is why
// evictOneIdleForSpace re-checks with RemoveFirstOccurrence.
func (p *ObjectPool[T]) peekOldestIdle() (*PooledObject[T], bool) {
	snap := p.idle.EvictionSnapshot(p.config.Lifo)
	if len(snap) == 0 {
		return nil, false
	}
	return snap[0], true
}

// pushBackOldest reinserts a surviving eviction candidate at the end it was
// popped from, preserving relative age ordering for the next sweep.
func (p *ObjectPool[T]) pushBackOldest(rec *PooledObject[T]) {
	if p.config.Lifo {
		p.idle.AddLast(rec)
	} else {
		p.idle.AddFirst(rec)
	}
}

func (p *ObjectPool[T]) getNumTests() int {
	n := p.config.NumTestsPerEvictionRun
	idleCount := p.idle.Size()
	if n >= 0 {
		if n < idleCount {
			return n
		}
		return idleCount
	}
	return int(math.Ceil(float64(idleCount) / math.Abs(float64(n))))
}

// runEvictionSweep implements the eviction engine's periodic pass (spec
// §4.4): examine up to N candidates oldest-first, evict by idle-time policy
// or failed test_while_idle validation, then replenish to min_idle.
//
// Unlike the teacher, which walks a live iterator over its idle deque (its
// sibling collections package isn't in this retrieval pack to reconstruct
// faithfully), each candidate here is physically popped from the idle deque
// before examination and only reinserted if it survives. This sidesteps the
// teacher's race between the evictor's iterator and a concurrent borrow
// poaching the same record mid-test, at the cost of a record being briefly
// absent from the idle store (not observably different from a borrow having
// taken it, since EVICTION and ALLOCATED are both "not idle" states).
func (p *ObjectPool[T]) runEvictionSweep(ctx context.Context) {
	defer func() {
		if ac := p.config.Abandoned; ac != nil && ac.RemoveAbandonedOnMaintenance {
			p.removeAbandoned(ctx, ac)
		}
	}()

	if p.idle.Size() == 0 {
		p.ensureMinIdle(ctx)
		return
	}

	cfg := EvictionConfig{
		IdleEvictTime:     p.config.MinEvictableIdleTime,
		IdleSoftEvictTime: p.config.SoftMinEvictableIdleTime,
		MinIdle:           p.config.MinIdle,
	}

	for i, n := 0, p.getNumTests(); i < n; i++ {
		rec, ok := p.pollOldestIdle()
		if !ok {
			break
		}
		if !rec.startEvictionTest() {
			// The popped record was no longer IDLE (another path already
			// changed its state); it has left the idle store via
			// PollFirst/PollLast, so there's nothing left to reconcile.
			continue
		}

		now := clock.Millis(p.clk.Now())
		idleDur := time.Duration(rec.idleTimeMillis(now)) * time.Millisecond
		candidate := EvictionCandidate{IdleTime: idleDur, IdleCount: p.idle.Size() + 1}

		if p.policy.Evict(cfg, candidate) {
			rec.endEvictionTest(false)
			p.destroyRecord(ctx, rec, ReasonEviction)
			p.stats.destroyedByEviction.IncrementAndGet()
			continue
		}

		if p.config.TestWhileIdle && !p.testWhileIdle(ctx, rec) {
			rec.endEvictionTest(false)
			p.destroyRecord(ctx, rec, ReasonEviction)
			p.stats.destroyedByEviction.IncrementAndGet()
			continue
		}

		rec.endEvictionTest(true)
		p.pushBackOldest(rec)
	}

	p.ensureMinIdle(ctx)
}

func (p *ObjectPool[T]) testWhileIdle(ctx context.Context, rec *PooledObject[T]) bool {
	if err := p.factory.ActivateObject(ctx, rec.instance); err != nil {
		return false
	}
	if !p.factory.ValidateObject(ctx, rec.instance) {
		return false
	}
	if err := p.factory.PassivateObject(ctx, rec.instance); err != nil {
		return false
	}
	return true
}
