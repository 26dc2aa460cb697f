package objectpool

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"
)

// KeyedPooledObjectFactory is the key-aware counterpart of
// PooledObjectFactory, used by KeyedObjectPool. The key is threaded through
// every hook because construction (and often validation) of an instance
// typically depends on which key it was borrowed for (spec §4.7
// "create(key?)").
type KeyedPooledObjectFactory[K comparable, T any] interface {
	MakeObject(ctx context.Context, key K) (T, error)
	DestroyObject(ctx context.Context, key K, obj T, reason DestroyReason) error
	ValidateObject(ctx context.Context, key K, obj T) bool
	ActivateObject(ctx context.Context, key K, obj T) error
	PassivateObject(ctx context.Context, key K, obj T) error
}

// KeyedObjectPoolConfig configures a KeyedObjectPool. Per-key fields bound
// each sub-pool; MaxTotal bounds the sum across every key (spec §4.6).
type KeyedObjectPoolConfig struct {
	MaxTotal int // -1 = unbounded, across all keys combined

	MaxPerKey     int
	MaxIdlePerKey int
	MinIdlePerKey int

	MaxWait         time.Duration
	ExhaustedAction ExhaustedAction

	Lifo     bool
	Fairness bool

	TestOnCreate  bool
	TestOnBorrow  bool
	TestOnReturn  bool
	TestWhileIdle bool

	TimeBetweenEvictionRuns  time.Duration
	NumTestsPerEvictionRun   int
	MinEvictableIdleTime     time.Duration
	SoftMinEvictableIdleTime time.Duration
	EvictionPolicyName       string

	UseUsageTracking bool

	Abandoned *AbandonedConfig
}

// NewDefaultKeyedPoolConfig mirrors NewDefaultPoolConfig's defaults, with
// MaxTotal (the cross-key cap) left unbounded by default since a sensible
// default depends entirely on the expected key cardinality.
func NewDefaultKeyedPoolConfig() *KeyedObjectPoolConfig {
	return &KeyedObjectPoolConfig{
		MaxTotal:                 -1,
		MaxPerKey:                8,
		MaxIdlePerKey:            8,
		MinIdlePerKey:            0,
		MaxWait:                  -1,
		ExhaustedAction:          ExhaustedBlock,
		Lifo:                     true,
		Fairness:                 false,
		TimeBetweenEvictionRuns:  0,
		NumTestsPerEvictionRun:   3,
		MinEvictableIdleTime:     30 * time.Minute,
		SoftMinEvictableIdleTime: -1,
		EvictionPolicyName:       DefaultEvictionPolicyName,
	}
}

// KeyedPoolOption mutates a KeyedObjectPoolConfig snapshot at construction.
type KeyedPoolOption func(*KeyedObjectPoolConfig)

// WithKeyedMaxTotal caps Σ|allocated(k)| + Σ|idle(k)| across every key.
func WithKeyedMaxTotal(n int) KeyedPoolOption {
	requireAtLeast("MaxTotal", n, -1)
	return func(c *KeyedObjectPoolConfig) { c.MaxTotal = n }
}

// WithMaxPerKey caps concurrently allocated records for a single key.
func WithMaxPerKey(n int) KeyedPoolOption {
	requireAtLeast("MaxPerKey", n, -1)
	return func(c *KeyedObjectPoolConfig) { c.MaxPerKey = n }
}

// WithMaxIdlePerKey caps idle records retained per key.
func WithMaxIdlePerKey(n int) KeyedPoolOption {
	requireAtLeast("MaxIdlePerKey", n, -1)
	return func(c *KeyedObjectPoolConfig) { c.MaxIdlePerKey = n }
}

// WithMinIdlePerKey sets the per-key idle floor the evictor replenishes to.
func WithMinIdlePerKey(n int) KeyedPoolOption {
	requireAtLeast("MinIdlePerKey", n, 0)
	return func(c *KeyedObjectPoolConfig) { c.MinIdlePerKey = n }
}

// WithKeyedMaxWait sets how long a BLOCK borrow waits.
func WithKeyedMaxWait(d time.Duration) KeyedPoolOption {
	return func(c *KeyedObjectPoolConfig) { c.MaxWait = d }
}

// WithKeyedExhaustedAction selects FAIL/BLOCK/GROW behavior per sub-pool.
func WithKeyedExhaustedAction(a ExhaustedAction) KeyedPoolOption {
	return func(c *KeyedObjectPoolConfig) { c.ExhaustedAction = a }
}

// WithKeyedLifo selects LIFO or FIFO idle selection order within each key.
func WithKeyedLifo(lifo bool) KeyedPoolOption {
	return func(c *KeyedObjectPoolConfig) { c.Lifo = lifo }
}

// WithKeyedFairness enables FIFO release order among a key's waiters.
func WithKeyedFairness(fair bool) KeyedPoolOption {
	return func(c *KeyedObjectPoolConfig) { c.Fairness = fair }
}

// WithKeyedTestOnBorrow validates every record before it is handed out.
func WithKeyedTestOnBorrow(b bool) KeyedPoolOption {
	return func(c *KeyedObjectPoolConfig) { c.TestOnBorrow = b }
}

// WithKeyedTestOnReturn validates a record before it re-enters idle.
func WithKeyedTestOnReturn(b bool) KeyedPoolOption {
	return func(c *KeyedObjectPoolConfig) { c.TestOnReturn = b }
}

// WithKeyedTestWhileIdle validates idle records during evictor sweeps.
func WithKeyedTestWhileIdle(b bool) KeyedPoolOption {
	return func(c *KeyedObjectPoolConfig) { c.TestWhileIdle = b }
}

// WithKeyedTimeBetweenEvictionRuns sets each sub-pool's evictor period.
func WithKeyedTimeBetweenEvictionRuns(d time.Duration) KeyedPoolOption {
	return func(c *KeyedObjectPoolConfig) { c.TimeBetweenEvictionRuns = d }
}

// WithKeyedMinEvictableIdleTime sets the hard idle-time eviction threshold.
func WithKeyedMinEvictableIdleTime(d time.Duration) KeyedPoolOption {
	return func(c *KeyedObjectPoolConfig) { c.MinEvictableIdleTime = d }
}

// WithKeyedAbandonedConfig attaches abandonment reclamation to every
// sub-pool.
func WithKeyedAbandonedConfig(ac *AbandonedConfig) KeyedPoolOption {
	return func(c *KeyedObjectPoolConfig) { c.Abandoned = ac }
}

func validateKeyedConfig(c *KeyedObjectPoolConfig) error {
	if c.MaxTotal < -1 {
		return fmt.Errorf("objectpool: MaxTotal must be >= -1, got %d", c.MaxTotal)
	}
	if c.MaxPerKey < -1 {
		return fmt.Errorf("objectpool: MaxPerKey must be >= -1, got %d", c.MaxPerKey)
	}
	if c.MaxIdlePerKey < -1 {
		return fmt.Errorf("objectpool: MaxIdlePerKey must be >= -1, got %d", c.MaxIdlePerKey)
	}
	if c.MinIdlePerKey < 0 {
		return fmt.Errorf("objectpool: MinIdlePerKey must be >= 0, got %d", c.MinIdlePerKey)
	}
	if _, ok := GetEvictionPolicy(c.EvictionPolicyName); !ok {
		return fmt.Errorf("objectpool: unknown eviction policy %q", c.EvictionPolicyName)
	}
	if c.Abandoned != nil && c.Abandoned.LogAbandoned && c.Abandoned.LogWriter == nil {
		return fmt.Errorf("objectpool: AbandonedConfig.LogAbandoned requires a LogWriter")
	}
	return nil
}

// globalLimiter enforces KeyedObjectPoolConfig.MaxTotal across every
// sub-pool. It is deliberately a plain mutex-guarded counter rather than a
// semaphore: the cross-key LRU eviction path (evictOneIdleForSpace) needs to
// inspect-then-possibly-free-then-reserve as one conceptual step, which a
// channel-based semaphore makes awkward.
type globalLimiter struct {
	mu    sync.Mutex
	count int
	max   int
}

func (g *globalLimiter) tryReserve() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.max >= 0 && g.count >= g.max {
		return false
	}
	g.count++
	return true
}

func (g *globalLimiter) release() {
	g.mu.Lock()
	g.count--
	g.mu.Unlock()
}

// keyedFactoryAdapter lets a per-key sub-pool be an ordinary *ObjectPool[T]:
// it satisfies PooledObjectFactory[T] by closing over the key and
// delegating to the keyed factory, and is additionally where the global
// cross-key cap is enforced (on create) and released (on destroy).
type keyedFactoryAdapter[K comparable, T any] struct {
	outer *KeyedObjectPool[K, T]
	key   K
	kf    KeyedPooledObjectFactory[K, T]
}

func (a *keyedFactoryAdapter[K, T]) MakeObject(ctx context.Context) (T, error) {
	if !a.outer.global.tryReserve() {
		// evictOneIdleForSpace only frees a slot; it doesn't claim it, since
		// some other concurrent creator could win the race for it first.
		if !a.outer.evictOneIdleForSpace(a.key) || !a.outer.global.tryReserve() {
			// errCapacityReached, not ErrNoSuchElement: this is the global
			// cap reporting "no room, nothing to evict", the same routine
			// outcome reserveCreate's local cap check reports by returning
			// nil, nil. The sub-pool's own finishCreate recognizes the
			// sentinel and reports it the same way, so its Borrow loop falls
			// through to handleExhausted and honors FAIL/BLOCK/GROW instead
			// of treating the global cap as a hard factory failure.
			var zero T
			return zero, errCapacityReached
		}
	}
	obj, err := a.kf.MakeObject(ctx, a.key)
	if err != nil {
		// No record was created, so give back the slot reserved for it.
		a.outer.global.release()
	}
	return obj, err
}

func (a *keyedFactoryAdapter[K, T]) DestroyObject(ctx context.Context, obj T, reason DestroyReason) error {
	a.outer.global.release()
	return a.kf.DestroyObject(ctx, a.key, obj, reason)
}

func (a *keyedFactoryAdapter[K, T]) ValidateObject(ctx context.Context, obj T) bool {
	return a.kf.ValidateObject(ctx, a.key, obj)
}

func (a *keyedFactoryAdapter[K, T]) ActivateObject(ctx context.Context, obj T) error {
	return a.kf.ActivateObject(ctx, a.key, obj)
}

func (a *keyedFactoryAdapter[K, T]) PassivateObject(ctx context.Context, obj T) error {
	return a.kf.PassivateObject(ctx, a.key, obj)
}

// KeyedObjectPool multiplexes a family of per-key sub-pools behind a single
// facade, with a two-level lock discipline matching spec §4.6: the outer
// lock (mu) protects only the key→sub-pool map and is never held across a
// sub-pool's blocking calls; each sub-pool carries its own lock internally.
type KeyedObjectPool[K comparable, T any] struct {
	kf     KeyedPooledObjectFactory[K, T]
	config KeyedObjectPoolConfig
	global *globalLimiter

	mu     sync.Mutex
	pools  map[K]*ObjectPool[T]
	closed bool
}

// NewKeyedObjectPool constructs a keyed pool backed by kf.
func NewKeyedObjectPool[K comparable, T any](kf KeyedPooledObjectFactory[K, T], opts ...KeyedPoolOption) (*KeyedObjectPool[K, T], error) {
	cfg := NewDefaultKeyedPoolConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := validateKeyedConfig(cfg); err != nil {
		return nil, err
	}
	return &KeyedObjectPool[K, T]{
		kf:     kf,
		config: *cfg,
		pools:  make(map[K]*ObjectPool[T]),
		global: &globalLimiter{max: cfg.MaxTotal},
	}, nil
}

// getOrCreateSubPool finds or lazily constructs the sub-pool for key. The
// outer lock is released before NewObjectPool runs (which may itself run
// preparePool synchronously), so it is never held across a sub-pool
// operation — the fix for POOL-407 spec §9 calls out.
func (kp *KeyedObjectPool[K, T]) getOrCreateSubPool(key K) (*ObjectPool[T], error) {
	kp.mu.Lock()
	if kp.closed {
		kp.mu.Unlock()
		return nil, ErrClosed
	}
	if sp, ok := kp.pools[key]; ok {
		kp.mu.Unlock()
		return sp, nil
	}
	kp.mu.Unlock()

	adapter := &keyedFactoryAdapter[K, T]{outer: kp, key: key, kf: kp.kf}
	sp, err := NewObjectPool[T](adapter,
		WithMaxTotal(kp.config.MaxPerKey),
		WithMaxIdle(kp.config.MaxIdlePerKey),
		WithMinIdle(kp.config.MinIdlePerKey),
		WithMaxWait(kp.config.MaxWait),
		WithExhaustedAction(kp.config.ExhaustedAction),
		WithLifo(kp.config.Lifo),
		WithFairness(kp.config.Fairness),
		WithTestOnCreate(kp.config.TestOnCreate),
		WithTestOnBorrow(kp.config.TestOnBorrow),
		WithTestOnReturn(kp.config.TestOnReturn),
		WithTestWhileIdle(kp.config.TestWhileIdle),
		WithTimeBetweenEvictionRuns(kp.config.TimeBetweenEvictionRuns),
		WithNumTestsPerEvictionRun(kp.config.NumTestsPerEvictionRun),
		WithMinEvictableIdleTime(kp.config.MinEvictableIdleTime),
		WithSoftMinEvictableIdleTime(kp.config.SoftMinEvictableIdleTime),
		WithEvictionPolicyName(kp.config.EvictionPolicyName),
		WithUseUsageTracking(kp.config.UseUsageTracking),
		WithAbandonedConfig(kp.config.Abandoned),
	)
	if err != nil {
		return nil, err
	}

	kp.mu.Lock()
	defer kp.mu.Unlock()
	if kp.closed {
		go func() { _ = sp.Close(context.Background()) }()
		return nil, ErrClosed
	}
	if existing, ok := kp.pools[key]; ok {
		// Lost the race to build this key's sub-pool; use the winner's and
		// discard ours (it never served a borrow, so this is just a wasted
		// construction, not a leak).
		go func() { _ = sp.Close(context.Background()) }()
		return existing, nil
	}
	kp.pools[key] = sp
	return sp, nil
}

// Borrow obtains an instance for key, lazily creating its sub-pool.
func (kp *KeyedObjectPool[K, T]) Borrow(ctx context.Context, key K) (*Borrowed[T], error) {
	sp, err := kp.getOrCreateSubPool(key)
	if err != nil {
		return nil, err
	}
	return sp.Borrow(ctx)
}

// Return releases a borrowed instance back to key's sub-pool.
func (kp *KeyedObjectPool[K, T]) Return(ctx context.Context, key K, b *Borrowed[T]) error {
	sp, ok := kp.subPool(key)
	if !ok {
		return ErrIllegalState
	}
	return sp.Return(ctx, b)
}

// Invalidate unconditionally destroys a borrowed instance for key.
func (kp *KeyedObjectPool[K, T]) Invalidate(ctx context.Context, key K, b *Borrowed[T]) error {
	sp, ok := kp.subPool(key)
	if !ok {
		return ErrIllegalState
	}
	return sp.Invalidate(ctx, b)
}

// AddObjectForKey eagerly creates one idle instance under key.
func (kp *KeyedObjectPool[K, T]) AddObjectForKey(ctx context.Context, key K) error {
	sp, err := kp.getOrCreateSubPool(key)
	if err != nil {
		return err
	}
	return sp.AddObject(ctx)
}

// ClearKey destroys every idle record under key and, once the sub-pool is
// completely quiet (no active borrows, no blocked waiters), retires it from
// the keyed pool entirely so a key that will never be touched again doesn't
// keep its evictor goroutine and ticker running forever (spec §4.6 key
// lifecycle). A sub-pool with active borrows or pending waiters is left
// registered, since those will return idle records or wake on it later.
func (kp *KeyedObjectPool[K, T]) ClearKey(ctx context.Context, key K) {
	sp, ok := kp.subPool(key)
	if !ok {
		return
	}
	sp.Clear(ctx)

	kp.mu.Lock()
	defer kp.mu.Unlock()
	cur, ok := kp.pools[key]
	if !ok || cur != sp {
		return
	}
	if sp.NumActive() != 0 || sp.NumWaiters() != 0 {
		return
	}
	delete(kp.pools, key)
	go func() { _ = sp.Close(context.Background()) }()
}

// Clear destroys every idle record across every key.
func (kp *KeyedObjectPool[K, T]) Clear(ctx context.Context) {
	for _, sp := range kp.snapshotPools() {
		sp.Clear(ctx)
	}
}

// Close closes every sub-pool and rejects subsequent Borrow calls for new or
// existing keys. Idempotent.
func (kp *KeyedObjectPool[K, T]) Close(ctx context.Context) error {
	kp.mu.Lock()
	if kp.closed {
		kp.mu.Unlock()
		return nil
	}
	kp.closed = true
	pools := make([]*ObjectPool[T], 0, len(kp.pools))
	for _, sp := range kp.pools {
		pools = append(pools, sp)
	}
	kp.mu.Unlock()

	for _, sp := range pools {
		_ = sp.Close(ctx)
	}
	return nil
}

func (kp *KeyedObjectPool[K, T]) subPool(key K) (*ObjectPool[T], bool) {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	sp, ok := kp.pools[key]
	return sp, ok
}

func (kp *KeyedObjectPool[K, T]) snapshotPools() []*ObjectPool[T] {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	out := make([]*ObjectPool[T], 0, len(kp.pools))
	for _, sp := range kp.pools {
		out = append(out, sp)
	}
	return out
}

// NumActiveForKey returns the number of allocated records under key.
func (kp *KeyedObjectPool[K, T]) NumActiveForKey(key K) int {
	if sp, ok := kp.subPool(key); ok {
		return sp.NumActive()
	}
	return 0
}

// NumIdleForKey returns the number of idle records under key.
func (kp *KeyedObjectPool[K, T]) NumIdleForKey(key K) int {
	if sp, ok := kp.subPool(key); ok {
		return sp.NumIdle()
	}
	return 0
}

// TotalActive returns Σ|allocated(k)| across every key.
func (kp *KeyedObjectPool[K, T]) TotalActive() int {
	total := 0
	for _, sp := range kp.snapshotPools() {
		total += sp.NumActive()
	}
	return total
}

// TotalIdle returns Σ|idle(k)| across every key.
func (kp *KeyedObjectPool[K, T]) TotalIdle() int {
	total := 0
	for _, sp := range kp.snapshotPools() {
		total += sp.NumIdle()
	}
	return total
}

// lruCandidate is one key's oldest idle record, for cross-key LRU selection.
type lruCandidate[K comparable, T any] struct {
	key        K
	pool       *ObjectPool[T]
	rec        *PooledObject[T]
	lastReturn int64
}

// lruHeap is a min-heap over lruCandidate by lastReturn, implementing
// container/heap.Interface. Rebuilt fresh on every call rather than kept
// live across mutations: the expected key cardinality for this kind of pool
// is small to moderate, and a persistent heap synchronized against N
// independent sub-pool locks is considerably more complex for no measurable
// benefit at that scale.
type lruHeap[K comparable, T any] []lruCandidate[K, T]

func (h lruHeap[K, T]) Len() int            { return len(h) }
func (h lruHeap[K, T]) Less(i, j int) bool  { return h[i].lastReturn < h[j].lastReturn }
func (h lruHeap[K, T]) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *lruHeap[K, T]) Push(x interface{}) { *h = append(*h, x.(lruCandidate[K, T])) }
func (h *lruHeap[K, T]) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// evictOneIdleForSpace destroys the least-recently-returned idle record
// across every key other than excludeKey, to free a slot under the global
// cap (spec §4.6 "Global-cap eviction for idle"). It reports whether it
// freed one.
func (kp *KeyedObjectPool[K, T]) evictOneIdleForSpace(excludeKey K) bool {
	h := &lruHeap[K, T]{}
	for key, sp := range kp.snapshotPoolsExcluding(excludeKey) {
		if rec, ok := sp.peekOldestIdle(); ok {
			heap.Push(h, lruCandidate[K, T]{key: key, pool: sp, rec: rec, lastReturn: rec.lastReturnTimeMillis()})
		}
	}
	for h.Len() > 0 {
		victim := heap.Pop(h).(lruCandidate[K, T])
		if victim.pool.idle.RemoveFirstOccurrence(victim.rec) {
			victim.pool.destroyRecord(context.Background(), victim.rec, ReasonNormal)
			return true
		}
		// Raced with something else claiming the same record; try the next
		// LRU candidate instead of giving up.
	}
	return false
}

func (kp *KeyedObjectPool[K, T]) snapshotPoolsExcluding(excludeKey K) map[K]*ObjectPool[T] {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	out := make(map[K]*ObjectPool[T], len(kp.pools))
	for k, sp := range kp.pools {
		if k == excludeKey {
			continue
		}
		out[k] = sp
	}
	return out
}
