package objectpool

import "sync"

// recordState is the lifecycle state of a PooledObject (spec §3).
type recordState int32

const (
	stateIdle recordState = iota
	stateAllocated
	stateEviction
	stateReturning
	stateInvalid
	stateAbandoned
)

func (s recordState) String() string {
	switch s {
	case stateIdle:
		return "IDLE"
	case stateAllocated:
		return "ALLOCATED"
	case stateEviction:
		return "EVICTION"
	case stateReturning:
		return "RETURNING"
	case stateInvalid:
		return "INVALID"
	case stateAbandoned:
		return "ABANDONED"
	default:
		return "UNKNOWN"
	}
}

// PooledObject wraps a single user instance with the bookkeeping the pool
// needs to move it through its lifecycle: state, timestamps, and an
// optional call-site trace used only by the abandonment detector's log
// output. The zero value is not usable; construct with newPooledObject.
type PooledObject[T any] struct {
	id       uint64
	instance T

	mu    sync.Mutex
	state recordState

	createTime     int64 // ms since epoch
	lastBorrowTime int64
	lastReturnTime int64
	lastUseTime    int64
	borrowCount    int64

	createTrace string
	useTrace    string
}

func newPooledObject[T any](id uint64, instance T, now int64) *PooledObject[T] {
	return &PooledObject[T]{
		id:             id,
		instance:       instance,
		state:          stateIdle,
		createTime:     now,
		lastBorrowTime: now,
		lastReturnTime: now,
		lastUseTime:    now,
	}
}

// allocate transitions IDLE -> ALLOCATED, reporting whether it succeeded.
// It fails if another goroutine (the evictor, a racing borrow) has already
// moved the record out of IDLE.
func (p *PooledObject[T]) allocate(now int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != stateIdle {
		return false
	}
	p.state = stateAllocated
	p.lastBorrowTime = now
	p.lastUseTime = now
	p.borrowCount++
	return true
}

// startReturning transitions ALLOCATED -> RETURNING, so the abandonment
// detector stops considering the record a candidate mid-return (spec §4.3.2
// step 2's "Keep from being marked abandoned" equivalent in the teacher).
func (p *PooledObject[T]) startReturning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != stateAllocated {
		return false
	}
	p.state = stateReturning
	return true
}

// deallocate transitions RETURNING -> IDLE.
func (p *PooledObject[T]) deallocate(now int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != stateReturning {
		return false
	}
	p.state = stateIdle
	p.lastReturnTime = now
	return true
}

// invalidate unconditionally marks the record INVALID; destroy is terminal.
func (p *PooledObject[T]) invalidate() {
	p.mu.Lock()
	p.state = stateInvalid
	p.mu.Unlock()
}

// markAbandoned transitions ALLOCATED -> ABANDONED, reporting whether it
// applied (it's a no-op race loss if the caller returned first).
func (p *PooledObject[T]) markAbandoned() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != stateAllocated {
		return false
	}
	p.state = stateAbandoned
	return true
}

// startEvictionTest transitions IDLE -> EVICTION so a concurrent borrow
// skips the record while the evictor examines it.
func (p *PooledObject[T]) startEvictionTest() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != stateIdle {
		return false
	}
	p.state = stateEviction
	return true
}

// endEvictionTest leaves EVICTION. When returnToIdle is true the record goes
// back to IDLE; otherwise the caller is about to destroy it and the state is
// left as EVICTION (destroyRecord will overwrite it with INVALID).
func (p *PooledObject[T]) endEvictionTest(returnToIdle bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != stateEviction {
		return false
	}
	if returnToIdle {
		p.state = stateIdle
	}
	return true
}

func (p *PooledObject[T]) getState() recordState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// touch updates last_use_time, for callers using usage tracking.
func (p *PooledObject[T]) touch(now int64, trace string) {
	p.mu.Lock()
	p.lastUseTime = now
	if trace != "" {
		p.useTrace = trace
	}
	p.mu.Unlock()
}

// idleTimeMillis returns how long the record has been sitting idle as of
// now. Valid to call regardless of current state; callers that need it
// during a borrow call it before the record leaves IDLE, since allocate()
// does not touch lastReturnTime.
func (p *PooledObject[T]) idleTimeMillis(now int64) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return now - p.lastReturnTime
}

// activeTimeMillis returns how long the record has been checked out as of
// now.
func (p *PooledObject[T]) activeTimeMillis(now int64) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return now - p.lastBorrowTime
}

func (p *PooledObject[T]) snapshotTraces() (createdAt int64, createTrace, useTrace string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.createTime, p.createTrace, p.useTrace
}

// lastReturnTimeMillis exposes lastReturnTime for KeyedObjectPool's
// cross-key LRU idle eviction (spec §4.6), which needs to compare
// candidates belonging to different sub-pools.
func (p *PooledObject[T]) lastReturnTimeMillis() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastReturnTime
}

func (p *PooledObject[T]) lastActiveTime(useUsageTracking bool) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if useUsageTracking {
		return p.lastUseTime
	}
	return p.lastBorrowTime
}
