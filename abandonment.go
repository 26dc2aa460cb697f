package objectpool

import (
	"context"
	"time"

	"github.com/arrowlabs/objectpool/internal/clock"
)

// removeAbandoned implements the Abandonment Detector pass (spec §4.5),
// shared between a synchronous run at borrow time and the periodic run at
// the end of every eviction sweep. It is also the sole consumer of
// PooledObject.markAbandoned, and the sole source of ReasonAbandoned
// destroys.
func (p *ObjectPool[T]) removeAbandoned(ctx context.Context, ac *AbandonedConfig) {
	now := clock.Millis(p.clk.Now())
	deadline := now - ac.AbandonedTimeout.Milliseconds()

	p.mu.Lock()
	candidates := make([]*PooledObject[T], 0, len(p.allObjects))
	for _, rec := range p.allObjects {
		if rec.getState() != stateAllocated {
			continue
		}
		if rec.lastActiveTime(ac.UseUsageTracking) <= deadline {
			candidates = append(candidates, rec)
		}
	}
	p.mu.Unlock()

	for _, rec := range candidates {
		if !rec.markAbandoned() {
			// Lost the race to a legitimate concurrent Return; the caller
			// wasn't actually misbehaving.
			continue
		}
		createdAt, createTrace, useTrace := rec.snapshotTraces()
		if ac.LogAbandoned {
			writeAbandonedRecord(ac.LogWriter, time.UnixMilli(createdAt), createTrace, useTrace)
		}
		p.destroyRecord(ctx, rec, ReasonAbandoned)
		p.stats.destroyedByAbandonment.IncrementAndGet()
		p.ensureIdle(ctx, 1, false)
	}
}
