package objectpool

import (
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"
)

// logger is the package-level diagnostic logger, stored as an atomic
// pointer so it can be read and replaced concurrently with pool operations.
// This mirrors giantswarm-k8senv/internal/core/log.go's pattern. It is
// distinct from AbandonedConfig.LogWriter: this logger carries internal
// events the caller has no other way to observe (currently only factory
// DestroyObject failures, which are otherwise swallowed); LogWriter carries
// the spec-mandated, exactly-formatted abandonment record (below).
var logger atomic.Pointer[slog.Logger]
var defaultLogger atomic.Pointer[slog.Logger]

// SetLogger replaces the package-level diagnostic logger. Pass nil to reset
// to a cached default derived from slog.Default() with a "component"
// attribute, re-derived on the next Logger() call.
func SetLogger(l *slog.Logger) {
	logger.Store(l)
	defaultLogger.Store(nil)
}

// Logger returns the current package-level diagnostic logger.
func Logger() *slog.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	l := slog.Default().With("component", "objectpool")
	if defaultLogger.CompareAndSwap(nil, l) {
		return l
	}
	if l2 := defaultLogger.Load(); l2 != nil {
		return l2
	}
	return l
}

// formatAbandonedRecord renders the exact plain-text format spec §6
// requires for an abandonment log entry. createdAt is ISO-8601 in the
// pool's local time zone, per spec.
func formatAbandonedRecord(createdAt time.Time, createTrace, useTrace string) string {
	if createTrace == "" {
		createTrace = "unknown"
	}
	if useTrace == "" {
		useTrace = "unknown"
	}
	return fmt.Sprintf(
		"Pooled object created %s by %s\nThe last code to use this object was:\n%s\n",
		createdAt.Local().Format("2006-01-02T15:04:05.000Z07:00"),
		createTrace,
		useTrace,
	)
}

// writeAbandonedRecord writes the formatted record to w, swallowing write
// errors: a misbehaving log sink must not block reclamation (the same
// swallow-factory-destroy-errors rule spec §7 applies to DestroyObject
// applies here by the same reasoning).
func writeAbandonedRecord(w io.Writer, createdAt time.Time, createTrace, useTrace string) {
	if w == nil {
		return
	}
	_, _ = io.WriteString(w, formatAbandonedRecord(createdAt, createTrace, useTrace))
}
