// Package objectpool implements a generic, in-process object pool: a
// bounded set of reusable, expensive-to-create instances moved through a
// create/activate/validate/passivate/destroy lifecycle and shared across
// goroutines via a borrow/return protocol.
//
// The zero-key entry point is ObjectPool[T]; KeyedObjectPool[K, T] wraps a
// dynamic set of such pools behind a shared key, enforcing both per-key and
// global caps. Both variants can run an idle-object evictor as a background
// goroutine tied to the pool's lifetime (enabled by a positive
// TimeBetweenEvictionRuns). The optional abandoned-borrow detector has no
// goroutine of its own: it runs at the start of Borrow, at the end of each
// evictor sweep, or both.
//
// The pool does not create, destroy, validate, activate, or passivate
// instances itself — that is the caller-supplied PooledObjectFactory's job.
package objectpool
