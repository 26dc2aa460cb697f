package objectpool

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by pool operations. Use errors.Is to test for
// them; FactoryError additionally supports errors.As/errors.Unwrap to reach
// the underlying factory error.
var (
	// ErrClosed is returned by any operation attempted on a closed pool.
	ErrClosed = errors.New("objectpool: pool is closed")

	// ErrNoSuchElement is returned when a borrow exhausts the pool: a BLOCK
	// wait timed out, or a FAIL exhaustion policy found no idle record and
	// the pool at its cap.
	ErrNoSuchElement = errors.New("objectpool: no idle object available")

	// ErrInvalidBorrow is returned when Return or Invalidate is called with
	// a borrow handle the pool no longer considers checked out, including
	// double-return and double-invalidate of the same handle.
	ErrInvalidBorrow = errors.New("objectpool: borrow handle is no longer valid")

	// ErrInterrupted is returned when a blocked borrow is cancelled via its
	// context before an idle record became available or the wait timed out.
	ErrInterrupted = errors.New("objectpool: borrow was cancelled")

	// ErrIllegalState is returned on pool misuse: returning/invalidating an
	// object that was never borrowed from this pool, or whose state makes
	// the requested transition invalid.
	ErrIllegalState = errors.New("objectpool: illegal pool state")
)

// FactoryError wraps an error returned by a PooledObjectFactory method,
// identifying which operation failed.
type FactoryError struct {
	Op  string
	Err error
}

func (e *FactoryError) Error() string {
	return fmt.Sprintf("objectpool: factory.%s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying factory error to errors.Is/errors.As.
func (e *FactoryError) Unwrap() error { return e.Err }

func wrapFactoryErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &FactoryError{Op: op, Err: err}
}
