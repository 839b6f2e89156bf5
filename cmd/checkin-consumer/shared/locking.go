package shared

import (
	"context"
	"time"
)

// Lock is a held distributed lock lease.
type Lock interface {
	Release(ctx context.Context)
}

// Locker hands out short, non-renewable leases. Acquire fails with
// ErrLockUnavailable when the lock is held elsewhere. Leases are fenced by
// the lock service: a worker that outlives its lease loses mutual exclusion
// and cannot release a successor's lock.
type Locker interface {
	Acquire(ctx context.Context, key string, lease time.Duration) (Lock, error)
}
