package lock

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotHeld is returned by Release when the lease already expired or
	// was released.
	ErrNotHeld = errors.New("lock: lease not held or already expired")
	// ErrInvalidTTL is returned when a non-positive TTL is requested.
	ErrInvalidTTL = errors.New("lock: ttl must be positive")
)

// Lease is a granted lock. It is valid until released or until its TTL
// elapses, whichever comes first.
type Lease interface {
	Key() string
	Release(ctx context.Context) error
}

// Locker grants leases on string keys.
type Locker interface {
	// TryLock attempts to obtain the lease without waiting.
	TryLock(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error)
	// Acquire blocks until the lease is obtained or ctx is done.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

func unlockTopic(key string) string { return "unlock:" + key }
