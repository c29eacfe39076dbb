package domain

import (
	"context"
	"time"
)

// Lease is a held lock. Release is idempotent. Lost is closed if the lock
// expires or is taken over while held.
type Lease interface {
	Release()
	Lost() <-chan struct{}
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}
