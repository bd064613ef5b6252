package ports

import (
	"context"
	"time"
)

// UnlockFunc is a function that releases a distributed lock.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker coordinates room ownership across replicas: a room is
// only ever driven by the process holding its lock, so two instances never
// mutate the same session.
type DistributedLocker interface {
	// Lock attempts to acquire a distributed lock for the given key (e.g.
	// an interaction id). It blocks until the lock is acquired or the
	// context is canceled. Returns an UnlockFunc that MUST be called to
	// release the lock.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}
