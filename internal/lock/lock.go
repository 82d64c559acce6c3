// Package lock serializes work on a key across goroutines or, with Redis, across processes.
package lock

import (
	"context"
	"errors"
	"time"
)

var ErrNotAcquired = errors.New("lock: not acquired")

type Locker interface {
	// Acquire blocks until the key is held or ctx is done. The returned release is idempotent.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}
