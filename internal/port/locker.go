package port

import (
	"context"
	"time"
)

// Locker provides advisory, TTL-bounded locks keyed by string. Losing a lock
// (expiry, backend failure) is a soft error for callers.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}
