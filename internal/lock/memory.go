package lock

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"docpipe/internal/port"
)

type memoryLocker struct {
	mu   sync.Mutex
	held *ttlcache.Cache[string, struct{}]
}

// NewMemoryLocker returns an in-process Locker. Suitable for a single
// replica and for tests.
func NewMemoryLocker() port.Locker {
	return &memoryLocker{
		held: ttlcache.New[string, struct{}](
			ttlcache.WithDisableTouchOnHit[string, struct{}](),
		),
	}
}

func (l *memoryLocker) TryAcquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if item := l.held.Get(key); item != nil && !item.IsExpired() {
		return false, nil
	}
	l.held.Set(key, struct{}{}, ttl)
	return true, nil
}

func (l *memoryLocker) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held.Delete(key)
	return nil
}
