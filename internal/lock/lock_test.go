package lock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docpipe/internal/lock"
)

func TestMemoryLocker_ExclusiveUntilRelease(t *testing.T) {
	ctx := context.Background()
	l := lock.NewMemoryLocker()

	ok, err := l.TryAcquire(ctx, lock.ParseKey("h1"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.TryAcquire(ctx, lock.ParseKey("h1"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must observe the held lock")

	ok, err = l.TryAcquire(ctx, lock.ParseKey("h2"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "different keys are independent")

	require.NoError(t, l.Release(ctx, lock.ParseKey("h1")))
	ok, err = l.TryAcquire(ctx, lock.ParseKey("h1"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLocker_ExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	l := lock.NewMemoryLocker()

	ok, _ := l.TryAcquire(ctx, lock.RerunKey(9), 30*time.Millisecond)
	require.True(t, ok)

	time.Sleep(60 * time.Millisecond)
	ok, err := l.TryAcquire(ctx, lock.RerunKey(9), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLocker_ReleaseUnknownKey(t *testing.T) {
	assert.NoError(t, lock.NewMemoryLocker().Release(context.Background(), "missing"))
}

func TestKeyedMutex_SerializesPerKey(t *testing.T) {
	km := lock.NewKeyedMutex()
	var mu sync.Mutex
	active, maxActive := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock(1)
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive)
	assert.Equal(t, 0, km.Len())
}

func TestKeyedMutex_DifferentKeysDoNotBlock(t *testing.T) {
	km := lock.NewKeyedMutex()
	unlock1 := km.Lock(1)
	done := make(chan struct{})
	go func() {
		unlock2 := km.Lock(2)
		unlock2()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
	unlock1()
}
