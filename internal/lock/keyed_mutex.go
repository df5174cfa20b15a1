package lock

import (
	"strconv"
	"sync"
)

// KeyedMutex serializes work per file id. Entries are dropped once no
// goroutine holds or waits for them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[int64]*refMutex)}
}

// Lock blocks until the mutex for id is held and returns its unlock func.
func (k *KeyedMutex) Lock(id int64) func() {
	k.mu.Lock()
	m, ok := k.locks[id]
	if !ok {
		m = &refMutex{}
		k.locks[id] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}

// Len returns the number of ids currently held or awaited.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// Key helpers for advisory locks.
func ParseKey(contentHash string) string { return "parse:" + contentHash }
func RerunKey(fileID int64) string       { return "rerun:" + strconv.FormatInt(fileID, 10) }

// CacheKey is per file: cache artifacts live under cache/<file_id>/.
func CacheKey(contentHash string, fileID int64) string {
	return "cache:" + contentHash + ":" + strconv.FormatInt(fileID, 10)
}
