package dataset

import "sync"

// KeyedLock serializes dataset mutation against concurrent reads, one
// read-write lock per dataset path. Without it two ingestions for the same
// identity/pack can race a rebuild against a live query and surface a
// half-replaced dataset. Entries are reference counted so the map does not
// grow with every path ever touched.
type KeyedLock struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	refs int
	mu   sync.RWMutex
}

func NewKeyedLock() *KeyedLock {
	return &KeyedLock{entries: make(map[string]*lockEntry)}
}

// Lock acquires the write lock for key and returns the release func.
func (l *KeyedLock) Lock(key string) func() {
	entry := l.acquire(key)
	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.release(key)
	}
}

// RLock acquires the read lock for key and returns the release func.
func (l *KeyedLock) RLock(key string) func() {
	entry := l.acquire(key)
	entry.mu.RLock()
	return func() {
		entry.mu.RUnlock()
		l.release(key)
	}
}

func (l *KeyedLock) acquire(key string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := l.entries[key]
	if entry == nil {
		entry = &lockEntry{}
		l.entries[key] = entry
	}
	entry.refs++
	return entry
}

func (l *KeyedLock) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := l.entries[key]
	if entry == nil {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(l.entries, key)
	}
}
