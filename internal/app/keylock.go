package app

import "sync"

// keyedLocks serializes all ledger mutations and gateway calls for one
// logical reminder key. The scheduler and the reconciler both take the key's
// lock before reading the ledger, so neither can act on stale state or issue
// conflicting schedule/cancel pairs. Cross-key operations run concurrently.
//
// Entries are reference counted and removed when the last holder releases,
// so deleted reminders do not leave mutexes behind.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*keyLock)}
}

// lock acquires the mutex for key and returns its unlock function.
func (l *keyedLocks) lock(key string) func() {
	l.mu.Lock()
	k, ok := l.locks[key]
	if !ok {
		k = &keyLock{}
		l.locks[key] = k
	}
	k.refs++
	l.mu.Unlock()

	k.mu.Lock()
	return func() {
		k.mu.Unlock()
		l.mu.Lock()
		k.refs--
		if k.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
