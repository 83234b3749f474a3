package jobs

import "sync"

// KeyLocks is a set of named non-blocking mutexes.
type KeyLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewKeyLocks() *KeyLocks {
	return &KeyLocks{held: map[string]struct{}{}}
}

// TryLock takes the lock named key and reports whether it was free.
func (l *KeyLocks) TryLock(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

func (l *KeyLocks) Unlock(key string) {
	l.mu.Lock()
	delete(l.held, key)
	l.mu.Unlock()
}

// Held reports whether key is currently locked.
func (l *KeyLocks) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, busy := l.held[key]
	return busy
}
