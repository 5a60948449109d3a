package orchestrator

import "sync"

// Locks is a non-blocking per-market mutex set.
type Locks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocks() *Locks {
	return &Locks{held: make(map[string]struct{})}
}

// TryAcquire takes the lock for id, or reports false if it is held.
func (l *Locks) TryAcquire(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[id]; ok {
		return false
	}
	l.held[id] = struct{}{}
	return true
}

func (l *Locks) Release(id string) {
	l.mu.Lock()
	delete(l.held, id)
	l.mu.Unlock()
}

// Held returns the number of locks currently taken.
func (l *Locks) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}
