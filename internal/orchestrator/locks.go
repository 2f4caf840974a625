package orchestrator

import "sync"

// scopeLocks hands out one mutex per scope. Entries are dropped once no
// goroutine holds or waits on them.
type scopeLocks struct {
	mu sync.Mutex
	m  map[string]*scopeLock
}

type scopeLock struct {
	mu   sync.Mutex
	refs int
}

func newScopeLocks() *scopeLocks {
	return &scopeLocks{m: make(map[string]*scopeLock)}
}

// lock blocks until scope is free and returns its release function.
func (l *scopeLocks) lock(scope string) func() {
	l.mu.Lock()
	sl, ok := l.m[scope]
	if !ok {
		sl = &scopeLock{}
		l.m[scope] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()
	return func() {
		sl.mu.Unlock()
		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.m, scope)
		}
		l.mu.Unlock()
	}
}

func (l *scopeLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
