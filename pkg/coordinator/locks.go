package coordinator

import "sync"

// keyedLocks hands out one mutex per key. Holding the (vote, voter) lock
// across the whole cast closes the window where two concurrent ballots by
// the same voter both pass the pre-check.
type keyedLocks struct {
	mu   sync.Mutex
	held map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{held: make(map[string]*lockEntry)}
}

// lock blocks until the key is free and returns the unlock function. Entries
// are reference counted so the map does not grow with dead keys.
func (l *keyedLocks) lock(key string) func() {
	l.mu.Lock()
	e, ok := l.held[key]
	if !ok {
		e = &lockEntry{}
		l.held[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.held, key)
		}
		l.mu.Unlock()
	}
}
