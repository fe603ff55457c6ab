package application

import (
	"fmt"
	"sync"
)

// KeyedLock provides per-key mutual exclusion. The intake service uses it to
// serialize the supersede-previous-run / create-new-run sequence for the same
// pull request; different keys never contend.
type KeyedLock struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedLock creates an empty KeyedLock.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{entries: make(map[string]*lockEntry)}
}

// Lock acquires the mutex for the given key, blocking while another goroutine
// holds it. The returned function releases the lock and must be called
// exactly once.
func (l *KeyedLock) Lock(key string) func() {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &lockEntry{}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, key)
		}
		l.mu.Unlock()
	}
}

// PullRequestKey builds the lock key for a pull request.
func PullRequestKey(repository string, number int) string {
	return fmt.Sprintf("%s#%d", repository, number)
}
