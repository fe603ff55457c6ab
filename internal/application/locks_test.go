package application

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyedLock_SerializesSameKey(t *testing.T) {
	locks := NewKeyedLock()

	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("octocat/hello-world#42")
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside, "only one holder per key at a time")
}

func TestKeyedLock_DifferentKeysDoNotBlock(t *testing.T) {
	locks := NewKeyedLock()

	unlockA := locks.Lock("repo#1")
	defer unlockA()

	acquired := make(chan struct{})
	go func() {
		unlockB := locks.Lock("repo#2")
		close(acquired)
		unlockB()
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key must not block")
	}
}

func TestKeyedLock_EntriesAreReleased(t *testing.T) {
	locks := NewKeyedLock()

	unlock := locks.Lock("repo#1")
	unlock()

	locks.mu.Lock()
	defer locks.mu.Unlock()
	assert.Empty(t, locks.entries, "released keys must not accumulate")
}

func TestPullRequestKey(t *testing.T) {
	assert.Equal(t, "octocat/hello-world#42", PullRequestKey("octocat/hello-world", 42))
}
