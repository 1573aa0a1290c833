package engine

import "sync"

// KeyedLock serializes state-changing operations per release id. Every
// read-then-write sequence on a release, its cycles, its tasks or its
// submissions runs under the release's lock, so concurrent triggers
// (operator actions, cron ticks, callbacks) cannot interleave.
type KeyedLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewKeyedLock() *KeyedLock {
	return &KeyedLock{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key and returns its unlock function.
func (k *KeyedLock) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
