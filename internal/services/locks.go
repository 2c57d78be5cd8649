package services

import "sync"

// KeyedLocks hands out one mutex per request id. Acceptance, cancellation
// and workflow mirroring of the same request serialize on it; operations on
// different requests never contend.
type KeyedLocks struct {
	mu sync.Mutex
	m  map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedLocks() *KeyedLocks {
	return &KeyedLocks{m: make(map[string]*lockEntry)}
}

// Lock blocks until the per-key mutex is held and returns the release func.
func (k *KeyedLocks) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.m[key]
	if !ok {
		e = &lockEntry{}
		k.m[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.m, key)
		}
		k.mu.Unlock()
	}
}
