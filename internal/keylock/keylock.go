// Package keylock provides a refcounted map of per-key mutexes.
//
// A keyed mutex with refcounted eviction gives mutual exclusion (at most one
// holder per key) without ever growing unbounded, which is what both the
// liquidation-ingress per-event lock and the strategy engine's
// per-(symbol,side) lock need.
package keylock

import "sync"

type entry struct {
	mu  sync.Mutex
	ref int
}

// Map is a concurrent map of mutexes keyed by an arbitrary comparable key.
// Zero value is not usable; construct with New.
type Map[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*entry
}

// New creates an empty keyed-mutex map.
func New[K comparable]() *Map[K] {
	return &Map[K]{entries: make(map[K]*entry)}
}

// Lock acquires the mutex for key, creating it if necessary, and returns an
// Unlock function that releases it and evicts the entry once no other
// goroutine references it. Callers must invoke the returned function exactly
// once, typically via defer.
func (m *Map[K]) Lock(key K) (unlock func()) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	e.ref++
	m.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		m.mu.Lock()
		e.ref--
		if e.ref == 0 {
			delete(m.entries, key)
		}
		m.mu.Unlock()
	}
}

// TryLock attempts to acquire the mutex for key without blocking. It returns
// (unlock, true) on success, or (nil, false) if the key is already locked.
func (m *Map[K]) TryLock(key K) (unlock func(), ok bool) {
	m.mu.Lock()
	e, exists := m.entries[key]
	if !exists {
		e = &entry{}
		m.entries[key] = e
	}
	e.ref++
	m.mu.Unlock()

	if !e.mu.TryLock() {
		m.mu.Lock()
		e.ref--
		if e.ref == 0 {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false
	}

	return func() {
		e.mu.Unlock()
		m.mu.Lock()
		e.ref--
		if e.ref == 0 {
			delete(m.entries, key)
		}
		m.mu.Unlock()
	}, true
}

// Len reports the number of currently held or contended keys, for tests and
// leak diagnostics.
func (m *Map[K]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
