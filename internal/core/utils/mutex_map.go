package utils

import (
	"sync"
)

type refMutex struct {
	mu   sync.Mutex
	refs int
}

// MutexMap hands out one mutex per key. Entries are dropped once no goroutine
// holds or waits on them, so the map stays proportional to live contention.
type MutexMap[K comparable] struct {
	edit    sync.Mutex
	mutexes map[K]*refMutex
}

func NewMutexMap[K comparable]() *MutexMap[K] {
	return &MutexMap[K]{mutexes: make(map[K]*refMutex)}
}

// Lock blocks until the key is free and returns the matching unlock func.
func (m *MutexMap[K]) Lock(key K) func() {
	m.edit.Lock()
	entry, ok := m.mutexes[key]
	if !ok {
		entry = &refMutex{}
		m.mutexes[key] = entry
	}
	entry.refs++
	m.edit.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		m.edit.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(m.mutexes, key)
		}
		m.edit.Unlock()
	}
}

func (m *MutexMap[K]) Len() int {
	m.edit.Lock()
	defer m.edit.Unlock()
	return len(m.mutexes)
}
