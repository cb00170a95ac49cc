// Package projmutex provides the per-project mutex map. Entries are created
// lazily inside a short critical section; the returned mutex serializes all
// intra-project mutation (reconciliation phases, local CLI invocations).
package projmutex

import "sync"

// Map holds one mutex per project identifier.
type Map struct {
	mu      sync.Mutex
	mutexes map[string]*sync.Mutex
}

// New creates an empty mutex map.
func New() *Map {
	return &Map{mutexes: make(map[string]*sync.Mutex)}
}

// Get returns the mutex for the given project, creating it on first use.
func (m *Map) Get(identifier string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	mu, ok := m.mutexes[identifier]
	if !ok {
		mu = &sync.Mutex{}
		m.mutexes[identifier] = mu
	}
	return mu
}

// Lock acquires the project's mutex and returns the unlock func.
func (m *Map) Lock(identifier string) func() {
	mu := m.Get(identifier)
	mu.Lock()
	return mu.Unlock
}
