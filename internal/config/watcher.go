package config

import (
	"sync"
	"sync/atomic"
)

// Watcher publishes immutable Config snapshots. Readers call Current at the
// start of each sync run or timer tick; writers swap in a whole new snapshot
// atomically. Subscribers are notified after each swap so timers can re-arm.
type Watcher struct {
	current atomic.Pointer[Config]

	mu   sync.Mutex
	subs []chan *Config
}

// NewWatcher creates a watcher seeded with the initial snapshot.
func NewWatcher(initial *Config) *Watcher {
	w := &Watcher{}
	w.current.Store(initial)
	return w
}

// Current returns the active snapshot. The returned value must not be
// mutated.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// Update swaps in a new snapshot and notifies subscribers. Notification is
// best-effort: a subscriber with a full channel misses the edge but picks up
// the new snapshot on its next Current call.
func (w *Watcher) Update(next *Config) {
	w.current.Store(next)

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.subs {
		select {
		case ch <- next:
		default:
		}
	}
}

// Subscribe returns a channel receiving each new snapshot.
func (w *Watcher) Subscribe() <-chan *Config {
	ch := make(chan *Config, 1)
	w.mu.Lock()
	w.subs = append(w.subs, ch)
	w.mu.Unlock()
	return ch
}
