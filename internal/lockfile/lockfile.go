// Package lockfile enforces single-writer semantics for the sync service.
// Exactly one process may hold the lock; a second instance pointed at the
// same state directory fails fast instead of racing writes.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrHeld is returned when another process already holds the lock.
var ErrHeld = errors.New("lockfile: another instance holds the lock")

// Lock is an exclusive advisory file lock.
type Lock struct {
	fl   *flock.Flock
	path string
}

// PathFor derives the lock path from the state database path, so the lock
// scope matches the state it guards.
func PathFor(stateDBPath string) string {
	return filepath.Join(filepath.Dir(stateDBPath), "trisync.lock")
}

// Acquire takes the lock non-blocking. It creates the parent directory if
// needed and returns ErrHeld when the lock is already owned elsewhere.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("lockfile: create dir: %w", err)
	}

	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lockfile: %w", err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &Lock{fl: fl, path: path}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release drops the lock. Safe to call once; the lock file itself is left
// in place for the next acquirer.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
