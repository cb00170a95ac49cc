package lockfile

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "trisync.lock")

	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// Lock is reacquirable after release.
	l2, err := Acquire(path)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	defer l2.Release()
}

func TestSecondAcquireFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trisync.lock")

	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer l.Release()

	if _, err := Acquire(path); !errors.Is(err, ErrHeld) {
		t.Errorf("second Acquire error = %v, want ErrHeld", err)
	}
}

func TestPathFor(t *testing.T) {
	got := PathFor("/var/lib/trisync/sync-state.db")
	want := "/var/lib/trisync/trisync.lock"
	if got != want {
		t.Errorf("PathFor = %q, want %q", got, want)
	}
}
