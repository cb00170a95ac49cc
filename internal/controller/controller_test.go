package controller

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncforge/trisync/internal/config"
	"github.com/syncforge/trisync/internal/engine"
)

// blockingRunner counts runs and optionally blocks until released.
type blockingRunner struct {
	runs    atomic.Int32
	mu      sync.Mutex
	release chan struct{}
	delay   time.Duration
}

func (r *blockingRunner) SyncAll(ctx context.Context, cfg *config.Config) (*engine.RunStats, error) {
	r.runs.Add(1)
	r.mu.Lock()
	release := r.release
	r.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return &engine.RunStats{}, ctx.Err()
		}
	}
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return &engine.RunStats{}, ctx.Err()
		}
	}
	return &engine.RunStats{ProjectsProcessed: 1}, nil
}

func testWatcher(debounce, runTimeout time.Duration) *config.Watcher {
	return config.NewWatcher(&config.Config{
		MaxWorkers:      5,
		TriggerDebounce: debounce,
		RunTimeout:      runTimeout,
	})
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestTriggerRunsOnce(t *testing.T) {
	r := &blockingRunner{}
	c := New(r, testWatcher(10*time.Millisecond, time.Second), nil)
	defer c.Shutdown()

	require.NoError(t, c.TriggerSync("test"))
	waitFor(t, time.Second, func() bool { return r.runs.Load() == 1 })
	waitFor(t, time.Second, func() bool { return !c.InProgress() })
}

func TestBurstCoalesces(t *testing.T) {
	r := &blockingRunner{}
	c := New(r, testWatcher(300*time.Millisecond, time.Second), nil)
	defer c.Shutdown()

	require.NoError(t, c.TriggerSync("first"))
	waitFor(t, time.Second, func() bool { return r.runs.Load() == 1 && !c.InProgress() })

	// Prime lastTrigger so the burst deterministically lands inside the
	// debounce window regardless of how long the first run took.
	c.mu.Lock()
	c.lastTrigger = time.Now()
	c.mu.Unlock()

	require.NoError(t, c.TriggerSync("burst-1"))
	err := c.TriggerSync("burst-2")
	assert.ErrorIs(t, err, ErrDebounced)
	err = c.TriggerSync("burst-3")
	assert.ErrorIs(t, err, ErrDebounced)

	waitFor(t, 2*time.Second, func() bool { return r.runs.Load() == 2 && !c.InProgress() })
	assert.Equal(t, int32(2), r.runs.Load(), "burst collapsed into one run")
}

func TestResyncRequestedDuringRun(t *testing.T) {
	r := &blockingRunner{release: make(chan struct{})}
	c := New(r, testWatcher(time.Millisecond, time.Second), nil)
	defer c.Shutdown()

	require.NoError(t, c.TriggerSync("first"))
	waitFor(t, time.Second, func() bool { return c.InProgress() })

	// Triggers during the run fold into one resync.
	require.NoError(t, c.TriggerSync("during-1"))
	require.NoError(t, c.TriggerSync("during-2"))

	r.mu.Lock()
	release := r.release
	r.release = nil
	r.mu.Unlock()
	close(release)

	waitFor(t, 2*time.Second, func() bool { return r.runs.Load() == 2 && !c.InProgress() })
	assert.Equal(t, int32(2), r.runs.Load(), "exactly one resync after the active run")
}

func TestTimeoutDiscardsResync(t *testing.T) {
	r := &blockingRunner{delay: 500 * time.Millisecond}
	c := New(r, testWatcher(time.Millisecond, 30*time.Millisecond), nil)
	defer c.Shutdown()

	require.NoError(t, c.TriggerSync("first"))
	waitFor(t, time.Second, func() bool { return c.InProgress() })
	require.NoError(t, c.TriggerSync("during"))

	waitFor(t, 2*time.Second, func() bool { return !c.InProgress() })
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), r.runs.Load(), "resync after timeout is discarded")

	_, err := c.LastRun()
	assert.Error(t, err, "timed-out run reports its error")
}

func TestShutdownCancelsActiveRun(t *testing.T) {
	r := &blockingRunner{release: make(chan struct{})}
	c := New(r, testWatcher(time.Millisecond, time.Minute), nil)

	require.NoError(t, c.TriggerSync("first"))
	waitFor(t, time.Second, func() bool { return c.InProgress() })

	done := make(chan struct{})
	go func() {
		c.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not unwind the active run")
	}
}
