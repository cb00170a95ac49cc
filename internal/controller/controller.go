// Package controller serializes sync execution: one global run at a time,
// burst coalescing, and a hard per-run timeout.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/syncforge/trisync/internal/config"
	"github.com/syncforge/trisync/internal/engine"
)

// ErrDebounced is returned when a trigger lands inside the debounce window
// of an already-pending run.
var ErrDebounced = errors.New("controller: trigger debounced")

// Runner is the sync entry point the controller drives.
type Runner interface {
	SyncAll(ctx context.Context, cfg *config.Config) (*engine.RunStats, error)
}

// Controller owns the global sync_in_progress flag. Triggers arriving while
// a run is active set resync_requested and return immediately; the active
// run re-triggers on completion. Bursts within the debounce window coalesce
// into one run.
type Controller struct {
	runner  Runner
	watcher *config.Watcher
	log     *slog.Logger

	mu              sync.Mutex
	inProgress      bool
	resyncRequested bool
	lastTrigger     time.Time
	pendingTimer    *time.Timer

	lastRunStart time.Time
	lastRunEnd   time.Time
	lastRunErr   error

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a controller. watcher supplies the live config snapshot read
// at the start of each run.
func New(runner Runner, watcher *config.Watcher, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		runner:  runner,
		watcher: watcher,
		log:     log,
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// TriggerSync requests a sync attributed to source. Returns ErrDebounced
// when coalesced into an already-scheduled run; returns nil when the
// trigger was accepted (immediately, scheduled, or folded into the active
// run as a resync request).
func (c *Controller) TriggerSync(source string) error {
	cfg := c.watcher.Current()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inProgress {
		c.resyncRequested = true
		c.log.Debug("sync in progress, resync requested", "source", source)
		return nil
	}

	now := time.Now()
	if c.pendingTimer != nil {
		// A run is already scheduled inside the debounce window.
		return ErrDebounced
	}
	sinceLast := now.Sub(c.lastTrigger)
	c.lastTrigger = now

	delay := cfg.TriggerDebounce
	if delay <= 0 || sinceLast > delay {
		delay = 0
	}
	c.log.Debug("sync triggered", "source", source, "delay", delay)
	c.pendingTimer = time.AfterFunc(delay, func() { c.startRun(source) })
	return nil
}

// startRun transitions to in-progress and launches the run goroutine.
func (c *Controller) startRun(source string) {
	c.mu.Lock()
	c.pendingTimer = nil
	if c.inProgress {
		c.resyncRequested = true
		c.mu.Unlock()
		return
	}
	c.inProgress = true
	c.resyncRequested = false
	c.lastRunStart = time.Now()
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(source)
	}()
}

func (c *Controller) run(source string) {
	cfg := c.watcher.Current()
	timeout := cfg.RunTimeout
	if timeout <= 0 {
		timeout = config.DefaultRunTimeout
	}
	ctx, cancel := context.WithTimeout(c.baseCtx, timeout)
	defer cancel()

	stats, err := c.runner.SyncAll(ctx, cfg)
	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)

	c.mu.Lock()
	c.inProgress = false
	c.lastRunEnd = time.Now()
	c.lastRunErr = err
	resync := c.resyncRequested
	c.resyncRequested = false
	c.mu.Unlock()

	switch {
	case timedOut:
		// The partial run record is already completed by the engine. A
		// queued resync is discarded so a slow environment cannot trigger a
		// runaway loop.
		c.log.Error("sync run hit hard timeout, discarding resync request",
			"source", source, "timeout", timeout)
	case err != nil:
		c.log.Error("sync run failed", "source", source, "error", err)
	default:
		c.log.Info("sync run complete", "source", source,
			"projects", stats.ProjectsProcessed, "failed", stats.ProjectsFailed,
			"issues", stats.IssuesSynced, "duration", c.lastRunEnd.Sub(c.lastRunStart).Round(time.Millisecond))
	}

	if resync && !timedOut && c.baseCtx.Err() == nil {
		c.log.Debug("running requested resync", "source", source)
		c.startRun("resync")
	}
}

// InProgress reports whether a sync run is active.
func (c *Controller) InProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inProgress
}

// LastRun reports the most recent run's completion time and error.
func (c *Controller) LastRun() (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRunEnd, c.lastRunErr
}

// Shutdown cancels any active run and waits for it to unwind.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	if c.pendingTimer != nil {
		c.pendingTimer.Stop()
		c.pendingTimer = nil
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}
