// Package scheduler drives the periodic full-sync timer and the hourly
// reconciliation pass, re-arming both when the live configuration changes.
package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/syncforge/trisync/internal/config"
	"github.com/syncforge/trisync/internal/engine"
)

// Triggerer is the controller entry point.
type Triggerer interface {
	TriggerSync(source string) error
}

// Reconciler runs the exhaustive divergence pass.
type Reconciler interface {
	Reconcile(ctx context.Context, cfg *config.Config) ([]engine.Divergence, error)
}

// Scheduler owns the periodic timers. When a live event subscription is
// active, periodic polling is paused; it resumes if the subscription drops.
type Scheduler struct {
	trigger    Triggerer
	reconciler Reconciler
	watcher    *config.Watcher
	log        *slog.Logger

	subscriptionLive atomic.Bool
}

// New creates a scheduler.
func New(trigger Triggerer, reconciler Reconciler, watcher *config.Watcher, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		trigger:    trigger,
		reconciler: reconciler,
		watcher:    watcher,
		log:        log,
	}
}

// SetSubscriptionLive pauses or resumes periodic polling. Called by the
// webhook/SSE subscription paths as their connection state changes.
func (s *Scheduler) SetSubscriptionLive(live bool) {
	if s.subscriptionLive.Swap(live) != live {
		s.log.Info("event subscription state changed",
			"live", live, "polling", !live)
	}
}

// Run loops until ctx is cancelled. Config updates re-arm both timers
// without a restart.
func (s *Scheduler) Run(ctx context.Context) error {
	cfg := s.watcher.Current()
	updates := s.watcher.Subscribe()

	syncTimer := newTimer(cfg.SyncInterval)
	defer syncTimer.stop()
	reconcileTimer := newTimer(cfg.ReconcileInterval)
	defer reconcileTimer.stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case next := <-updates:
			if next.SyncInterval != cfg.SyncInterval {
				s.log.Info("sync interval updated",
					"from", cfg.SyncInterval, "to", next.SyncInterval)
				syncTimer.reset(next.SyncInterval)
			}
			if next.ReconcileInterval != cfg.ReconcileInterval {
				reconcileTimer.reset(next.ReconcileInterval)
			}
			cfg = next

		case <-syncTimer.c():
			syncTimer.reset(cfg.SyncInterval)
			if s.subscriptionLive.Load() {
				continue // live subscription replaces polling
			}
			if err := s.trigger.TriggerSync("scheduler"); err != nil {
				s.log.Debug("periodic trigger not accepted", "error", err)
			}

		case <-reconcileTimer.c():
			reconcileTimer.reset(cfg.ReconcileInterval)
			if s.reconciler == nil {
				continue
			}
			if _, err := s.reconciler.Reconcile(ctx, cfg); err != nil {
				s.log.Error("reconciliation pass failed", "error", err)
			}
		}
	}
}

// timer wraps time.Timer with a disabled state for zero intervals.
type timer struct {
	t *time.Timer
}

func newTimer(d time.Duration) *timer {
	if d <= 0 {
		return &timer{}
	}
	return &timer{t: time.NewTimer(d)}
}

func (t *timer) c() <-chan time.Time {
	if t.t == nil {
		return nil // a nil channel never fires
	}
	return t.t.C
}

func (t *timer) reset(d time.Duration) {
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
	if d > 0 {
		t.t = time.NewTimer(d)
	}
}

func (t *timer) stop() {
	if t.t != nil {
		t.t.Stop()
	}
}
