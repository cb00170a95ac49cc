package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.SyncInterval)
	assert.Equal(t, time.Hour, cfg.ReconcileInterval)
	assert.Equal(t, 5, cfg.MaxWorkers)
	assert.Equal(t, 60*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 900*time.Second, cfg.RunTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.TriggerDebounce)
	assert.Equal(t, 2*time.Second, cfg.WatchDebounce)
	assert.True(t, cfg.SkipEmptyProjects)
	assert.False(t, cfg.DryRun)
	assert.Equal(t, "logs/sync-state.db", cfg.StateDBPath)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SYNC_INTERVAL", "5000")
	t.Setenv("MAX_WORKERS", "10")
	t.Setenv("DRY_RUN", "true")
	t.Setenv("AGENT_CONTROL_NAME", "PM-Control")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.SyncInterval)
	assert.Equal(t, 10, cfg.MaxWorkers)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, "PM-Control", cfg.AgentControlName)
}

func TestValidateBounds(t *testing.T) {
	t.Setenv("MAX_WORKERS", "51")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("MAX_WORKERS", "0")
	_, err = Load()
	assert.Error(t, err)
}

func TestApplyLiveUpdate(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	interval := 1000
	workers := 3
	next, err := cfg.Apply(LiveUpdate{SyncInterval: &interval, MaxWorkers: &workers})
	require.NoError(t, err)

	assert.Equal(t, time.Second, next.SyncInterval)
	assert.Equal(t, 3, next.MaxWorkers)
	// Original snapshot untouched.
	assert.Equal(t, 30*time.Second, cfg.SyncInterval)

	bad := 99
	_, err = cfg.Apply(LiveUpdate{MaxWorkers: &bad})
	assert.Error(t, err)
}

func TestWatcherSwap(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	w := NewWatcher(cfg)
	sub := w.Subscribe()

	workers := 2
	next, err := cfg.Apply(LiveUpdate{MaxWorkers: &workers})
	require.NoError(t, err)
	w.Update(next)

	assert.Equal(t, 2, w.Current().MaxWorkers)
	select {
	case got := <-sub:
		assert.Equal(t, 2, got.MaxWorkers)
	case <-time.After(time.Second):
		t.Fatal("subscriber not notified")
	}
}
