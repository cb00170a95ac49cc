package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncforge/trisync/internal/config"
	"github.com/syncforge/trisync/internal/controller"
	"github.com/syncforge/trisync/internal/engine"
	"github.com/syncforge/trisync/internal/events"
	"github.com/syncforge/trisync/internal/metrics"
	"github.com/syncforge/trisync/internal/storage"
	"github.com/syncforge/trisync/internal/types"
)

type nopRunner struct{ runs atomic.Int32 }

func (r *nopRunner) SyncAll(ctx context.Context, cfg *config.Config) (*engine.RunStats, error) {
	r.runs.Add(1)
	return &engine.RunStats{ProjectsProcessed: 1}, nil
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *storage.Store, *controller.Controller) {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{
			MaxWorkers:      5,
			TriggerDebounce: 200 * time.Millisecond,
			RunTimeout:      time.Second,
		}
	}
	store, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	watcher := config.NewWatcher(cfg)
	ctrl := controller.New(&nopRunner{}, watcher, nil)
	t.Cleanup(ctrl.Shutdown)

	bus := events.NewBus(nil)
	bus.Register(events.NewSyncTriggerHandler(ctrl, nil))

	return New(ctrl, store, watcher, bus, metrics.New().Handler(), nil), store, ctrl
}

func TestHealthHealthy(t *testing.T) {
	s, store, _ := newTestServer(t, nil)

	require.NoError(t, store.UpsertProject(context.Background(),
		&types.Project{Identifier: "ACME", Name: "Acme", State: types.ProjectActive}))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, float64(1), resp["projects_count"])
	assert.Equal(t, false, resp["sync_in_progress"])
}

func TestTriggerAcceptedThenDebounced(t *testing.T) {
	s, _, ctrl := newTestServer(t, nil)

	// Prime the debounce window so the second trigger is scheduled, not run.
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sync/trigger", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && ctrl.InProgress() {
		time.Sleep(5 * time.Millisecond)
	}

	// A tight burst must eventually collide with a scheduled run.
	sawConflict := false
	for i := 0; i < 10 && !sawConflict; i++ {
		rec = httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sync/trigger", nil))
		sawConflict = rec.Code == http.StatusConflict
	}
	assert.True(t, sawConflict, "burst of triggers never hit the debounce window")
}

func TestConfigLiveUpdate(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	body := bytes.NewBufferString(`{"max_workers": 10, "sync_interval_ms": 60000}`)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/config", body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, s.watcher.Current().MaxWorkers)
	assert.Equal(t, time.Minute, s.watcher.Current().SyncInterval)
}

func TestConfigRejectsOutOfBounds(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	body := bytes.NewBufferString(`{"max_workers": 500}`)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/config", body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 5, s.watcher.Current().MaxWorkers, "rejected update must not apply")
}

func TestWebhookSignature(t *testing.T) {
	cfg := &config.Config{
		MaxWorkers:      5,
		TriggerDebounce: 10 * time.Millisecond,
		RunTimeout:      time.Second,
		WebhookSecret:   "topsecret",
	}
	s, _, _ := newTestServer(t, cfg)

	payload := []byte(`{"projects":["ACME"]}`)

	// Unsigned request is rejected.
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/tracker", bytes.NewReader(payload)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Properly signed request is enqueued.
	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write(payload)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/webhook/tracker", bytes.NewReader(payload))
	req.Header.Set("X-Signature-256", sig)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsExposition(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
