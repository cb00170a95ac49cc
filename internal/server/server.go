// Package server exposes the service's HTTP surface: health, metrics, the
// manual sync trigger, live config updates, and the tracker webhook.
package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/syncforge/trisync/internal/config"
	"github.com/syncforge/trisync/internal/controller"
	"github.com/syncforge/trisync/internal/events"
	"github.com/syncforge/trisync/internal/storage"
)

// Server is the HTTP control surface.
type Server struct {
	ctrl    *controller.Controller
	store   *storage.Store
	watcher *config.Watcher
	bus     *events.Bus
	metrics http.Handler
	log     *slog.Logger

	mux        *http.ServeMux
	httpServer *http.Server
	startedAt  time.Time
}

// New creates the server and registers its routes.
func New(ctrl *controller.Controller, store *storage.Store, watcher *config.Watcher, bus *events.Bus, metricsHandler http.Handler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		ctrl:      ctrl,
		store:     store,
		watcher:   watcher,
		bus:       bus,
		metrics:   metricsHandler,
		log:       log,
		mux:       http.NewServeMux(),
		startedAt: time.Now(),
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /sync/trigger", s.handleTrigger)
	s.mux.HandleFunc("POST /config", s.handleConfig)
	s.mux.HandleFunc("POST /webhook/tracker", s.handleTrackerWebhook)
	if metricsHandler != nil {
		s.mux.Handle("GET /metrics", metricsHandler)
	}
	return s
}

// Handler returns the route mux for tests and embedding.
func (s *Server) Handler() http.Handler { return s.mux }

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

type healthResponse struct {
	Status         string  `json:"status"`
	UptimeSeconds  int64   `json:"uptime_s"`
	LastSyncAt     *string `json:"last_sync_at"`
	SyncInProgress bool    `json:"sync_in_progress"`
	ProjectsCount  int     `json:"projects_count"`
	LastError      string  `json:"last_error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:         "ok",
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
		SyncInProgress: s.ctrl.InProgress(),
	}

	healthy := true
	if projects, err := s.store.ListProjects(r.Context()); err == nil {
		resp.ProjectsCount = len(projects)
	} else {
		healthy = false
		resp.LastError = err.Error()
	}

	if lastEnd, lastErr := s.ctrl.LastRun(); !lastEnd.IsZero() {
		formatted := lastEnd.UTC().Format(time.RFC3339)
		resp.LastSyncAt = &formatted
		if lastErr != nil {
			healthy = false
			resp.LastError = lastErr.Error()
		}
	}

	code := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	err := s.ctrl.TriggerSync("http")
	if errors.Is(err, controller.ErrDebounced) {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "debounced"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	var update config.LiveUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body: " + err.Error()})
		return
	}

	next, err := s.watcher.Current().Apply(update)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.watcher.Update(next)
	s.log.Info("configuration updated via control endpoint",
		"sync_interval", next.SyncInterval, "max_workers", next.MaxWorkers)
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// trackerWebhookPayload is the change notification shape delivered by the
// tracker.
type trackerWebhookPayload struct {
	Projects []string `json:"projects"`
}

func (s *Server) handleTrackerWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	secret := s.watcher.Current().WebhookSecret
	if secret != "" && !verifySignature(body, r.Header.Get("X-Signature-256"), secret) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "bad signature"})
		return
	}

	var payload trackerWebhookPayload
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
			return
		}
	}

	if err := s.bus.Dispatch(r.Context(), &events.Event{
		Type:     events.TrackerChanged,
		Source:   "tracker-webhook",
		Projects: payload.Projects,
	}); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "enqueued"})
}

// verifySignature checks an HMAC-SHA256 hex signature with an optional
// "sha256=" prefix.
func verifySignature(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
