// Package watcher observes project directories for local-store and
// documentation changes and emits debounced, per-project events.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/syncforge/trisync/internal/events"
)

// docNames are repository files whose change triggers the doc upload flow
// instead of a general sync.
var docNames = map[string]bool{
	"README.md":       true,
	"CLAUDE.md":       true,
	"AGENTS.md":       true,
	"CONTRIBUTING.md": true,
	"ARCHITECTURE.md": true,
}

// Watcher watches known project paths and dispatches debounced events.
type Watcher struct {
	bus      *events.Bus
	debounce time.Duration
	log      *slog.Logger

	fs *fsnotify.Watcher

	mu       sync.Mutex
	projects map[string]string // watched path -> project identifier
	pending  map[string]*pendingBatch
}

type pendingBatch struct {
	timer  *time.Timer
	docs   bool
	issues bool
}

// New creates a watcher dispatching onto bus with the given per-project
// debounce.
func New(bus *events.Bus, debounce time.Duration, log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		bus:      bus,
		debounce: debounce,
		log:      log,
		fs:       fs,
		projects: map[string]string{},
		pending:  map[string]*pendingBatch{},
	}, nil
}

// WatchProject registers a project directory. The repo root and its .beads
// subdirectory are watched; nested directories are not traversed, since
// every file of interest lives at one of those two levels.
func (w *Watcher) WatchProject(identifier, path string) error {
	w.mu.Lock()
	w.projects[path] = identifier
	w.mu.Unlock()

	if err := w.fs.Add(path); err != nil {
		return err
	}
	beadsDir := filepath.Join(path, ".beads")
	if info, err := os.Stat(beadsDir); err == nil && info.IsDir() {
		if err := w.fs.Add(beadsDir); err != nil {
			return err
		}
	}
	w.log.Debug("watching project path", "project", identifier, "path", path)
	return nil
}

// Run processes filesystem events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				w.observe(ctx, ev.Name)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("filesystem watcher error", "error", err)
		}
	}
}

// observe classifies one changed file and folds it into the owning
// project's debounce batch.
func (w *Watcher) observe(ctx context.Context, name string) {
	identifier, ok := w.projectFor(name)
	if !ok {
		return
	}

	base := filepath.Base(name)
	isDoc := docNames[base]
	isIssues := base == "issues.jsonl" || strings.HasSuffix(base, ".db")
	if !isDoc && !isIssues {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	batch := w.pending[identifier]
	if batch == nil {
		batch = &pendingBatch{}
		w.pending[identifier] = batch
		batch.timer = time.AfterFunc(w.debounce, func() { w.flush(ctx, identifier) })
	}
	batch.docs = batch.docs || isDoc
	batch.issues = batch.issues || isIssues
}

// flush emits the batched events for one project after its debounce window.
func (w *Watcher) flush(ctx context.Context, identifier string) {
	w.mu.Lock()
	batch := w.pending[identifier]
	delete(w.pending, identifier)
	w.mu.Unlock()
	if batch == nil {
		return
	}

	if batch.issues {
		_ = w.bus.Dispatch(ctx, &events.Event{
			Type:     events.LocalFileChange,
			Source:   "file-watch",
			Projects: []string{identifier},
		})
	}
	if batch.docs {
		_ = w.bus.Dispatch(ctx, &events.Event{
			Type:     events.DocFileChange,
			Source:   "doc-watch",
			Projects: []string{identifier},
		})
	}
}

func (w *Watcher) projectFor(name string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, identifier := range w.projects {
		if name == path || strings.HasPrefix(name, path+string(filepath.Separator)) {
			return identifier, true
		}
	}
	return "", false
}
