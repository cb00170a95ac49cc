// Package events normalizes every ingress path — tracker webhooks, board
// SSE, local file changes, doc changes, and external workflow triggers —
// into dispatches on a priority-ordered handler bus.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Type classifies an ingress event.
type Type string

const (
	TrackerChanged  Type = "tracker.changed"
	BoardTaskEvent  Type = "board.task"
	LocalFileChange Type = "local.changed"
	DocFileChange   Type = "doc.changed"
	WorkflowTrigger Type = "workflow.trigger"
)

// Event is one normalized ingress event.
type Event struct {
	Type     Type
	Source   string   // human-readable origin for logs and run attribution
	Projects []string // affected project identifiers; empty means unknown/all
}

// Handler consumes events of declared types. Lower priority runs first.
type Handler interface {
	ID() string
	Handles() []Type
	Priority() int
	Handle(ctx context.Context, ev *Event) error
}

// Bus dispatches events to registered handlers sequentially in priority
// order. Handler errors are logged and do not stop the chain.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	log      *slog.Logger
}

// NewBus creates a bus.
func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{log: log}
}

// Register adds a handler. Handlers are sorted by priority at dispatch, so
// registration order does not matter.
func (b *Bus) Register(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Dispatch delivers the event to every matching handler.
func (b *Bus) Dispatch(ctx context.Context, ev *Event) error {
	if ev == nil {
		return fmt.Errorf("events: nil event")
	}

	b.mu.RLock()
	matched := b.matching(ev.Type)
	b.mu.RUnlock()

	for _, h := range matched {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("events: dispatch cancelled: %w", err)
		}
		if err := h.Handle(ctx, ev); err != nil {
			b.log.Warn("event handler error",
				"handler", h.ID(), "type", ev.Type, "error", err)
		}
	}
	return nil
}

// Handlers returns the registered handlers for status reporting.
func (b *Bus) Handlers() []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Handler, len(b.handlers))
	copy(out, b.handlers)
	return out
}

func (b *Bus) matching(t Type) []Handler {
	var matched []Handler
	for _, h := range b.handlers {
		for _, ht := range h.Handles() {
			if ht == t {
				matched = append(matched, h)
				break
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Priority() < matched[j].Priority()
	})
	return matched
}
