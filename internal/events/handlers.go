package events

import (
	"context"
	"log/slog"
)

// Triggerer is the controller surface handlers drive.
type Triggerer interface {
	TriggerSync(source string) error
}

// DocSyncer uploads project documentation to the agent platform. Doc change
// events run this flow directly instead of a full sync.
type DocSyncer interface {
	SyncProjectDocs(ctx context.Context, identifier string) error
}

// SyncTriggerHandler turns tracker, board, local, and workflow events into
// controller triggers.
type SyncTriggerHandler struct {
	trigger Triggerer
	log     *slog.Logger
}

// NewSyncTriggerHandler creates the handler.
func NewSyncTriggerHandler(trigger Triggerer, log *slog.Logger) *SyncTriggerHandler {
	if log == nil {
		log = slog.Default()
	}
	return &SyncTriggerHandler{trigger: trigger, log: log}
}

func (h *SyncTriggerHandler) ID() string { return "sync-trigger" }

func (h *SyncTriggerHandler) Handles() []Type {
	return []Type{TrackerChanged, BoardTaskEvent, LocalFileChange, WorkflowTrigger}
}

func (h *SyncTriggerHandler) Priority() int { return 10 }

func (h *SyncTriggerHandler) Handle(ctx context.Context, ev *Event) error {
	source := string(ev.Type)
	if ev.Source != "" {
		source = ev.Source
	}
	err := h.trigger.TriggerSync(source)
	if err != nil {
		// Debounced triggers are the normal outcome of a burst.
		h.log.Debug("sync trigger not accepted", "source", source, "error", err)
	}
	return nil
}

// DocUploadHandler routes documentation changes to the agent doc upload
// flow without triggering a general sync.
type DocUploadHandler struct {
	docs DocSyncer
	log  *slog.Logger
}

// NewDocUploadHandler creates the handler.
func NewDocUploadHandler(docs DocSyncer, log *slog.Logger) *DocUploadHandler {
	if log == nil {
		log = slog.Default()
	}
	return &DocUploadHandler{docs: docs, log: log}
}

func (h *DocUploadHandler) ID() string { return "doc-upload" }

func (h *DocUploadHandler) Handles() []Type { return []Type{DocFileChange} }

func (h *DocUploadHandler) Priority() int { return 20 }

func (h *DocUploadHandler) Handle(ctx context.Context, ev *Event) error {
	for _, project := range ev.Projects {
		if err := h.docs.SyncProjectDocs(ctx, project); err != nil {
			h.log.Warn("doc upload failed", "project", project, "error", err)
		}
	}
	return nil
}
