// Package types defines the canonical entities shared by every trisync
// component: projects, issues, agent bindings, and sync run records.
//
// The tracker identifier ("PROJ-123") is the canonical issue identity.
// Board task IDs and local-store IDs are attributes bound onto the canonical
// row as they are discovered, never keys in their own right.
package types

import (
	"encoding/json"
	"time"
)

// TrackerStatus is a canonical tracker-side status label.
type TrackerStatus string

const (
	StatusBacklog    TrackerStatus = "Backlog"
	StatusInProgress TrackerStatus = "In Progress"
	StatusInReview   TrackerStatus = "In Review"
	StatusDone       TrackerStatus = "Done"
	StatusCancelled  TrackerStatus = "Cancelled"
)

// TrackerStatuses lists every canonical tracker status spelling. The set is
// deliberately 1:1 with the board lattice so that status mapping round-trips;
// tracker variants like "Todo" normalize to Backlog on ingest.
var TrackerStatuses = []TrackerStatus{
	StatusBacklog, StatusInProgress,
	StatusInReview, StatusDone, StatusCancelled,
}

// BoardStatus is one of the board's five-state lattice values.
type BoardStatus string

const (
	BoardTodo       BoardStatus = "todo"
	BoardInProgress BoardStatus = "inprogress"
	BoardInReview   BoardStatus = "inreview"
	BoardDone       BoardStatus = "done"
	BoardCancelled  BoardStatus = "cancelled"
)

// BoardStatuses lists every board lattice value.
var BoardStatuses = []BoardStatus{
	BoardTodo, BoardInProgress, BoardInReview, BoardDone, BoardCancelled,
}

// ProjectState tracks whether a project participates in periodic sync.
type ProjectState string

const (
	// ProjectActive projects are synced every cycle.
	ProjectActive ProjectState = "active"
	// ProjectEmpty projects had zero issues at last observation and are
	// skipped until the cache entry expires or a change event arrives.
	ProjectEmpty ProjectState = "empty"
)

// Project is the canonical per-project row. Identifier is the natural key
// (short UPPERCASE token, e.g. "ACME").
type Project struct {
	Identifier      string       `json:"identifier"`
	Name            string       `json:"name"`
	TrackerID       string       `json:"tracker_internal_id,omitempty"`
	BoardID         int64        `json:"board_internal_id,omitempty"`
	FilesystemPath  string       `json:"filesystem_path,omitempty"`
	GitURL          string       `json:"git_url,omitempty"`
	DescriptionHash string       `json:"description_hash,omitempty"`
	State           ProjectState `json:"state"`
	LastSyncAt      *time.Time   `json:"last_sync_at,omitempty"`
	EmptyObservedAt *time.Time   `json:"empty_observed_at,omitempty"`
	IssueCount      int          `json:"issue_count"`
	Agent           AgentBinding `json:"agent_binding"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// AgentBinding records the project's primary agent on the platform.
// AgentID must never refer to a sleep-time agent; the lifecycle manager
// discards and recreates any binding that resolves to one.
type AgentBinding struct {
	AgentID     string            `json:"agent_id,omitempty"`
	FolderID    string            `json:"folder_id,omitempty"`
	SourceID    string            `json:"source_id,omitempty"`
	LastSyncAt  *time.Time        `json:"agent_last_sync_at,omitempty"`
	BlockHashes map[string]string `json:"block_hashes,omitempty"` // label -> content hash
}

// Issue is the canonical issue row: one row per tracker identifier.
type Issue struct {
	Identifier        string        `json:"identifier"` // "PROJ-NNN", immutable
	ProjectIdentifier string        `json:"project_identifier"`
	Title             string        `json:"title"`
	Description       string        `json:"description,omitempty"`
	Status            TrackerStatus `json:"status"`
	Priority          string        `json:"priority,omitempty"`

	TrackerID    string `json:"tracker_internal_id,omitempty"`
	BoardTaskID  int64  `json:"board_task_id,omitempty"`
	LocalStoreID string `json:"local_store_id,omitempty"`

	// Last observed per-source values. Status propagation decisions compare
	// these against freshly fetched values, never against intended writes.
	TrackerStatus TrackerStatus `json:"tracker_status,omitempty"`
	BoardStatus   BoardStatus   `json:"board_status,omitempty"`
	LocalStatus   string        `json:"local_status,omitempty"`

	TrackerModifiedAt *time.Time `json:"tracker_modified_at,omitempty"`
	BoardModifiedAt   *time.Time `json:"board_modified_at,omitempty"`
	LocalModifiedAt   *time.Time `json:"local_modified_at,omitempty"`

	DescriptionHash string    `json:"description_hash,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// SyncRun is one append-only sync run record.
type SyncRun struct {
	ID                string          `json:"id"`
	StartedAt         time.Time       `json:"started_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	ProjectsProcessed int             `json:"projects_processed"`
	ProjectsFailed    int             `json:"projects_failed"`
	IssuesSynced      int             `json:"issues_synced"`
	Errors            json.RawMessage `json:"errors_json,omitempty"`
	DurationMS        int64           `json:"duration_ms"`
}

// RunErrors is the shape serialized into SyncRun.Errors, keyed by project
// identifier. The reconciliation pass additionally records divergences under
// the "divergence" key.
type RunErrors map[string]string

// IsValidTrackerStatus reports whether s is a canonical tracker spelling.
func IsValidTrackerStatus(s TrackerStatus) bool {
	for _, v := range TrackerStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsValidBoardStatus reports whether b is a board lattice value.
func IsValidBoardStatus(b BoardStatus) bool {
	for _, v := range BoardStatuses {
		if v == b {
			return true
		}
	}
	return false
}
