// Package statusmap provides the bidirectional mapping between tracker
// status labels and the board's five-state lattice.
//
// Both directions are total and case-insensitive on input, always producing
// the canonical spelling on output. Unrecognized tracker input maps to the
// board's "todo"; unrecognized board input maps to the tracker's "Backlog".
package statusmap

import (
	"strings"

	"github.com/syncforge/trisync/internal/types"
)

var trackerToBoard = map[string]types.BoardStatus{
	"backlog":     types.BoardTodo,
	"todo":        types.BoardTodo,
	"to do":       types.BoardTodo,
	"in progress": types.BoardInProgress,
	"inprogress":  types.BoardInProgress,
	"in review":   types.BoardInReview,
	"inreview":    types.BoardInReview,
	"done":        types.BoardDone,
	"completed":   types.BoardDone,
	"cancelled":   types.BoardCancelled,
	"canceled":    types.BoardCancelled,
}

// The board lattice collapses Backlog and Todo into "todo"; the reverse
// direction picks Backlog so that an issue never silently advances.
var boardToTracker = map[types.BoardStatus]types.TrackerStatus{
	types.BoardTodo:       types.StatusBacklog,
	types.BoardInProgress: types.StatusInProgress,
	types.BoardInReview:   types.StatusInReview,
	types.BoardDone:       types.StatusDone,
	types.BoardCancelled:  types.StatusCancelled,
}

// ToBoard maps a tracker status label to a board lattice value.
func ToBoard(s types.TrackerStatus) types.BoardStatus {
	if b, ok := trackerToBoard[strings.ToLower(strings.TrimSpace(string(s)))]; ok {
		return b
	}
	return types.BoardTodo
}

// ToTracker maps a board lattice value to a canonical tracker label.
func ToTracker(b types.BoardStatus) types.TrackerStatus {
	key := types.BoardStatus(strings.ToLower(strings.TrimSpace(string(b))))
	if s, ok := boardToTracker[key]; ok {
		return s
	}
	return types.StatusBacklog
}

// Canonical normalizes a tracker status string to its canonical spelling.
// Unrecognized input normalizes to Backlog.
func Canonical(s string) types.TrackerStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "backlog", "todo", "to do":
		return types.StatusBacklog
	case "in progress", "inprogress":
		return types.StatusInProgress
	case "in review", "inreview":
		return types.StatusInReview
	case "done", "completed":
		return types.StatusDone
	case "cancelled", "canceled":
		return types.StatusCancelled
	default:
		return types.StatusBacklog
	}
}
