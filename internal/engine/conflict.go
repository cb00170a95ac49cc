package engine

import (
	"sync"
	"time"

	"github.com/syncforge/trisync/internal/statusmap"
	"github.com/syncforge/trisync/internal/types"
)

// Conflict resolution thresholds.
const (
	// boardFreshness bounds how old a board timestamp may be before it is
	// treated as untrustworthy.
	boardFreshness = 24 * time.Hour
	// authorityWindow is the interval within which simultaneous claims from
	// both sources defer to the tracker.
	authorityWindow = 30 * time.Second
)

// action says which side the resolution writes.
type action int

const (
	actionNone action = iota
	actionWriteBoard
	actionWriteTracker
)

// resolution is a conflict decision for one issue.
type resolution struct {
	act    action
	status types.TrackerStatus // canonical target status
	reason string
}

// observation holds freshly fetched per-source state for one issue.
type observation struct {
	trackerStatus     types.TrackerStatus
	trackerModifiedAt time.Time
	boardStatus       types.BoardStatus
	boardModifiedAt   time.Time
}

// resolve decides which source wins for a diverging issue. Rules in order:
// board freshness gate, tracker authority in the simultaneous window,
// last-writer-wins with ties to the tracker.
func resolve(obs observation, now time.Time) resolution {
	if statusmap.ToBoard(obs.trackerStatus) == obs.boardStatus {
		return resolution{act: actionNone, reason: "converged"}
	}

	boardStale := obs.boardModifiedAt.IsZero() ||
		now.Sub(obs.boardModifiedAt) > boardFreshness ||
		obs.trackerModifiedAt.Sub(obs.boardModifiedAt) > boardFreshness
	if boardStale {
		return resolution{
			act:    actionWriteBoard,
			status: obs.trackerStatus,
			reason: "board timestamp stale, tracker wins",
		}
	}

	delta := obs.trackerModifiedAt.Sub(obs.boardModifiedAt)
	if delta < 0 {
		delta = -delta
	}
	if delta <= authorityWindow {
		return resolution{
			act:    actionWriteBoard,
			status: obs.trackerStatus,
			reason: "simultaneous change, tracker authoritative",
		}
	}

	if obs.boardModifiedAt.After(obs.trackerModifiedAt) {
		return resolution{
			act:    actionWriteTracker,
			status: statusmap.ToTracker(obs.boardStatus),
			reason: "board is the last writer",
		}
	}
	return resolution{
		act:    actionWriteBoard,
		status: obs.trackerStatus,
		reason: "tracker is the last writer",
	}
}

// transition records one applied status change for flap detection.
type transition struct {
	from, to types.TrackerStatus
}

// flapGuard suppresses a pass that would reverse the state set by the
// immediately preceding pass for the same entity.
type flapGuard struct {
	mu   sync.Mutex
	prev map[string]transition // identifier -> last applied transition
	cur  map[string]transition
}

func newFlapGuard() *flapGuard {
	return &flapGuard{
		prev: map[string]transition{},
		cur:  map[string]transition{},
	}
}

// wouldFlap reports whether applying from->to for identifier reverses the
// previous pass's transition.
func (g *flapGuard) wouldFlap(identifier string, from, to types.TrackerStatus) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	last, ok := g.prev[identifier]
	return ok && last.from == to && last.to == from
}

// record notes an applied transition in the current pass.
func (g *flapGuard) record(identifier string, from, to types.TrackerStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cur[identifier] = transition{from: from, to: to}
}

// rotate ends the current pass: its transitions become the previous set.
func (g *flapGuard) rotate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prev = g.cur
	g.cur = map[string]transition{}
}
