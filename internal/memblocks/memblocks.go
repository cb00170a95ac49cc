// Package memblocks builds the canonical value of every agent memory block.
//
// All builders are pure: the same inputs always yield the same bytes. No
// builder may emit wall-clock time or any other per-invocation value, since
// block writes are suppressed by content hash and a "now" field would force
// a write on every cycle. Structured output sorts keys so input permutation
// cannot change the serialization.
package memblocks

import (
	"fmt"
	"sort"
	"strings"

	"github.com/syncforge/trisync/internal/types"
)

// Block labels managed on every project agent.
const (
	LabelProject        = "project"
	LabelBoardConfig    = "board_config"
	LabelBoardMetrics   = "board_metrics"
	LabelHotspots       = "hotspots"
	LabelBacklogSummary = "backlog_summary"
	LabelChangeLog      = "change_log"
	LabelPersona        = "persona"
	LabelHuman          = "human"
	LabelScratchpad     = "scratchpad"
)

// ManagedLabels lists every label the lifecycle manager upserts, in upsert
// order. Persona and human are seeded at creation and not overwritten;
// scratchpad belongs to the agent.
var ManagedLabels = []string{
	LabelProject, LabelBoardConfig, LabelBoardMetrics,
	LabelHotspots, LabelBacklogSummary, LabelChangeLog,
}

// Hotspot is one frequently-changed issue cluster.
type Hotspot struct {
	Area   string
	Issues []string // canonical identifiers
}

// ChangeEntry is one recorded status transition.
type ChangeEntry struct {
	Identifier string
	From       types.TrackerStatus
	To         types.TrackerStatus
}

// Project renders the project overview block.
func Project(p types.Project) string {
	var b strings.Builder
	writeKV(&b, "identifier", p.Identifier)
	writeKV(&b, "name", p.Name)
	writeKV(&b, "filesystem_path", p.FilesystemPath)
	writeKV(&b, "git_url", p.GitURL)
	writeKV(&b, "state", string(p.State))
	writeKV(&b, "issue_count", fmt.Sprintf("%d", p.IssueCount))
	return strings.TrimRight(b.String(), "\n")
}

// BoardConfig renders the board binding and column lattice.
func BoardConfig(boardID int64, projectIdentifier string) string {
	var b strings.Builder
	writeKV(&b, "board_project_id", fmt.Sprintf("%d", boardID))
	writeKV(&b, "project", projectIdentifier)
	cols := make([]string, len(types.BoardStatuses))
	for i, s := range types.BoardStatuses {
		cols[i] = string(s)
	}
	writeKV(&b, "columns", strings.Join(cols, ", "))
	return strings.TrimRight(b.String(), "\n")
}

// BoardMetrics renders per-status issue counts. Counts derive from observed
// issue state, so the block only changes when the board actually changes.
func BoardMetrics(issues []types.Issue) string {
	counts := map[types.TrackerStatus]int{}
	for _, issue := range issues {
		counts[issue.Status]++
	}
	var b strings.Builder
	writeKV(&b, "total", fmt.Sprintf("%d", len(issues)))
	for _, s := range types.TrackerStatuses {
		writeKV(&b, strings.ToLower(strings.ReplaceAll(string(s), " ", "_")),
			fmt.Sprintf("%d", counts[s]))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Hotspots renders issue clusters sorted by area name for stability.
func Hotspots(spots []Hotspot) string {
	if len(spots) == 0 {
		return "No hotspots identified."
	}
	sorted := make([]Hotspot, len(spots))
	copy(sorted, spots)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Area < sorted[j].Area })

	var b strings.Builder
	for _, s := range sorted {
		issues := make([]string, len(s.Issues))
		copy(issues, s.Issues)
		sort.Strings(issues)
		writeKV(&b, s.Area, strings.Join(issues, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

// backlogLimit caps the backlog summary so the block stays within platform
// block size limits.
const backlogLimit = 25

// BacklogSummary renders the open backlog, oldest identifiers first.
func BacklogSummary(issues []types.Issue) string {
	var open []types.Issue
	for _, issue := range issues {
		if issue.Status == types.StatusBacklog {
			open = append(open, issue)
		}
	}
	if len(open) == 0 {
		return "Backlog is empty."
	}
	sort.Slice(open, func(i, j int) bool { return open[i].Identifier < open[j].Identifier })
	if len(open) > backlogLimit {
		open = open[:backlogLimit]
	}

	var b strings.Builder
	for _, issue := range open {
		line := issue.Identifier + ": " + issue.Title
		if issue.Priority != "" {
			line += " [" + issue.Priority + "]"
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// changeLogLimit caps retained transitions.
const changeLogLimit = 50

// ChangeLog renders recorded status transitions, newest first. Entries carry
// no timestamps; the caller appends only on real transitions, so the block
// is stable across idle cycles.
func ChangeLog(entries []ChangeEntry) string {
	if len(entries) == 0 {
		return "No recorded changes."
	}
	if len(entries) > changeLogLimit {
		entries = entries[len(entries)-changeLogLimit:]
	}
	var b strings.Builder
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		fmt.Fprintf(&b, "%s: %s -> %s\n", e.Identifier, e.From, e.To)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Persona is the default persona seeded when no Control Agent template is
// available.
func Persona(projectName string) string {
	return fmt.Sprintf("You are the project memory agent for %s. "+
		"You track issue status, backlog health, and recurring problem areas. "+
		"Answer questions about project state from your memory blocks; "+
		"keep your scratchpad for working notes.", projectName)
}

// Human is the default human block seeded at agent creation.
func Human(projectName string) string {
	return fmt.Sprintf("The human is a developer working on %s. "+
		"They consult this agent for project status and history.", projectName)
}

// Scratchpad is the initial scratchpad value. Never overwritten after
// creation; the block belongs to the agent.
func Scratchpad() string {
	return "Working notes. This space is yours."
}

func writeKV(b *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	b.WriteString(key + ": " + value + "\n")
}
