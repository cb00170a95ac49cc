package memblocks

import (
	"strings"
	"testing"

	"github.com/syncforge/trisync/internal/types"
)

func TestBuildersAreDeterministic(t *testing.T) {
	p := types.Project{
		Identifier:     "ACME",
		Name:           "Acme Rockets",
		FilesystemPath: "/repos/acme",
		State:          types.ProjectActive,
		IssueCount:     3,
	}
	issues := []types.Issue{
		{Identifier: "ACME-1", Title: "Bootstrap", Status: types.StatusBacklog},
		{Identifier: "ACME-2", Title: "Login", Status: types.StatusInProgress},
	}

	if Project(p) != Project(p) {
		t.Error("Project builder is not deterministic")
	}
	if BoardMetrics(issues) != BoardMetrics(issues) {
		t.Error("BoardMetrics builder is not deterministic")
	}
	for _, out := range []string{Project(p), BoardMetrics(issues), BacklogSummary(issues)} {
		if strings.Contains(out, "202") {
			t.Errorf("builder output appears to contain a timestamp: %q", out)
		}
	}
}

func TestHotspotsStableUnderPermutation(t *testing.T) {
	a := []Hotspot{
		{Area: "auth", Issues: []string{"ACME-2", "ACME-1"}},
		{Area: "billing", Issues: []string{"ACME-9"}},
	}
	b := []Hotspot{
		{Area: "billing", Issues: []string{"ACME-9"}},
		{Area: "auth", Issues: []string{"ACME-1", "ACME-2"}},
	}
	if Hotspots(a) != Hotspots(b) {
		t.Errorf("permuted input changed serialization:\n%q\n%q", Hotspots(a), Hotspots(b))
	}
}

func TestBoardMetricsCounts(t *testing.T) {
	issues := []types.Issue{
		{Status: types.StatusBacklog},
		{Status: types.StatusBacklog},
		{Status: types.StatusDone},
	}
	out := BoardMetrics(issues)
	for _, want := range []string{"total: 3", "backlog: 2", "done: 1", "in_progress: 0"} {
		if !strings.Contains(out, want) {
			t.Errorf("BoardMetrics missing %q:\n%s", want, out)
		}
	}
}

func TestBacklogSummaryFiltersAndCaps(t *testing.T) {
	var issues []types.Issue
	for i := 0; i < backlogLimit+10; i++ {
		issues = append(issues, types.Issue{
			Identifier: "ACME-" + string(rune('A'+i%26)) + string(rune('A'+i/26)),
			Title:      "task",
			Status:     types.StatusBacklog,
		})
	}
	issues = append(issues, types.Issue{Identifier: "ACME-ZZ", Title: "done task", Status: types.StatusDone})

	out := BacklogSummary(issues)
	if strings.Contains(out, "done task") {
		t.Error("non-backlog issue leaked into summary")
	}
	if got := len(strings.Split(out, "\n")); got != backlogLimit {
		t.Errorf("summary lines = %d, want %d", got, backlogLimit)
	}

	if BacklogSummary(nil) != "Backlog is empty." {
		t.Errorf("empty summary = %q", BacklogSummary(nil))
	}
}

func TestChangeLogNewestFirst(t *testing.T) {
	entries := []ChangeEntry{
		{Identifier: "ACME-1", From: types.StatusBacklog, To: types.StatusInProgress},
		{Identifier: "ACME-1", From: types.StatusInProgress, To: types.StatusDone},
	}
	out := ChangeLog(entries)
	lines := strings.Split(out, "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %v", lines)
	}
	if !strings.Contains(lines[0], "In Progress -> Done") {
		t.Errorf("newest entry not first: %q", lines[0])
	}
}

func TestChangeLogCap(t *testing.T) {
	var entries []ChangeEntry
	for i := 0; i < changeLogLimit*2; i++ {
		entries = append(entries, ChangeEntry{Identifier: "ACME-1", From: types.StatusBacklog, To: types.StatusDone})
	}
	if got := len(strings.Split(ChangeLog(entries), "\n")); got != changeLogLimit {
		t.Errorf("changelog lines = %d, want %d", got, changeLogLimit)
	}
}

func TestBoardConfigListsColumns(t *testing.T) {
	out := BoardConfig(42, "ACME")
	if !strings.Contains(out, "board_project_id: 42") {
		t.Errorf("missing board id:\n%s", out)
	}
	if !strings.Contains(out, "todo, inprogress, inreview, done, cancelled") {
		t.Errorf("missing column lattice:\n%s", out)
	}
}
