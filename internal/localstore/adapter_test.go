package localstore

import (
	"os"
	"path/filepath"
	"testing"
)

func writeJSONL(t *testing.T, dir string, lines ...string) string {
	t.Helper()
	beadsDir := filepath.Join(dir, markerDir)
	if err := os.MkdirAll(beadsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(filepath.Join(beadsDir, "issues.jsonl"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestAvailable(t *testing.T) {
	a := New("bd", nil, false)

	dir := t.TempDir()
	if a.Available(dir) {
		t.Error("expected unavailable without marker dir")
	}
	writeJSONL(t, dir)
	if !a.Available(dir) {
		t.Error("expected available with marker dir")
	}
	if a.Available("") {
		t.Error("empty path must be unavailable")
	}
}

func TestListIssues(t *testing.T) {
	a := New("bd", nil, false)
	dir := writeJSONL(t, t.TempDir(),
		`{"id":"bd-1","title":"Bootstrap","status":"open","priority":2,"description":"setup\n\nSynced from Huly: ACME-1"}`,
		`not json at all`,
		`{"id":"bd-2","title":"Fix login","status":"closed","priority":1}`,
	)

	issues, err := a.ListIssues(dir)
	if err != nil {
		t.Fatalf("ListIssues: %v", err)
	}
	if len(issues) != 2 {
		t.Fatalf("len(issues) = %d, want 2 (malformed line skipped)", len(issues))
	}
	if issues[0].ID != "bd-1" || issues[0].Status != "open" {
		t.Errorf("issues[0] = %+v", issues[0])
	}
	if issues[1].Status != StatusClosed {
		t.Errorf("issues[1].Status = %q", issues[1].Status)
	}
}

func TestListIssuesMissingFile(t *testing.T) {
	a := New("bd", nil, false)
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, markerDir), 0o755); err != nil {
		t.Fatal(err)
	}

	issues, err := a.ListIssues(dir)
	if err != nil {
		t.Fatalf("ListIssues: %v", err)
	}
	if issues != nil {
		t.Errorf("issues = %v, want nil", issues)
	}
}

func TestExtractIdentifier(t *testing.T) {
	tests := []struct {
		desc string
		want string
	}{
		{"setup\n\nSynced from Huly: ACME-1", "ACME-1"},
		{"Synced from Huly: PROJ-42\n", "PROJ-42"},
		{"  Synced from Huly: X-9  ", "X-9"},
		{"no footer here", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExtractIdentifier(tt.desc); got != tt.want {
			t.Errorf("ExtractIdentifier(%q) = %q, want %q", tt.desc, got, tt.want)
		}
	}
}
