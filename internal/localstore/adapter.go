// Package localstore adapts the project-local issue database: a git-committed
// JSONL export maintained by the `bd` CLI inside each project repository.
//
// All mutations run the CLI under an adapter-owned per-project mutex so
// concurrent callers never interleave subprocess invocations for the same
// repository. The map is private to the adapter: callers routinely hold
// their own per-project locks across these calls, and sharing one map
// would deadlock.
package localstore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/syncforge/trisync/internal/projmutex"
)

// Marker subdirectory identifying a local issue database.
const markerDir = ".beads"

// Status values used by the local store.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusClosed     = "closed"
)

// Issue is one local-store issue row from the JSONL export.
type Issue struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status,omitempty"`
	Priority    int        `json:"priority"`
	ExternalRef *string    `json:"external_ref,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

// Adapter invokes the local CLI per project directory.
type Adapter struct {
	binary  string
	mutexes *projmutex.Map
	log     *slog.Logger
	dryRun  bool
}

// New creates an adapter. binary defaults to "bd" when empty.
func New(binary string, log *slog.Logger, dryRun bool) *Adapter {
	if binary == "" {
		binary = "bd"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{binary: binary, mutexes: projmutex.New(), log: log, dryRun: dryRun}
}

// Available reports whether path hosts a local issue database.
func (a *Adapter) Available(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(filepath.Join(path, markerDir))
	return err == nil && info.IsDir()
}

// ListIssues reads the JSONL export. Malformed lines are skipped with a
// warning rather than failing the whole pass.
func (a *Adapter) ListIssues(path string) ([]Issue, error) {
	jsonlPath := filepath.Join(path, markerDir, "issues.jsonl")
	f, err := os.Open(jsonlPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("localstore: open %s: %w", jsonlPath, err)
	}
	defer f.Close()

	var issues []Issue
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var issue Issue
		if err := json.Unmarshal(line, &issue); err != nil {
			a.log.Warn("localstore: skipping malformed jsonl line",
				"path", jsonlPath, "line", lineNo, "error", err)
			continue
		}
		issues = append(issues, issue)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("localstore: read %s: %w", jsonlPath, err)
	}
	return issues, nil
}

// CreateIssue creates a local issue for the canonical identifier and returns
// the CLI-assigned local ID for binding into the state store.
func (a *Adapter) CreateIssue(ctx context.Context, path, project, identifier, title, description string) (string, error) {
	unlock := a.mutexes.Lock(project)
	defer unlock()

	desc := strings.TrimSpace(description + "\n\nSynced from Huly: " + identifier)
	out, err := a.run(ctx, path, "create", title, "-d", desc, "--json")
	if err != nil {
		return "", fmt.Errorf("localstore: create %s: %w", identifier, err)
	}
	if a.dryRun {
		return "", nil
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(out, &created); err != nil {
		return "", fmt.Errorf("localstore: parse create output for %s: %w", identifier, err)
	}
	return created.ID, nil
}

// UpdateStatus sets the local issue's status.
func (a *Adapter) UpdateStatus(ctx context.Context, path, project, localID, status string) error {
	unlock := a.mutexes.Lock(project)
	defer unlock()

	if _, err := a.run(ctx, path, "update", localID, "--status", status); err != nil {
		return fmt.Errorf("localstore: update %s: %w", localID, err)
	}
	return nil
}

// CloseIssue closes the local issue.
func (a *Adapter) CloseIssue(ctx context.Context, path, project, localID string) error {
	unlock := a.mutexes.Lock(project)
	defer unlock()

	if _, err := a.run(ctx, path, "close", localID); err != nil {
		return fmt.Errorf("localstore: close %s: %w", localID, err)
	}
	return nil
}

// run executes one CLI invocation in the project directory. The context
// cancels the subprocess cooperatively.
func (a *Adapter) run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	if a.dryRun {
		a.log.Info("localstore: skipping cli invocation", "args", args, "dry_run", true)
		return nil, nil
	}

	cmd := exec.CommandContext(ctx, a.binary, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		a.log.Warn("localstore: slow cli invocation", "args", args, "elapsed", elapsed)
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w (stderr: %s)",
			a.binary, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// ExtractIdentifier pulls the canonical tracker identifier out of a local
// issue's description footer, if present.
func ExtractIdentifier(description string) string {
	for _, line := range strings.Split(description, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "Synced from Huly: "); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}
