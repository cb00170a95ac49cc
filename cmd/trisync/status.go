package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/syncforge/trisync/internal/config"
	"github.com/syncforge/trisync/internal/storage"
	"github.com/syncforge/trisync/internal/types"
)

var (
	statusRuns int
	statusYAML bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show projects and recent sync runs from the state database",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd.Context())
	},
}

func init() {
	statusCmd.Flags().IntVarP(&statusRuns, "runs", "n", 10, "number of recent runs to show")
	statusCmd.Flags().BoolVar(&statusYAML, "yaml", false, "emit machine-readable YAML instead of a table")
}

func runStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, err := storage.Open(ctx, cfg.StateDBPath)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	projects, err := store.ListProjects(ctx)
	if err != nil {
		return err
	}
	runs, err := store.RecentRuns(ctx, statusRuns)
	if err != nil {
		return err
	}

	if statusYAML {
		return writeStatusYAML(os.Stdout, projects, runs)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)

	fmt.Fprintf(w, "PROJECT\tSTATE\tISSUES\tAGENT\tLAST SYNC\n")
	for _, p := range projects {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			p.Identifier, p.State, p.IssueCount,
			yesNo(p.Agent.AgentID != ""), formatWhen(p.LastSyncAt))
	}
	w.Flush()

	if len(runs) == 0 {
		fmt.Println("\nno sync runs recorded")
		return nil
	}

	fmt.Fprintf(w, "\nSTARTED\tDURATION\tPROCESSED\tFAILED\tSYNCED\tERRORS\n")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			(time.Duration(r.DurationMS) * time.Millisecond).Round(time.Millisecond),
			r.ProjectsProcessed, r.ProjectsFailed, r.IssuesSynced,
			summarizeErrors(r.Errors))
	}
	return w.Flush()
}

// statusReport is the YAML output shape for scripting.
type statusReport struct {
	Projects []statusProject `yaml:"projects"`
	Runs     []statusRun     `yaml:"runs"`
}

type statusProject struct {
	Identifier string `yaml:"identifier"`
	Name       string `yaml:"name"`
	State      string `yaml:"state"`
	Issues     int    `yaml:"issues"`
	AgentID    string `yaml:"agent_id,omitempty"`
	LastSyncAt string `yaml:"last_sync_at,omitempty"`
}

type statusRun struct {
	StartedAt  string `yaml:"started_at"`
	DurationMS int64  `yaml:"duration_ms"`
	Processed  int    `yaml:"projects_processed"`
	Failed     int    `yaml:"projects_failed"`
	Synced     int    `yaml:"issues_synced"`
	Errors     string `yaml:"errors,omitempty"`
}

func writeStatusYAML(w io.Writer, projects []*types.Project, runs []*types.SyncRun) error {
	report := statusReport{}
	for _, p := range projects {
		sp := statusProject{
			Identifier: p.Identifier,
			Name:       p.Name,
			State:      string(p.State),
			Issues:     p.IssueCount,
			AgentID:    p.Agent.AgentID,
		}
		if p.LastSyncAt != nil {
			sp.LastSyncAt = p.LastSyncAt.UTC().Format(time.RFC3339)
		}
		report.Projects = append(report.Projects, sp)
	}
	for _, r := range runs {
		sr := statusRun{
			StartedAt:  r.StartedAt.UTC().Format(time.RFC3339),
			DurationMS: r.DurationMS,
			Processed:  r.ProjectsProcessed,
			Failed:     r.ProjectsFailed,
			Synced:     r.IssuesSynced,
		}
		if s := summarizeErrors(r.Errors); s != "-" {
			sr.Errors = s
		}
		report.Runs = append(report.Runs, sr)
	}
	return yaml.NewEncoder(w).Encode(&report)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatWhen(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// summarizeErrors renders the per-project error map as a compact list.
func summarizeErrors(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "-"
	}
	var errs types.RunErrors
	if err := json.Unmarshal(raw, &errs); err != nil || len(errs) == 0 {
		return "-"
	}
	out := ""
	for k := range errs {
		if out != "" {
			out += ","
		}
		out += k
	}
	return out
}
