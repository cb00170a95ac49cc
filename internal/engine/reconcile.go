package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/syncforge/trisync/internal/config"
	"github.com/syncforge/trisync/internal/localstore"
	"github.com/syncforge/trisync/internal/statusmap"
	"github.com/syncforge/trisync/internal/types"
)

// Divergence is one observed disagreement between sources for an issue.
type Divergence struct {
	Identifier string
	Detail     string
}

// Reconcile performs the exhaustive periodic pass: every project, every
// issue, all three sources compared against the canonical row. It writes
// nothing to any source; disagreements are returned and recorded in the run
// history under the "divergence" key.
func (e *Engine) Reconcile(ctx context.Context, cfg *config.Config) ([]Divergence, error) {
	runID, err := e.store.BeginRun(ctx)
	if err != nil {
		return nil, err
	}
	start := e.now()

	projects, err := e.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}

	var divergences []Divergence
	processed := 0
	for _, p := range projects {
		if err := ctx.Err(); err != nil {
			return divergences, err
		}
		found, err := e.reconcileProject(ctx, p)
		if err != nil {
			e.log.Warn("reconcile pass failed for project",
				"project", p.Identifier, "error", err)
			continue
		}
		processed++
		divergences = append(divergences, found...)
	}

	var runErrs types.RunErrors
	if len(divergences) > 0 {
		lines := make([]string, len(divergences))
		for i, d := range divergences {
			lines[i] = d.Identifier + ": " + d.Detail
		}
		runErrs = types.RunErrors{"divergence": strings.Join(lines, "; ")}
		e.log.Warn("reconciliation found divergences", "count", len(divergences))
	}
	if err := e.store.CompleteRun(ctx, runID, processed, 0, 0, runErrs, e.now().Sub(start)); err != nil {
		e.log.Error("could not complete reconcile run record", "run_id", runID, "error", err)
	}
	return divergences, nil
}

func (e *Engine) reconcileProject(ctx context.Context, p *types.Project) ([]Divergence, error) {
	unlock := e.mutexes.Lock(p.Identifier)
	defer unlock()

	issues, err := e.store.ListIssues(ctx, p.Identifier, "")
	if err != nil {
		return nil, err
	}
	byIdent := make(map[string]*types.Issue, len(issues))
	for _, issue := range issues {
		byIdent[issue.Identifier] = issue
	}

	var out []Divergence

	trackerIssues, err := e.tracker.ListIssues(ctx, p.Identifier, noSince)
	if err != nil {
		return nil, err
	}
	for _, ti := range trackerIssues {
		issue := byIdent[ti.Identifier]
		if issue == nil {
			out = append(out, Divergence{ti.Identifier, "tracker issue missing from state store"})
			continue
		}
		if got := statusmap.Canonical(ti.Status); got != issue.Status {
			out = append(out, Divergence{ti.Identifier,
				fmt.Sprintf("tracker=%s store=%s", got, issue.Status)})
		}
	}

	if p.BoardID != 0 {
		tasks, err := e.board.ListTasks(ctx, p.BoardID)
		if err != nil {
			return out, err
		}
		for _, task := range tasks {
			ident := extractBoardIdentifier(task.Description)
			if ident == "" {
				continue
			}
			issue := byIdent[ident]
			if issue == nil {
				out = append(out, Divergence{ident, "board task not bound in state store"})
				continue
			}
			want := statusmap.ToBoard(issue.Status)
			if got := types.BoardStatus(strings.ToLower(task.Status)); got != want {
				out = append(out, Divergence{ident,
					fmt.Sprintf("board=%s expected=%s", got, want)})
			}
		}
	}

	if e.local != nil && p.FilesystemPath != "" && e.local.Available(p.FilesystemPath) {
		localIssues, err := e.local.ListIssues(p.FilesystemPath)
		if err != nil {
			return out, err
		}
		for _, li := range localIssues {
			ident := localstore.ExtractIdentifier(li.Description)
			if ident == "" {
				continue
			}
			issue := byIdent[ident]
			if issue == nil {
				out = append(out, Divergence{ident, "local issue not bound in state store"})
				continue
			}
			if want := localStatusFor(issue.Status); li.Status != want {
				out = append(out, Divergence{ident,
					fmt.Sprintf("local=%s expected=%s", li.Status, want)})
			}
		}
	}
	return out, nil
}
