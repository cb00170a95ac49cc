package main

import (
	"context"
	"strings"
	"time"

	"github.com/syncforge/trisync/internal/agentmgr"
	"github.com/syncforge/trisync/internal/config"
	"github.com/syncforge/trisync/internal/engine"
	"github.com/syncforge/trisync/internal/metrics"
	"github.com/syncforge/trisync/internal/storage"
)

// apiTarget classifies an outbound URL by the upstream it hits, for the
// per-API latency histogram label.
func apiTarget(cfg *config.Config, url string) string {
	switch {
	case cfg.TrackerAPIURL != "" && strings.HasPrefix(url, cfg.TrackerAPIURL):
		return "tracker"
	case cfg.BoardAPIURL != "" && strings.HasPrefix(url, cfg.BoardAPIURL):
		return "board"
	case cfg.AgentBaseURL != "" && strings.HasPrefix(url, cfg.AgentBaseURL):
		return "agent"
	default:
		return "other"
	}
}

// instrumentedRunner records run-level metrics around the engine.
type instrumentedRunner struct {
	eng *engine.Engine
	m   *metrics.Metrics
}

func (r *instrumentedRunner) SyncAll(ctx context.Context, cfg *config.Config) (*engine.RunStats, error) {
	start := time.Now()
	stats, err := r.eng.SyncAll(ctx, cfg)
	r.m.SyncDuration.Observe(time.Since(start).Seconds())

	result := "success"
	if err != nil || (stats != nil && stats.ProjectsFailed > 0) {
		result = "failure"
		r.m.LastSyncSuccess.Set(0)
	} else {
		r.m.LastSyncSuccess.Set(1)
	}
	r.m.SyncRunsTotal.WithLabelValues(result).Inc()
	if stats != nil {
		r.m.IssuesSynced.Add(float64(stats.IssuesSynced))
		r.m.ProjectsFailed.Add(float64(stats.ProjectsFailed))
	}
	return stats, err
}

// instrumentedReconciler publishes the divergence count from each
// reconciliation pass.
type instrumentedReconciler struct {
	eng *engine.Engine
	m   *metrics.Metrics
}

func (r *instrumentedReconciler) Reconcile(ctx context.Context, cfg *config.Config) ([]engine.Divergence, error) {
	divs, err := r.eng.Reconcile(ctx, cfg)
	if err == nil {
		r.m.Divergences.Set(float64(len(divs)))
	}
	return divs, err
}

// agentDocs adapts the agent manager to the doc-change event flow: resolve
// the project, make sure its agent exists, and push the current docs.
type agentDocs struct {
	store *storage.Store
	mgr   *agentmgr.Manager
}

func (d *agentDocs) SyncProjectDocs(ctx context.Context, identifier string) error {
	p, err := d.store.GetProject(ctx, identifier)
	if err != nil {
		return err
	}
	agentID, err := d.mgr.EnsureAgent(ctx, p)
	if err != nil {
		return err
	}
	return d.mgr.SyncDocs(ctx, p, agentID)
}
