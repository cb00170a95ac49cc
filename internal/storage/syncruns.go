package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/syncforge/trisync/internal/types"
)

// BeginRun appends a new sync run record and returns its ID.
func (s *Store) BeginRun(ctx context.Context) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, started_at) VALUES (?, ?)`,
		id, time.Now().UTC())
	if err != nil {
		return "", wrapDBError("begin run", err)
	}
	return id, nil
}

// CompleteRun finalizes a sync run with its stats and error map.
func (s *Store) CompleteRun(ctx context.Context, id string, processed, failed, synced int, runErrs types.RunErrors, duration time.Duration) error {
	errsJSON := []byte("{}")
	if len(runErrs) > 0 {
		b, err := json.Marshal(runErrs)
		if err == nil {
			errsJSON = b
		}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_runs SET completed_at = ?, projects_processed = ?,
			projects_failed = ?, issues_synced = ?, errors_json = ?, duration_ms = ?
		WHERE id = ?`,
		time.Now().UTC(), processed, failed, synced, string(errsJSON),
		duration.Milliseconds(), id)
	return wrapDBError("complete run", err)
}

// RecentRuns returns the last n sync runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, n int) ([]*types.SyncRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, completed_at, projects_processed, projects_failed,
			issues_synced, errors_json, duration_ms
		FROM sync_runs ORDER BY started_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, wrapDBError("recent runs", err)
	}
	defer rows.Close()

	var out []*types.SyncRun
	for rows.Next() {
		var r types.SyncRun
		var completed sql.NullTime
		var errs string
		if err := rows.Scan(&r.ID, &r.StartedAt, &completed, &r.ProjectsProcessed,
			&r.ProjectsFailed, &r.IssuesSynced, &errs, &r.DurationMS); err != nil {
			return nil, wrapDBError("scan run", err)
		}
		r.CompletedAt = timePtr(completed)
		if errs != "" && errs != "{}" {
			r.Errors = json.RawMessage(errs)
		}
		out = append(out, &r)
	}
	return out, wrapDBError("recent runs", rows.Err())
}

// LastRun returns the most recent run, or nil when none exist.
func (s *Store) LastRun(ctx context.Context) (*types.SyncRun, error) {
	runs, err := s.RecentRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return runs[0], nil
}
