package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/syncforge/trisync/internal/types"
)

const issueCols = `identifier, project_identifier, title, description, status,
	priority, tracker_internal_id, board_task_id, local_store_id,
	tracker_status, board_status, local_status,
	tracker_modified_at, board_modified_at, local_modified_at,
	description_hash, created_at, updated_at`

// UpsertIssue inserts or updates the canonical issue row. Binding IDs and
// per-source observations only overwrite when the incoming value is set, so
// a partial observation from one source never erases another source's
// binding. Idempotent: re-running with identical input is a no-op update.
func (s *Store) UpsertIssue(ctx context.Context, issue *types.Issue) error {
	return s.upsertIssueExec(ctx, s.db, issue)
}

// UpsertIssueTx is UpsertIssue inside an existing transaction.
func (s *Store) UpsertIssueTx(ctx context.Context, tx *sql.Tx, issue *types.Issue) error {
	return s.upsertIssueExec(ctx, tx, issue)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) upsertIssueExec(ctx context.Context, db execer, issue *types.Issue) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO issues (identifier, project_identifier, title, description,
			status, priority, tracker_internal_id, board_task_id, local_store_id,
			tracker_status, board_status, local_status,
			tracker_modified_at, board_modified_at, local_modified_at,
			description_hash, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(identifier) DO UPDATE SET
			project_identifier = excluded.project_identifier,
			title = CASE WHEN excluded.title != '' THEN excluded.title ELSE issues.title END,
			description = CASE WHEN excluded.description != '' THEN excluded.description ELSE issues.description END,
			status = CASE WHEN excluded.status != '' THEN excluded.status ELSE issues.status END,
			priority = CASE WHEN excluded.priority != '' THEN excluded.priority ELSE issues.priority END,
			tracker_internal_id = CASE WHEN excluded.tracker_internal_id != '' THEN excluded.tracker_internal_id ELSE issues.tracker_internal_id END,
			board_task_id = CASE WHEN excluded.board_task_id != 0 THEN excluded.board_task_id ELSE issues.board_task_id END,
			local_store_id = CASE WHEN excluded.local_store_id != '' THEN excluded.local_store_id ELSE issues.local_store_id END,
			tracker_status = CASE WHEN excluded.tracker_status != '' THEN excluded.tracker_status ELSE issues.tracker_status END,
			board_status = CASE WHEN excluded.board_status != '' THEN excluded.board_status ELSE issues.board_status END,
			local_status = CASE WHEN excluded.local_status != '' THEN excluded.local_status ELSE issues.local_status END,
			tracker_modified_at = COALESCE(excluded.tracker_modified_at, issues.tracker_modified_at),
			board_modified_at = COALESCE(excluded.board_modified_at, issues.board_modified_at),
			local_modified_at = COALESCE(excluded.local_modified_at, issues.local_modified_at),
			description_hash = CASE WHEN excluded.description_hash != '' THEN excluded.description_hash ELSE issues.description_hash END,
			updated_at = CURRENT_TIMESTAMP`,
		issue.Identifier, issue.ProjectIdentifier, issue.Title, issue.Description,
		string(issue.Status), issue.Priority, issue.TrackerID, issue.BoardTaskID,
		issue.LocalStoreID, string(issue.TrackerStatus), string(issue.BoardStatus),
		issue.LocalStatus, nullTime(issue.TrackerModifiedAt),
		nullTime(issue.BoardModifiedAt), nullTime(issue.LocalModifiedAt),
		issue.DescriptionHash)
	return wrapDBError("upsert issue "+issue.Identifier, err)
}

// GetIssue fetches one issue by canonical identifier.
func (s *Store) GetIssue(ctx context.Context, identifier string) (*types.Issue, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+issueCols+` FROM issues WHERE identifier = ?`, identifier)
	issue, err := scanIssue(row)
	if err != nil {
		return nil, wrapDBError("get issue "+identifier, err)
	}
	return issue, nil
}

// ListIssues returns a project's issues, optionally filtered by status.
func (s *Store) ListIssues(ctx context.Context, project string, status types.TrackerStatus) ([]*types.Issue, error) {
	query := `SELECT ` + issueCols + ` FROM issues WHERE project_identifier = ?`
	args := []any{project}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY identifier`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list issues", err)
	}
	defer rows.Close()

	var out []*types.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, wrapDBError("scan issue", err)
		}
		out = append(out, issue)
	}
	return out, wrapDBError("list issues", rows.Err())
}

// DeleteIssue removes the canonical row. Only tracker-side deletion is
// authoritative; callers handle board archival and local closure first.
func (s *Store) DeleteIssue(ctx context.Context, identifier string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM issues WHERE identifier = ?`, identifier)
	return wrapDBError("delete issue "+identifier, err)
}

// RecordObserved updates the per-source status and timestamp columns from
// the values actually observed after a reconciliation, never from intended
// writes.
func (s *Store) RecordObserved(ctx context.Context, identifier string,
	trackerStatus types.TrackerStatus, trackerAt *time.Time,
	boardStatus types.BoardStatus, boardAt *time.Time,
	localStatus string, localAt *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE issues SET
			status = CASE WHEN ? != '' THEN ? ELSE status END,
			tracker_status = CASE WHEN ? != '' THEN ? ELSE tracker_status END,
			board_status = CASE WHEN ? != '' THEN ? ELSE board_status END,
			local_status = CASE WHEN ? != '' THEN ? ELSE local_status END,
			tracker_modified_at = COALESCE(?, tracker_modified_at),
			board_modified_at = COALESCE(?, board_modified_at),
			local_modified_at = COALESCE(?, local_modified_at),
			updated_at = CURRENT_TIMESTAMP
		WHERE identifier = ?`,
		string(trackerStatus), string(trackerStatus),
		string(trackerStatus), string(trackerStatus),
		string(boardStatus), string(boardStatus),
		localStatus, localStatus,
		nullTime(trackerAt), nullTime(boardAt), nullTime(localAt),
		identifier)
	return wrapDBError("record observed "+identifier, err)
}

func scanIssue(row rowScanner) (*types.Issue, error) {
	var i types.Issue
	var trackerAt, boardAt, localAt sql.NullTime
	err := row.Scan(&i.Identifier, &i.ProjectIdentifier, &i.Title, &i.Description,
		(*string)(&i.Status), &i.Priority, &i.TrackerID, &i.BoardTaskID,
		&i.LocalStoreID, (*string)(&i.TrackerStatus), (*string)(&i.BoardStatus),
		&i.LocalStatus, &trackerAt, &boardAt, &localAt,
		&i.DescriptionHash, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, err
	}
	i.TrackerModifiedAt = timePtr(trackerAt)
	i.BoardModifiedAt = timePtr(boardAt)
	i.LocalModifiedAt = timePtr(localAt)
	return &i, nil
}
