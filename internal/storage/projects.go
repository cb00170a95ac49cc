package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/syncforge/trisync/internal/types"
)

const projectCols = `identifier, name, tracker_internal_id, board_internal_id,
	filesystem_path, git_url, description_hash, state, last_sync_at,
	empty_observed_at, issue_count, agent_id, agent_folder_id, agent_source_id,
	agent_last_sync_at, agent_block_hashes, created_at, updated_at`

// UpsertProject inserts or updates the project row keyed by identifier.
// Zero-valued binding fields never clobber existing bindings: the upsert
// keeps the stored value when the incoming one is empty.
func (s *Store) UpsertProject(ctx context.Context, p *types.Project) error {
	hashes, err := json.Marshal(p.Agent.BlockHashes)
	if err != nil {
		return fmt.Errorf("marshal block hashes: %w", err)
	}
	if p.Agent.BlockHashes == nil {
		hashes = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (identifier, name, tracker_internal_id, board_internal_id,
			filesystem_path, git_url, description_hash, state, last_sync_at,
			empty_observed_at, issue_count, agent_id, agent_folder_id, agent_source_id,
			agent_last_sync_at, agent_block_hashes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(identifier) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE projects.name END,
			tracker_internal_id = CASE WHEN excluded.tracker_internal_id != '' THEN excluded.tracker_internal_id ELSE projects.tracker_internal_id END,
			board_internal_id = CASE WHEN excluded.board_internal_id != 0 THEN excluded.board_internal_id ELSE projects.board_internal_id END,
			filesystem_path = CASE WHEN excluded.filesystem_path != '' THEN excluded.filesystem_path ELSE projects.filesystem_path END,
			git_url = CASE WHEN excluded.git_url != '' THEN excluded.git_url ELSE projects.git_url END,
			description_hash = CASE WHEN excluded.description_hash != '' THEN excluded.description_hash ELSE projects.description_hash END,
			state = excluded.state,
			last_sync_at = COALESCE(excluded.last_sync_at, projects.last_sync_at),
			empty_observed_at = excluded.empty_observed_at,
			issue_count = excluded.issue_count,
			agent_id = CASE WHEN excluded.agent_id != '' THEN excluded.agent_id ELSE projects.agent_id END,
			agent_folder_id = CASE WHEN excluded.agent_folder_id != '' THEN excluded.agent_folder_id ELSE projects.agent_folder_id END,
			agent_source_id = CASE WHEN excluded.agent_source_id != '' THEN excluded.agent_source_id ELSE projects.agent_source_id END,
			agent_last_sync_at = COALESCE(excluded.agent_last_sync_at, projects.agent_last_sync_at),
			agent_block_hashes = CASE WHEN excluded.agent_block_hashes != '{}' THEN excluded.agent_block_hashes ELSE projects.agent_block_hashes END,
			updated_at = CURRENT_TIMESTAMP`,
		p.Identifier, p.Name, p.TrackerID, p.BoardID,
		p.FilesystemPath, p.GitURL, p.DescriptionHash, stateOrActive(p.State),
		nullTime(p.LastSyncAt), nullTime(p.EmptyObservedAt), p.IssueCount,
		p.Agent.AgentID, p.Agent.FolderID, p.Agent.SourceID,
		nullTime(p.Agent.LastSyncAt), string(hashes))
	return wrapDBError("upsert project "+p.Identifier, err)
}

// GetProject fetches one project by identifier.
func (s *Store) GetProject(ctx context.Context, identifier string) (*types.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectCols+` FROM projects WHERE identifier = ?`, identifier)
	p, err := scanProject(row)
	if err != nil {
		return nil, wrapDBError("get project "+identifier, err)
	}
	return p, nil
}

// GetProjectByTrackerID resolves a project by its tracker-internal ID. Used
// during discovery to detect renames: the tracker ID is stable across an
// identifier change.
func (s *Store) GetProjectByTrackerID(ctx context.Context, trackerID string) (*types.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectCols+` FROM projects WHERE tracker_internal_id = ? LIMIT 1`, trackerID)
	p, err := scanProject(row)
	if err != nil {
		return nil, wrapDBError("get project by tracker id", err)
	}
	return p, nil
}

// ListProjects returns every project ordered by identifier.
func (s *Store) ListProjects(ctx context.Context) ([]*types.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+projectCols+` FROM projects ORDER BY identifier`)
	if err != nil {
		return nil, wrapDBError("list projects", err)
	}
	defer rows.Close()

	var out []*types.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, wrapDBError("scan project", err)
		}
		out = append(out, p)
	}
	return out, wrapDBError("list projects", rows.Err())
}

// ProjectsNeedingSync returns projects whose last sync is older than the
// interval, plus empty projects whose cache entry has expired.
func (s *Store) ProjectsNeedingSync(ctx context.Context, interval, emptyTTL time.Duration) ([]*types.Project, error) {
	cutoff := time.Now().UTC().Add(-interval)
	emptyCutoff := time.Now().UTC().Add(-emptyTTL)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+projectCols+` FROM projects
		WHERE (state = 'active' AND (last_sync_at IS NULL OR last_sync_at < ?))
		   OR (state = 'empty' AND (empty_observed_at IS NULL OR empty_observed_at < ?))
		ORDER BY identifier`, cutoff, emptyCutoff)
	if err != nil {
		return nil, wrapDBError("projects needing sync", err)
	}
	defer rows.Close()

	var out []*types.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, wrapDBError("scan project", err)
		}
		out = append(out, p)
	}
	return out, wrapDBError("projects needing sync", rows.Err())
}

// MergeProjects folds the duplicate row's non-empty fields into the
// canonical row and deletes the duplicate, atomically. Issues owned by the
// duplicate are re-parented first. Used when a rename collision is observed.
func (s *Store) MergeProjects(ctx context.Context, canonical, duplicate string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE issues SET project_identifier = ? WHERE project_identifier = ?`,
			canonical, duplicate); err != nil {
			return wrapDBError("merge projects: reparent issues", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE projects SET
				name = CASE WHEN name = '' THEN (SELECT name FROM projects WHERE identifier = ?) ELSE name END,
				tracker_internal_id = CASE WHEN tracker_internal_id = '' THEN (SELECT tracker_internal_id FROM projects WHERE identifier = ?) ELSE tracker_internal_id END,
				board_internal_id = CASE WHEN board_internal_id = 0 THEN (SELECT board_internal_id FROM projects WHERE identifier = ?) ELSE board_internal_id END,
				filesystem_path = CASE WHEN filesystem_path = '' THEN (SELECT filesystem_path FROM projects WHERE identifier = ?) ELSE filesystem_path END,
				agent_id = CASE WHEN agent_id = '' THEN (SELECT agent_id FROM projects WHERE identifier = ?) ELSE agent_id END,
				updated_at = CURRENT_TIMESTAMP
			WHERE identifier = ?`,
			duplicate, duplicate, duplicate, duplicate, duplicate, canonical); err != nil {
			return wrapDBError("merge projects: fold fields", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM projects WHERE identifier = ?`, duplicate); err != nil {
			return wrapDBError("merge projects: delete duplicate", err)
		}
		return nil
	})
}

// SaveAgentBinding persists the agent binding fields for a project.
func (s *Store) SaveAgentBinding(ctx context.Context, identifier string, b types.AgentBinding) error {
	hashes, err := json.Marshal(b.BlockHashes)
	if err != nil {
		return fmt.Errorf("marshal block hashes: %w", err)
	}
	if b.BlockHashes == nil {
		hashes = []byte("{}")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET agent_id = ?, agent_folder_id = ?, agent_source_id = ?,
			agent_last_sync_at = ?, agent_block_hashes = ?, updated_at = CURRENT_TIMESTAMP
		WHERE identifier = ?`,
		b.AgentID, b.FolderID, b.SourceID, nullTime(b.LastSyncAt), string(hashes), identifier)
	if err != nil {
		return wrapDBError("save agent binding "+identifier, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("save agent binding %s: %w", identifier, ErrNotFound)
	}
	return nil
}

// SaveBlockHash records one block's content hash on the binding.
func (s *Store) SaveBlockHash(ctx context.Context, identifier, label, hash string) error {
	p, err := s.GetProject(ctx, identifier)
	if err != nil {
		return err
	}
	if p.Agent.BlockHashes == nil {
		p.Agent.BlockHashes = map[string]string{}
	}
	p.Agent.BlockHashes[label] = hash
	return s.SaveAgentBinding(ctx, identifier, p.Agent)
}

// TouchProjectSync stamps last_sync_at and the issue count after a
// successful reconciliation pass.
func (s *Store) TouchProjectSync(ctx context.Context, identifier string, issueCount int, state types.ProjectState) error {
	var emptyAt any
	if state == types.ProjectEmpty {
		emptyAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE projects SET last_sync_at = CURRENT_TIMESTAMP, issue_count = ?,
			state = ?, empty_observed_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE identifier = ?`,
		issueCount, string(state), emptyAt, identifier)
	return wrapDBError("touch project sync "+identifier, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*types.Project, error) {
	var p types.Project
	var lastSync, emptyAt, agentSync sql.NullTime
	var hashes string
	err := row.Scan(&p.Identifier, &p.Name, &p.TrackerID, &p.BoardID,
		&p.FilesystemPath, &p.GitURL, &p.DescriptionHash, (*string)(&p.State),
		&lastSync, &emptyAt, &p.IssueCount,
		&p.Agent.AgentID, &p.Agent.FolderID, &p.Agent.SourceID,
		&agentSync, &hashes, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.LastSyncAt = timePtr(lastSync)
	p.EmptyObservedAt = timePtr(emptyAt)
	p.Agent.LastSyncAt = timePtr(agentSync)
	if hashes != "" && hashes != "{}" {
		if err := json.Unmarshal([]byte(hashes), &p.Agent.BlockHashes); err != nil {
			return nil, fmt.Errorf("parse block hashes: %w", err)
		}
	}
	return &p, nil
}

func stateOrActive(s types.ProjectState) string {
	if s == "" {
		return string(types.ProjectActive)
	}
	return string(s)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	u := t.Time.UTC()
	return &u
}
