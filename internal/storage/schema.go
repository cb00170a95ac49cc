package storage

const schema = `
-- Projects table: one row per canonical project identifier.
CREATE TABLE IF NOT EXISTS projects (
    identifier TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    tracker_internal_id TEXT NOT NULL DEFAULT '',
    board_internal_id INTEGER NOT NULL DEFAULT 0,
    filesystem_path TEXT NOT NULL DEFAULT '',
    git_url TEXT NOT NULL DEFAULT '',
    description_hash TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL DEFAULT 'active' CHECK(state IN ('active','empty')),
    last_sync_at DATETIME,
    empty_observed_at DATETIME,
    issue_count INTEGER NOT NULL DEFAULT 0,
    agent_id TEXT NOT NULL DEFAULT '',
    agent_folder_id TEXT NOT NULL DEFAULT '',
    agent_source_id TEXT NOT NULL DEFAULT '',
    agent_last_sync_at DATETIME,
    agent_block_hashes TEXT NOT NULL DEFAULT '{}',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Issues table: one row per canonical tracker identifier.
CREATE TABLE IF NOT EXISTS issues (
    identifier TEXT PRIMARY KEY,
    project_identifier TEXT NOT NULL REFERENCES projects(identifier) ON DELETE CASCADE,
    title TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'Backlog',
    priority TEXT NOT NULL DEFAULT '',
    tracker_internal_id TEXT NOT NULL DEFAULT '',
    board_task_id INTEGER NOT NULL DEFAULT 0,
    local_store_id TEXT NOT NULL DEFAULT '',
    tracker_status TEXT NOT NULL DEFAULT '',
    board_status TEXT NOT NULL DEFAULT '',
    local_status TEXT NOT NULL DEFAULT '',
    tracker_modified_at DATETIME,
    board_modified_at DATETIME,
    local_modified_at DATETIME,
    description_hash TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_issues_project ON issues(project_identifier);
CREATE INDEX IF NOT EXISTS idx_issues_project_status ON issues(project_identifier, status);
CREATE INDEX IF NOT EXISTS idx_issues_board_task ON issues(board_task_id) WHERE board_task_id != 0;

-- Sync run history, append-only.
CREATE TABLE IF NOT EXISTS sync_runs (
    id TEXT PRIMARY KEY,
    started_at DATETIME NOT NULL,
    completed_at DATETIME,
    projects_processed INTEGER NOT NULL DEFAULT 0,
    projects_failed INTEGER NOT NULL DEFAULT 0,
    issues_synced INTEGER NOT NULL DEFAULT 0,
    errors_json TEXT NOT NULL DEFAULT '{}',
    duration_ms INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at DESC);
`
