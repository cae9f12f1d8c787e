package migrate

import (
	"context"
	"database/sql"
)

// Events holds the migrations for the append-only events store.
// The UPDATE/DELETE triggers make append-only a storage invariant: even an
// ad hoc query against the file cannot silently rewrite history.
var Events = []Migration{
	{
		ID: "0001_events_log",
		SQL: `
CREATE TABLE IF NOT EXISTS events (
	sequence INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id TEXT NOT NULL UNIQUE,
	task_id TEXT,
	type TEXT NOT NULL,
	schema_version INTEGER NOT NULL DEFAULT 1,
	data TEXT NOT NULL DEFAULT '{}',
	author TEXT,
	agent_id TEXT,
	session_id TEXT,
	correlation_id TEXT,
	causation_id TEXT,
	ts TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_task ON events(task_id, sequence);
CREATE TRIGGER IF NOT EXISTS events_no_update BEFORE UPDATE ON events
BEGIN
	SELECT RAISE(ABORT, 'events are append-only');
END;
CREATE TRIGGER IF NOT EXISTS events_no_delete BEFORE DELETE ON events
BEGIN
	SELECT RAISE(ABORT, 'events are append-only');
END;`,
	},
	{
		ID: "0002_instance_identity",
		SQL: `
CREATE TABLE IF NOT EXISTS instance (
	id TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	replica_of TEXT
);`,
	},
}

// Cache holds the migrations for the derived cache store. Everything in it
// is disposable: deleting cache.db and re-running migrations plus a rebuild
// restores identical state from the log.
var Cache = []Migration{
	{
		ID: "0001_projections",
		SQL: `
CREATE TABLE IF NOT EXISTS cache.tasks_current (
	task_id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	project TEXT NOT NULL DEFAULT 'inbox',
	status TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	description TEXT,
	claimed_by_author TEXT,
	claimed_by_agent_id TEXT,
	lease_until TEXT,
	terminal_at TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	last_event_sequence INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS cache.idx_tasks_status ON tasks_current(status, priority);
CREATE INDEX IF NOT EXISTS cache.idx_tasks_project ON tasks_current(project);
CREATE TABLE IF NOT EXISTS cache.task_deps (
	task_id TEXT NOT NULL,
	depends_on_id TEXT NOT NULL,
	PRIMARY KEY (task_id, depends_on_id)
);
CREATE TABLE IF NOT EXISTS cache.task_tags (
	task_id TEXT NOT NULL,
	tag TEXT NOT NULL,
	PRIMARY KEY (task_id, tag)
);
CREATE TABLE IF NOT EXISTS cache.comments (
	event_sequence INTEGER PRIMARY KEY,
	task_id TEXT NOT NULL,
	author TEXT,
	text TEXT NOT NULL,
	ts TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS cache.idx_comments_task ON comments(task_id, event_sequence);
CREATE TABLE IF NOT EXISTS cache.checkpoints (
	event_sequence INTEGER PRIMARY KEY,
	task_id TEXT NOT NULL,
	name TEXT NOT NULL,
	note TEXT,
	ts TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS cache.idx_checkpoints_task ON checkpoints(task_id, event_sequence);
CREATE TABLE IF NOT EXISTS cache.search_index (
	task_id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	project TEXT NOT NULL DEFAULT '',
	tags TEXT NOT NULL DEFAULT '',
	last_comment TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS cache.projection_state (
	name TEXT PRIMARY KEY,
	last_applied_sequence INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS cache.projects (
	name TEXT PRIMARY KEY,
	description TEXT,
	is_protected INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);`,
	},
	{
		// Added after the initial release; probes first so it runs cleanly
		// against both fresh schemas (where 0001 already has no column) and
		// databases created before this migration existed.
		ID: "0002_task_progress",
		Fn: func(ctx context.Context, tx *sql.Tx) error {
			ok, err := HasColumn(ctx, tx, "cache", "tasks_current", "progress")
			if err != nil || ok {
				return err
			}
			_, err = tx.ExecContext(ctx, `ALTER TABLE cache.tasks_current ADD COLUMN progress INTEGER`)
			return err
		},
	},
}
