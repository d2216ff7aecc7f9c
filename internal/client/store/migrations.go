package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Timestamps are stored as unix microseconds, matching the server's precision.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS device (
	id             INTEGER PRIMARY KEY CHECK (id = 1),
	device_id      TEXT NOT NULL,
	last_synced_at INTEGER
);

CREATE TABLE IF NOT EXISTS tasks (
	local_id       TEXT PRIMARY KEY,
	server_id      TEXT NOT NULL DEFAULT '',
	client_id      TEXT NOT NULL DEFAULT '',
	title          TEXT NOT NULL,
	priority       INTEGER NOT NULL DEFAULT 2,
	status         TEXT NOT NULL DEFAULT 'TODO',
	actual_minutes INTEGER NOT NULL DEFAULT 0,
	updated_at     INTEGER NOT NULL,
	synced         INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_tasks_server_id ON tasks(server_id);
CREATE INDEX IF NOT EXISTS idx_tasks_client_id ON tasks(client_id);
CREATE INDEX IF NOT EXISTS idx_tasks_unsynced ON tasks(synced, updated_at);

CREATE TABLE IF NOT EXISTS sessions (
	local_id       TEXT PRIMARY KEY,
	server_id      TEXT NOT NULL DEFAULT '',
	client_id      TEXT NOT NULL DEFAULT '',
	task_id        TEXT NOT NULL DEFAULT '',
	duration       INTEGER NOT NULL,
	start_time     INTEGER NOT NULL,
	end_time       INTEGER NOT NULL,
	status         TEXT NOT NULL,
	progress       INTEGER NOT NULL DEFAULT 0,
	time_elapsed   INTEGER NOT NULL DEFAULT 0,
	pause_duration INTEGER NOT NULL DEFAULT 0,
	paused_at      INTEGER,
	reason         TEXT NOT NULL DEFAULT '',
	updated_at     INTEGER NOT NULL,
	synced         INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sessions_server_id ON sessions(server_id);
CREATE INDEX IF NOT EXISTS idx_sessions_client_id ON sessions(client_id);
CREATE INDEX IF NOT EXISTS idx_sessions_task_id ON sessions(task_id);
CREATE INDEX IF NOT EXISTS idx_sessions_unsynced ON sessions(synced, updated_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
