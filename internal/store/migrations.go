package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations. The SQL is kept to the
// subset Postgres and SQLite share so tests run the production schema.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS folders (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	parent_id  TEXT REFERENCES folders(id) ON DELETE SET NULL,
	name       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_folders_parent_id ON folders(parent_id);

CREATE TABLE IF NOT EXISTS folder_members (
	folder_id  TEXT NOT NULL REFERENCES folders(id) ON DELETE CASCADE,
	owner_id   TEXT NOT NULL,
	member_id  TEXT NOT NULL,
	role       TEXT NOT NULL DEFAULT 'viewer' CHECK (role = 'viewer'),
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (folder_id, owner_id, member_id)
);

CREATE INDEX IF NOT EXISTS idx_folder_members_member ON folder_members(member_id);

CREATE TABLE IF NOT EXISTS extractions (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	visibility  TEXT NOT NULL DEFAULT 'private' CHECK (visibility IN ('private', 'circle', 'unlisted', 'public')),
	folder_id   TEXT REFERENCES folders(id) ON DELETE SET NULL,
	phases_json TEXT NOT NULL DEFAULT '[]',
	updated_by  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_extractions_owner_id ON extractions(owner_id);
CREATE INDEX IF NOT EXISTS idx_extractions_folder_id ON extractions(folder_id);

CREATE TABLE IF NOT EXISTS extraction_members (
	extraction_id TEXT NOT NULL REFERENCES extractions(id) ON DELETE CASCADE,
	user_id       TEXT NOT NULL,
	role          TEXT NOT NULL CHECK (role IN ('editor', 'viewer')),
	created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (extraction_id, user_id)
);

CREATE TABLE IF NOT EXISTS extraction_tasks (
	id            TEXT PRIMARY KEY,
	extraction_id TEXT NOT NULL REFERENCES extractions(id) ON DELETE CASCADE,
	phase_id      INTEGER NOT NULL,
	phase_title   TEXT NOT NULL DEFAULT '',
	item_index    INTEGER NOT NULL,
	item_text     TEXT NOT NULL,
	node_key      TEXT NOT NULL,
	parent_key    TEXT NOT NULL DEFAULT '',
	depth         INTEGER NOT NULL DEFAULT 1,
	position_path TEXT NOT NULL,
	checked       BOOLEAN NOT NULL DEFAULT FALSE,
	status        TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'in_progress', 'blocked', 'completed')),
	created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (extraction_id, node_key),
	UNIQUE (extraction_id, phase_id, item_index)
);

CREATE INDEX IF NOT EXISTS idx_extraction_tasks_position ON extraction_tasks(extraction_id, position_path);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS task_events (
	id         TEXT PRIMARY KEY,
	task_id    TEXT NOT NULL REFERENCES extraction_tasks(id) ON DELETE CASCADE,
	user_id    TEXT NOT NULL,
	kind       TEXT NOT NULL,
	note       TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS task_attachments (
	id           TEXT PRIMARY KEY,
	task_id      TEXT NOT NULL REFERENCES extraction_tasks(id) ON DELETE CASCADE,
	user_id      TEXT NOT NULL,
	file_name    TEXT NOT NULL,
	storage_key  TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	size_bytes   BIGINT NOT NULL DEFAULT 0,
	created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS task_comments (
	id         TEXT PRIMARY KEY,
	task_id    TEXT NOT NULL REFERENCES extraction_tasks(id) ON DELETE CASCADE,
	parent_id  TEXT REFERENCES task_comments(id) ON DELETE CASCADE,
	user_id    TEXT NOT NULL,
	body       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS task_likes (
	task_id    TEXT NOT NULL REFERENCES extraction_tasks(id) ON DELETE CASCADE,
	user_id    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (task_id, user_id)
);

CREATE TABLE IF NOT EXISTS task_follows (
	task_id    TEXT NOT NULL REFERENCES extraction_tasks(id) ON DELETE CASCADE,
	user_id    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (task_id, user_id)
);

CREATE TABLE IF NOT EXISTS task_views (
	task_id   TEXT NOT NULL REFERENCES extraction_tasks(id) ON DELETE CASCADE,
	user_id   TEXT NOT NULL,
	viewed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (task_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_task_events_task_id ON task_events(task_id);
CREATE INDEX IF NOT EXISTS idx_task_attachments_task_id ON task_attachments(task_id);
CREATE INDEX IF NOT EXISTS idx_task_comments_task_id ON task_comments(task_id);
`,
	},
}
