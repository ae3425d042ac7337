package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create sessions and messages",
		SQL: `
			CREATE TABLE sessions (
				id                  TEXT PRIMARY KEY,
				status              TEXT NOT NULL,
				dao_name            TEXT NOT NULL DEFAULT '',
				token_symbol        TEXT NOT NULL DEFAULT '',
				connected_accounts  TEXT NOT NULL DEFAULT '{}',
				criteria            TEXT NOT NULL DEFAULT '[]',
				created_at          TEXT NOT NULL,
				updated_at          TEXT NOT NULL
			);

			CREATE INDEX idx_sessions_status ON sessions (status);

			CREATE TABLE messages (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id  TEXT NOT NULL,
				seq         INTEGER NOT NULL,
				role        TEXT NOT NULL,
				content     TEXT NOT NULL,
				timestamp   TEXT NOT NULL,
				tool_calls  TEXT,
				FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
			);

			CREATE UNIQUE INDEX idx_messages_session_seq ON messages (session_id, seq);
		`,
	},
	{
		Version: 2,
		Name:    "full-text index over transcripts",
		SQL: `
			CREATE VIRTUAL TABLE messages_fts USING fts5(
				content,
				role UNINDEXED,
				content='messages',
				content_rowid='id'
			);

			CREATE TRIGGER messages_ai AFTER INSERT ON messages BEGIN
				INSERT INTO messages_fts(rowid, content, role)
				VALUES (new.id, new.content, new.role);
			END;

			CREATE TRIGGER messages_ad AFTER DELETE ON messages BEGIN
				INSERT INTO messages_fts(messages_fts, rowid, content, role)
				VALUES ('delete', old.id, old.content, old.role);
			END;
		`,
	},
}
