package sqlite

import "database/sql"

// Schema creates every table the store uses. It is safe to apply twice.
// Timestamps are unix nanoseconds so ordering comparisons stay exact.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id           TEXT PRIMARY KEY,
	username     TEXT NOT NULL UNIQUE COLLATE NOCASE,
	display_name TEXT NOT NULL DEFAULT '',
	level        INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	direct_key TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS participants (
	conversation_id TEXT NOT NULL,
	user_id         TEXT NOT NULL,
	last_read_at    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (conversation_id, user_id),
	FOREIGN KEY (conversation_id) REFERENCES conversations(id),
	FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	temp_id         TEXT NOT NULL DEFAULT '',
	room_id         TEXT NOT NULL DEFAULT '',
	conversation_id TEXT NOT NULL DEFAULT '',
	sender_id       TEXT NOT NULL,
	content         TEXT NOT NULL,
	reply_to        TEXT NOT NULL DEFAULT '',
	edited          BOOLEAN NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL,
	FOREIGN KEY (sender_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS dm_requests (
	id              TEXT PRIMARY KEY,
	requester_id    TEXT NOT NULL,
	recipient_id    TEXT NOT NULL,
	message         TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'pending',
	conversation_id TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL,
	expires_at      INTEGER NOT NULL DEFAULT 0,
	FOREIGN KEY (requester_id) REFERENCES users(id),
	FOREIGN KEY (recipient_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS moderation_actions (
	id           TEXT PRIMARY KEY,
	room_id      TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	moderator_id TEXT NOT NULL,
	action       TEXT NOT NULL,
	reason       TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL,
	expires_at   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS reports (
	id          TEXT PRIMARY KEY,
	message_id  TEXT NOT NULL,
	reporter_id TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
CREATE INDEX IF NOT EXISTS idx_participants_user ON participants(user_id);
CREATE INDEX IF NOT EXISTS idx_dm_requests_recipient ON dm_requests(recipient_id, status);
CREATE INDEX IF NOT EXISTS idx_moderation_target ON moderation_actions(room_id, user_id);
`

// ApplySchema creates the tables on db.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
