package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/veilchat/backend/go/internal/v1/logging"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for concurrent readers, busy timeout for the single writer
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logging.Info(context.Background(), "SQLite store initialized")
	return s, nil
}

// createSchema creates the database tables if they don't exist.
// All timestamps are UTC unix milliseconds.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id                   INTEGER PRIMARY KEY AUTOINCREMENT,
			username             TEXT NOT NULL UNIQUE,
			email                TEXT NOT NULL,
			password_hash        TEXT NOT NULL,
			role                 TEXT NOT NULL DEFAULT 'USER',
			plan                 TEXT NOT NULL DEFAULT 'FREE',
			public_key           BLOB,
			preferred_language   TEXT NOT NULL DEFAULT 'en',
			allow_explicit       INTEGER NOT NULL DEFAULT 0,
			strict_e2ee          INTEGER NOT NULL DEFAULT 0,
			show_read_receipts   INTEGER NOT NULL DEFAULT 1,
			auto_delete_seconds  INTEGER NOT NULL DEFAULT 0,
			two_factor_enabled   INTEGER NOT NULL DEFAULT 0,
			totp_secret_enc      TEXT NOT NULL DEFAULT '',
			avatar_url           TEXT NOT NULL DEFAULT '',
			created_at           INTEGER NOT NULL,

			CHECK (role IN ('USER', 'ADMIN')),
			CHECK (plan IN ('FREE', 'PREMIUM'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email
			ON users(lower(email));

		CREATE TABLE IF NOT EXISTS chat_rooms (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			name                TEXT NOT NULL DEFAULT '',
			is_group            INTEGER NOT NULL DEFAULT 0,
			owner_id            INTEGER REFERENCES users(id),
			auto_translate_mode TEXT NOT NULL DEFAULT 'off',
			created_at          INTEGER NOT NULL,

			CHECK (auto_translate_mode IN ('off', 'always', 'tagged'))
		);

		CREATE TABLE IF NOT EXISTS participants (
			chat_room_id INTEGER NOT NULL REFERENCES chat_rooms(id),
			user_id      INTEGER NOT NULL REFERENCES users(id),
			role         TEXT NOT NULL DEFAULT 'MEMBER',
			archived_at  INTEGER,
			joined_at    INTEGER NOT NULL,

			PRIMARY KEY (chat_room_id, user_id),
			CHECK (role IN ('OWNER', 'ADMIN', 'MODERATOR', 'MEMBER'))
		);

		CREATE INDEX IF NOT EXISTS idx_participants_user
			ON participants(user_id);

		CREATE TABLE IF NOT EXISTS thread_clears (
			user_id      INTEGER NOT NULL REFERENCES users(id),
			chat_room_id INTEGER NOT NULL REFERENCES chat_rooms(id),
			cleared_at   INTEGER NOT NULL,

			PRIMARY KEY (user_id, chat_room_id)
		);

		CREATE TABLE IF NOT EXISTS messages (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_room_id       INTEGER NOT NULL REFERENCES chat_rooms(id),
			sender_id          INTEGER NOT NULL REFERENCES users(id),
			client_message_id  TEXT,
			raw_content        TEXT NOT NULL DEFAULT '',
			content_ciphertext TEXT,
			translations       TEXT,
			translated_from    TEXT,
			is_explicit        INTEGER NOT NULL DEFAULT 0,
			is_auto_reply      INTEGER NOT NULL DEFAULT 0,
			created_at         INTEGER NOT NULL,
			expires_at         INTEGER,
			edited_at          INTEGER,
			deleted_for_all    INTEGER NOT NULL DEFAULT 0,
			deleted_at         INTEGER,
			deleted_by_id      INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_messages_room_id
			ON messages(chat_room_id, id DESC);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_client_id
			ON messages(chat_room_id, sender_id, client_message_id)
			WHERE client_message_id IS NOT NULL;

		CREATE INDEX IF NOT EXISTS idx_messages_expiry
			ON messages(expires_at)
			WHERE expires_at IS NOT NULL AND deleted_for_all = 0;

		CREATE TABLE IF NOT EXISTS attachments (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id   INTEGER NOT NULL REFERENCES messages(id),
			kind         TEXT NOT NULL,
			url          TEXT NOT NULL,
			mime_type    TEXT NOT NULL DEFAULT '',
			width        INTEGER,
			height       INTEGER,
			duration_sec REAL,
			caption      TEXT NOT NULL DEFAULT '',
			thumb_url    TEXT NOT NULL DEFAULT '',
			created_at   INTEGER NOT NULL,

			CHECK (kind IN ('IMAGE', 'VIDEO', 'AUDIO', 'FILE'))
		);

		CREATE INDEX IF NOT EXISTS idx_attachments_message
			ON attachments(message_id);

		CREATE TABLE IF NOT EXISTS message_keys (
			message_id    INTEGER NOT NULL REFERENCES messages(id),
			user_id       INTEGER NOT NULL,
			encrypted_key TEXT NOT NULL,

			PRIMARY KEY (message_id, user_id)
		);

		CREATE TABLE IF NOT EXISTS message_reactions (
			message_id INTEGER NOT NULL REFERENCES messages(id),
			user_id    INTEGER NOT NULL REFERENCES users(id),
			emoji      TEXT NOT NULL,
			created_at INTEGER NOT NULL,

			PRIMARY KEY (message_id, user_id, emoji)
		);

		CREATE TABLE IF NOT EXISTS message_reads (
			message_id INTEGER NOT NULL REFERENCES messages(id),
			user_id    INTEGER NOT NULL REFERENCES users(id),
			read_at    INTEGER NOT NULL,

			PRIMARY KEY (message_id, user_id)
		);

		CREATE TABLE IF NOT EXISTS message_deletions (
			message_id INTEGER NOT NULL REFERENCES messages(id),
			user_id    INTEGER NOT NULL REFERENCES users(id),
			deleted_at INTEGER NOT NULL,

			PRIMARY KEY (message_id, user_id)
		);

		CREATE TABLE IF NOT EXISTS scheduled_messages (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_room_id INTEGER NOT NULL REFERENCES chat_rooms(id),
			sender_id    INTEGER NOT NULL REFERENCES users(id),
			content      TEXT NOT NULL,
			scheduled_at INTEGER NOT NULL,
			created_at   INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_scheduled_at
			ON scheduled_messages(scheduled_at);

		CREATE TABLE IF NOT EXISTS invites (
			code         TEXT PRIMARY KEY,
			chat_room_id INTEGER NOT NULL REFERENCES chat_rooms(id),
			created_by   INTEGER NOT NULL REFERENCES users(id),
			created_at   INTEGER NOT NULL,
			expires_at   INTEGER
		);

		CREATE TABLE IF NOT EXISTS uploads (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id      INTEGER NOT NULL REFERENCES users(id),
			key           TEXT NOT NULL UNIQUE,
			sha256        TEXT NOT NULL DEFAULT '',
			original_name TEXT NOT NULL DEFAULT '',
			mime_type     TEXT NOT NULL DEFAULT '',
			size          INTEGER NOT NULL DEFAULT 0,
			width         INTEGER,
			height        INTEGER,
			duration_sec  REAL,
			driver        TEXT NOT NULL DEFAULT 'local',
			created_at    INTEGER NOT NULL,

			CHECK (driver IN ('local', 's3'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_uploads_owner_sha
			ON uploads(owner_id, sha256)
			WHERE sha256 != '';

		CREATE TABLE IF NOT EXISTS password_resets (
			token      TEXT PRIMARY KEY,
			user_id    INTEGER NOT NULL REFERENCES users(id),
			expires_at INTEGER NOT NULL,
			used       INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS audit_log (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			actor_id   INTEGER NOT NULL,
			action     TEXT NOT NULL,
			target_id  INTEGER NOT NULL DEFAULT 0,
			detail     TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_audit_created
			ON audit_log(created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- timestamp helpers ---

func ms(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func msPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixMilli()
}

func fromMS(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func fromMSNull(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMS(v.Int64)
	return &t
}

// isUniqueViolation reports whether err is a SQLite uniqueness error.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// placeholders returns "?,?,..." for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
