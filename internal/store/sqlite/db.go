package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Open opens a SQLite database with the given DSN.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps writes ordered and lets in-memory databases
	// survive between queries.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

// Migrate runs the idempotent schema setup. Timestamps are stored as unix
// nanoseconds.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chats (
			id TEXT PRIMARY KEY,
			therapist_id TEXT NOT NULL,
			therapist_first_name TEXT NOT NULL DEFAULT '',
			therapist_last_name TEXT NOT NULL DEFAULT '',
			patient_id TEXT NOT NULL,
			patient_first_name TEXT NOT NULL DEFAULT '',
			patient_last_name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			last_message_text TEXT NOT NULL DEFAULT '',
			last_message_at INTEGER DEFAULT NULL,
			last_message_sender_id TEXT NOT NULL DEFAULT '',
			therapist_unread_count INTEGER NOT NULL DEFAULT 0 CHECK (therapist_unread_count >= 0),
			patient_unread_count INTEGER NOT NULL DEFAULT 0 CHECK (patient_unread_count >= 0),
			therapist_notifications BOOLEAN NOT NULL DEFAULT 1,
			patient_notifications BOOLEAN NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE (therapist_id, patient_id)
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			text TEXT NOT NULL,
			message_type TEXT NOT NULL DEFAULT 'text',
			emergency BOOLEAN NOT NULL DEFAULT 0,
			attachment_url TEXT NOT NULL DEFAULT '',
			attachment_name TEXT NOT NULL DEFAULT '',
			attachment_size INTEGER NOT NULL DEFAULT 0,
			reply_to TEXT NOT NULL DEFAULT '',
			timestamp INTEGER NOT NULL,
			edited BOOLEAN NOT NULL DEFAULT 0,
			edited_at INTEGER DEFAULT NULL,
			edit_history TEXT NOT NULL DEFAULT '',
			deleted BOOLEAN NOT NULL DEFAULT 0,
			deleted_at INTEGER DEFAULT NULL,
			deleted_by TEXT NOT NULL DEFAULT '',
			read_status TEXT NOT NULL DEFAULT 'sent',
			read_at INTEGER DEFAULT NULL,
			read_by TEXT NOT NULL DEFAULT '',
			FOREIGN KEY (chat_id) REFERENCES chats(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chats_therapist ON chats(therapist_id);`,
		`CREATE INDEX IF NOT EXISTS idx_chats_patient ON chats(patient_id);`,
		`CREATE INDEX IF NOT EXISTS idx_chats_updated_at ON chats(updated_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_sender ON messages(chat_id, sender_id, id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_status ON messages(chat_id, read_status);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	return nil
}

func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}
