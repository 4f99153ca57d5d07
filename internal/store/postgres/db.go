package postgres

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open opens a PostgreSQL database using the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL migrations for the chat schema on PostgreSQL.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chats (
			id                       TEXT         PRIMARY KEY,
			therapist_id             TEXT         NOT NULL,
			therapist_first_name     TEXT         NOT NULL DEFAULT '',
			therapist_last_name      TEXT         NOT NULL DEFAULT '',
			patient_id               TEXT         NOT NULL,
			patient_first_name       TEXT         NOT NULL DEFAULT '',
			patient_last_name        TEXT         NOT NULL DEFAULT '',
			status                   VARCHAR(16)  NOT NULL DEFAULT 'active',
			last_message_text        TEXT         NOT NULL DEFAULT '',
			last_message_at          TIMESTAMPTZ,
			last_message_sender_id   TEXT         NOT NULL DEFAULT '',
			therapist_unread_count   INTEGER      NOT NULL DEFAULT 0 CHECK (therapist_unread_count >= 0),
			patient_unread_count     INTEGER      NOT NULL DEFAULT 0 CHECK (patient_unread_count >= 0),
			therapist_notifications  BOOLEAN      NOT NULL DEFAULT TRUE,
			patient_notifications    BOOLEAN      NOT NULL DEFAULT TRUE,
			created_at               TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			updated_at               TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			UNIQUE (therapist_id, patient_id)
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id               TEXT         PRIMARY KEY,
			chat_id          TEXT         NOT NULL REFERENCES chats(id),
			sender_id        TEXT         NOT NULL,
			text             TEXT         NOT NULL,
			message_type     VARCHAR(16)  NOT NULL DEFAULT 'text',
			emergency        BOOLEAN      NOT NULL DEFAULT FALSE,
			attachment_url   TEXT         NOT NULL DEFAULT '',
			attachment_name  TEXT         NOT NULL DEFAULT '',
			attachment_size  BIGINT       NOT NULL DEFAULT 0,
			reply_to         TEXT         NOT NULL DEFAULT '',
			timestamp        TIMESTAMPTZ  NOT NULL,
			edited           BOOLEAN      NOT NULL DEFAULT FALSE,
			edited_at        TIMESTAMPTZ,
			edit_history     TEXT         NOT NULL DEFAULT '',
			deleted          BOOLEAN      NOT NULL DEFAULT FALSE,
			deleted_at       TIMESTAMPTZ,
			deleted_by       TEXT         NOT NULL DEFAULT '',
			read_status      VARCHAR(16)  NOT NULL DEFAULT 'sent',
			read_at          TIMESTAMPTZ,
			read_by          TEXT         NOT NULL DEFAULT ''
		)`,

		`CREATE INDEX IF NOT EXISTS idx_chats_therapist ON chats(therapist_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chats_patient ON chats(patient_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chats_updated_at ON chats(updated_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_sender ON messages(chat_id, sender_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_status ON messages(chat_id, read_status)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time.UTC()
	return &t
}
