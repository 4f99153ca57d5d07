package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/kiananasiri/therapyconnect/internal/domain"
	"github.com/kiananasiri/therapyconnect/internal/store"
)

type MessageRepo struct {
	db dbtx
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

const messageColumns = `id, chat_id, sender_id, text, message_type, emergency,
	attachment_url, attachment_name, attachment_size, reply_to, timestamp,
	edited, edited_at, edit_history, deleted, deleted_at, deleted_by,
	read_status, read_at, read_by`

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	rec := store.FromMessage(m)
	history, err := store.EncodeHistory(rec.History)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`,
		rec.ID, rec.ChatID, rec.SenderID, rec.Text, rec.MessageType, rec.Emergency,
		rec.AttachmentURL, rec.AttachmentName, rec.AttachmentSize, rec.ReplyTo, rec.Timestamp,
		rec.Edited, nullTime(rec.EditedAt), history, rec.Deleted, nullTime(rec.DeletedAt), rec.DeletedBy,
		rec.ReadStatus, nullTime(rec.ReadAt), rec.ReadBy,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	rec, err := scanMessage(r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return rec.ToMessage(), nil
}

func (r *MessageRepo) ListForChat(ctx context.Context, chatID string, f domain.MessageFilter) ([]*domain.Message, error) {
	args := []any{chatID}
	where := []string{"chat_id = $1"}
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if !f.IncludeDeleted {
		where = append(where, "deleted = FALSE")
	}
	if f.SenderID != "" {
		add("sender_id = $%d", f.SenderID)
	}
	if f.Emergency != nil {
		add("emergency = $%d", *f.Emergency)
	}
	if f.Type != "" {
		add("message_type = $%d", string(f.Type))
	}
	if f.Status != "" {
		add("read_status = $%d", string(f.Status))
	}
	query := `SELECT ` + messageColumns + ` FROM messages WHERE ` + strings.Join(where, " AND ") + ` ORDER BY id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	res, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
		res[i], res[j] = res[j], res[i]
	}
	return res, nil
}

func (r *MessageRepo) RecentBySender(ctx context.Context, chatID, senderID string, limit int) ([]*domain.Message, error) {
	res, err := r.query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE chat_id = $1 AND sender_id = $2
		ORDER BY id DESC
		LIMIT $3
	`, chatID, senderID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	return res, nil
}

func (r *MessageRepo) ListUnreadFor(ctx context.Context, chatID, recipientID string) ([]*domain.Message, error) {
	res, err := r.query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE chat_id = $1 AND sender_id <> $2 AND deleted = FALSE AND read_status <> 'read'
		ORDER BY id ASC
	`, chatID, recipientID)
	if err != nil {
		return nil, fmt.Errorf("list unread: %w", err)
	}
	return res, nil
}

func (r *MessageRepo) HasUnreadEmergency(ctx context.Context, chatID, recipientID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM messages
			WHERE chat_id = $1 AND sender_id <> $2 AND emergency = TRUE AND deleted = FALSE
			  AND read_status IN ('sent', 'delivered')
		)
	`, chatID, recipientID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("unread emergency: %w", err)
	}
	return exists, nil
}

func (r *MessageRepo) UpdateText(ctx context.Context, m *domain.Message) error {
	rec := store.FromMessage(m)
	if !rec.Edited {
		return fmt.Errorf("update text of %s: %w", m.ID, domain.ErrInvalidInput)
	}
	history, err := store.EncodeHistory(rec.History)
	if err != nil {
		return err
	}
	return r.exec(ctx, `
		UPDATE messages SET text = $1, edited = TRUE, edited_at = $2, edit_history = $3
		WHERE id = $4 AND deleted = FALSE
	`, rec.Text, nullTime(rec.EditedAt), history, rec.ID)
}

// MarkDeleted flags the row as a tombstone. The stored text is left in place.
func (r *MessageRepo) MarkDeleted(ctx context.Context, m *domain.Message) error {
	rec := store.FromMessage(m)
	if !rec.Deleted {
		return fmt.Errorf("mark deleted %s: %w", m.ID, domain.ErrInvalidInput)
	}
	return r.exec(ctx, `
		UPDATE messages SET deleted = TRUE, deleted_at = $1, deleted_by = $2 WHERE id = $3
	`, nullTime(rec.DeletedAt), rec.DeletedBy, rec.ID)
}

func (r *MessageRepo) UpdateReceipt(ctx context.Context, m *domain.Message) error {
	rec := store.FromMessage(m)
	return r.exec(ctx, `
		UPDATE messages SET read_status = $1, read_at = $2, read_by = $3 WHERE id = $4
	`, rec.ReadStatus, nullTime(rec.ReadAt), rec.ReadBy, rec.ID)
}

func (r *MessageRepo) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *MessageRepo) query(ctx context.Context, query string, args ...any) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*domain.Message
	for rows.Next() {
		rec, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, rec.ToMessage())
	}
	return res, rows.Err()
}

func scanMessage(s rowScanner) (store.MessageRecord, error) {
	var (
		rec                       store.MessageRecord
		editedAt, deletedAt, read sql.NullTime
		history                   string
	)
	if err := s.Scan(
		&rec.ID, &rec.ChatID, &rec.SenderID, &rec.Text, &rec.MessageType, &rec.Emergency,
		&rec.AttachmentURL, &rec.AttachmentName, &rec.AttachmentSize, &rec.ReplyTo, &rec.Timestamp,
		&rec.Edited, &editedAt, &history, &rec.Deleted, &deletedAt, &rec.DeletedBy,
		&rec.ReadStatus, &read, &rec.ReadBy,
	); err != nil {
		return rec, err
	}
	h, err := store.DecodeHistory(history)
	if err != nil {
		return rec, err
	}
	rec.History = h
	rec.Timestamp = rec.Timestamp.UTC()
	rec.EditedAt = timePtr(editedAt)
	rec.DeletedAt = timePtr(deletedAt)
	rec.ReadAt = timePtr(read)
	return rec, nil
}
