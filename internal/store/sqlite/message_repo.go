package sqlite

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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.ChatID, rec.SenderID, rec.Text, rec.MessageType, rec.Emergency,
		rec.AttachmentURL, rec.AttachmentName, rec.AttachmentSize, rec.ReplyTo, toNanos(rec.Timestamp),
		rec.Edited, nullNanos(rec.EditedAt), history, rec.Deleted, nullNanos(rec.DeletedAt), rec.DeletedBy,
		rec.ReadStatus, nullNanos(rec.ReadAt), rec.ReadBy,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	rec, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return rec.ToMessage(), nil
}

func (r *MessageRepo) ListForChat(ctx context.Context, chatID string, f domain.MessageFilter) ([]*domain.Message, error) {
	where := []string{"chat_id = ?"}
	args := []any{chatID}
	if !f.IncludeDeleted {
		where = append(where, "deleted = 0")
	}
	if f.SenderID != "" {
		where = append(where, "sender_id = ?")
		args = append(args, f.SenderID)
	}
	if f.Emergency != nil {
		where = append(where, "emergency = ?")
		args = append(args, *f.Emergency)
	}
	if f.Type != "" {
		where = append(where, "message_type = ?")
		args = append(args, string(f.Type))
	}
	if f.Status != "" {
		where = append(where, "read_status = ?")
		args = append(args, string(f.Status))
	}
	query := `SELECT ` + messageColumns + ` FROM messages WHERE ` + strings.Join(where, " AND ") + ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
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
		WHERE chat_id = ? AND sender_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, chatID, senderID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	return res, nil
}

func (r *MessageRepo) ListUnreadFor(ctx context.Context, chatID, recipientID string) ([]*domain.Message, error) {
	res, err := r.query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE chat_id = ? AND sender_id <> ? AND deleted = 0 AND read_status <> 'read'
		ORDER BY id ASC
	`, chatID, recipientID)
	if err != nil {
		return nil, fmt.Errorf("list unread: %w", err)
	}
	return res, nil
}

func (r *MessageRepo) HasUnreadEmergency(ctx context.Context, chatID, recipientID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM messages
		WHERE chat_id = ? AND sender_id <> ? AND emergency = 1 AND deleted = 0
		  AND read_status IN ('sent', 'delivered')
	`, chatID, recipientID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("unread emergency: %w", err)
	}
	return n > 0, nil
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
		UPDATE messages SET text = ?, edited = 1, edited_at = ?, edit_history = ?
		WHERE id = ? AND deleted = 0
	`, rec.Text, nullNanos(rec.EditedAt), history, rec.ID)
}

// MarkDeleted flags the row as a tombstone. The stored text is left in place.
func (r *MessageRepo) MarkDeleted(ctx context.Context, m *domain.Message) error {
	rec := store.FromMessage(m)
	if !rec.Deleted {
		return fmt.Errorf("mark deleted %s: %w", m.ID, domain.ErrInvalidInput)
	}
	return r.exec(ctx, `
		UPDATE messages SET deleted = 1, deleted_at = ?, deleted_by = ?
		WHERE id = ?
	`, nullNanos(rec.DeletedAt), rec.DeletedBy, rec.ID)
}

func (r *MessageRepo) UpdateReceipt(ctx context.Context, m *domain.Message) error {
	rec := store.FromMessage(m)
	return r.exec(ctx, `
		UPDATE messages SET read_status = ?, read_at = ?, read_by = ?
		WHERE id = ?
	`, rec.ReadStatus, nullNanos(rec.ReadAt), rec.ReadBy, rec.ID)
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
		ts                        int64
		editedAt, deletedAt, read sql.NullInt64
		history                   string
	)
	if err := s.Scan(
		&rec.ID, &rec.ChatID, &rec.SenderID, &rec.Text, &rec.MessageType, &rec.Emergency,
		&rec.AttachmentURL, &rec.AttachmentName, &rec.AttachmentSize, &rec.ReplyTo, &ts,
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
	rec.Timestamp = fromNanos(ts)
	rec.EditedAt = timePtr(editedAt)
	rec.DeletedAt = timePtr(deletedAt)
	rec.ReadAt = timePtr(read)
	return rec, nil
}
