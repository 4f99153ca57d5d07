package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kiananasiri/therapyconnect/internal/domain"
)

type ChatRepo struct {
	db dbtx
}

func NewChatRepo(db *sql.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

var _ domain.ChatRepository = (*ChatRepo)(nil)

const chatColumns = `id, therapist_id, therapist_first_name, therapist_last_name,
	patient_id, patient_first_name, patient_last_name, status,
	last_message_text, last_message_at, last_message_sender_id,
	therapist_unread_count, patient_unread_count,
	therapist_notifications, patient_notifications, created_at, updated_at`

func (r *ChatRepo) Create(ctx context.Context, c *domain.Chat) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO chats (`+chatColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT DO NOTHING
	`,
		c.ID, c.Therapist.ID, c.Therapist.FirstName, c.Therapist.LastName,
		c.Patient.ID, c.Patient.FirstName, c.Patient.LastName, string(c.Status),
		c.LastMessageText, nullTime(c.LastMessageAt), c.LastMessageSenderID,
		c.TherapistUnread, c.PatientUnread,
		c.TherapistNotifications, c.PatientNotifications,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *ChatRepo) GetByID(ctx context.Context, id string) (*domain.Chat, error) {
	c, err := scanChat(r.db.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return c, nil
}

func (r *ChatRepo) ListForUser(ctx context.Context, userID string, status domain.ChatStatus) ([]*domain.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats WHERE (therapist_id = $1 OR patient_id = $1)`
	args := []any{userID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var res []*domain.Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r *ChatRepo) Update(ctx context.Context, c *domain.Chat) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE chats SET
			therapist_first_name = $1, therapist_last_name = $2,
			patient_first_name = $3, patient_last_name = $4,
			status = $5, last_message_text = $6, last_message_at = $7, last_message_sender_id = $8,
			therapist_unread_count = $9, patient_unread_count = $10,
			therapist_notifications = $11, patient_notifications = $12, updated_at = $13
		WHERE id = $14
	`,
		c.Therapist.FirstName, c.Therapist.LastName,
		c.Patient.FirstName, c.Patient.LastName,
		string(c.Status), c.LastMessageText, nullTime(c.LastMessageAt), c.LastMessageSenderID,
		c.TherapistUnread, c.PatientUnread,
		c.TherapistNotifications, c.PatientNotifications, c.UpdatedAt,
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("update chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(s rowScanner) (*domain.Chat, error) {
	var (
		c      domain.Chat
		status string
		lastAt sql.NullTime
	)
	if err := s.Scan(
		&c.ID, &c.Therapist.ID, &c.Therapist.FirstName, &c.Therapist.LastName,
		&c.Patient.ID, &c.Patient.FirstName, &c.Patient.LastName, &status,
		&c.LastMessageText, &lastAt, &c.LastMessageSenderID,
		&c.TherapistUnread, &c.PatientUnread,
		&c.TherapistNotifications, &c.PatientNotifications, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.Status = domain.ChatStatus(status)
	c.LastMessageAt = timePtr(lastAt)
	return &c, nil
}
