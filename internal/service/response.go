package service

import (
	"time"

	"github.com/kiananasiri/therapyconnect/internal/domain"
)

// MessageResponse is the wire shape of a message shared by websocket frames
// and REST responses.
type MessageResponse struct {
	ID          string             `json:"id"`
	ChatID      string             `json:"chat_id"`
	SenderID    string             `json:"sender_id"`
	Text        string             `json:"text"`
	MessageType domain.MessageType `json:"message_type"`
	Emergency   bool               `json:"emergency"`
	Attachment  *domain.Attachment `json:"attachment,omitempty"`
	ReplyTo     string             `json:"reply_to,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
	ReadStatus  domain.ReadStatus  `json:"read_status"`
	ReadAt      *time.Time         `json:"read_at,omitempty"`
	ReadBy      string             `json:"read_by,omitempty"`
	Edited      bool               `json:"edited"`
	EditedAt    *time.Time         `json:"edited_at,omitempty"`
	Deleted     bool               `json:"deleted"`
	DeletedAt   *time.Time         `json:"deleted_at,omitempty"`
}

// ToResponse flattens a message. Tombstones render with empty text.
func ToResponse(m *domain.Message) *MessageResponse {
	text, _ := m.Text()
	return &MessageResponse{
		ID:          m.ID,
		ChatID:      m.ChatID,
		SenderID:    m.SenderID,
		Text:        text,
		MessageType: m.Type,
		Emergency:   m.Emergency,
		Attachment:  m.Attachment,
		ReplyTo:     m.ReplyTo,
		Timestamp:   m.Timestamp,
		ReadStatus:  m.Receipt.Status,
		ReadAt:      m.Receipt.ReadAt,
		ReadBy:      m.Receipt.ReadBy,
		Edited:      m.EditedAt() != nil,
		EditedAt:    m.EditedAt(),
		Deleted:     m.IsDeleted(),
		DeletedAt:   m.DeletedAt(),
	}
}

func ToResponses(msgs []*domain.Message) []*MessageResponse {
	res := make([]*MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		res = append(res, ToResponse(m))
	}
	return res
}
