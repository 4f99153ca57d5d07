// Package store holds the row shape shared by the storage backends.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kiananasiri/therapyconnect/internal/domain"
)

// MessageRecord is the flat, persisted form of a message. Tombstoned rows keep
// their last text; it is dropped when converting back to a domain value.
type MessageRecord struct {
	ID             string            `json:"id"`
	ChatID         string            `json:"chat_id"`
	SenderID       string            `json:"sender_id"`
	Text           string            `json:"text"`
	MessageType    string            `json:"message_type"`
	Emergency      bool              `json:"emergency"`
	AttachmentURL  string            `json:"attachment_url,omitempty"`
	AttachmentName string            `json:"attachment_name,omitempty"`
	AttachmentSize int64             `json:"attachment_size,omitempty"`
	ReplyTo        string            `json:"reply_to,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	Edited         bool              `json:"edited"`
	EditedAt       *time.Time        `json:"edited_at,omitempty"`
	History        []domain.Revision `json:"history,omitempty"`
	Deleted        bool              `json:"deleted"`
	DeletedAt      *time.Time        `json:"deleted_at,omitempty"`
	DeletedBy      string            `json:"deleted_by,omitempty"`
	ReadStatus     string            `json:"read_status"`
	ReadAt         *time.Time        `json:"read_at,omitempty"`
	ReadBy         string            `json:"read_by,omitempty"`
}

func FromMessage(m *domain.Message) MessageRecord {
	rec := MessageRecord{
		ID:          m.ID,
		ChatID:      m.ChatID,
		SenderID:    m.SenderID,
		MessageType: string(m.Type),
		Emergency:   m.Emergency,
		ReplyTo:     m.ReplyTo,
		Timestamp:   m.Timestamp,
		ReadStatus:  string(m.Receipt.Status),
		ReadAt:      m.Receipt.ReadAt,
		ReadBy:      m.Receipt.ReadBy,
	}
	if m.Attachment != nil {
		rec.AttachmentURL = m.Attachment.URL
		rec.AttachmentName = m.Attachment.Name
		rec.AttachmentSize = m.Attachment.Size
	}
	switch s := m.State.(type) {
	case domain.Active:
		rec.Text = s.Text
	case domain.Edited:
		at := s.EditedAt
		rec.Text = s.Text
		rec.Edited = true
		rec.EditedAt = &at
		rec.History = s.History
	case domain.Deleted:
		at := s.DeletedAt
		rec.Deleted = true
		rec.DeletedAt = &at
		rec.DeletedBy = s.DeletedBy
	}
	return rec
}

func (r MessageRecord) ToMessage() *domain.Message {
	m := &domain.Message{
		ID:        r.ID,
		ChatID:    r.ChatID,
		SenderID:  r.SenderID,
		Type:      domain.MessageType(r.MessageType),
		Emergency: r.Emergency,
		ReplyTo:   r.ReplyTo,
		Timestamp: r.Timestamp,
		Receipt: domain.Receipt{
			Status: domain.ReadStatus(r.ReadStatus),
			ReadAt: r.ReadAt,
			ReadBy: r.ReadBy,
		},
	}
	if r.AttachmentURL != "" {
		m.Attachment = &domain.Attachment{URL: r.AttachmentURL, Name: r.AttachmentName, Size: r.AttachmentSize}
	}
	switch {
	case r.Deleted:
		var at time.Time
		if r.DeletedAt != nil {
			at = *r.DeletedAt
		}
		m.State = domain.Deleted{DeletedAt: at, DeletedBy: r.DeletedBy}
	case r.Edited:
		var at time.Time
		if r.EditedAt != nil {
			at = *r.EditedAt
		}
		m.State = domain.Edited{Text: r.Text, EditedAt: at, History: r.History}
	default:
		m.State = domain.Active{Text: r.Text}
	}
	return m
}

// EncodeHistory serializes edit history for a text column.
func EncodeHistory(h []domain.Revision) (string, error) {
	if len(h) == 0 {
		return "", nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("encode history: %w", err)
	}
	return string(b), nil
}

func DecodeHistory(raw string) ([]domain.Revision, error) {
	if raw == "" {
		return nil, nil
	}
	var h []domain.Revision
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return h, nil
}

// Matches reports whether r passes f, ignoring f.Limit.
func (r MessageRecord) Matches(f domain.MessageFilter) bool {
	if r.Deleted && !f.IncludeDeleted {
		return false
	}
	if f.SenderID != "" && r.SenderID != f.SenderID {
		return false
	}
	if f.Emergency != nil && r.Emergency != *f.Emergency {
		return false
	}
	if f.Type != "" && r.MessageType != string(f.Type) {
		return false
	}
	if f.Status != "" && r.ReadStatus != string(f.Status) {
		return false
	}
	return true
}
