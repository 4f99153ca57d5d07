package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageType tags the kind of content a message carries.
type MessageType string

const (
	MessageText         MessageType = "text"
	MessageImage        MessageType = "image"
	MessageFile         MessageType = "file"
	MessageSystem       MessageType = "system"
	MessageAppointment  MessageType = "appointment"
	MessagePrescription MessageType = "prescription"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile, MessageSystem, MessageAppointment, MessagePrescription:
		return true
	}
	return false
}

// ReadStatus is the delivery receipt of a message. It only moves forward.
type ReadStatus string

const (
	StatusSent      ReadStatus = "sent"
	StatusDelivered ReadStatus = "delivered"
	StatusRead      ReadStatus = "read"
)

func (s ReadStatus) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

func (s ReadStatus) Valid() bool { return s.rank() > 0 }

// Attachment describes an uploaded file referenced by a message.
type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Revision is a prior text of an edited message.
type Revision struct {
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Lifecycle is the content state of a message: Active, Edited or Deleted.
type Lifecycle interface {
	lifecycle()
}

type Active struct {
	Text string
}

type Edited struct {
	Text     string
	EditedAt time.Time
	History  []Revision
}

// Deleted is a tombstone. It carries no content.
type Deleted struct {
	DeletedAt time.Time
	DeletedBy string
}

func (Active) lifecycle()  {}
func (Edited) lifecycle()  {}
func (Deleted) lifecycle() {}

// Receipt tracks delivery independently of the content lifecycle.
type Receipt struct {
	Status ReadStatus
	ReadAt *time.Time
	ReadBy string
}

// Message is one unit of conversation content within a chat.
type Message struct {
	ID         string
	ChatID     string
	SenderID   string
	Type       MessageType
	Emergency  bool
	Attachment *Attachment
	ReplyTo    string
	Timestamp  time.Time
	State      Lifecycle
	Receipt    Receipt
}

// NewMessageID returns an id that sorts lexically in creation order.
func NewMessageID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate message id: %w", err)
	}
	return "MSG_" + id.String(), nil
}

// Text returns the renderable text. Tombstones report false.
func (m *Message) Text() (string, bool) {
	switch s := m.State.(type) {
	case Active:
		return s.Text, true
	case Edited:
		return s.Text, true
	}
	return "", false
}

func (m *Message) IsDeleted() bool {
	_, ok := m.State.(Deleted)
	return ok
}

func (m *Message) EditedAt() *time.Time {
	if s, ok := m.State.(Edited); ok {
		t := s.EditedAt
		return &t
	}
	return nil
}

func (m *Message) DeletedAt() *time.Time {
	if s, ok := m.State.(Deleted); ok {
		t := s.DeletedAt
		return &t
	}
	return nil
}

// Edit replaces the text when requester is the sender. A mismatched
// requester leaves the message untouched and reports false.
func (m *Message) Edit(requesterID, text string, now time.Time) (bool, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return false, fmt.Errorf("text is required: %w", ErrInvalidInput)
	}
	if requesterID != m.SenderID {
		return false, nil
	}
	switch s := m.State.(type) {
	case Active:
		m.State = Edited{
			Text:     text,
			EditedAt: now,
			History:  []Revision{{Text: s.Text, At: m.Timestamp}},
		}
	case Edited:
		history := make([]Revision, 0, len(s.History)+1)
		history = append(history, s.History...)
		history = append(history, Revision{Text: s.Text, At: s.EditedAt})
		m.State = Edited{Text: text, EditedAt: now, History: history}
	default:
		return false, ErrMessageDeleted
	}
	return true, nil
}

// Delete turns the message into a tombstone. Deleting a tombstone is a no-op.
func (m *Message) Delete(requesterID string, now time.Time) (bool, error) {
	if requesterID != m.SenderID {
		return false, ErrUnauthorized
	}
	if m.IsDeleted() {
		return false, nil
	}
	m.State = Deleted{DeletedAt: now, DeletedBy: requesterID}
	return true, nil
}

// MarkRead advances the receipt to read. It reports false when the message is
// already read or the reader is the sender.
func (m *Message) MarkRead(readerID string, now time.Time) (bool, error) {
	if m.IsDeleted() {
		return false, ErrMessageDeleted
	}
	if readerID == m.SenderID || m.Receipt.Status == StatusRead {
		return false, nil
	}
	m.Receipt = Receipt{Status: StatusRead, ReadAt: &now, ReadBy: readerID}
	return true, nil
}

// MarkDelivered moves a sent message to delivered.
func (m *Message) MarkDelivered() bool {
	if m.IsDeleted() || m.Receipt.Status.rank() >= StatusDelivered.rank() {
		return false
	}
	m.Receipt.Status = StatusDelivered
	return true
}
