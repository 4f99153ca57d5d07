package domain

import (
	"fmt"
	"strings"
	"time"
)

// ChatStatus is the lifecycle status of a chat.
type ChatStatus string

const (
	ChatActive   ChatStatus = "active"
	ChatArchived ChatStatus = "archived"
	ChatBlocked  ChatStatus = "blocked"
	ChatDeleted  ChatStatus = "deleted"
)

var chatTransitions = map[ChatStatus][]ChatStatus{
	ChatActive:   {ChatArchived, ChatBlocked, ChatDeleted},
	ChatArchived: {ChatActive, ChatDeleted},
	ChatBlocked:  {ChatDeleted},
}

func (s ChatStatus) Valid() bool {
	switch s {
	case ChatActive, ChatArchived, ChatBlocked, ChatDeleted:
		return true
	}
	return false
}

// CanTransition reports whether a chat in status s may move to status to.
func (s ChatStatus) CanTransition(to ChatStatus) bool {
	for _, next := range chatTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Participant is one side of a chat.
type Participant struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (p Participant) DisplayName() string {
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if name == "" {
		return p.ID
	}
	return name
}

// Chat is the conversation aggregate between one therapist and one patient.
type Chat struct {
	ID                     string      `json:"id"`
	Therapist              Participant `json:"therapist"`
	Patient                Participant `json:"patient"`
	Status                 ChatStatus  `json:"status"`
	LastMessageText        string      `json:"last_message_text,omitempty"`
	LastMessageAt          *time.Time  `json:"last_message_timestamp,omitempty"`
	LastMessageSenderID    string      `json:"last_message_sender_id,omitempty"`
	TherapistUnread        int         `json:"therapist_unread_count"`
	PatientUnread          int         `json:"patient_unread_count"`
	TherapistNotifications bool        `json:"therapist_notifications"`
	PatientNotifications   bool        `json:"patient_notifications"`
	CreatedAt              time.Time   `json:"created_at"`
	UpdatedAt              time.Time   `json:"updated_at"`
}

// ChatID derives the chat id for a therapist/patient pair.
func ChatID(therapistID, patientID string) string {
	return fmt.Sprintf("CHAT_%s_%s", therapistID, patientID)
}

// NewChat builds an active chat with notifications enabled for both sides.
func NewChat(therapist, patient Participant, now time.Time) (*Chat, error) {
	therapist.ID = strings.TrimSpace(therapist.ID)
	patient.ID = strings.TrimSpace(patient.ID)
	if therapist.ID == "" || patient.ID == "" {
		return nil, fmt.Errorf("therapist and patient ids are required: %w", ErrInvalidInput)
	}
	if therapist.ID == patient.ID {
		return nil, fmt.Errorf("chat participants must differ: %w", ErrInvalidInput)
	}
	return &Chat{
		ID:                     ChatID(therapist.ID, patient.ID),
		Therapist:              therapist,
		Patient:                patient,
		Status:                 ChatActive,
		TherapistNotifications: true,
		PatientNotifications:   true,
		CreatedAt:              now,
		UpdatedAt:              now,
	}, nil
}

func (c *Chat) IsParticipant(userID string) bool {
	return userID != "" && (userID == c.Therapist.ID || userID == c.Patient.ID)
}

// Participant returns the chat member with the given id.
func (c *Chat) Participant(userID string) (Participant, bool) {
	switch userID {
	case c.Therapist.ID:
		return c.Therapist, true
	case c.Patient.ID:
		return c.Patient, true
	}
	return Participant{}, false
}

// Other returns the participant that is not userID.
func (c *Chat) Other(userID string) (Participant, bool) {
	switch userID {
	case c.Therapist.ID:
		return c.Patient, true
	case c.Patient.ID:
		return c.Therapist, true
	}
	return Participant{}, false
}

func (c *Chat) UnreadFor(userID string) int {
	switch userID {
	case c.Therapist.ID:
		return c.TherapistUnread
	case c.Patient.ID:
		return c.PatientUnread
	}
	return 0
}

// AcceptsMessages reports whether new messages may be posted.
func (c *Chat) AcceptsMessages() bool {
	return c.Status == ChatActive || c.Status == ChatArchived
}

// AcceptsMutations reports whether existing messages may still change.
func (c *Chat) AcceptsMutations() bool {
	return c.Status != ChatDeleted
}

// RecordIncoming updates the last-message cache and bumps the unread
// counter of the participant who did not send m.
func (c *Chat) RecordIncoming(m *Message) {
	text, _ := m.Text()
	ts := m.Timestamp
	c.LastMessageText = text
	c.LastMessageAt = &ts
	c.LastMessageSenderID = m.SenderID
	if m.SenderID == c.Therapist.ID {
		c.PatientUnread++
	} else {
		c.TherapistUnread++
	}
	if ts.After(c.UpdatedAt) {
		c.UpdatedAt = ts
	}
}

// ResetUnread zeroes the counter of userID and reports whether it changed.
func (c *Chat) ResetUnread(userID string, now time.Time) bool {
	var counter *int
	switch userID {
	case c.Therapist.ID:
		counter = &c.TherapistUnread
	case c.Patient.ID:
		counter = &c.PatientUnread
	default:
		return false
	}
	if *counter == 0 {
		return false
	}
	*counter = 0
	c.UpdatedAt = now
	return true
}

// Transition moves the chat to status to. Moving to the current status is a
// successful no-op.
func (c *Chat) Transition(to ChatStatus, now time.Time) (bool, error) {
	if !to.Valid() {
		return false, fmt.Errorf("unknown status %q: %w", to, ErrInvalidInput)
	}
	if c.Status == to {
		return false, nil
	}
	if !c.Status.CanTransition(to) {
		return false, fmt.Errorf("%s -> %s: %w", c.Status, to, ErrInvalidTransition)
	}
	c.Status = to
	c.UpdatedAt = now
	return true, nil
}

func (c *Chat) NotificationsEnabled(userID string) bool {
	switch userID {
	case c.Therapist.ID:
		return c.TherapistNotifications
	case c.Patient.ID:
		return c.PatientNotifications
	}
	return false
}

func (c *Chat) SetNotifications(userID string, enabled bool, now time.Time) error {
	switch userID {
	case c.Therapist.ID:
		c.TherapistNotifications = enabled
	case c.Patient.ID:
		c.PatientNotifications = enabled
	default:
		return ErrNotParticipant
	}
	c.UpdatedAt = now
	return nil
}
