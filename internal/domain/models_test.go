package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiananasiri/therapyconnect/internal/domain"
)

func newTestChat(t *testing.T) *domain.Chat {
	t.Helper()
	chat, err := domain.NewChat(
		domain.Participant{ID: "t1", FirstName: "Tara", LastName: "Doe"},
		domain.Participant{ID: "p1", FirstName: "Pat"},
		time.Unix(1000, 0),
	)
	require.NoError(t, err)
	return chat
}

func TestNewChat(t *testing.T) {
	chat := newTestChat(t)
	assert.Equal(t, "CHAT_t1_p1", chat.ID)
	assert.Equal(t, domain.ChatActive, chat.Status)
	assert.Zero(t, chat.TherapistUnread)
	assert.Zero(t, chat.PatientUnread)
	assert.True(t, chat.TherapistNotifications)
	assert.True(t, chat.PatientNotifications)

	_, err := domain.NewChat(domain.Participant{ID: "x"}, domain.Participant{ID: "x"}, time.Now())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = domain.NewChat(domain.Participant{ID: ""}, domain.Participant{ID: "p"}, time.Now())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestChatParticipants(t *testing.T) {
	chat := newTestChat(t)

	assert.True(t, chat.IsParticipant("t1"))
	assert.True(t, chat.IsParticipant("p1"))
	assert.False(t, chat.IsParticipant("x"))
	assert.False(t, chat.IsParticipant(""))

	other, ok := chat.Other("t1")
	assert.True(t, ok)
	assert.Equal(t, "p1", other.ID)

	_, ok = chat.Other("x")
	assert.False(t, ok)

	assert.Equal(t, "Tara Doe", chat.Therapist.DisplayName())
	assert.Equal(t, "Pat", chat.Patient.DisplayName())
	assert.Equal(t, "z", domain.Participant{ID: "z"}.DisplayName())
}

func TestChatRecordIncoming(t *testing.T) {
	chat := newTestChat(t)
	at := time.Unix(2000, 0)

	chat.RecordIncoming(&domain.Message{SenderID: "t1", Timestamp: at, State: domain.Active{Text: "Hello"}})
	assert.Equal(t, "Hello", chat.LastMessageText)
	assert.Equal(t, "t1", chat.LastMessageSenderID)
	require.NotNil(t, chat.LastMessageAt)
	assert.True(t, chat.LastMessageAt.Equal(at))
	assert.Equal(t, 1, chat.PatientUnread)
	assert.Equal(t, 0, chat.TherapistUnread)

	chat.RecordIncoming(&domain.Message{SenderID: "p1", Timestamp: at.Add(time.Second), State: domain.Active{Text: "Hi"}})
	chat.RecordIncoming(&domain.Message{SenderID: "p1", Timestamp: at.Add(2 * time.Second), State: domain.Active{Text: "There"}})
	assert.Equal(t, 2, chat.TherapistUnread)
	assert.Equal(t, 1, chat.PatientUnread)
	assert.Equal(t, "There", chat.LastMessageText)

	assert.True(t, chat.ResetUnread("t1", at))
	assert.False(t, chat.ResetUnread("t1", at))
	assert.False(t, chat.ResetUnread("x", at))
	assert.Equal(t, 0, chat.UnreadFor("t1"))
	assert.Equal(t, 1, chat.UnreadFor("p1"))
}

func TestChatTransitions(t *testing.T) {
	cases := []struct {
		from, to domain.ChatStatus
		ok       bool
	}{
		{domain.ChatActive, domain.ChatArchived, true},
		{domain.ChatArchived, domain.ChatActive, true},
		{domain.ChatActive, domain.ChatBlocked, true},
		{domain.ChatActive, domain.ChatDeleted, true},
		{domain.ChatArchived, domain.ChatDeleted, true},
		{domain.ChatBlocked, domain.ChatDeleted, true},
		{domain.ChatBlocked, domain.ChatActive, false},
		{domain.ChatArchived, domain.ChatBlocked, false},
		{domain.ChatDeleted, domain.ChatActive, false},
		{domain.ChatDeleted, domain.ChatArchived, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			chat := newTestChat(t)
			chat.Status = tc.from
			changed, err := chat.Transition(tc.to, time.Now())
			if tc.ok {
				assert.NoError(t, err)
				assert.True(t, changed)
				assert.Equal(t, tc.to, chat.Status)
			} else {
				assert.ErrorIs(t, err, domain.ErrInvalidTransition)
				assert.Equal(t, tc.from, chat.Status)
			}
		})
	}

	chat := newTestChat(t)
	changed, err := chat.Transition(domain.ChatActive, time.Now())
	assert.NoError(t, err)
	assert.False(t, changed)

	_, err = chat.Transition("frozen", time.Now())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestChatAcceptsMessages(t *testing.T) {
	chat := newTestChat(t)
	for status, want := range map[domain.ChatStatus]bool{
		domain.ChatActive:   true,
		domain.ChatArchived: true,
		domain.ChatBlocked:  false,
		domain.ChatDeleted:  false,
	} {
		chat.Status = status
		assert.Equal(t, want, chat.AcceptsMessages(), status)
	}
	chat.Status = domain.ChatBlocked
	assert.True(t, chat.AcceptsMutations())
	chat.Status = domain.ChatDeleted
	assert.False(t, chat.AcceptsMutations())
}

func TestChatNotifications(t *testing.T) {
	chat := newTestChat(t)
	require.NoError(t, chat.SetNotifications("p1", false, time.Now()))
	assert.False(t, chat.NotificationsEnabled("p1"))
	assert.True(t, chat.NotificationsEnabled("t1"))
	assert.ErrorIs(t, chat.SetNotifications("x", false, time.Now()), domain.ErrNotParticipant)
}
