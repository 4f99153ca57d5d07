package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiananasiri/therapyconnect/internal/domain"
	"github.com/kiananasiri/therapyconnect/internal/store/postgres"
)

// Runs against a disposable database named by POSTGRES_TEST_DSN.
func TestRepositories(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	db, err := postgres.Open(dsn)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, postgres.Migrate(db))

	ctx := context.Background()
	suffix := time.Now().Format("150405.000000")
	chats := postgres.NewChatRepo(db)
	msgs := postgres.NewMessageRepo(db)

	chat, err := domain.NewChat(domain.Participant{ID: "t-" + suffix}, domain.Participant{ID: "p-" + suffix}, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, chats.Create(ctx, chat))
	assert.ErrorIs(t, chats.Create(ctx, chat), domain.ErrConflict)

	id, err := domain.NewMessageID()
	require.NoError(t, err)
	m := &domain.Message{
		ID:        id,
		ChatID:    chat.ID,
		SenderID:  chat.Therapist.ID,
		Type:      domain.MessageText,
		Emergency: true,
		Timestamp: time.Now().UTC(),
		State:     domain.Active{Text: "hello"},
		Receipt:   domain.Receipt{Status: domain.StatusSent},
	}
	require.NoError(t, msgs.Create(ctx, m))

	has, err := msgs.HasUnreadEmergency(ctx, chat.ID, chat.Patient.ID)
	require.NoError(t, err)
	assert.True(t, has)

	chat.RecordIncoming(m)
	require.NoError(t, chats.Update(ctx, chat))
	got, err := chats.GetByID(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.PatientUnread)
	assert.Equal(t, "hello", got.LastMessageText)

	_, err = m.Delete(chat.Therapist.ID, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, msgs.MarkDeleted(ctx, m))
	list, err := msgs.ListForChat(ctx, chat.ID, domain.MessageFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}
