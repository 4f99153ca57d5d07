package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiananasiri/therapyconnect/internal/domain"
	"github.com/kiananasiri/therapyconnect/internal/security"
	"github.com/kiananasiri/therapyconnect/internal/service"
	"github.com/kiananasiri/therapyconnect/internal/store/sqlite"
)

type fixture struct {
	chats    *service.ChatService
	messages *service.MessageService
	locks    *service.ChatLocks
	chat     *domain.Chat

	chatRepo domain.ChatRepository
	msgRepo  domain.MessageRepository
	tx       domain.Transactor
}

func newFixture(t *testing.T, enc *security.Encryptor) *fixture {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	require.NoError(t, sqlite.Migrate(db))
	t.Cleanup(func() { db.Close() })

	chatRepo := service.SealChats(sqlite.NewChatRepo(db), enc)
	msgRepo := service.SealMessages(sqlite.NewMessageRepo(db), enc)
	locks := service.NewChatLocks()
	chats := service.NewChatService(chatRepo, msgRepo, locks)
	tx := service.SealTx(sqlite.NewTransactor(db), enc)
	messages := service.NewMessageService(chats, msgRepo, tx, service.NewFloodGuard(msgRepo, 15), locks, nil)

	chat, created, err := chats.CreateOrGet(context.Background(), service.CreateChatInput{
		Therapist: domain.Participant{ID: "t1", FirstName: "Tara"},
		Patient:   domain.Participant{ID: "p1", FirstName: "Pat"},
	})
	require.NoError(t, err)
	require.True(t, created)
	return &fixture{
		chats: chats, messages: messages, locks: locks, chat: chat,
		chatRepo: chatRepo, msgRepo: msgRepo, tx: tx,
	}
}

func (f *fixture) send(t *testing.T, sender, text string, emergency bool) (*service.SendResult, error) {
	t.Helper()
	return f.messages.Send(context.Background(), service.SendInput{
		ChatID:    f.chat.ID,
		SenderID:  sender,
		Text:      text,
		Emergency: emergency,
	})
}

// Chat creation followed by a first message from the therapist.
func TestFirstMessageUpdatesChat(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	assert.Equal(t, "CHAT_t1_p1", f.chat.ID)
	assert.Zero(t, f.chat.TherapistUnread)
	assert.Zero(t, f.chat.PatientUnread)

	res, err := f.send(t, "t1", "Hello", false)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, res.Message.Receipt.Status)
	assert.Equal(t, domain.MessageText, res.Message.Type)

	msgs, err := f.messages.List(ctx, service.ListInput{ChatID: f.chat.ID})
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	chat, err := f.chats.Get(ctx, f.chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello", chat.LastMessageText)
	assert.Equal(t, "t1", chat.LastMessageSenderID)
	assert.Equal(t, 1, chat.PatientUnread)
	assert.Equal(t, 0, chat.TherapistUnread)

	again, created, err := f.chats.CreateOrGet(ctx, service.CreateChatInput{
		Therapist: domain.Participant{ID: "t1"},
		Patient:   domain.Participant{ID: "p1"},
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1, again.PatientUnread)
}

// The patient reads the therapist's message.
func TestMarkReadIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	res, err := f.send(t, "t1", "Hello", false)
	require.NoError(t, err)

	m, changed, err := f.messages.MarkRead(ctx, f.chat.ID, res.Message.ID, "p1")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, domain.StatusRead, m.Receipt.Status)
	assert.Equal(t, "p1", m.Receipt.ReadBy)
	firstReadAt := *m.Receipt.ReadAt

	m, changed, err = f.messages.MarkRead(ctx, f.chat.ID, res.Message.ID, "p1")
	require.NoError(t, err)
	assert.False(t, changed, "marking read twice is a no-op")
	assert.True(t, m.Receipt.ReadAt.Equal(firstReadAt))
	assert.Equal(t, "p1", m.Receipt.ReadBy)

	_, changed, err = f.messages.MarkRead(ctx, f.chat.ID, res.Message.ID, "t1")
	require.NoError(t, err)
	assert.False(t, changed)

	_, _, err = f.messages.MarkRead(ctx, f.chat.ID, res.Message.ID, "stranger")
	assert.ErrorIs(t, err, domain.ErrNotParticipant)

	_, _, err = f.messages.MarkRead(ctx, f.chat.ID, "MSG_missing", "p1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// Fifteen emergencies block the sixteenth until a plain message intervenes.
func TestEmergencyFloodBlocksUntilPlainMessage(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		_, err := f.send(t, "t1", fmt.Sprintf("urgent %d", i), true)
		require.NoError(t, err, "emergency %d", i)
	}
	_, err := f.send(t, "t1", "urgent 16", true)
	assert.ErrorIs(t, err, domain.ErrFloodLimited)

	run, err := f.messages.ConsecutiveEmergency(ctx, f.chat.ID, "t1")
	require.NoError(t, err)
	assert.Len(t, run, 15)

	ok, err := f.messages.CanSendEmergency(ctx, f.chat.ID, "t1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.send(t, "p1", "patient urgent", true)
	assert.NoError(t, err, "the guard is per sender")

	_, err = f.send(t, "t1", "plain", false)
	require.NoError(t, err)
	_, err = f.send(t, "t1", "urgent again", true)
	assert.NoError(t, err)

	run, err = f.messages.ConsecutiveEmergency(ctx, f.chat.ID, "t1")
	require.NoError(t, err)
	assert.Len(t, run, 1)

	chat, err := f.chats.Get(ctx, f.chat.ID)
	require.NoError(t, err)
	assert.Equal(t, 17, chat.PatientUnread, "rejected sends do not count")
}

func TestConsecutiveEmergencyBeyondWindow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for i := 0; i < 14; i++ {
		_, err := f.send(t, "t1", "urgent", true)
		require.NoError(t, err)
	}
	_, err := f.send(t, "t1", "plain", false)
	require.NoError(t, err)
	for i := 0; i < 14; i++ {
		_, err := f.send(t, "t1", "urgent", true)
		require.NoError(t, err)
	}
	run, err := f.messages.ConsecutiveEmergency(ctx, f.chat.ID, "t1")
	require.NoError(t, err)
	assert.Len(t, run, 14)
}

// A therapist may not edit the patient's message.
func TestEditRequiresSender(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	res, err := f.send(t, "p1", "original", false)
	require.NoError(t, err)

	_, changed, err := f.messages.Edit(ctx, f.chat.ID, res.Message.ID, "t1", "tampered")
	require.NoError(t, err)
	assert.False(t, changed)

	msgs, err := f.messages.List(ctx, service.ListInput{ChatID: f.chat.ID})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	text, _ := msgs[0].Text()
	assert.Equal(t, "original", text)
	assert.Nil(t, msgs[0].EditedAt())

	m, changed, err := f.messages.Edit(ctx, f.chat.ID, res.Message.ID, "p1", "fixed")
	require.NoError(t, err)
	assert.True(t, changed)
	require.NotNil(t, m.EditedAt())
	text, _ = m.Text()
	assert.Equal(t, "fixed", text)
}

func TestSoftDelete(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	res, err := f.send(t, "p1", "secret", false)
	require.NoError(t, err)

	_, _, err = f.messages.SoftDelete(ctx, f.chat.ID, res.Message.ID, "t1")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	m, changed, err := f.messages.SoftDelete(ctx, f.chat.ID, res.Message.ID, "p1")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, m.IsDeleted())

	_, changed, err = f.messages.SoftDelete(ctx, f.chat.ID, res.Message.ID, "p1")
	require.NoError(t, err)
	assert.False(t, changed)

	_, _, err = f.messages.Edit(ctx, f.chat.ID, res.Message.ID, "p1", "again")
	assert.ErrorIs(t, err, domain.ErrMessageDeleted)
	_, _, err = f.messages.MarkRead(ctx, f.chat.ID, res.Message.ID, "t1")
	assert.ErrorIs(t, err, domain.ErrMessageDeleted)

	visible, err := f.messages.List(ctx, service.ListInput{ChatID: f.chat.ID})
	require.NoError(t, err)
	assert.Empty(t, visible)

	all, err := f.messages.List(ctx, service.ListInput{ChatID: f.chat.ID, Filter: domain.MessageFilter{IncludeDeleted: true}})
	require.NoError(t, err)
	require.Len(t, all, 1)
	_, renderable := all[0].Text()
	assert.False(t, renderable)
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.send(t, "t1", "   ", false)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = f.send(t, "", "hi", false)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = f.send(t, "stranger", "hi", false)
	assert.ErrorIs(t, err, domain.ErrNotParticipant)

	_, err = f.messages.Send(ctx, service.SendInput{ChatID: "CHAT_x_y", SenderID: "t1", Text: "hi"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.messages.Send(ctx, service.SendInput{ChatID: f.chat.ID, SenderID: "t1", Text: "hi", Type: "video"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = f.messages.Send(ctx, service.SendInput{ChatID: f.chat.ID, SenderID: "t1", Text: "hi", ReplyTo: "MSG_nope"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	msgs, err := f.messages.List(ctx, service.ListInput{ChatID: f.chat.ID})
	require.NoError(t, err)
	assert.Empty(t, msgs, "rejected sends leave no trace")
	chat, err := f.chats.Get(ctx, f.chat.ID)
	require.NoError(t, err)
	assert.Zero(t, chat.PatientUnread)
	assert.Zero(t, chat.TherapistUnread)
}

func TestSendRespectsChatStatus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	res, err := f.send(t, "t1", "before", false)
	require.NoError(t, err)

	_, err = f.chats.UpdateStatus(ctx, f.chat.ID, domain.ChatArchived)
	require.NoError(t, err)
	_, err = f.send(t, "t1", "archived is fine", false)
	assert.NoError(t, err)

	_, err = f.chats.UpdateStatus(ctx, f.chat.ID, domain.ChatActive)
	require.NoError(t, err)
	_, err = f.chats.UpdateStatus(ctx, f.chat.ID, domain.ChatBlocked)
	require.NoError(t, err)
	_, err = f.send(t, "t1", "blocked", false)
	assert.ErrorIs(t, err, domain.ErrChatClosed)
	_, changed, err := f.messages.MarkRead(ctx, f.chat.ID, res.Message.ID, "p1")
	require.NoError(t, err, "blocked chats still take receipts")
	assert.True(t, changed)

	_, err = f.chats.UpdateStatus(ctx, f.chat.ID, domain.ChatActive)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.chats.UpdateStatus(ctx, f.chat.ID, domain.ChatDeleted)
	require.NoError(t, err)
	_, err = f.send(t, "t1", "deleted", false)
	assert.ErrorIs(t, err, domain.ErrChatClosed)
	_, _, err = f.messages.Edit(ctx, f.chat.ID, res.Message.ID, "t1", "late edit")
	assert.ErrorIs(t, err, domain.ErrChatClosed)
}

func TestReplyChain(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	root, err := f.send(t, "t1", "root", false)
	require.NoError(t, err)
	mid, err := f.messages.Send(ctx, service.SendInput{ChatID: f.chat.ID, SenderID: "p1", Text: "mid", ReplyTo: root.Message.ID})
	require.NoError(t, err)
	leaf, err := f.messages.Send(ctx, service.SendInput{ChatID: f.chat.ID, SenderID: "t1", Text: "leaf", ReplyTo: mid.Message.ID})
	require.NoError(t, err)

	chain, err := f.messages.ReplyChain(ctx, leaf.Message.ID)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, root.Message.ID, chain[0].ID)
	assert.Equal(t, mid.Message.ID, chain[1].ID)
	assert.Equal(t, leaf.Message.ID, chain[2].ID)
	for i := 1; i < len(chain); i++ {
		assert.Less(t, chain[i-1].ID, chain[i].ID)
		assert.False(t, chain[i].Timestamp.Before(chain[i-1].Timestamp))
	}

	other, _, err := f.chats.CreateOrGet(ctx, service.CreateChatInput{
		Therapist: domain.Participant{ID: "t2"},
		Patient:   domain.Participant{ID: "p1"},
	})
	require.NoError(t, err)
	_, err = f.messages.Send(ctx, service.SendInput{ChatID: other.ID, SenderID: "p1", Text: "x", ReplyTo: root.Message.ID})
	assert.ErrorIs(t, err, domain.ErrNotFound, "replies stay within one chat")
}

func TestCreateOrGetRejectsCollidingPair(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, created, err := f.chats.CreateOrGet(ctx, service.CreateChatInput{
		Therapist: domain.Participant{ID: "a_b"},
		Patient:   domain.Participant{ID: "c"},
	})
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, "CHAT_a_b_c", first.ID)

	_, _, err = f.chats.CreateOrGet(ctx, service.CreateChatInput{
		Therapist: domain.Participant{ID: "a"},
		Patient:   domain.Participant{ID: "b_c"},
	})
	assert.ErrorIs(t, err, domain.ErrConflict)

	again, created, err := f.chats.CreateOrGet(ctx, service.CreateChatInput{
		Therapist: domain.Participant{ID: "a_b"},
		Patient:   domain.Participant{ID: "c"},
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
}

// A create that loses the race to the same id still checks the pair.
func TestCreateOrGetConflictPathChecksPair(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	racing := service.NewChatService(&missingOnce{ChatRepository: f.chatRepo}, f.msgRepo, f.locks)
	_, _, err := f.chats.CreateOrGet(ctx, service.CreateChatInput{
		Therapist: domain.Participant{ID: "x_y"},
		Patient:   domain.Participant{ID: "z"},
	})
	require.NoError(t, err)

	_, _, err = racing.CreateOrGet(ctx, service.CreateChatInput{
		Therapist: domain.Participant{ID: "x"},
		Patient:   domain.Participant{ID: "y_z"},
	})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

// missingOnce reports the first lookup as not found, as if another writer
// created the chat between the lookup and the insert.
type missingOnce struct {
	domain.ChatRepository
	seen bool
}

func (m *missingOnce) GetByID(ctx context.Context, id string) (*domain.Chat, error) {
	if !m.seen {
		m.seen = true
		return nil, domain.ErrNotFound
	}
	return m.ChatRepository.GetByID(ctx, id)
}

func TestMarkAllReadAndPriority(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.send(t, "t1", "one", false)
	require.NoError(t, err)
	_, err = f.send(t, "t1", "two", true)
	require.NoError(t, err)
	_, err = f.send(t, "p1", "mine", false)
	require.NoError(t, err)

	score, err := f.chats.PriorityScore(ctx, f.chat.ID, "p1")
	require.NoError(t, err)
	assert.Equal(t, service.EmergencyPriority+2, score)

	score, err = f.chats.PriorityScore(ctx, f.chat.ID, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, score)

	inbox, err := f.chats.Inbox(ctx, "p1", "")
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, 2, inbox[0].Unread)

	changed, chat, err := f.messages.MarkAllRead(ctx, f.chat.ID, "p1")
	require.NoError(t, err)
	assert.Len(t, changed, 2)
	assert.Zero(t, chat.PatientUnread)
	assert.Equal(t, 1, chat.TherapistUnread)

	score, err = f.chats.PriorityScore(ctx, f.chat.ID, "p1")
	require.NoError(t, err)
	assert.Zero(t, score)

	_, err = f.chats.PriorityScore(ctx, f.chat.ID, "stranger")
	assert.ErrorIs(t, err, domain.ErrNotParticipant)
}

func TestMarkDelivered(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	res, err := f.send(t, "t1", "ping", false)
	require.NoError(t, err)

	changed, err := f.messages.MarkDelivered(ctx, f.chat.ID, res.Message.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = f.messages.MarkDelivered(ctx, f.chat.ID, res.Message.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	delivered := domain.StatusDelivered
	msgs, err := f.messages.List(ctx, service.ListInput{ChatID: f.chat.ID, Filter: domain.MessageFilter{Status: delivered}})
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestNotificationsToggle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	chat, err := f.chats.SetNotifications(ctx, f.chat.ID, "p1", false)
	require.NoError(t, err)
	assert.False(t, chat.PatientNotifications)

	chat, err = f.chats.Get(ctx, f.chat.ID)
	require.NoError(t, err)
	assert.False(t, chat.NotificationsEnabled("p1"))
	assert.True(t, chat.NotificationsEnabled("t1"))

	_, err = f.chats.SetNotifications(ctx, f.chat.ID, "x", true)
	assert.ErrorIs(t, err, domain.ErrNotParticipant)
}

var errDiskFull = errors.New("disk full")

// brokenChatUpdates fails every chat update after the message writes succeed.
type brokenChatUpdates struct {
	domain.ChatRepository
}

func (brokenChatUpdates) Update(context.Context, *domain.Chat) error { return errDiskFull }

type brokenTx struct {
	inner domain.Transactor
}

func (b brokenTx) InTx(ctx context.Context, fn func(domain.ChatRepository, domain.MessageRepository) error) error {
	return b.inner.InTx(ctx, func(chats domain.ChatRepository, messages domain.MessageRepository) error {
		return fn(brokenChatUpdates{chats}, messages)
	})
}

func (f *fixture) withBrokenChatUpdates() *service.MessageService {
	return service.NewMessageService(f.chats, f.msgRepo, brokenTx{f.tx}, service.NewFloodGuard(f.msgRepo, 15), f.locks, nil)
}

func TestSendRollsBackOnChatUpdateFailure(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	broken := f.withBrokenChatUpdates()

	committed := false
	_, err := broken.Send(ctx, service.SendInput{
		ChatID:   f.chat.ID,
		SenderID: "t1",
		Text:     "lost",
		OnCommit: func(*service.SendResult) { committed = true },
	})
	require.ErrorIs(t, err, errDiskFull)
	assert.False(t, committed)

	msgs, err := f.messages.List(ctx, service.ListInput{ChatID: f.chat.ID})
	require.NoError(t, err)
	assert.Empty(t, msgs, "the message insert is rolled back")

	chat, err := f.chats.Get(ctx, f.chat.ID)
	require.NoError(t, err)
	assert.Zero(t, chat.PatientUnread)
	assert.Empty(t, chat.LastMessageText)
	assert.Zero(t, f.locks.Len())

	res, err := f.send(t, "t1", "kept", false)
	require.NoError(t, err)
	msgs, err = f.messages.List(ctx, service.ListInput{ChatID: f.chat.ID})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, res.Message.ID, msgs[0].ID)
}

func TestMarkAllReadRollsBackOnChatUpdateFailure(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.send(t, "t1", fmt.Sprintf("m%d", i), false)
		require.NoError(t, err)
	}

	_, _, err := f.withBrokenChatUpdates().MarkAllRead(ctx, f.chat.ID, "p1")
	require.ErrorIs(t, err, errDiskFull)

	unread, err := f.msgRepo.ListUnreadFor(ctx, f.chat.ID, "p1")
	require.NoError(t, err)
	assert.Len(t, unread, 3, "receipts are rolled back with the counter")
	chat, err := f.chats.Get(ctx, f.chat.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, chat.PatientUnread)

	changed, chat, err := f.messages.MarkAllRead(ctx, f.chat.ID, "p1")
	require.NoError(t, err)
	assert.Len(t, changed, 3)
	assert.Zero(t, chat.PatientUnread)
}

// Senders on one chat commit in id order, and OnCommit observes that order.
func TestOnCommitRunsInCommitOrder(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids []string
	)
	for _, sender := range []string{"t1", "p1", "t1", "p1"} {
		wg.Add(1)
		go func(sender string) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_, err := f.messages.Send(ctx, service.SendInput{
					ChatID:   f.chat.ID,
					SenderID: sender,
					Text:     "x",
					OnCommit: func(res *service.SendResult) {
						mu.Lock()
						ids = append(ids, res.Message.ID)
						mu.Unlock()
					},
				})
				assert.NoError(t, err)
			}
		}(sender)
	}
	wg.Wait()

	require.Len(t, ids, 40)
	assert.IsIncreasing(t, ids)
}

// Concurrent senders on one chat never lose an unread increment.
func TestConcurrentSendsKeepCountersExact(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	const perSender = 20
	var wg sync.WaitGroup
	for _, sender := range []string{"t1", "p1"} {
		for i := 0; i < perSender; i++ {
			wg.Add(1)
			go func(sender string, i int) {
				defer wg.Done()
				_, err := f.messages.Send(ctx, service.SendInput{
					ChatID:   f.chat.ID,
					SenderID: sender,
					Text:     fmt.Sprintf("%s-%d", sender, i),
				})
				assert.NoError(t, err)
			}(sender, i)
		}
	}
	wg.Wait()

	chat, err := f.chats.Get(ctx, f.chat.ID)
	require.NoError(t, err)
	assert.Equal(t, perSender, chat.PatientUnread)
	assert.Equal(t, perSender, chat.TherapistUnread)
	assert.Zero(t, f.locks.Len())

	msgs, err := f.messages.List(ctx, service.ListInput{ChatID: f.chat.ID})
	require.NoError(t, err)
	require.Len(t, msgs, 2*perSender)
	last := msgs[len(msgs)-1]
	text, _ := last.Text()
	assert.Equal(t, text, chat.LastMessageText, "cache reflects the newest message")
}

// Concurrent emergency sends cannot both slip through the last open slot.
func TestConcurrentEmergencySends(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for i := 0; i < 14; i++ {
		_, err := f.send(t, "t1", "urgent", true)
		require.NoError(t, err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.send(t, "t1", "race", true)
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, accepted)

	run, err := f.messages.ConsecutiveEmergency(ctx, f.chat.ID, "t1")
	require.NoError(t, err)
	assert.Len(t, run, 15)
}

func TestEncryptedAtRest(t *testing.T) {
	enc, err := security.NewEncryptor("test-key", nil)
	require.NoError(t, err)
	f := newFixture(t, enc)
	ctx := context.Background()

	res, err := f.send(t, "t1", "private note", false)
	require.NoError(t, err)
	_, _, err = f.messages.Edit(ctx, f.chat.ID, res.Message.ID, "t1", "edited note")
	require.NoError(t, err)

	msgs, err := f.messages.List(ctx, service.ListInput{ChatID: f.chat.ID})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	text, _ := msgs[0].Text()
	assert.Equal(t, "edited note", text)
	edited := msgs[0].State.(domain.Edited)
	assert.Equal(t, "private note", edited.History[0].Text)

	chat, err := f.chats.Get(ctx, f.chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "private note", chat.LastMessageText)
}
