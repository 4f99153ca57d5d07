package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kiananasiri/therapyconnect/internal/domain"
)

const maxTextLength = 5000

// MessageService creates and mutates messages. Every write for a chat runs
// inside that chat's lock together with the matching chat state update.
type MessageService struct {
	chats    *ChatService
	messages domain.MessageRepository
	tx       domain.Transactor
	guard    *FloodGuard
	locks    *ChatLocks
	log      *zap.Logger
	now      func() time.Time
}

func NewMessageService(
	chats *ChatService,
	messages domain.MessageRepository,
	tx domain.Transactor,
	guard *FloodGuard,
	locks *ChatLocks,
	log *zap.Logger,
) *MessageService {
	if log == nil {
		log = zap.NewNop()
	}
	return &MessageService{
		chats:    chats,
		messages: messages,
		tx:       tx,
		guard:    guard,
		locks:    locks,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type SendInput struct {
	ChatID     string
	SenderID   string
	Text       string
	Type       domain.MessageType
	Emergency  bool
	ReplyTo    string
	Attachment *domain.Attachment
	// OnCommit runs while the chat is still locked, right after the message
	// and chat state commit. Sends in one chat reach it in commit order.
	OnCommit func(*SendResult)
}

// SendResult carries the committed message and the chat as updated by it.
type SendResult struct {
	Message *domain.Message
	Chat    domain.Chat
}

func (s *MessageService) Send(ctx context.Context, in SendInput) (*SendResult, error) {
	text := strings.TrimSpace(in.Text)
	sender := strings.TrimSpace(in.SenderID)
	if text == "" || sender == "" {
		return nil, fmt.Errorf("text and sender_id are required: %w", domain.ErrInvalidInput)
	}
	if len([]rune(text)) > maxTextLength {
		return nil, fmt.Errorf("text exceeds %d characters: %w", maxTextLength, domain.ErrInvalidInput)
	}
	msgType := in.Type
	if msgType == "" {
		msgType = domain.MessageText
	}
	if !msgType.Valid() {
		return nil, fmt.Errorf("unknown message_type %q: %w", in.Type, domain.ErrInvalidInput)
	}

	var res *SendResult
	err := s.locks.WithChat(ctx, in.ChatID, func() error {
		chat, err := s.chats.Get(ctx, in.ChatID)
		if err != nil {
			return err
		}
		if !chat.IsParticipant(sender) {
			return domain.ErrNotParticipant
		}
		if !chat.AcceptsMessages() {
			return fmt.Errorf("chat is %s: %w", chat.Status, domain.ErrChatClosed)
		}
		if in.Emergency {
			ok, err := s.guard.CanSendEmergency(ctx, chat.ID, sender)
			if err != nil {
				return err
			}
			if !ok {
				return domain.ErrFloodLimited
			}
		}
		if in.ReplyTo != "" {
			if _, err := s.inChat(ctx, chat.ID, in.ReplyTo); err != nil {
				return fmt.Errorf("reply_to: %w", err)
			}
		}

		id, err := domain.NewMessageID()
		if err != nil {
			return err
		}
		m := &domain.Message{
			ID:         id,
			ChatID:     chat.ID,
			SenderID:   sender,
			Type:       msgType,
			Emergency:  in.Emergency,
			Attachment: in.Attachment,
			ReplyTo:    in.ReplyTo,
			Timestamp:  s.now(),
			State:      domain.Active{Text: text},
			Receipt:    domain.Receipt{Status: domain.StatusSent},
		}
		err = s.tx.InTx(ctx, func(chats domain.ChatRepository, messages domain.MessageRepository) error {
			if err := messages.Create(ctx, m); err != nil {
				return fmt.Errorf("create message: %w", err)
			}
			chat.RecordIncoming(m)
			if err := chats.Update(ctx, chat); err != nil {
				return fmt.Errorf("update chat: %w", err)
			}
			return nil
		})
		if err != nil {
			s.log.Warn("send rolled back", zap.String("chat_id", chat.ID), zap.String("message_id", m.ID), zap.Error(err))
			return err
		}
		res = &SendResult{Message: m, Chat: *chat}
		if in.OnCommit != nil {
			in.OnCommit(res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// MarkRead records that userID read the message. The bool reports whether
// the receipt changed.
func (s *MessageService) MarkRead(ctx context.Context, chatID, messageID, userID string) (*domain.Message, bool, error) {
	return s.mutate(ctx, chatID, messageID, userID, func(m *domain.Message) (bool, error) {
		changed, err := m.MarkRead(userID, s.now())
		if err != nil || !changed {
			return false, err
		}
		return true, s.messages.UpdateReceipt(ctx, m)
	})
}

// Edit replaces the text of a message. It reports false, leaving the message
// untouched, when userID is not the sender.
func (s *MessageService) Edit(ctx context.Context, chatID, messageID, userID, text string) (*domain.Message, bool, error) {
	if len([]rune(strings.TrimSpace(text))) > maxTextLength {
		return nil, false, fmt.Errorf("text exceeds %d characters: %w", maxTextLength, domain.ErrInvalidInput)
	}
	return s.mutate(ctx, chatID, messageID, userID, func(m *domain.Message) (bool, error) {
		changed, err := m.Edit(userID, text, s.now())
		if err != nil || !changed {
			return false, err
		}
		return true, s.messages.UpdateText(ctx, m)
	})
}

// SoftDelete tombstones a message. Only the sender may delete; deleting a
// tombstone again reports false.
func (s *MessageService) SoftDelete(ctx context.Context, chatID, messageID, userID string) (*domain.Message, bool, error) {
	return s.mutate(ctx, chatID, messageID, userID, func(m *domain.Message) (bool, error) {
		changed, err := m.Delete(userID, s.now())
		if err != nil || !changed {
			return false, err
		}
		return true, s.messages.MarkDeleted(ctx, m)
	})
}

// MarkDelivered advances a sent message to delivered.
func (s *MessageService) MarkDelivered(ctx context.Context, chatID, messageID string) (bool, error) {
	var changed bool
	err := s.locks.WithChat(ctx, chatID, func() error {
		m, err := s.inChat(ctx, chatID, messageID)
		if err != nil {
			return err
		}
		if !m.MarkDelivered() {
			return nil
		}
		changed = true
		return s.messages.UpdateReceipt(ctx, m)
	})
	return changed, err
}

// MarkAllRead marks every unread message addressed to userID as read and
// resets the user's unread counter. It returns the messages that changed.
func (s *MessageService) MarkAllRead(ctx context.Context, chatID, userID string) ([]*domain.Message, *domain.Chat, error) {
	var (
		changed []*domain.Message
		out     *domain.Chat
	)
	err := s.locks.WithChat(ctx, chatID, func() error {
		chat, err := s.chats.Get(ctx, chatID)
		if err != nil {
			return err
		}
		if !chat.IsParticipant(userID) {
			return domain.ErrNotParticipant
		}
		if !chat.AcceptsMutations() {
			return fmt.Errorf("chat is %s: %w", chat.Status, domain.ErrChatClosed)
		}
		unread, err := s.messages.ListUnreadFor(ctx, chatID, userID)
		if err != nil {
			return fmt.Errorf("list unread: %w", err)
		}
		now := s.now()
		err = s.tx.InTx(ctx, func(chats domain.ChatRepository, messages domain.MessageRepository) error {
			changed = changed[:0]
			for _, m := range unread {
				ok, err := m.MarkRead(userID, now)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				if err := messages.UpdateReceipt(ctx, m); err != nil {
					return fmt.Errorf("update receipt: %w", err)
				}
				changed = append(changed, m)
			}
			if !chat.ResetUnread(userID, now) {
				return nil
			}
			if err := chats.Update(ctx, chat); err != nil {
				return fmt.Errorf("update chat: %w", err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = chat
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return changed, out, nil
}

type ListInput struct {
	ChatID string
	Filter domain.MessageFilter
}

// List returns chat history oldest first. It does not take the chat lock.
func (s *MessageService) List(ctx context.Context, in ListInput) ([]*domain.Message, error) {
	if _, err := s.chats.Get(ctx, in.ChatID); err != nil {
		return nil, err
	}
	if in.Filter.Type != "" && !in.Filter.Type.Valid() {
		return nil, fmt.Errorf("unknown message_type %q: %w", in.Filter.Type, domain.ErrInvalidInput)
	}
	if in.Filter.Status != "" && !in.Filter.Status.Valid() {
		return nil, fmt.Errorf("unknown read_status %q: %w", in.Filter.Status, domain.ErrInvalidInput)
	}
	msgs, err := s.messages.ListForChat(ctx, in.ChatID, in.Filter)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// ConsecutiveEmergency returns the newest-first run of emergency messages
// from senderID in chatID, ending at the first non-emergency message.
func (s *MessageService) ConsecutiveEmergency(ctx context.Context, chatID, senderID string) ([]*domain.Message, error) {
	limit := s.guard.Window()
	for {
		recent, err := s.messages.RecentBySender(ctx, chatID, senderID, limit)
		if err != nil {
			return nil, fmt.Errorf("recent messages: %w", err)
		}
		run := 0
		for run < len(recent) && recent[run].Emergency {
			run++
		}
		if run < len(recent) || len(recent) < limit {
			return recent[:run], nil
		}
		limit *= 2
	}
}

// CanSendEmergency exposes the flood guard for a chat participant.
func (s *MessageService) CanSendEmergency(ctx context.Context, chatID, senderID string) (bool, error) {
	chat, err := s.chats.Get(ctx, chatID)
	if err != nil {
		return false, err
	}
	if !chat.IsParticipant(senderID) {
		return false, domain.ErrNotParticipant
	}
	return s.guard.CanSendEmergency(ctx, chatID, senderID)
}

// ReplyChain walks reply_to links from messageID and returns the chain root
// first. Each hop must point to a strictly earlier message in the same chat.
func (s *MessageService) ReplyChain(ctx context.Context, messageID string) ([]*domain.Message, error) {
	m, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", messageID, err)
	}
	chain := []*domain.Message{m}
	for m.ReplyTo != "" {
		parent, err := s.messages.GetByID(ctx, m.ReplyTo)
		if errors.Is(err, domain.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("get message %s: %w", m.ReplyTo, err)
		}
		if parent.ChatID != m.ChatID || parent.ID >= m.ID {
			break
		}
		chain = append(chain, parent)
		m = parent
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// mutate loads a message of chatID under the chat lock, after checking that
// userID takes part in a chat that still accepts changes.
func (s *MessageService) mutate(
	ctx context.Context,
	chatID, messageID, userID string,
	fn func(*domain.Message) (bool, error),
) (*domain.Message, bool, error) {
	if strings.TrimSpace(messageID) == "" || strings.TrimSpace(userID) == "" {
		return nil, false, fmt.Errorf("message_id and user_id are required: %w", domain.ErrInvalidInput)
	}
	var (
		out     *domain.Message
		changed bool
	)
	err := s.locks.WithChat(ctx, chatID, func() error {
		chat, err := s.chats.Get(ctx, chatID)
		if err != nil {
			return err
		}
		if !chat.IsParticipant(userID) {
			return domain.ErrNotParticipant
		}
		if !chat.AcceptsMutations() {
			return fmt.Errorf("chat is %s: %w", chat.Status, domain.ErrChatClosed)
		}
		m, err := s.inChat(ctx, chatID, messageID)
		if err != nil {
			return err
		}
		if changed, err = fn(m); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, changed, nil
}

func (s *MessageService) inChat(ctx context.Context, chatID, messageID string) (*domain.Message, error) {
	m, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", messageID, err)
	}
	if m.ChatID != chatID {
		return nil, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}
	return m, nil
}
