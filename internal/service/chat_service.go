package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kiananasiri/therapyconnect/internal/domain"
)

// EmergencyPriority is added to a chat's priority score while it holds an
// unread emergency message for the viewer.
const EmergencyPriority = 1000

// ChatService owns the conversation aggregate: status, unread counters, the
// last-message cache and notification flags.
type ChatService struct {
	chats    domain.ChatRepository
	messages domain.MessageRepository
	locks    *ChatLocks
	now      func() time.Time
}

func NewChatService(chats domain.ChatRepository, messages domain.MessageRepository, locks *ChatLocks) *ChatService {
	return &ChatService{
		chats:    chats,
		messages: messages,
		locks:    locks,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type CreateChatInput struct {
	Therapist domain.Participant
	Patient   domain.Participant
}

// CreateOrGet returns the chat for the pair, creating it on first contact.
// The bool reports whether the chat was created.
func (s *ChatService) CreateOrGet(ctx context.Context, in CreateChatInput) (*domain.Chat, bool, error) {
	chat, err := domain.NewChat(in.Therapist, in.Patient, s.now())
	if err != nil {
		return nil, false, err
	}

	existing, err := s.chats.GetByID(ctx, chat.ID)
	if err == nil {
		return samePair(existing, chat)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, fmt.Errorf("get chat: %w", err)
	}

	if err := s.chats.Create(ctx, chat); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			existing, err := s.chats.GetByID(ctx, chat.ID)
			if err != nil {
				return nil, false, fmt.Errorf("get chat: %w", err)
			}
			return samePair(existing, chat)
		}
		return nil, false, fmt.Errorf("create chat: %w", err)
	}
	return chat, true, nil
}

// samePair guards against ids that collide because participant ids contain
// the separator, e.g. ("a_b", "c") and ("a", "b_c").
func samePair(existing, want *domain.Chat) (*domain.Chat, bool, error) {
	if existing.Therapist.ID != want.Therapist.ID || existing.Patient.ID != want.Patient.ID {
		return nil, false, fmt.Errorf("chat id %s belongs to another pair: %w", want.ID, domain.ErrConflict)
	}
	return existing, false, nil
}

func (s *ChatService) Get(ctx context.Context, chatID string) (*domain.Chat, error) {
	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("get chat %s: %w", chatID, err)
	}
	return chat, nil
}

// InboxEntry is a chat as seen by one participant.
type InboxEntry struct {
	Chat     *domain.Chat `json:"chat"`
	Unread   int          `json:"unread_count"`
	Priority int          `json:"priority"`
}

// Inbox lists the chats of userID, highest priority first, then most recently
// updated.
func (s *ChatService) Inbox(ctx context.Context, userID string, status domain.ChatStatus) ([]InboxEntry, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user_id is required: %w", domain.ErrInvalidInput)
	}
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", status, domain.ErrInvalidInput)
	}
	chats, err := s.chats.ListForUser(ctx, userID, status)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	entries := make([]InboxEntry, 0, len(chats))
	for _, c := range chats {
		score, err := s.score(ctx, c, userID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, InboxEntry{Chat: c, Unread: c.UnreadFor(userID), Priority: score})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Priority != entries[j].Priority {
			return entries[i].Priority > entries[j].Priority
		}
		return entries[i].Chat.UpdatedAt.After(entries[j].Chat.UpdatedAt)
	})
	return entries, nil
}

// PriorityScore is EmergencyPriority when an unread emergency message is
// addressed to userID, plus the user's unread count.
func (s *ChatService) PriorityScore(ctx context.Context, chatID, userID string) (int, error) {
	chat, err := s.Get(ctx, chatID)
	if err != nil {
		return 0, err
	}
	if !chat.IsParticipant(userID) {
		return 0, domain.ErrNotParticipant
	}
	return s.score(ctx, chat, userID)
}

func (s *ChatService) score(ctx context.Context, chat *domain.Chat, userID string) (int, error) {
	score := chat.UnreadFor(userID)
	urgent, err := s.messages.HasUnreadEmergency(ctx, chat.ID, userID)
	if err != nil {
		return 0, fmt.Errorf("unread emergency: %w", err)
	}
	if urgent {
		score += EmergencyPriority
	}
	return score, nil
}

// UpdateStatus moves the chat along its status machine.
func (s *ChatService) UpdateStatus(ctx context.Context, chatID string, status domain.ChatStatus) (*domain.Chat, error) {
	return s.mutate(ctx, chatID, func(chat *domain.Chat) (bool, error) {
		return chat.Transition(status, s.now())
	})
}

func (s *ChatService) SetNotifications(ctx context.Context, chatID, userID string, enabled bool) (*domain.Chat, error) {
	return s.mutate(ctx, chatID, func(chat *domain.Chat) (bool, error) {
		if chat.NotificationsEnabled(userID) == enabled && chat.IsParticipant(userID) {
			return false, nil
		}
		return true, chat.SetNotifications(userID, enabled, s.now())
	})
}

// ResetUnread zeroes the unread counter of userID.
func (s *ChatService) ResetUnread(ctx context.Context, chatID, userID string) (*domain.Chat, error) {
	return s.mutate(ctx, chatID, func(chat *domain.Chat) (bool, error) {
		if !chat.IsParticipant(userID) {
			return false, domain.ErrNotParticipant
		}
		return chat.ResetUnread(userID, s.now()), nil
	})
}

// mutate applies fn to the chat under its lock and persists when fn reports
// a change.
func (s *ChatService) mutate(ctx context.Context, chatID string, fn func(*domain.Chat) (bool, error)) (*domain.Chat, error) {
	var out *domain.Chat
	err := s.locks.WithChat(ctx, chatID, func() error {
		chat, err := s.Get(ctx, chatID)
		if err != nil {
			return err
		}
		changed, err := fn(chat)
		if err != nil {
			return err
		}
		if changed {
			if err := s.chats.Update(ctx, chat); err != nil {
				return fmt.Errorf("update chat: %w", err)
			}
		}
		out = chat
		return nil
	})
	return out, err
}
