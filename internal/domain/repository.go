package domain

import (
	"context"
)

// ChatRepository defines persistence operations for chats.
type ChatRepository interface {
	Create(ctx context.Context, c *Chat) error
	GetByID(ctx context.Context, id string) (*Chat, error)
	ListForUser(ctx context.Context, userID string, status ChatStatus) ([]*Chat, error)
	Update(ctx context.Context, c *Chat) error
}

// MessageFilter narrows a message listing. Zero values match everything
// except tombstones, which need IncludeDeleted.
type MessageFilter struct {
	SenderID       string
	Emergency      *bool
	Type           MessageType
	Status         ReadStatus
	IncludeDeleted bool
	Limit          int
}

// MessageRepository defines persistence operations for messages.
// Listings are ordered by id, oldest first, unless stated otherwise.
type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id string) (*Message, error)
	ListForChat(ctx context.Context, chatID string, f MessageFilter) ([]*Message, error)
	// RecentBySender returns up to limit messages, newest first, tombstones included.
	RecentBySender(ctx context.Context, chatID, senderID string, limit int) ([]*Message, error)
	ListUnreadFor(ctx context.Context, chatID, recipientID string) ([]*Message, error)
	HasUnreadEmergency(ctx context.Context, chatID, recipientID string) (bool, error)
	UpdateText(ctx context.Context, m *Message) error
	MarkDeleted(ctx context.Context, m *Message) error
	UpdateReceipt(ctx context.Context, m *Message) error
}

// Transactor runs fn against repositories bound to one unit of work: either
// every write made through them persists or none does.
type Transactor interface {
	InTx(ctx context.Context, fn func(chats ChatRepository, messages MessageRepository) error) error
}
