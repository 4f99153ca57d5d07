package ws

import (
	"time"

	"github.com/kiananasiri/therapyconnect/internal/domain"
	"github.com/kiananasiri/therapyconnect/internal/service"
)

// FrameType is the "type" tag of every frame on the wire.
type FrameType string

// Inbound, chat-scoped.
const (
	FrameChatMessage    FrameType = "chat_message"
	FrameTyping         FrameType = "typing"
	FrameMessageRead    FrameType = "message_read"
	FrameMessageEdited  FrameType = "message_edited"
	FrameMessageDeleted FrameType = "message_deleted"
)

// Outbound only.
const (
	FrameConnectionEstablished FrameType = "connection_established"
	FrameTypingIndicator       FrameType = "typing_indicator"
	FrameReadReceipt           FrameType = "message_read_receipt"
	FrameError                 FrameType = "error"
	FrameNotification          FrameType = "notification"
	FrameNewMessage            FrameType = "new_message"
	FrameEmergencyMessage      FrameType = "emergency_message"
)

// inboundFrame is the union of every field an inbound frame may carry. Each
// handler validates the fields its type requires.
type inboundFrame struct {
	Type        FrameType          `json:"type"`
	Text        string             `json:"text"`
	SenderID    string             `json:"sender_id"`
	MessageType domain.MessageType `json:"message_type"`
	Emergency   bool               `json:"emergency"`
	ReplyTo     string             `json:"reply_to"`
	Attachment  *domain.Attachment `json:"attachment"`
	UserID      string             `json:"user_id"`
	IsTyping    *bool              `json:"is_typing"`
	MessageID   string             `json:"message_id"`
}

type connectionEstablishedFrame struct {
	Type    FrameType `json:"type"`
	Message string    `json:"message"`
}

type chatMessageFrame struct {
	Type    FrameType                `json:"type"`
	Message *service.MessageResponse `json:"message"`
}

type typingIndicatorFrame struct {
	Type     FrameType `json:"type"`
	UserID   string    `json:"user_id"`
	IsTyping bool      `json:"is_typing"`
}

type readReceiptFrame struct {
	Type      FrameType `json:"type"`
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

type messageEditedFrame struct {
	Type      FrameType `json:"type"`
	MessageID string    `json:"message_id"`
	NewText   string    `json:"new_text"`
	EditedAt  time.Time `json:"edited_at"`
}

type messageDeletedFrame struct {
	Type      FrameType `json:"type"`
	MessageID string    `json:"message_id"`
	DeletedAt time.Time `json:"deleted_at"`
}

type errorFrame struct {
	Type    FrameType `json:"type"`
	Message string    `json:"message"`
}

type notificationFrame struct {
	Type         FrameType `json:"type"`
	Notification any       `json:"notification"`
}

// newMessageFrame is cross-posted to the recipient's user topic as either
// new_message or emergency_message.
type newMessageFrame struct {
	Type       FrameType                `json:"type"`
	Message    *service.MessageResponse `json:"message"`
	ChatID     string                   `json:"chat_id"`
	SenderName string                   `json:"sender_name"`
}

func receiptFrame(m *domain.Message) readReceiptFrame {
	f := readReceiptFrame{Type: FrameReadReceipt, MessageID: m.ID, UserID: m.Receipt.ReadBy}
	if m.Receipt.ReadAt != nil {
		f.ReadAt = *m.Receipt.ReadAt
	}
	return f
}
