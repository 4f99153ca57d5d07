package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kiananasiri/therapyconnect/internal/domain"
	"github.com/kiananasiri/therapyconnect/internal/metrics"
	"github.com/kiananasiri/therapyconnect/internal/service"
)

// Gateway turns inbound frames into service calls and fans the results out
// through the chat and notification relays.
type Gateway struct {
	chats    *service.ChatService
	messages *service.MessageService
	push     service.PushDispatcher
	metrics  *metrics.Metrics
	log      *zap.Logger

	chatHub *Hub
	userHub *Hub

	handlers map[FrameType]frameHandler
}

type frameHandler func(ctx context.Context, s *session, f inboundFrame) error

// validationError is reported to the client verbatim.
type validationError string

func (e validationError) Error() string { return string(e) }

func NewGateway(
	chats *service.ChatService,
	messages *service.MessageService,
	push service.PushDispatcher,
	m *metrics.Metrics,
	log *zap.Logger,
) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Gateway{
		chats:    chats,
		messages: messages,
		push:     push,
		metrics:  m,
		log:      log,
		chatHub:  NewHub("chat", m, log),
		userHub:  NewHub("notification", m, log),
	}
	g.handlers = map[FrameType]frameHandler{
		FrameChatMessage:    g.handleChatMessage,
		FrameTyping:         g.handleTyping,
		FrameMessageRead:    g.handleMessageRead,
		FrameMessageEdited:  g.handleMessageEdited,
		FrameMessageDeleted: g.handleMessageDeleted,
	}
	return g
}

func (g *Gateway) ChatHub() *Hub { return g.chatHub }

func (g *Gateway) NotificationHub() *Hub { return g.userHub }

// session is the per-connection state of a chat-scoped socket.
type session struct {
	client  *Client
	chatID  string
	subject string
	limiter *rate.Limiter
	log     *zap.Logger
}

// dispatch handles one raw inbound frame. Failures become error frames; the
// connection stays open.
func (g *Gateway) dispatch(ctx context.Context, s *session, raw []byte) {
	if s.limiter != nil && !s.limiter.Allow() {
		g.reject(s, "rate_limited", "rate limit exceeded, slow down")
		return
	}

	var f inboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		g.reject(s, "malformed", "invalid JSON format")
		return
	}
	handle, ok := g.handlers[f.Type]
	if !ok {
		g.metrics.FramesIn.WithLabelValues("unknown").Inc()
		g.reject(s, "unknown_type", fmt.Sprintf("unknown message type: %s", f.Type))
		return
	}
	g.metrics.FramesIn.WithLabelValues(string(f.Type)).Inc()
	if err := handle(ctx, s, f); err != nil {
		g.fail(s, f.Type, err)
	}
}

func (g *Gateway) fail(s *session, t FrameType, err error) {
	var verr validationError
	switch {
	case errors.As(err, &verr):
		g.reject(s, "validation", verr.Error())
	case errors.Is(err, domain.ErrFloodLimited):
		g.metrics.FloodRejections.Inc()
		g.reject(s, "flood", domain.ErrFloodLimited.Error())
	case errors.Is(err, domain.ErrNotParticipant):
		g.reject(s, "not_participant", domain.ErrNotParticipant.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		g.reject(s, "unauthorized", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		g.reject(s, "not_found", err.Error())
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrChatClosed),
		errors.Is(err, domain.ErrMessageDeleted):
		g.reject(s, "validation", err.Error())
	default:
		s.log.Error("frame failed", zap.String("type", string(t)), zap.Error(err))
		g.reject(s, "internal", "internal error")
	}
}

func (g *Gateway) reject(s *session, kind, msg string) {
	g.metrics.FrameErrors.WithLabelValues(kind).Inc()
	s.client.sendJSON(errorFrame{Type: FrameError, Message: msg})
}

// actor checks that the acting id is present and, on an authenticated
// socket, matches the token subject.
func actor(s *session, field, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", validationError(field + " is required")
	}
	if s.subject != "" && id != s.subject {
		return "", domain.ErrNotParticipant
	}
	return id, nil
}

func required(field, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", validationError(field + " is required")
	}
	return v, nil
}

func (g *Gateway) handleChatMessage(ctx context.Context, s *session, f inboundFrame) error {
	if _, err := required("text", f.Text); err != nil {
		return err
	}
	sender, err := actor(s, "sender_id", f.SenderID)
	if err != nil {
		return err
	}

	res, err := g.messages.Send(ctx, service.SendInput{
		ChatID:     s.chatID,
		SenderID:   sender,
		Text:       f.Text,
		Type:       f.MessageType,
		Emergency:  f.Emergency,
		ReplyTo:    strings.TrimSpace(f.ReplyTo),
		Attachment: f.Attachment,
		// Publish while the chat is still locked so watchers see commit order.
		OnCommit: func(res *service.SendResult) {
			g.metrics.MessagesSent.WithLabelValues(strconv.FormatBool(res.Message.Emergency)).Inc()
			g.chatHub.Publish(s.chatID, chatMessageFrame{Type: FrameChatMessage, Message: service.ToResponse(res.Message)})
		},
	})
	if err != nil {
		return err
	}
	g.notifyRecipient(ctx, s, res)
	return nil
}

// notifyRecipient cross-posts a committed message to the other participant's
// user topic and hands it to the push dispatcher.
func (g *Gateway) notifyRecipient(ctx context.Context, s *session, res *service.SendResult) {
	m := res.Message
	recipient, ok := res.Chat.Other(m.SenderID)
	if !ok || !res.Chat.NotificationsEnabled(recipient.ID) {
		return
	}
	sender, _ := res.Chat.Participant(m.SenderID)

	kind := FrameNewMessage
	if m.Emergency {
		kind = FrameEmergencyMessage
	}
	n := g.userHub.Publish(recipient.ID, newMessageFrame{
		Type:       kind,
		Message:    service.ToResponse(m),
		ChatID:     res.Chat.ID,
		SenderName: sender.DisplayName(),
	})
	if n > 0 {
		if _, err := g.messages.MarkDelivered(ctx, res.Chat.ID, m.ID); err != nil {
			s.log.Warn("mark delivered", zap.String("message_id", m.ID), zap.Error(err))
		}
	}
	if g.push != nil {
		g.push.Dispatch(ctx, service.PushEvent{
			Kind:        string(kind),
			ChatID:      res.Chat.ID,
			MessageID:   m.ID,
			RecipientID: recipient.ID,
			SenderName:  sender.DisplayName(),
			Emergency:   m.Emergency,
			Delivered:   n > 0,
		})
	}
}

func (g *Gateway) handleTyping(ctx context.Context, s *session, f inboundFrame) error {
	user, err := actor(s, "user_id", f.UserID)
	if err != nil {
		return err
	}
	if f.IsTyping == nil {
		return validationError("is_typing is required")
	}
	chat, err := g.chats.Get(ctx, s.chatID)
	if err != nil {
		return err
	}
	if !chat.IsParticipant(user) {
		return domain.ErrNotParticipant
	}
	g.chatHub.Publish(s.chatID, typingIndicatorFrame{Type: FrameTypingIndicator, UserID: user, IsTyping: *f.IsTyping})
	return nil
}

func (g *Gateway) handleMessageRead(ctx context.Context, s *session, f inboundFrame) error {
	msgID, err := required("message_id", f.MessageID)
	if err != nil {
		return err
	}
	user, err := actor(s, "user_id", f.UserID)
	if err != nil {
		return err
	}
	m, changed, err := g.messages.MarkRead(ctx, s.chatID, msgID, user)
	if err != nil || !changed {
		return err
	}
	g.chatHub.Publish(s.chatID, receiptFrame(m))
	return nil
}

func (g *Gateway) handleMessageEdited(ctx context.Context, s *session, f inboundFrame) error {
	msgID, err := required("message_id", f.MessageID)
	if err != nil {
		return err
	}
	if _, err := required("text", f.Text); err != nil {
		return err
	}
	user, err := actor(s, "user_id", f.UserID)
	if err != nil {
		return err
	}
	m, changed, err := g.messages.Edit(ctx, s.chatID, msgID, user, f.Text)
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("only the sender can edit a message: %w", domain.ErrUnauthorized)
	}
	text, _ := m.Text()
	g.chatHub.Publish(s.chatID, messageEditedFrame{
		Type:      FrameMessageEdited,
		MessageID: m.ID,
		NewText:   text,
		EditedAt:  *m.EditedAt(),
	})
	return nil
}

func (g *Gateway) handleMessageDeleted(ctx context.Context, s *session, f inboundFrame) error {
	msgID, err := required("message_id", f.MessageID)
	if err != nil {
		return err
	}
	user, err := actor(s, "user_id", f.UserID)
	if err != nil {
		return err
	}
	m, changed, err := g.messages.SoftDelete(ctx, s.chatID, msgID, user)
	if err != nil || !changed {
		return err
	}
	g.chatHub.Publish(s.chatID, messageDeletedFrame{
		Type:      FrameMessageDeleted,
		MessageID: m.ID,
		DeletedAt: *m.DeletedAt(),
	})
	return nil
}

// Notify publishes a collaborator notification to userID's topic and returns
// the number of listeners reached.
func (g *Gateway) Notify(userID string, notification any) int {
	return g.userHub.Publish(userID, notificationFrame{Type: FrameNotification, Notification: notification})
}

// BroadcastReceipts publishes one read receipt per message to the chat group.
func (g *Gateway) BroadcastReceipts(chatID string, msgs []*domain.Message) {
	for _, m := range msgs {
		g.chatHub.Publish(chatID, receiptFrame(m))
	}
}
