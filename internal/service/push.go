package service

import (
	"context"

	"go.uber.org/zap"
)

// PushEvent is handed to the offline push collaborator for every new message
// addressed to a participant.
type PushEvent struct {
	Kind        string
	ChatID      string
	MessageID   string
	RecipientID string
	SenderName  string
	Emergency   bool
	// Delivered is set when a live notification listener received the event.
	Delivered bool
}

type PushDispatcher interface {
	Dispatch(ctx context.Context, ev PushEvent)
}

// LogDispatcher records push events in the log. It stands in for the
// external push service.
type LogDispatcher struct {
	log *zap.Logger
}

func NewLogDispatcher(log *zap.Logger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Dispatch(_ context.Context, ev PushEvent) {
	d.log.Info("push_event",
		zap.String("kind", ev.Kind),
		zap.String("chat_id", ev.ChatID),
		zap.String("message_id", ev.MessageID),
		zap.String("recipient_id", ev.RecipientID),
		zap.Bool("emergency", ev.Emergency),
		zap.Bool("delivered", ev.Delivered),
	)
}
