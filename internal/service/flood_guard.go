package service

import (
	"context"
	"fmt"

	"github.com/kiananasiri/therapyconnect/internal/domain"
)

const DefaultEmergencyWindow = 15

// FloodGuard gates emergency sends on the sender's recent history in a chat.
// Nothing is persisted; every check is recomputed from the message store.
type FloodGuard struct {
	messages domain.MessageRepository
	window   int
}

func NewFloodGuard(messages domain.MessageRepository, window int) *FloodGuard {
	if window <= 0 {
		window = DefaultEmergencyWindow
	}
	return &FloodGuard{messages: messages, window: window}
}

func (g *FloodGuard) Window() int { return g.window }

// CanSendEmergency reports whether senderID may post another emergency
// message in chatID.
func (g *FloodGuard) CanSendEmergency(ctx context.Context, chatID, senderID string) (bool, error) {
	recent, err := g.messages.RecentBySender(ctx, chatID, senderID, g.window)
	if err != nil {
		return false, fmt.Errorf("recent messages: %w", err)
	}
	return AllowEmergency(recent, g.window), nil
}

// AllowEmergency applies the window rule to a sender's most recent messages:
// with fewer than window messages it always allows, otherwise it allows
// unless every one of the last window messages is emergency-flagged.
func AllowEmergency(recent []*domain.Message, window int) bool {
	if len(recent) < window {
		return true
	}
	for _, m := range recent[:window] {
		if !m.Emergency {
			return true
		}
	}
	return false
}
