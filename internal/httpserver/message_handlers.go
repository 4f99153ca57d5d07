package httpserver

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kiananasiri/therapyconnect/internal/domain"
	"github.com/kiananasiri/therapyconnect/internal/service"
)

const maxHistoryLimit = 1000

// parseMessageFilter reads the history query string. defaultLimit applies
// when limit is absent.
func parseMessageFilter(r *http.Request, defaultLimit int) (domain.MessageFilter, error) {
	q := r.URL.Query()
	f := domain.MessageFilter{
		SenderID: q.Get("sender_id"),
		Type:     domain.MessageType(q.Get("message_type")),
		Status:   domain.ReadStatus(q.Get("read_status")),
		Limit:    defaultLimit,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			return f, fmt.Errorf("limit must be between 1 and %d: %w", maxHistoryLimit, domain.ErrInvalidInput)
		}
		f.Limit = n
	}
	if v := q.Get("include_deleted"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("include_deleted must be a boolean: %w", domain.ErrInvalidInput)
		}
		f.IncludeDeleted = b
	}
	if v := q.Get("emergency"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("emergency must be a boolean: %w", domain.ErrInvalidInput)
		}
		f.Emergency = &b
	}
	return f, nil
}

func handleListMessages(chats *service.ChatService, messages *service.MessageService, historyLimit int, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chat, err := loadChat(r, chats)
		if err != nil {
			writeError(w, log, err)
			return
		}
		filter, err := parseMessageFilter(r, historyLimit)
		if err != nil {
			writeError(w, log, err)
			return
		}

		msgs, err := messages.List(r.Context(), service.ListInput{ChatID: chat.ID, Filter: filter})
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, service.ToResponses(msgs))
	}
}

func handleReplyChain(chats *service.ChatService, messages *service.MessageService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chain, err := messages.ReplyChain(r.Context(), chi.URLParam(r, "messageID"))
		if err != nil {
			writeError(w, log, err)
			return
		}
		chat, err := chats.Get(r.Context(), chain[0].ChatID)
		if err != nil {
			writeError(w, log, err)
			return
		}
		if err := participantOf(r, chat); err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, service.ToResponses(chain))
	}
}
