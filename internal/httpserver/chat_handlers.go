package httpserver

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kiananasiri/therapyconnect/internal/domain"
	"github.com/kiananasiri/therapyconnect/internal/service"
	"github.com/kiananasiri/therapyconnect/internal/ws"
)

type chatCreateRequest struct {
	Therapist domain.Participant `json:"therapist"`
	Patient   domain.Participant `json:"patient"`
}

func handleCreateChat(chats *service.ChatService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, log, err)
			return
		}
		if sub := Subject(r); sub != "" && sub != req.Therapist.ID && sub != req.Patient.ID {
			writeError(w, log, domain.ErrNotParticipant)
			return
		}

		chat, created, err := chats.CreateOrGet(r.Context(), service.CreateChatInput{
			Therapist: req.Therapist,
			Patient:   req.Patient,
		})
		if err != nil {
			writeError(w, log, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, chat)
	}
}

func handleListChats(chats *service.ChatService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
		if userID == "" {
			userID = Subject(r)
		}
		if err := actingAs(r, userID); err != nil {
			writeError(w, log, err)
			return
		}
		status := domain.ChatStatus(r.URL.Query().Get("status"))
		entries, err := chats.Inbox(r.Context(), userID, status)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

// loadChat resolves {chatID} and checks the caller may see it.
func loadChat(r *http.Request, chats *service.ChatService) (*domain.Chat, error) {
	chat, err := chats.Get(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		return nil, err
	}
	if err := participantOf(r, chat); err != nil {
		return nil, err
	}
	return chat, nil
}

func handleGetChat(chats *service.ChatService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chat, err := loadChat(r, chats)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, chat)
	}
}

type statusRequest struct {
	Status domain.ChatStatus `json:"status"`
}

func handleUpdateStatus(chats *service.ChatService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req statusRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, log, err)
			return
		}
		chat, err := loadChat(r, chats)
		if err != nil {
			writeError(w, log, err)
			return
		}
		chat, err = chats.UpdateStatus(r.Context(), chat.ID, req.Status)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, chat)
	}
}

type notificationsRequest struct {
	UserID  string `json:"user_id"`
	Enabled bool   `json:"enabled"`
}

func handleSetNotifications(chats *service.ChatService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req notificationsRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, log, err)
			return
		}
		if err := actingAs(r, req.UserID); err != nil {
			writeError(w, log, err)
			return
		}
		chat, err := chats.SetNotifications(r.Context(), chi.URLParam(r, "chatID"), req.UserID, req.Enabled)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, chat)
	}
}

type markReadRequest struct {
	UserID string `json:"user_id"`
}

// handleMarkChatRead marks everything addressed to the user as read and
// broadcasts a receipt per message to the live chat group.
func handleMarkChatRead(messages *service.MessageService, gw *ws.Gateway, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req markReadRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, log, err)
			return
		}
		if err := actingAs(r, req.UserID); err != nil {
			writeError(w, log, err)
			return
		}
		chatID := chi.URLParam(r, "chatID")
		changed, chat, err := messages.MarkAllRead(r.Context(), chatID, req.UserID)
		if err != nil {
			writeError(w, log, err)
			return
		}
		gw.BroadcastReceipts(chatID, changed)
		writeJSON(w, http.StatusOK, map[string]any{
			"chat":   chat,
			"marked": len(changed),
		})
	}
}

// handleResetUnread zeroes the caller's unread counter without touching
// message receipts.
func handleResetUnread(chats *service.ChatService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req markReadRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, log, err)
			return
		}
		if err := actingAs(r, req.UserID); err != nil {
			writeError(w, log, err)
			return
		}
		chat, err := chats.ResetUnread(r.Context(), chi.URLParam(r, "chatID"), req.UserID)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, chat)
	}
}

func handlePriority(chats *service.ChatService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if err := actingAs(r, userID); err != nil {
			writeError(w, log, err)
			return
		}
		chatID := chi.URLParam(r, "chatID")
		score, err := chats.PriorityScore(r.Context(), chatID, userID)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"chat_id":  chatID,
			"user_id":  userID,
			"priority": score,
		})
	}
}

func handleEmergencyStatus(messages *service.MessageService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		senderID := r.URL.Query().Get("sender_id")
		if err := actingAs(r, senderID); err != nil {
			writeError(w, log, err)
			return
		}
		chatID := chi.URLParam(r, "chatID")
		allowed, err := messages.CanSendEmergency(r.Context(), chatID, senderID)
		if err != nil {
			writeError(w, log, err)
			return
		}
		run, err := messages.ConsecutiveEmergency(r.Context(), chatID, senderID)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"chat_id":     chatID,
			"sender_id":   senderID,
			"consecutive": len(run),
			"can_send":    allowed,
		})
	}
}

func handleNotifyUser(gw *ws.Gateway, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := decodeJSON(r, &payload); err != nil {
			writeError(w, log, err)
			return
		}
		userID := chi.URLParam(r, "userID")
		writeJSON(w, http.StatusAccepted, map[string]any{
			"user_id":   userID,
			"delivered": gw.Notify(userID, payload),
		})
	}
}
