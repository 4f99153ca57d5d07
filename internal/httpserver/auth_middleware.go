package httpserver

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/kiananasiri/therapyconnect/internal/domain"
	"github.com/kiananasiri/therapyconnect/internal/security"
)

type contextKey string

const subjectContextKey contextKey = "subject"

// WithSubject returns a new context carrying the authenticated participant id.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectContextKey, subject)
}

// Subject extracts the authenticated participant id, or "" when the request
// was not authenticated.
func Subject(r *http.Request) string {
	if v, ok := r.Context().Value(subjectContextKey).(string); ok {
		return v
	}
	return ""
}

// AuthMiddleware validates the Bearer token and attaches its subject to the
// context. A nil token service disables authentication.
func AuthMiddleware(tokens *security.TokenService, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if tokens == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing or invalid Authorization header"})
				return
			}
			tokenStr := strings.TrimSpace(authHeader[len("Bearer "):])

			sub, err := tokens.Subject(tokenStr)
			if err != nil {
				log.Debug("rejected token", zap.String("path", r.URL.Path), zap.Error(err))
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), sub)))
		})
	}
}

// actingAs fails when the request is authenticated as someone other than
// userID.
func actingAs(r *http.Request, userID string) error {
	if sub := Subject(r); sub != "" && sub != userID {
		return domain.ErrForbidden
	}
	return nil
}

// participantOf fails when the request is authenticated as someone outside
// the chat.
func participantOf(r *http.Request, chat *domain.Chat) error {
	if sub := Subject(r); sub != "" && !chat.IsParticipant(sub) {
		return domain.ErrNotParticipant
	}
	return nil
}
