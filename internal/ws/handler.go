package ws

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kiananasiri/therapyconnect/internal/domain"
	"github.com/kiananasiri/therapyconnect/internal/security"
)

// Options tunes the websocket endpoints.
type Options struct {
	AllowedOrigins []string
	// Tokens enables bearer authentication when non-nil.
	Tokens      *security.TokenService
	IdleTimeout time.Duration
	SendBuffer  int
	FrameRPS    float64
	FrameBurst  int
}

type wsAuthError struct {
	status int
	msg    string
}

func (e wsAuthError) Error() string {
	return e.msg
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

// makeCheckOrigin accepts any origin when the list is empty or holds "*".
func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	_, wildcard := allowed["*"]
	if len(allowed) == 0 || wildcard {
		return func(r *http.Request) bool {
			return true
		}
	}

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			// Non-browser clients do not send an Origin.
			return true
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

func extractTokenFromWSRequest(r *http.Request) (string, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[len("Bearer "):])
		if token != "" {
			return token, nil
		}
	}

	protocolHeader := r.Header.Get("Sec-WebSocket-Protocol")
	if protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") {
			token := parts[1]
			if token != "" {
				return token, nil
			}
		}
	}

	return "", wsAuthError{status: http.StatusUnauthorized, msg: "missing bearer token"}
}

// authenticate returns the token subject, or "" when auth is disabled.
func authenticate(tokens *security.TokenService, r *http.Request) (string, error) {
	if tokens == nil {
		return "", nil
	}
	tokenStr, err := extractTokenFromWSRequest(r)
	if err != nil {
		return "", err
	}
	sub, err := tokens.Subject(tokenStr)
	if err != nil {
		return "", wsAuthError{status: http.StatusUnauthorized, msg: "invalid token"}
	}
	return sub, nil
}

func writeAuthError(w http.ResponseWriter, err error) {
	var authErr wsAuthError
	if errors.As(err, &authErr) {
		http.Error(w, authErr.msg, authErr.status)
		return
	}
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func (o Options) withDefaults() Options {
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 60 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	return o
}

func (o Options) limiter() *rate.Limiter {
	if o.FrameRPS <= 0 {
		return nil
	}
	burst := o.FrameBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(o.FrameRPS), burst)
}

func (o Options) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin:  makeCheckOrigin(o.AllowedOrigins),
		Subprotocols: []string{"bearer"},
	}
}

// ChatHandler serves GET /ws/chat/{chatID}. The chat must exist; when auth is
// enabled the token subject must be one of its participants.
func (g *Gateway) ChatHandler(opts Options) http.HandlerFunc {
	opts = opts.withDefaults()
	checkOrigin := makeCheckOrigin(opts.AllowedOrigins)
	upgrader := opts.upgrader()

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}
		chatID := chi.URLParam(r, "chatID")

		subject, err := authenticate(opts.Tokens, r)
		if err != nil {
			writeAuthError(w, err)
			return
		}

		chat, err := g.chats.Get(r.Context(), chatID)
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "chat not found", http.StatusNotFound)
			return
		}
		if err != nil {
			g.log.Error("ws: load chat", zap.String("chat_id", chatID), zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if subject != "" && !chat.IsParticipant(subject) {
			http.Error(w, domain.ErrNotParticipant.Error(), http.StatusForbidden)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := newClient(conn, opts.SendBuffer, opts.IdleTimeout)
		log := g.log.With(zap.String("chat_id", chatID), zap.String("client_id", client.ID()))

		g.chatHub.Join(chatID, client)
		g.metrics.Connections.WithLabelValues("chat").Inc()
		defer func() {
			g.chatHub.Leave(chatID, client)
			client.Close()
			g.metrics.Connections.WithLabelValues("chat").Dec()
			log.Debug("ws: chat client disconnected")
		}()
		go client.writePump()

		client.sendJSON(connectionEstablishedFrame{
			Type:    FrameConnectionEstablished,
			Message: fmt.Sprintf("Connected to chat %s", chatID),
		})
		log.Debug("ws: chat client connected")

		s := &session{
			client:  client,
			chatID:  chatID,
			subject: subject,
			limiter: opts.limiter(),
			log:     log,
		}
		ctx := r.Context()
		readLoop(conn, opts.IdleTimeout, func(data []byte) {
			g.dispatch(ctx, s, data)
		})
	}
}

// NotificationHandler serves GET /ws/notifications/{userID}. Inbound frames
// only keep the connection alive.
func (g *Gateway) NotificationHandler(opts Options) http.HandlerFunc {
	opts = opts.withDefaults()
	checkOrigin := makeCheckOrigin(opts.AllowedOrigins)
	upgrader := opts.upgrader()

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}
		userID := strings.TrimSpace(chi.URLParam(r, "userID"))
		if userID == "" {
			http.Error(w, "user id is required", http.StatusBadRequest)
			return
		}
		subject, err := authenticate(opts.Tokens, r)
		if err != nil {
			writeAuthError(w, err)
			return
		}
		if subject != "" && subject != userID {
			http.Error(w, "token does not match user", http.StatusForbidden)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := newClient(conn, opts.SendBuffer, opts.IdleTimeout)

		g.userHub.Join(userID, client)
		g.metrics.Connections.WithLabelValues("notification").Inc()
		defer func() {
			g.userHub.Leave(userID, client)
			client.Close()
			g.metrics.Connections.WithLabelValues("notification").Dec()
		}()
		go client.writePump()

		client.sendJSON(connectionEstablishedFrame{
			Type:    FrameConnectionEstablished,
			Message: fmt.Sprintf("Connected to notifications for %s", userID),
		})
		readLoop(conn, opts.IdleTimeout, func([]byte) {})
	}
}

// readLoop reads until the socket fails or stays idle past the timeout. Any
// frame or pong extends the deadline.
func readLoop(conn *websocket.Conn, idle time.Duration, fn func([]byte)) {
	_ = conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idle))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(idle))
		fn(data)
	}
}
