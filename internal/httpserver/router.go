package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/kiananasiri/therapyconnect/internal/config"
	"github.com/kiananasiri/therapyconnect/internal/logging"
	"github.com/kiananasiri/therapyconnect/internal/metrics"
	"github.com/kiananasiri/therapyconnect/internal/security"
	"github.com/kiananasiri/therapyconnect/internal/service"
	"github.com/kiananasiri/therapyconnect/internal/ws"
)

// Deps are the collaborators the router wires into handlers.
type Deps struct {
	Config   *config.Config
	Chats    *service.ChatService
	Messages *service.MessageService
	Gateway  *ws.Gateway
	// Tokens enables bearer authentication when non-nil.
	Tokens  *security.TokenService
	Metrics *metrics.Metrics
	Log     *zap.Logger
}

// NewRouter constructs the main HTTP router and wires routes, services, and middleware.
func NewRouter(d Deps) http.Handler {
	cfg, log := d.Config, d.Log
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "app": cfg.AppName})
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	// Websocket routes stay outside the request timeout.
	wsOpts := ws.Options{
		AllowedOrigins: cfg.CORSOrigins,
		Tokens:         d.Tokens,
		IdleTimeout:    cfg.WSIdleTimeout,
		SendBuffer:     cfg.WSSendBuffer,
		FrameRPS:       cfg.WSFrameRPS,
		FrameBurst:     cfg.WSFrameBurst,
	}
	r.Get("/ws/chat/{chatID}", d.Gateway.ChatHandler(wsOpts))
	r.Get("/ws/notifications/{userID}", d.Gateway.NotificationHandler(wsOpts))

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(AuthMiddleware(d.Tokens, log))

		r.Route("/chats", func(r chi.Router) {
			r.Post("/", handleCreateChat(d.Chats, log))
			r.Get("/", handleListChats(d.Chats, log))
			r.Route("/{chatID}", func(r chi.Router) {
				r.Get("/", handleGetChat(d.Chats, log))
				r.Post("/status", handleUpdateStatus(d.Chats, log))
				r.Post("/notifications", handleSetNotifications(d.Chats, log))
				r.Post("/read", handleMarkChatRead(d.Messages, d.Gateway, log))
				r.Post("/unread/reset", handleResetUnread(d.Chats, log))
				r.Get("/messages", handleListMessages(d.Chats, d.Messages, cfg.HistoryLimit, log))
				r.Get("/priority", handlePriority(d.Chats, log))
				r.Get("/emergency", handleEmergencyStatus(d.Messages, log))
			})
		})
		r.Get("/messages/{messageID}/chain", handleReplyChain(d.Chats, d.Messages, log))
		r.Post("/notifications/{userID}", handleNotifyUser(d.Gateway, log))

		r.Mount("/uploads", UploadRoutes(cfg, log))
	})

	return r
}

// requestLogger logs one line per request through zap.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("http_request",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
				)
				if ce := log.Check(zap.DebugLevel, "http_request_headers"); ce != nil {
					ce.Write(zap.String("headers", logging.SafeHeaders(r)))
				}
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
