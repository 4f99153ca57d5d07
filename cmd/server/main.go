package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kiananasiri/therapyconnect/internal/config"
	"github.com/kiananasiri/therapyconnect/internal/httpserver"
	"github.com/kiananasiri/therapyconnect/internal/logging"
	"github.com/kiananasiri/therapyconnect/internal/metrics"
	"github.com/kiananasiri/therapyconnect/internal/security"
	"github.com/kiananasiri/therapyconnect/internal/service"
	"github.com/kiananasiri/therapyconnect/internal/ws"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "therapyconnect",
		Short:         "Real-time chat core for therapist and patient conversations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newTokenCmd())
	return root
}

// setup loads configuration and builds the logger shared by all commands.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.Debug)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()
			return serve(cmd.Context(), cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	st, err := openStores(cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	var enc *security.Encryptor
	if cfg.EncryptKey != "" {
		if enc, err = security.NewEncryptor(cfg.EncryptKey, cfg.LegacyEncryptKeys); err != nil {
			return fmt.Errorf("init encryptor: %w", err)
		}
	} else {
		log.Warn("ENCRYPTION_KEY not set, message text is stored in plain form")
	}

	var tokens *security.TokenService
	if cfg.JWTSecret != "" {
		tokens = security.NewTokenService(cfg.JWTSecret, time.Duration(cfg.AccessTokenMinutes)*time.Minute)
	} else {
		log.Warn("JWT_SECRET not set, requests are not authenticated")
	}

	chatRepo := service.SealChats(st.chats, enc)
	msgRepo := service.SealMessages(st.messages, enc)
	locks := service.NewChatLocks()
	chats := service.NewChatService(chatRepo, msgRepo, locks)
	tx := service.SealTx(st.tx, enc)
	messages := service.NewMessageService(chats, msgRepo, tx, service.NewFloodGuard(msgRepo, cfg.EmergencyWindow), locks, log)

	m := metrics.New()
	gw := ws.NewGateway(chats, messages, service.NewLogDispatcher(log), m, log)

	router := httpserver.NewRouter(httpserver.Deps{
		Config:   cfg,
		Chats:    chats,
		Messages: messages,
		Gateway:  gw,
		Tokens:   tokens,
		Metrics:  m,
		Log:      log,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server",
			zap.String("addr", cfg.HTTPAddr()),
			zap.String("store", cfg.StoreDriver),
			zap.String("env", cfg.Env),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
	return nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the store schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()
			st, err := openStores(cfg, log)
			if err != nil {
				return err
			}
			log.Info("store ready", zap.String("store", cfg.StoreDriver))
			return st.close()
		},
	}
}

func newTokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <participant-id>",
		Short: "Issue a development bearer token signed with JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			tok, err := security.NewTokenService(cfg.JWTSecret, ttl).Issue(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
