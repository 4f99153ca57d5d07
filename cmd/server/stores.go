package main

import (
	"database/sql"
	"fmt"

	"github.com/cockroachdb/pebble/vfs"
	"go.uber.org/zap"

	"github.com/kiananasiri/therapyconnect/internal/config"
	"github.com/kiananasiri/therapyconnect/internal/domain"
	"github.com/kiananasiri/therapyconnect/internal/store/pebblestore"
	"github.com/kiananasiri/therapyconnect/internal/store/postgres"
	"github.com/kiananasiri/therapyconnect/internal/store/sqlite"
)

// stores bundles the repositories of the configured driver.
type stores struct {
	chats    domain.ChatRepository
	messages domain.MessageRepository
	tx       domain.Transactor
	close    func() error
}

func openSQL(cfg *config.Config) (*sql.DB, func(*sql.DB) error, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		return db, sqlite.Migrate, err
	case config.DriverPostgres:
		db, err := postgres.Open(cfg.DatabaseURL)
		return db, postgres.Migrate, err
	}
	return nil, nil, fmt.Errorf("driver %q is not SQL", cfg.StoreDriver)
}

// openStores opens the configured store and applies migrations.
func openStores(cfg *config.Config, log *zap.Logger) (*stores, error) {
	if cfg.StoreDriver == config.DriverPebble {
		db, err := pebblestore.Open(cfg.PebbleDir, vfs.Default, log)
		if err != nil {
			return nil, fmt.Errorf("open pebble: %w", err)
		}
		return &stores{
			chats:    pebblestore.NewChatRepo(db),
			messages: pebblestore.NewMessageRepo(db),
			tx:       db,
			close:    db.Close,
		}, nil
	}

	db, migrate, err := openSQL(cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.StoreDriver, err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", cfg.StoreDriver, err)
	}

	s := &stores{close: db.Close}
	if cfg.StoreDriver == config.DriverPostgres {
		s.chats, s.messages, s.tx = postgres.NewChatRepo(db), postgres.NewMessageRepo(db), postgres.NewTransactor(db)
	} else {
		s.chats, s.messages, s.tx = sqlite.NewChatRepo(db), sqlite.NewMessageRepo(db), sqlite.NewTransactor(db)
	}
	return s, nil
}
