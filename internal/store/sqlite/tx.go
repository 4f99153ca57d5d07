package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kiananasiri/therapyconnect/internal/domain"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Transactor runs a unit of work inside one database transaction.
type Transactor struct {
	db *sql.DB
}

func NewTransactor(db *sql.DB) *Transactor {
	return &Transactor{db: db}
}

var _ domain.Transactor = (*Transactor)(nil)

// InTx hands fn repositories bound to a single transaction. The transaction
// commits only when fn returns nil.
func (t *Transactor) InTx(ctx context.Context, fn func(domain.ChatRepository, domain.MessageRepository) error) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&ChatRepo{db: tx}, &MessageRepo{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
