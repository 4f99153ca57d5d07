// Package pebblestore keeps chats and messages in a Pebble key/value store.
//
// Key layout:
//
//	chat:<chatID>                            chat JSON
//	user:<userID>:chat:<chatID>              membership index
//	msg:<msgID>                              message record JSON
//	chatmsg:<chatID>:<msgID>                 per-chat index, id order
//	sendermsg:<chatID>:<senderID>:<msgID>    per-sender index, id order
package pebblestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"go.uber.org/zap"

	"github.com/kiananasiri/therapyconnect/internal/domain"
)

// DB wraps a pebble handle. Writes that read before they write, and whole
// transactions, go through mu.
type DB struct {
	db  *pebble.DB
	mu  sync.Mutex
	log *zap.Logger
}

// Open opens (or creates) a store in dir. A nil fs uses the OS filesystem.
func Open(dir string, fs vfs.FS, log *zap.Logger) (*DB, error) {
	if log == nil {
		log = zap.NewNop()
	}
	opts := &pebble.Options{}
	if fs != nil {
		opts.FS = fs
	}
	log.Info("opening_pebble_db", zap.String("path", dir))
	db, err := pebble.Open(dir, opts)
	if err != nil {
		log.Error("pebble_open_failed", zap.String("path", dir), zap.Error(err))
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &DB{db: db, log: log}, nil
}

func (d *DB) Close() error {
	if err := d.db.Close(); err != nil {
		return err
	}
	d.log.Info("pebble_closed")
	return nil
}

// kv is the read/write surface shared by *pebble.DB and an indexed batch.
type kv interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
	setter
}

type setter interface {
	Set(key, value []byte, opts *pebble.WriteOptions) error
}

// view is what repositories read and write through: the database itself, or
// the indexed batch of a running InTx, whose caller already holds mu.
type view struct {
	d   *DB
	kv  kv
	txn bool
}

func (d *DB) view() view { return view{d: d, kv: d.db} }

// InTx hands fn repositories that share one indexed batch. Reads through them
// see the batch's own writes, and the batch commits only when fn returns nil.
func (d *DB) InTx(ctx context.Context, fn func(domain.ChatRepository, domain.MessageRepository) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	b := d.db.NewIndexedBatch()
	defer b.Close()
	v := view{d: d, kv: b, txn: true}
	if err := fn(&ChatRepo{s: v}, &MessageRepo{s: v}); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		d.log.Error("pebble_commit_failed", zap.Error(err))
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

var _ domain.Transactor = (*DB)(nil)

// lock serializes read-modify-write outside a transaction.
func (v view) lock() func() {
	if v.txn {
		return func() {}
	}
	v.d.mu.Lock()
	return v.d.mu.Unlock
}

func (v view) get(key string) ([]byte, error) {
	val, closer, err := v.kv.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

// write applies fn atomically, either as its own synced batch or inside the
// running transaction.
func (v view) write(fn func(w setter) error) error {
	if v.txn {
		return fn(v.kv)
	}
	b := v.d.db.NewBatch()
	defer b.Close()
	if err := fn(b); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

// scan visits keys under prefix in ascending order, or descending when
// reverse is set, until fn returns false.
func (v view) scan(prefix string, reverse bool, fn func(key []byte) (bool, error)) error {
	iter, err := v.kv.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixEnd([]byte(prefix)),
	})
	if err != nil {
		return fmt.Errorf("new iter: %w", err)
	}
	defer iter.Close()

	valid := iter.First
	step := iter.Next
	if reverse {
		valid = iter.Last
		step = iter.Prev
	}
	for ok := valid(); ok; ok = step() {
		more, err := fn(iter.Key())
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return iter.Error()
}

func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
