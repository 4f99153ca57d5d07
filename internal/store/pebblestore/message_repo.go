package pebblestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"go.uber.org/zap"

	"github.com/kiananasiri/therapyconnect/internal/domain"
	"github.com/kiananasiri/therapyconnect/internal/store"
)

type MessageRepo struct {
	s view
}

func NewMessageRepo(d *DB) *MessageRepo {
	return &MessageRepo{s: d.view()}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

func msgKey(id string) string { return "msg:" + id }

func chatMsgPrefix(chatID string) string { return "chatmsg:" + chatID + ":" }

func senderMsgPrefix(chatID, senderID string) string {
	return fmt.Sprintf("sendermsg:%s:%s:", chatID, senderID)
}

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	defer r.s.lock()()

	if _, err := r.s.get(chatKey(m.ChatID)); err != nil {
		return fmt.Errorf("chat %s: %w", m.ChatID, err)
	}
	if _, err := r.s.get(msgKey(m.ID)); err == nil {
		return domain.ErrConflict
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	data, err := json.Marshal(store.FromMessage(m))
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = r.s.write(func(w setter) error {
		if err := w.Set([]byte(msgKey(m.ID)), data, nil); err != nil {
			return err
		}
		if err := w.Set([]byte(chatMsgPrefix(m.ChatID)+m.ID), nil, nil); err != nil {
			return err
		}
		return w.Set([]byte(senderMsgPrefix(m.ChatID, m.SenderID)+m.ID), nil, nil)
	})
	if err != nil {
		r.s.d.log.Error("save_message_failed", zap.String("chat", m.ChatID), zap.String("msg_id", m.ID), zap.Error(err))
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *MessageRepo) load(id string) (store.MessageRecord, error) {
	var rec store.MessageRecord
	data, err := r.s.get(msgKey(id))
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("decode message %s: %w", id, err)
	}
	return rec, nil
}

func (r *MessageRepo) save(rec store.MessageRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	err = r.s.write(func(w setter) error {
		return w.Set([]byte(msgKey(rec.ID)), data, nil)
	})
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	rec, err := r.load(id)
	if err != nil {
		return nil, err
	}
	return rec.ToMessage(), nil
}

// each visits the records under an index prefix until fn returns false.
func (r *MessageRepo) each(prefix string, reverse bool, fn func(store.MessageRecord) bool) error {
	return r.s.scan(prefix, reverse, func(key []byte) (bool, error) {
		rec, err := r.load(strings.TrimPrefix(string(key), prefix))
		if err != nil {
			return false, err
		}
		return fn(rec), nil
	})
}

func (r *MessageRepo) ListForChat(ctx context.Context, chatID string, f domain.MessageFilter) ([]*domain.Message, error) {
	var res []*domain.Message
	err := r.each(chatMsgPrefix(chatID), true, func(rec store.MessageRecord) bool {
		if rec.Matches(f) {
			res = append(res, rec.ToMessage())
		}
		return f.Limit <= 0 || len(res) < f.Limit
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
		res[i], res[j] = res[j], res[i]
	}
	return res, nil
}

func (r *MessageRepo) RecentBySender(ctx context.Context, chatID, senderID string, limit int) ([]*domain.Message, error) {
	var res []*domain.Message
	if limit <= 0 {
		return res, nil
	}
	err := r.each(senderMsgPrefix(chatID, senderID), true, func(rec store.MessageRecord) bool {
		res = append(res, rec.ToMessage())
		return len(res) < limit
	})
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	return res, nil
}

func unreadFor(rec store.MessageRecord, recipientID string) bool {
	return rec.SenderID != recipientID && !rec.Deleted && rec.ReadStatus != string(domain.StatusRead)
}

func (r *MessageRepo) ListUnreadFor(ctx context.Context, chatID, recipientID string) ([]*domain.Message, error) {
	var res []*domain.Message
	err := r.each(chatMsgPrefix(chatID), false, func(rec store.MessageRecord) bool {
		if unreadFor(rec, recipientID) {
			res = append(res, rec.ToMessage())
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("list unread: %w", err)
	}
	return res, nil
}

func (r *MessageRepo) HasUnreadEmergency(ctx context.Context, chatID, recipientID string) (bool, error) {
	found := false
	err := r.each(chatMsgPrefix(chatID), true, func(rec store.MessageRecord) bool {
		found = rec.Emergency && unreadFor(rec, recipientID)
		return !found
	})
	if err != nil {
		return false, fmt.Errorf("unread emergency: %w", err)
	}
	return found, nil
}

func (r *MessageRepo) UpdateText(ctx context.Context, m *domain.Message) error {
	next := store.FromMessage(m)
	if !next.Edited {
		return fmt.Errorf("update text of %s: %w", m.ID, domain.ErrInvalidInput)
	}
	return r.update(m.ID, func(rec *store.MessageRecord) error {
		if rec.Deleted {
			return domain.ErrNotFound
		}
		rec.Text = next.Text
		rec.Edited = true
		rec.EditedAt = next.EditedAt
		rec.History = next.History
		return nil
	})
}

// MarkDeleted flags the record as a tombstone. The stored text is left in place.
func (r *MessageRepo) MarkDeleted(ctx context.Context, m *domain.Message) error {
	next := store.FromMessage(m)
	if !next.Deleted {
		return fmt.Errorf("mark deleted %s: %w", m.ID, domain.ErrInvalidInput)
	}
	return r.update(m.ID, func(rec *store.MessageRecord) error {
		rec.Deleted = true
		rec.DeletedAt = next.DeletedAt
		rec.DeletedBy = next.DeletedBy
		return nil
	})
}

func (r *MessageRepo) UpdateReceipt(ctx context.Context, m *domain.Message) error {
	next := store.FromMessage(m)
	return r.update(m.ID, func(rec *store.MessageRecord) error {
		rec.ReadStatus = next.ReadStatus
		rec.ReadAt = next.ReadAt
		rec.ReadBy = next.ReadBy
		return nil
	})
}

func (r *MessageRepo) update(id string, fn func(*store.MessageRecord) error) error {
	defer r.s.lock()()

	rec, err := r.load(id)
	if err != nil {
		return err
	}
	if err := fn(&rec); err != nil {
		return err
	}
	return r.save(rec)
}
