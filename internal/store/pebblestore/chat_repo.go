package pebblestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kiananasiri/therapyconnect/internal/domain"
)

type ChatRepo struct {
	s view
}

func NewChatRepo(d *DB) *ChatRepo {
	return &ChatRepo{s: d.view()}
}

var _ domain.ChatRepository = (*ChatRepo)(nil)

func chatKey(id string) string { return "chat:" + id }

func userChatKey(userID, chatID string) string {
	return fmt.Sprintf("user:%s:chat:%s", userID, chatID)
}

func (r *ChatRepo) Create(ctx context.Context, c *domain.Chat) error {
	defer r.s.lock()()

	if _, err := r.s.get(chatKey(c.ID)); err == nil {
		return domain.ErrConflict
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal chat: %w", err)
	}
	err = r.s.write(func(w setter) error {
		if err := w.Set([]byte(chatKey(c.ID)), data, nil); err != nil {
			return err
		}
		for _, uid := range []string{c.Therapist.ID, c.Patient.ID} {
			if err := w.Set([]byte(userChatKey(uid, c.ID)), nil, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

func (r *ChatRepo) GetByID(ctx context.Context, id string) (*domain.Chat, error) {
	data, err := r.s.get(chatKey(id))
	if err != nil {
		return nil, err
	}
	var c domain.Chat
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode chat %s: %w", id, err)
	}
	return &c, nil
}

func (r *ChatRepo) ListForUser(ctx context.Context, userID string, status domain.ChatStatus) ([]*domain.Chat, error) {
	prefix := fmt.Sprintf("user:%s:chat:", userID)
	var ids []string
	err := r.s.scan(prefix, false, func(key []byte) (bool, error) {
		ids = append(ids, strings.TrimPrefix(string(key), prefix))
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	var res []*domain.Chat
	for _, id := range ids {
		c, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if status != "" && c.Status != status {
			continue
		}
		res = append(res, c)
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].UpdatedAt.After(res[j].UpdatedAt) })
	return res, nil
}

func (r *ChatRepo) Update(ctx context.Context, c *domain.Chat) error {
	defer r.s.lock()()

	if _, err := r.s.get(chatKey(c.ID)); err != nil {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal chat: %w", err)
	}
	err = r.s.write(func(w setter) error {
		return w.Set([]byte(chatKey(c.ID)), data, nil)
	})
	if err != nil {
		return fmt.Errorf("update chat: %w", err)
	}
	return nil
}
