package service

import (
	"context"
	"fmt"

	"github.com/kiananasiri/therapyconnect/internal/domain"
	"github.com/kiananasiri/therapyconnect/internal/security"
)

// SealMessages encrypts message text (and edit history) at rest. A nil
// encryptor returns repo unchanged.
func SealMessages(repo domain.MessageRepository, enc *security.Encryptor) domain.MessageRepository {
	if enc == nil {
		return repo
	}
	return &sealedMessages{inner: repo, enc: enc}
}

// SealChats encrypts the cached last-message preview of chats.
func SealChats(repo domain.ChatRepository, enc *security.Encryptor) domain.ChatRepository {
	if enc == nil {
		return repo
	}
	return &sealedChats{inner: repo, enc: enc}
}

// SealTx applies the same sealing to the repositories of every unit of work.
func SealTx(tx domain.Transactor, enc *security.Encryptor) domain.Transactor {
	if enc == nil {
		return tx
	}
	return &sealedTx{inner: tx, enc: enc}
}

type sealedTx struct {
	inner domain.Transactor
	enc   *security.Encryptor
}

func (t *sealedTx) InTx(ctx context.Context, fn func(domain.ChatRepository, domain.MessageRepository) error) error {
	return t.inner.InTx(ctx, func(chats domain.ChatRepository, messages domain.MessageRepository) error {
		return fn(SealChats(chats, t.enc), SealMessages(messages, t.enc))
	})
}

type sealedMessages struct {
	inner domain.MessageRepository
	enc   *security.Encryptor
}

// transform returns a copy of m with every text passed through fn.
func transform(m *domain.Message, fn func(string) (string, error)) (*domain.Message, error) {
	out := *m
	switch s := m.State.(type) {
	case domain.Active:
		t, err := fn(s.Text)
		if err != nil {
			return nil, err
		}
		out.State = domain.Active{Text: t}
	case domain.Edited:
		t, err := fn(s.Text)
		if err != nil {
			return nil, err
		}
		history := make([]domain.Revision, len(s.History))
		for i, rev := range s.History {
			ht, err := fn(rev.Text)
			if err != nil {
				return nil, err
			}
			history[i] = domain.Revision{Text: ht, At: rev.At}
		}
		out.State = domain.Edited{Text: t, EditedAt: s.EditedAt, History: history}
	}
	return &out, nil
}

func (r *sealedMessages) seal(m *domain.Message) (*domain.Message, error) {
	out, err := transform(m, r.enc.Encrypt)
	if err != nil {
		return nil, fmt.Errorf("encrypt message %s: %w", m.ID, err)
	}
	return out, nil
}

func (r *sealedMessages) open(m *domain.Message) (*domain.Message, error) {
	out, err := transform(m, r.enc.Decrypt)
	if err != nil {
		return nil, fmt.Errorf("decrypt message %s: %w", m.ID, err)
	}
	return out, nil
}

func (r *sealedMessages) openAll(ms []*domain.Message, err error) ([]*domain.Message, error) {
	if err != nil {
		return nil, err
	}
	for i, m := range ms {
		if ms[i], err = r.open(m); err != nil {
			return nil, err
		}
	}
	return ms, nil
}

func (r *sealedMessages) Create(ctx context.Context, m *domain.Message) error {
	sealed, err := r.seal(m)
	if err != nil {
		return err
	}
	return r.inner.Create(ctx, sealed)
}

func (r *sealedMessages) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	m, err := r.inner.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.open(m)
}

func (r *sealedMessages) ListForChat(ctx context.Context, chatID string, f domain.MessageFilter) ([]*domain.Message, error) {
	return r.openAll(r.inner.ListForChat(ctx, chatID, f))
}

func (r *sealedMessages) RecentBySender(ctx context.Context, chatID, senderID string, limit int) ([]*domain.Message, error) {
	return r.openAll(r.inner.RecentBySender(ctx, chatID, senderID, limit))
}

func (r *sealedMessages) ListUnreadFor(ctx context.Context, chatID, recipientID string) ([]*domain.Message, error) {
	return r.openAll(r.inner.ListUnreadFor(ctx, chatID, recipientID))
}

func (r *sealedMessages) HasUnreadEmergency(ctx context.Context, chatID, recipientID string) (bool, error) {
	return r.inner.HasUnreadEmergency(ctx, chatID, recipientID)
}

func (r *sealedMessages) UpdateText(ctx context.Context, m *domain.Message) error {
	sealed, err := r.seal(m)
	if err != nil {
		return err
	}
	return r.inner.UpdateText(ctx, sealed)
}

func (r *sealedMessages) MarkDeleted(ctx context.Context, m *domain.Message) error {
	return r.inner.MarkDeleted(ctx, m)
}

func (r *sealedMessages) UpdateReceipt(ctx context.Context, m *domain.Message) error {
	return r.inner.UpdateReceipt(ctx, m)
}

type sealedChats struct {
	inner domain.ChatRepository
	enc   *security.Encryptor
}

func (r *sealedChats) seal(c *domain.Chat) (*domain.Chat, error) {
	out := *c
	if c.LastMessageText != "" {
		t, err := r.enc.Encrypt(c.LastMessageText)
		if err != nil {
			return nil, fmt.Errorf("encrypt chat %s: %w", c.ID, err)
		}
		out.LastMessageText = t
	}
	return &out, nil
}

func (r *sealedChats) open(c *domain.Chat) (*domain.Chat, error) {
	if c.LastMessageText != "" {
		t, err := r.enc.Decrypt(c.LastMessageText)
		if err != nil {
			return nil, fmt.Errorf("decrypt chat %s: %w", c.ID, err)
		}
		c.LastMessageText = t
	}
	return c, nil
}

func (r *sealedChats) Create(ctx context.Context, c *domain.Chat) error {
	sealed, err := r.seal(c)
	if err != nil {
		return err
	}
	return r.inner.Create(ctx, sealed)
}

func (r *sealedChats) GetByID(ctx context.Context, id string) (*domain.Chat, error) {
	c, err := r.inner.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.open(c)
}

func (r *sealedChats) ListForUser(ctx context.Context, userID string, status domain.ChatStatus) ([]*domain.Chat, error) {
	cs, err := r.inner.ListForUser(ctx, userID, status)
	if err != nil {
		return nil, err
	}
	for _, c := range cs {
		if _, err := r.open(c); err != nil {
			return nil, err
		}
	}
	return cs, nil
}

func (r *sealedChats) Update(ctx context.Context, c *domain.Chat) error {
	sealed, err := r.seal(c)
	if err != nil {
		return err
	}
	return r.inner.Update(ctx, sealed)
}
