package service

import (
	"context"
	"sync"
)

// ChatLocks serializes mutations per chat id. A lock exists only while some
// goroutine holds or waits for it.
type ChatLocks struct {
	mu    sync.Mutex
	locks map[string]*chatLock
}

type chatLock struct {
	sem  chan struct{}
	refs int
}

func NewChatLocks() *ChatLocks {
	return &ChatLocks{locks: make(map[string]*chatLock)}
}

// WithChat runs fn while holding the lock for chatID. Waiting for the lock
// stops when ctx is done.
func (l *ChatLocks) WithChat(ctx context.Context, chatID string, fn func() error) error {
	lk := l.ref(chatID)
	defer l.unref(chatID, lk)

	select {
	case lk.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-lk.sem }()

	return fn()
}

// Len reports how many chat locks are live.
func (l *ChatLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *ChatLocks) ref(chatID string) *chatLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.locks[chatID]
	if !ok {
		lk = &chatLock{sem: make(chan struct{}, 1)}
		l.locks[chatID] = lk
	}
	lk.refs++
	return lk
}

func (l *ChatLocks) unref(chatID string, lk *chatLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, chatID)
	}
}
