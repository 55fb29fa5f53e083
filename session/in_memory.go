package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/agentstream/core"
)

// InMemoryStore is a volatile ChatStore implementation storing chats in a
// process local map. It is safe for concurrent access and best suited for
// tests or ephemeral demo servers. Chats are cloned on the way in and out to
// prevent external mutation of internal state.
type InMemoryStore struct {
	mu    sync.RWMutex
	chats map[string]*core.Chat
	now   func() time.Time
}

// NewInMemoryStore constructs an empty in-memory chat store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{chats: make(map[string]*core.Chat), now: time.Now}
}

// Get returns a clone of the chat or core.ErrNotFound.
func (s *InMemoryStore) Get(_ context.Context, id string) (*core.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chats[id]
	if !ok {
		return nil, fmt.Errorf("chat %s: %w", id, core.ErrNotFound)
	}
	return chat.Clone(), nil
}

// Put stores a clone of chat, stamping CreatedAt on first write and
// UpdatedAt on every write.
func (s *InMemoryStore) Put(_ context.Context, chat *core.Chat) error {
	if chat == nil || chat.ID == "" {
		return fmt.Errorf("chat id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := chat.Clone()
	now := s.now()
	if prev, ok := s.chats[chat.ID]; ok {
		cp.CreatedAt = prev.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.chats[chat.ID] = cp
	return nil
}

// Delete removes a chat.
func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[id]; !ok {
		return fmt.Errorf("chat %s: %w", id, core.ErrNotFound)
	}
	delete(s.chats, id)
	return nil
}

// List returns clones of the user's chats, most recently updated first.
func (s *InMemoryStore) List(_ context.Context, userID string) ([]*core.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*core.Chat, 0)
	for _, c := range s.chats {
		if c.UserID == userID {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}
