package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentstream/core"
)

// Interface compliance (compile-time assertion)
var _ core.ChatStore = (*InMemoryStore)(nil)

func TestInMemoryStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	_, err := s.Get(ctx, "c1")
	assert.ErrorIs(t, err, core.ErrNotFound)

	chat := &core.Chat{ID: "c1", UserID: "u1", Messages: []core.Message{{Role: core.RoleUser, Content: core.Text("hi")}}}
	require.NoError(t, s.Put(ctx, chat))

	// mutation of the caller copy does not leak into the store
	chat.Messages[0] = core.Message{Role: core.RoleUser, Content: core.Text("changed")}

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Messages[0].Content.String())
	assert.False(t, got.CreatedAt.IsZero())

	require.NoError(t, s.Delete(ctx, "c1"))
	assert.ErrorIs(t, s.Delete(ctx, "c1"), core.ErrNotFound)
	assert.Error(t, s.Put(ctx, &core.Chat{}))
}

func TestInMemoryStore_ListOrdersByUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	require.NoError(t, s.Put(ctx, &core.Chat{ID: "a", UserID: "u"}))
	require.NoError(t, s.Put(ctx, &core.Chat{ID: "b", UserID: "u"}))
	require.NoError(t, s.Put(ctx, &core.Chat{ID: "x", UserID: "other"}))
	require.NoError(t, s.Put(ctx, &core.Chat{ID: "a", UserID: "u", Title: "again"}))

	chats, err := s.List(ctx, "u")
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, "a", chats[0].ID)
	assert.Equal(t, "again", chats[0].Title)
	assert.True(t, chats[0].CreatedAt.Before(chats[0].UpdatedAt))
}
