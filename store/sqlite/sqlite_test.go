package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/observability"
)

func newStore(t *testing.T, optFns ...func(o *Options)) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "agentstream.db"), optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDocuments_PutGet(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.Get(ctx, "u1", "/memories/a.md")
	assert.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, s.Put(ctx, "u1", core.Document{Path: "/memories/a.md", Content: "hello"}))
	require.NoError(t, s.Put(ctx, "u1", core.Document{Path: "/memories/a.md", Content: "hello again"}))

	doc, err := s.Get(ctx, "u1", "/memories/a.md")
	require.NoError(t, err)
	assert.Equal(t, "hello again", doc.Content)
	assert.False(t, doc.UpdatedAt.IsZero())

	_, err = s.Get(ctx, "u2", "/memories/a.md")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestDocuments_ListRenameDelete(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	for _, p := range []string{"/memories/b.md", "/memories/a.md", "/memories/notes/c.md", "/memories_x.md", "/other.md"} {
		require.NoError(t, s.Put(ctx, "u1", core.Document{Path: p, Content: p}))
	}

	docs, err := s.List(ctx, "u1", "/memories/")
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "/memories/a.md", docs[0].Path)
	assert.Equal(t, "/memories/notes/c.md", docs[2].Path)

	assert.ErrorIs(t, s.Rename(ctx, "u1", "/memories/a.md", "/memories/b.md"), core.ErrAlreadyExists)
	assert.ErrorIs(t, s.Rename(ctx, "u1", "/memories/missing.md", "/memories/z.md"), core.ErrNotFound)
	require.NoError(t, s.Rename(ctx, "u1", "/memories/a.md", "/memories/z.md"))

	doc, err := s.Get(ctx, "u1", "/memories/z.md")
	require.NoError(t, err)
	assert.Equal(t, "/memories/a.md", doc.Content)

	require.NoError(t, s.Delete(ctx, "u1", "/memories/notes"))
	_, err = s.Get(ctx, "u1", "/memories/notes/c.md")
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = s.Get(ctx, "u1", "/memories_x.md")
	assert.NoError(t, err)

	assert.ErrorIs(t, s.Delete(ctx, "u1", "/memories/notes"), core.ErrNotFound)
}

func TestChats_CRUD(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	chats := s.Chats()

	_, err := chats.Get(ctx, "c1")
	assert.ErrorIs(t, err, core.ErrNotFound)

	chat := &core.Chat{
		ID:     "c1",
		UserID: "u1",
		Title:  "Math",
		Messages: []core.Message{
			{Role: core.RoleUser, Content: core.Text("What is 2 + 2?")},
			{Role: core.RoleAssistant, Content: core.Text("4")},
		},
	}
	require.NoError(t, chats.Put(ctx, chat))

	got, err := chats.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Math", got.Title)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "What is 2 + 2?", got.Messages[0].Content.String())
	created := got.CreatedAt

	s.now = func() time.Time { return time.Now().Add(time.Hour) }
	chat.Title = "Arithmetic"
	require.NoError(t, chats.Put(ctx, chat))

	got, err = chats.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Arithmetic", got.Title)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.True(t, got.UpdatedAt.After(created))

	require.NoError(t, chats.Delete(ctx, "c1"))
	assert.ErrorIs(t, chats.Delete(ctx, "c1"), core.ErrNotFound)
	assert.Error(t, chats.Put(ctx, &core.Chat{}))
}

func TestChats_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	chats := s.Chats()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		at := base.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return at }
		require.NoError(t, chats.Put(ctx, &core.Chat{ID: id, UserID: "u1"}))
	}
	require.NoError(t, chats.Put(ctx, &core.Chat{ID: "other", UserID: "u2"}))

	list, err := chats.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, "old", list[2].ID)
	assert.Empty(t, list[0].Messages)
}

func TestStore_RecordsQueryMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	s := newStore(t, func(o *Options) { o.Metrics = metrics })

	require.NoError(t, s.Put(context.Background(), "u1", core.Document{Path: "/memories/a.md"}))
	_, _ = s.Get(context.Background(), "u1", "/memories/a.md")

	assert.Equal(t, 2, testutil.CollectAndCount(metrics.DatabaseQueryDuration))
}
