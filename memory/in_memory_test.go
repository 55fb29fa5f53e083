package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/hupe1980/agentstream/core"
)

// Interface compliance (compile-time assertions)
var _ core.DocumentStore = (*InMemoryStore)(nil)

func TestInMemoryStore_PutGet(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	if _, err := s.Get(ctx, "u1", "/memories/a.md"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Put(ctx, "u1", core.Document{Path: "/memories/a.md", Content: "hello"}); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	doc, err := s.Get(ctx, "u1", "/memories/a.md")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if doc.Content != "hello" || doc.UpdatedAt.IsZero() {
		t.Fatalf("unexpected document: %#v", doc)
	}
	// other users are isolated
	if _, err := s.Get(ctx, "u2", "/memories/a.md"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected user isolation, got %v", err)
	}
}

func TestInMemoryStore_ListRenameDelete(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	for _, p := range []string{"/memories/b.md", "/memories/a.md", "/memories/notes/c.md", "/other.md"} {
		if err := s.Put(ctx, "u1", core.Document{Path: p, Content: p}); err != nil {
			t.Fatalf("put %s: %v", p, err)
		}
	}

	docs, _ := s.List(ctx, "u1", "/memories/")
	if len(docs) != 3 || docs[0].Path != "/memories/a.md" || docs[2].Path != "/memories/notes/c.md" {
		t.Fatalf("unexpected listing: %#v", docs)
	}

	if err := s.Rename(ctx, "u1", "/memories/a.md", "/memories/b.md"); !errors.Is(err, core.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if err := s.Rename(ctx, "u1", "/memories/a.md", "/memories/z.md"); err != nil {
		t.Fatalf("rename failed: %v", err)
	}
	if _, err := s.Get(ctx, "u1", "/memories/z.md"); err != nil {
		t.Fatalf("renamed document missing: %v", err)
	}
	if err := s.Rename(ctx, "u1", "/memories/a.md", "/memories/y.md"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// deleting a directory removes its children
	if err := s.Delete(ctx, "u1", "/memories/notes"); err != nil {
		t.Fatalf("delete dir failed: %v", err)
	}
	if _, err := s.Get(ctx, "u1", "/memories/notes/c.md"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected child removed, got %v", err)
	}
	if err := s.Delete(ctx, "u1", "/memories/missing.md"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInMemoryStore_Concurrency(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Put(ctx, "u", core.Document{Path: fmt.Sprintf("/memories/%d.md", i%5), Content: "x"})
			_, _ = s.List(ctx, "u", "/memories/")
		}(i)
	}
	wg.Wait()
	docs, _ := s.List(ctx, "u", "/memories/")
	if len(docs) != 5 {
		t.Fatalf("expected 5 documents, got %d", len(docs))
	}
}
