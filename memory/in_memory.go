package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentstream/core"
)

// InMemoryStore is a process-local DocumentStore keyed by (userID, path).
//
// Concurrency: protected by RWMutex. Every operation is atomic; concurrent
// writers to the same path resolve last-write-wins.
type InMemoryStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]core.Document // userID -> path -> document
	now  func() time.Time
}

// NewInMemoryStore creates a new in-memory document store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		docs: make(map[string]map[string]core.Document),
		now:  time.Now,
	}
}

// Get returns the document at path or core.ErrNotFound.
func (m *InMemoryStore) Get(_ context.Context, userID, path string) (core.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[userID][path]
	if !ok {
		return core.Document{}, fmt.Errorf("document %s: %w", path, core.ErrNotFound)
	}
	return doc, nil
}

// Put creates or replaces a document, stamping UpdatedAt.
func (m *InMemoryStore) Put(_ context.Context, userID string, doc core.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.docs[userID]; !exists {
		m.docs[userID] = make(map[string]core.Document)
	}
	doc.UpdatedAt = m.now()
	m.docs[userID][doc.Path] = doc
	return nil
}

// Delete removes the document at path and every document below it.
func (m *InMemoryStore) Delete(_ context.Context, userID, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	userDocs := m.docs[userID]
	removed := 0
	for p := range userDocs {
		if p == path || strings.HasPrefix(p, strings.TrimSuffix(path, "/")+"/") {
			delete(userDocs, p)
			removed++
		}
	}
	if removed == 0 {
		return fmt.Errorf("document %s: %w", path, core.ErrNotFound)
	}
	return nil
}

// Rename moves a document. The destination must not exist.
func (m *InMemoryStore) Rename(_ context.Context, userID, oldPath, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	userDocs := m.docs[userID]
	doc, ok := userDocs[oldPath]
	if !ok {
		return fmt.Errorf("document %s: %w", oldPath, core.ErrNotFound)
	}
	if _, exists := userDocs[newPath]; exists {
		return fmt.Errorf("document %s: %w", newPath, core.ErrAlreadyExists)
	}
	delete(userDocs, oldPath)
	doc.Path = newPath
	doc.UpdatedAt = m.now()
	userDocs[newPath] = doc
	return nil
}

// List returns the documents whose path starts with prefix, sorted by path.
func (m *InMemoryStore) List(_ context.Context, userID, prefix string) ([]core.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.Document, 0)
	for p, doc := range m.docs[userID] {
		if strings.HasPrefix(p, prefix) {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
