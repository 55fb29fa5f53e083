// Package connection resolves users' linked OAuth accounts into
// authenticated HTTP clients for the GitHub and Spotify tools.
package connection

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/hupe1980/agentstream/core"
)

// InMemoryStore is a process-local core.ConnectionStore.
type InMemoryStore struct {
	mu     sync.RWMutex
	byUser map[string]map[string]string // userID -> provider -> connectionID
	tokens map[string]*oauth2.Token     // connectionID -> token
}

// NewInMemoryStore creates an empty connection store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byUser: make(map[string]map[string]string),
		tokens: make(map[string]*oauth2.Token),
	}
}

// Link records a connection for (userID, provider) and returns its id.
// Linking again replaces the token of the existing connection.
func (s *InMemoryStore) Link(_ context.Context, userID, provider string, tok *oauth2.Token) (string, error) {
	if userID == "" || provider == "" || tok == nil {
		return "", fmt.Errorf("user, provider and token are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byUser[userID]; !ok {
		s.byUser[userID] = make(map[string]string)
	}
	id, ok := s.byUser[userID][provider]
	if !ok {
		id = uuid.NewString()
		s.byUser[userID][provider] = id
	}
	cp := *tok
	s.tokens[id] = &cp
	return id, nil
}

// FindConnectionID implements core.ConnectionStore.
func (s *InMemoryStore) FindConnectionID(_ context.Context, userID, provider string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUser[userID][provider]
	if !ok {
		return "", fmt.Errorf("%s connection for %s: %w", provider, userID, core.ErrNotFound)
	}
	return id, nil
}

// Token implements core.ConnectionStore.
func (s *InMemoryStore) Token(_ context.Context, connectionID string) (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[connectionID]
	if !ok {
		return nil, fmt.Errorf("connection %s: %w", connectionID, core.ErrNotFound)
	}
	cp := *tok
	return &cp, nil
}

// SaveToken implements core.ConnectionStore.
func (s *InMemoryStore) SaveToken(_ context.Context, connectionID string, tok *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[connectionID]; !ok {
		return fmt.Errorf("connection %s: %w", connectionID, core.ErrNotFound)
	}
	cp := *tok
	s.tokens[connectionID] = &cp
	return nil
}

// persistingSource writes refreshed tokens back to the store.
type persistingSource struct {
	ctx          context.Context
	store        core.ConnectionStore
	connectionID string
	base         oauth2.TokenSource

	mu   sync.Mutex
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last {
		p.last = tok.AccessToken
		if err := p.store.SaveToken(p.ctx, p.connectionID, tok); err != nil {
			return nil, fmt.Errorf("persist refreshed token: %w", err)
		}
	}
	return tok, nil
}

// HTTPClient returns an HTTP client authenticated as userID's provider
// connection. It returns core.ErrNotFound when the user has no connection.
// With a nil cfg the stored token is used as-is without refresh.
func HTTPClient(ctx context.Context, store core.ConnectionStore, userID, provider string, cfg *oauth2.Config) (*http.Client, error) {
	if store == nil || userID == "" {
		return nil, fmt.Errorf("%s connection: %w", provider, core.ErrNotFound)
	}

	id, err := store.FindConnectionID(ctx, userID, provider)
	if err != nil {
		return nil, err
	}

	tok, err := store.Token(ctx, id)
	if err != nil {
		return nil, err
	}

	var src oauth2.TokenSource = oauth2.StaticTokenSource(tok)
	if cfg != nil {
		src = oauth2.ReuseTokenSource(tok, &persistingSource{
			ctx:          ctx,
			store:        store,
			connectionID: id,
			base:         cfg.TokenSource(ctx, tok),
			last:         tok.AccessToken,
		})
	}

	return oauth2.NewClient(ctx, src), nil
}
