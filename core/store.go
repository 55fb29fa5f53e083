package core

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// Document is a named text document owned by a user.
type Document struct {
	Path      string    `json:"path"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DocumentStore persists documents keyed by (userID, path). Implementations
// must be safe for concurrent use and atomic per path.
type DocumentStore interface {
	Get(ctx context.Context, userID, path string) (Document, error)
	Put(ctx context.Context, userID string, doc Document) error
	Delete(ctx context.Context, userID, path string) error
	Rename(ctx context.Context, userID, oldPath, newPath string) error
	List(ctx context.Context, userID, prefix string) ([]Document, error)
}

// Chat is a persisted conversation.
type Chat struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Title     string    `json:"title,omitempty"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy whose message slice can be modified independently.
func (c *Chat) Clone() *Chat {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Messages = append([]Message(nil), c.Messages...)
	return &cp
}

// ChatStore persists chats. Get and Delete return ErrNotFound for unknown
// ids. List returns a user's chats, most recently updated first.
type ChatStore interface {
	Get(ctx context.Context, id string) (*Chat, error)
	Put(ctx context.Context, chat *Chat) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, userID string) ([]*Chat, error)
}

// Connection providers known to the tool registry.
const (
	ProviderGitHub  = "github"
	ProviderSpotify = "spotify"
)

// ConnectionStore resolves a user's linked third-party accounts.
// FindConnectionID returns ErrNotFound when the user has no connection for
// the provider.
type ConnectionStore interface {
	FindConnectionID(ctx context.Context, userID, provider string) (string, error)
	Token(ctx context.Context, connectionID string) (*oauth2.Token, error)
	SaveToken(ctx context.Context, connectionID string, tok *oauth2.Token) error
}
