// Package sqlite provides durable DocumentStore and ChatStore implementations
// on top of SQLite (mattn/go-sqlite3).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/logging"
	"github.com/hupe1980/agentstream/observability"
)

// Store implements core.DocumentStore; Chats returns its core.ChatStore view.
type Store struct {
	db      *sql.DB
	metrics *observability.Metrics
	logger  logging.Logger
	now     func() time.Time
}

// Verify interface compliance at compile time.
var _ core.DocumentStore = (*Store)(nil)

// Options configures a Store.
type Options struct {
	// Metrics records query durations when set.
	Metrics *observability.Metrics
	Logger  logging.Logger
}

// New opens (or creates) a SQLite database at path and runs migrations.
func New(path string, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db, metrics: opts.Metrics, logger: opts.Logger, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		user_id TEXT NOT NULL,
		path TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (user_id, path)
	);

	CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		messages TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chats_user_updated ON chats(user_id, updated_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) observe(operation, table string, start time.Time) {
	s.metrics.RecordDatabaseQuery(operation, table, time.Since(start).Seconds())
}

// --- DocumentStore ---

// Get returns the document at path or core.ErrNotFound.
func (s *Store) Get(ctx context.Context, userID, path string) (core.Document, error) {
	defer s.observe("select", "documents", time.Now())

	doc := core.Document{Path: path}
	err := s.db.QueryRowContext(ctx,
		`SELECT content, updated_at FROM documents WHERE user_id = ? AND path = ?`, userID, path,
	).Scan(&doc.Content, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Document{}, fmt.Errorf("document %s: %w", path, core.ErrNotFound)
	}
	if err != nil {
		return core.Document{}, fmt.Errorf("get document %s: %w", path, err)
	}
	return doc, nil
}

// Put creates or replaces a document, stamping UpdatedAt.
func (s *Store) Put(ctx context.Context, userID string, doc core.Document) error {
	defer s.observe("upsert", "documents", time.Now())

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (user_id, path, content, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, path) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		userID, doc.Path, doc.Content, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("put document %s: %w", doc.Path, err)
	}
	return nil
}

// Delete removes the document at path and every document below it.
func (s *Store) Delete(ctx context.Context, userID, path string) error {
	defer s.observe("delete", "documents", time.Now())

	dir := strings.TrimSuffix(path, "/") + "/"
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE user_id = ? AND (path = ? OR substr(path, 1, length(?)) = ?)`,
		userID, path, dir, dir,
	)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", path, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", path, core.ErrNotFound)
	}
	return nil
}

// Rename moves a document. The destination must not exist.
func (s *Store) Rename(ctx context.Context, userID, oldPath, newPath string) error {
	defer s.observe("rename", "documents", time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rename: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE user_id = ? AND path = ?`, userID, newPath,
	).Scan(&exists); err != nil {
		return fmt.Errorf("rename document %s: %w", oldPath, err)
	}
	if exists > 0 {
		return fmt.Errorf("document %s: %w", newPath, core.ErrAlreadyExists)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE documents SET path = ?, updated_at = ? WHERE user_id = ? AND path = ?`,
		newPath, s.now().UTC(), userID, oldPath,
	)
	if err != nil {
		return fmt.Errorf("rename document %s: %w", oldPath, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", oldPath, core.ErrNotFound)
	}

	return tx.Commit()
}

// List returns the documents whose path starts with prefix, sorted by path.
func (s *Store) List(ctx context.Context, userID, prefix string) ([]core.Document, error) {
	defer s.observe("select", "documents", time.Now())

	rows, err := s.db.QueryContext(ctx,
		`SELECT path, content, updated_at FROM documents
		 WHERE user_id = ? AND substr(path, 1, length(?)) = ? ORDER BY path`,
		userID, prefix, prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	out := make([]core.Document, 0)
	for rows.Next() {
		var doc core.Document
		if err := rows.Scan(&doc.Path, &doc.Content, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// Chats returns the chat table as a core.ChatStore sharing s's connection.
func (s *Store) Chats() *ChatStore {
	return &ChatStore{s: s}
}

// ChatStore is the chat half of Store.
type ChatStore struct {
	s *Store
}

var _ core.ChatStore = (*ChatStore)(nil)

// Get returns the chat or core.ErrNotFound.
func (c *ChatStore) Get(ctx context.Context, id string) (*core.Chat, error) {
	defer c.s.observe("select", "chats", time.Now())

	chat := &core.Chat{ID: id}
	var raw string
	err := c.s.db.QueryRowContext(ctx,
		`SELECT user_id, title, messages, created_at, updated_at FROM chats WHERE id = ?`, id,
	).Scan(&chat.UserID, &chat.Title, &raw, &chat.CreatedAt, &chat.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chat %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get chat %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(raw), &chat.Messages); err != nil {
		return nil, fmt.Errorf("decode chat %s: %w", id, err)
	}
	return chat, nil
}

// Put creates or replaces a chat. CreatedAt is kept from the first write.
func (c *ChatStore) Put(ctx context.Context, chat *core.Chat) error {
	if chat == nil || chat.ID == "" {
		return fmt.Errorf("chat id is required")
	}
	defer c.s.observe("upsert", "chats", time.Now())

	msgs := chat.Messages
	if msgs == nil {
		msgs = []core.Message{}
	}
	raw, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encode chat %s: %w", chat.ID, err)
	}

	now := c.s.now().UTC()
	created := chat.CreatedAt
	if created.IsZero() {
		created = now
	}

	_, err = c.s.db.ExecContext(ctx,
		`INSERT INTO chats (id, user_id, title, messages, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET user_id = excluded.user_id, title = excluded.title,
		 messages = excluded.messages, updated_at = excluded.updated_at`,
		chat.ID, chat.UserID, chat.Title, string(raw), created.UTC(), now,
	)
	if err != nil {
		return fmt.Errorf("put chat %s: %w", chat.ID, err)
	}
	return nil
}

// Delete removes a chat.
func (c *ChatStore) Delete(ctx context.Context, id string) error {
	defer c.s.observe("delete", "chats", time.Now())

	result, err := c.s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete chat %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("chat %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// List returns the user's chats, most recently updated first.
func (c *ChatStore) List(ctx context.Context, userID string) ([]*core.Chat, error) {
	defer c.s.observe("select", "chats", time.Now())

	rows, err := c.s.db.QueryContext(ctx,
		`SELECT id, title, messages, created_at, updated_at FROM chats
		 WHERE user_id = ? ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	out := make([]*core.Chat, 0)
	for rows.Next() {
		chat := &core.Chat{UserID: userID}
		var raw string
		if err := rows.Scan(&chat.ID, &chat.Title, &raw, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &chat.Messages); err != nil {
			c.s.logger.Warn("store.chat.decode_failed", "chat_id", chat.ID, "error", err.Error())
			continue
		}
		out = append(out, chat)
	}
	return out, rows.Err()
}
