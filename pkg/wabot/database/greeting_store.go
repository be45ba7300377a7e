package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Greeting kinds.
const (
	GreetingWelcome = "welcome"
	GreetingGoodbye = "goodbye"
)

// Greeting is the text sent to a group when members join or leave.
type Greeting struct {
	ChatID  string
	Kind    string
	Message string
}

// GreetingStore manages wabot_greetings rows.
type GreetingStore struct {
	db *sql.DB
}

// NewGreetingStore wraps an open handle.
func NewGreetingStore(db *sql.DB) *GreetingStore {
	return &GreetingStore{db: db}
}

// Get returns the configured greeting, or nil when none exists.
func (s *GreetingStore) Get(ctx context.Context, chatID, kind string) (*Greeting, error) {
	g := &Greeting{ChatID: chatID, Kind: kind}
	err := s.db.QueryRowContext(ctx,
		"SELECT message FROM wabot_greetings WHERE chat_id = $1 AND kind = $2",
		chatID, kind).Scan(&g.Message)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s greeting: %w", kind, err)
	}
	return g, nil
}

// Greeting returns the greeting text for (chat, kind); ok is false when the
// chat has none configured.
func (s *GreetingStore) Greeting(ctx context.Context, chatID, kind string) (string, bool, error) {
	g, err := s.Get(ctx, chatID, kind)
	if err != nil || g == nil {
		return "", false, err
	}
	return g.Message, true, nil
}

// Set creates or replaces the greeting for (chat, kind).
func (s *GreetingStore) Set(ctx context.Context, g Greeting) error {
	if g.Kind != GreetingWelcome && g.Kind != GreetingGoodbye {
		return fmt.Errorf("unknown greeting kind %q", g.Kind)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wabot_greetings (chat_id, kind, message) VALUES ($1, $2, $3)
		ON CONFLICT (chat_id, kind) DO UPDATE SET message = excluded.message`,
		g.ChatID, g.Kind, g.Message)
	if err != nil {
		return fmt.Errorf("set %s greeting: %w", g.Kind, err)
	}
	return nil
}

// Delete removes the greeting for (chat, kind). Deleting a missing greeting
// is not an error.
func (s *GreetingStore) Delete(ctx context.Context, chatID, kind string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM wabot_greetings WHERE chat_id = $1 AND kind = $2", chatID, kind); err != nil {
		return fmt.Errorf("delete %s greeting: %w", kind, err)
	}
	return nil
}
