package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SessionKey is the wabot_info key of the encrypted credential row.
const SessionKey = "StringSession"

// timeLayout sorts lexically in UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func now() string {
	return time.Now().UTC().Format(timeLayout)
}

// SessionStore persists the encrypted session string. It satisfies
// session.Store.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore wraps an open handle.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

// LoadSession returns the most recently written session value. ok is false
// when no row exists.
func (s *SessionStore) LoadSession(ctx context.Context) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM wabot_info WHERE info = $1 ORDER BY updated_at DESC LIMIT 1",
		SessionKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load session: %w", err)
	}
	return value, true, nil
}

// SaveSession overwrites the session row, creating it on first use.
func (s *SessionStore) SaveSession(ctx context.Context, value string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE wabot_info SET value = $1, updated_at = $2 WHERE info = $3",
		value, now(), SessionKey)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO wabot_info (info, value, updated_at) VALUES ($1, $2, $3)",
			SessionKey, value, now()); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
	}
	return tx.Commit()
}
