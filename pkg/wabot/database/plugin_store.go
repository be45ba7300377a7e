package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPluginExists is returned when adding a record whose name is taken.
	ErrPluginExists = errors.New("plugin already registered")

	// ErrPluginNotFound is returned when a record does not exist.
	ErrPluginNotFound = errors.New("plugin not registered")
)

// PluginRecord is a remotely hosted plugin the registry fetches when its
// local file is missing.
type PluginRecord struct {
	Name string
	URL  string

	// SHA256 is the optional hex digest the fetched artifact must match.
	SHA256 string
}

// PluginStore manages wabot_plugins rows.
type PluginStore struct {
	db *sql.DB
}

// NewPluginStore wraps an open handle.
func NewPluginStore(db *sql.DB) *PluginStore {
	return &PluginStore{db: db}
}

// List returns every record in registration order.
func (s *PluginStore) List(ctx context.Context) ([]PluginRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, url, sha256 FROM wabot_plugins ORDER BY created_at, name")
	if err != nil {
		return nil, fmt.Errorf("list plugins: %w", err)
	}
	defer rows.Close()

	var out []PluginRecord
	for rows.Next() {
		var r PluginRecord
		if err := rows.Scan(&r.Name, &r.URL, &r.SHA256); err != nil {
			return nil, fmt.Errorf("scan plugin: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get returns the record registered under name.
func (s *PluginStore) Get(ctx context.Context, name string) (PluginRecord, error) {
	r := PluginRecord{Name: name}
	err := s.db.QueryRowContext(ctx,
		"SELECT url, sha256 FROM wabot_plugins WHERE name = $1", name).Scan(&r.URL, &r.SHA256)
	if errors.Is(err, sql.ErrNoRows) {
		return PluginRecord{}, fmt.Errorf("%w: %s", ErrPluginNotFound, name)
	}
	if err != nil {
		return PluginRecord{}, fmt.Errorf("get plugin %s: %w", name, err)
	}
	return r, nil
}

// Add registers a new record.
func (s *PluginStore) Add(ctx context.Context, r PluginRecord) error {
	if r.Name == "" || r.URL == "" {
		return fmt.Errorf("add plugin: name and url are required")
	}
	if _, err := s.Get(ctx, r.Name); err == nil {
		return fmt.Errorf("%w: %s", ErrPluginExists, r.Name)
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO wabot_plugins (name, url, sha256, created_at) VALUES ($1, $2, $3, $4)",
		r.Name, r.URL, strings.ToLower(r.SHA256), now())
	if err != nil {
		return fmt.Errorf("add plugin %s: %w", r.Name, err)
	}
	return nil
}

// Remove deletes the record registered under name.
func (s *PluginStore) Remove(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM wabot_plugins WHERE name = $1", name)
	if err != nil {
		return fmt.Errorf("remove plugin %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, name)
	}
	return nil
}
