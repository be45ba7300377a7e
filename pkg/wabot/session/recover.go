package session

import (
	"context"
	"fmt"
	"strings"
)

// Store persists the encrypted session string.
type Store interface {
	// LoadSession returns the most recently persisted value and whether one exists.
	LoadSession(ctx context.Context) (string, bool, error)

	// SaveSession replaces the persisted value.
	SaveSession(ctx context.Context, value string) error
}

// Source tells where a recovered session came from.
type Source string

const (
	SourceStorage  Source = "storage"
	SourceFallback Source = "config"
)

// Recover picks the ciphertext to decrypt: the persisted value when storage
// has one, otherwise the configured fallback. No retry is attempted.
func Recover(ctx context.Context, store Store, fallback string, codec *Codec) (*Blob, Source, error) {
	value, ok, err := store.LoadSession(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("loading persisted session: %w", err)
	}

	source := SourceStorage
	if !ok {
		value = fallback
		source = SourceFallback
	}
	if strings.TrimSpace(value) == "" {
		return nil, "", fmt.Errorf("%w: no session in storage and none configured", ErrInvalidSession)
	}

	blob, err := codec.Decrypt(value)
	if err != nil {
		return nil, "", fmt.Errorf("decrypting %s session: %w", source, err)
	}
	return blob, source, nil
}

// Persist encrypts the blob and writes it to storage.
func Persist(ctx context.Context, store Store, codec *Codec, b *Blob) error {
	value, err := codec.Encrypt(b)
	if err != nil {
		return fmt.Errorf("encrypting session: %w", err)
	}
	if err := store.SaveSession(ctx, value); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}
