package session

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	// Prefix marks a wabot string session.
	Prefix = "wabot;;;"

	// Argon2id parameters (OWASP recommended).
	argonTime    = 3
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	argonKeyLen  = 32 // AES-256

	saltLen  = 16
	nonceLen = 12
)

var encoding = base64.RawURLEncoding

// Codec converts credential blobs to and from their string form.
type Codec struct {
	passphrase []byte
}

// NewCodec creates a codec keyed by passphrase. An empty passphrase is
// accepted; the string is then only as safe as the storage it lives in.
func NewCodec(passphrase string) *Codec {
	return &Codec{passphrase: []byte(passphrase)}
}

// Encrypt serializes and encrypts a blob. The blob must be valid.
func (c *Codec) Encrypt(b *Blob) (string, error) {
	if err := b.Validate(); err != nil {
		return "", err
	}

	plaintext, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("marshaling session: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	gcm, err := c.aead(salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(salt)
	buf.Write(nonce)
	buf.Write(gcm.Seal(nil, nonce, plaintext, nil))

	return Prefix + encoding.EncodeToString(buf.Bytes()), nil
}

// Decrypt parses a string session. Any malformed input, wrong passphrase or
// structurally invalid blob yields an error wrapping ErrInvalidSession.
func (c *Codec) Decrypt(s string) (*Blob, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, Prefix) {
		return nil, fmt.Errorf("%w: missing %q prefix", ErrInvalidSession, Prefix)
	}

	raw, err := encoding.DecodeString(strings.TrimPrefix(s, Prefix))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding: %v", ErrInvalidSession, err)
	}
	if len(raw) <= saltLen+nonceLen {
		return nil, fmt.Errorf("%w: too short", ErrInvalidSession)
	}

	salt, nonce, ciphertext := raw[:saltLen], raw[saltLen:saltLen+nonceLen], raw[saltLen+nonceLen:]

	gcm, err := c.aead(salt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decryption failed (wrong key?)", ErrInvalidSession)
	}

	var b Blob
	if err := json.Unmarshal(plaintext, &b); err != nil {
		return nil, fmt.Errorf("%w: parsing: %v", ErrInvalidSession, err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// aead derives the AES key for salt and returns the GCM cipher.
func (c *Codec) aead(salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey(c.passphrase, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, nonceLen)
}
