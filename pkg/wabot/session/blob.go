// Package session recovers and persists the logged-in WhatsApp identity as a
// portable encrypted string ("string session"). The string is encrypted with
// AES-256-GCM using a key derived from a passphrase via Argon2id, so a leaked
// database row or config value is useless without the passphrase.
package session

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidSession means no usable credential blob could be recovered. It is
// fatal at startup: the bot never connects without an identity.
var ErrInvalidSession = errors.New("invalid session")

// Blob is the credential state needed to resume a linked device without
// pairing again. Key material is stored as raw private key bytes; Account is
// the protobuf-encoded signed device identity.
type Blob struct {
	// BrowserID identifies this linked-device installation. Required.
	BrowserID string `json:"browser_id"`

	JID string `json:"jid,omitempty"`
	LID string `json:"lid,omitempty"`

	RegistrationID uint32 `json:"registration_id,omitempty"`

	NoiseKey        []byte `json:"noise_key,omitempty"`
	IdentityKey     []byte `json:"identity_key,omitempty"`
	SignedPreKey    []byte `json:"signed_pre_key,omitempty"`
	SignedPreKeyID  uint32 `json:"signed_pre_key_id,omitempty"`
	SignedPreKeySig []byte `json:"signed_pre_key_sig,omitempty"`
	AdvSecretKey    []byte `json:"adv_secret_key,omitempty"`
	Account         []byte `json:"account,omitempty"`

	Platform     string `json:"platform,omitempty"`
	PushName     string `json:"push_name,omitempty"`
	BusinessName string `json:"business_name,omitempty"`
}

// Validate checks the structural invariant of a blob.
func (b *Blob) Validate() error {
	if b == nil {
		return fmt.Errorf("%w: empty blob", ErrInvalidSession)
	}
	if b.BrowserID == "" {
		return fmt.Errorf("%w: missing browser id", ErrInvalidSession)
	}
	return nil
}

// NewBrowserID returns a fresh installation identifier.
func NewBrowserID() string {
	return uuid.NewString()
}
