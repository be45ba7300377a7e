package whatsapp

import (
	"errors"
	"fmt"

	"github.com/jholhewres/wabot/pkg/wabot/session"

	"go.mau.fi/whatsmeow/proto/waAdv"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/util/keys"
	"google.golang.org/protobuf/proto"
)

// ErrNotPaired means the device has no account identity yet.
var ErrNotPaired = errors.New("device is not paired")

// SnapshotDevice copies the credential state of a linked device into a blob.
func SnapshotDevice(dev *store.Device, browserID string) (*session.Blob, error) {
	if dev == nil || dev.ID == nil {
		return nil, ErrNotPaired
	}
	if dev.NoiseKey == nil || dev.IdentityKey == nil || dev.SignedPreKey == nil {
		return nil, fmt.Errorf("device %s has incomplete key material", dev.ID)
	}

	b := &session.Blob{
		BrowserID:      browserID,
		JID:            dev.ID.String(),
		RegistrationID: dev.RegistrationID,
		NoiseKey:       privateBytes(dev.NoiseKey),
		IdentityKey:    privateBytes(dev.IdentityKey),
		SignedPreKey:   privateBytes(&dev.SignedPreKey.KeyPair),
		SignedPreKeyID: dev.SignedPreKey.KeyID,
		AdvSecretKey:   append([]byte(nil), dev.AdvSecretKey...),
		Platform:       dev.Platform,
		PushName:       dev.PushName,
		BusinessName:   dev.BusinessName,
	}
	if !dev.LID.IsEmpty() {
		b.LID = dev.LID.String()
	}
	if sig := dev.SignedPreKey.Signature; sig != nil {
		b.SignedPreKeySig = append([]byte(nil), sig[:]...)
	}
	if dev.Account != nil {
		account, err := proto.Marshal(dev.Account)
		if err != nil {
			return nil, fmt.Errorf("encoding account identity: %w", err)
		}
		b.Account = account
	}
	return b, nil
}

// ApplyBlob restores the credential state of a blob onto a device. Keys the
// blob does not carry keep the values the device already has.
func ApplyBlob(dev *store.Device, b *session.Blob) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if b.JID == "" {
		return fmt.Errorf("%w: %w", session.ErrInvalidSession, ErrNotPaired)
	}

	jid, err := types.ParseJID(b.JID)
	if err != nil {
		return fmt.Errorf("%w: parsing jid: %w", session.ErrInvalidSession, err)
	}
	dev.ID = &jid

	if b.LID != "" {
		lid, err := types.ParseJID(b.LID)
		if err != nil {
			return fmt.Errorf("%w: parsing lid: %w", session.ErrInvalidSession, err)
		}
		dev.LID = lid
	}

	if b.NoiseKey != nil {
		kp, err := keyPair(b.NoiseKey)
		if err != nil {
			return fmt.Errorf("%w: noise key: %w", session.ErrInvalidSession, err)
		}
		dev.NoiseKey = kp
	}
	if b.IdentityKey != nil {
		kp, err := keyPair(b.IdentityKey)
		if err != nil {
			return fmt.Errorf("%w: identity key: %w", session.ErrInvalidSession, err)
		}
		dev.IdentityKey = kp
	}
	if b.SignedPreKey != nil {
		kp, err := keyPair(b.SignedPreKey)
		if err != nil {
			return fmt.Errorf("%w: signed pre-key: %w", session.ErrInvalidSession, err)
		}
		pk := &keys.PreKey{KeyPair: *kp, KeyID: b.SignedPreKeyID}
		if len(b.SignedPreKeySig) > 0 {
			if len(b.SignedPreKeySig) != 64 {
				return fmt.Errorf("%w: signed pre-key signature has %d bytes", session.ErrInvalidSession, len(b.SignedPreKeySig))
			}
			var sig [64]byte
			copy(sig[:], b.SignedPreKeySig)
			pk.Signature = &sig
		}
		dev.SignedPreKey = pk
	}

	if b.RegistrationID != 0 {
		dev.RegistrationID = b.RegistrationID
	}
	if len(b.AdvSecretKey) > 0 {
		dev.AdvSecretKey = append([]byte(nil), b.AdvSecretKey...)
	}
	if len(b.Account) > 0 {
		account := &waAdv.ADVSignedDeviceIdentity{}
		if err := proto.Unmarshal(b.Account, account); err != nil {
			return fmt.Errorf("%w: decoding account identity: %w", session.ErrInvalidSession, err)
		}
		dev.Account = account
	}

	dev.Platform = b.Platform
	dev.PushName = b.PushName
	dev.BusinessName = b.BusinessName
	return nil
}

func privateBytes(kp *keys.KeyPair) []byte {
	if kp == nil || kp.Priv == nil {
		return nil
	}
	return append([]byte(nil), kp.Priv[:]...)
}

func keyPair(priv []byte) (*keys.KeyPair, error) {
	if len(priv) != 32 {
		return nil, fmt.Errorf("private key has %d bytes, want 32", len(priv))
	}
	var k [32]byte
	copy(k[:], priv)
	return keys.NewKeyPairFromPrivateKey(k), nil
}
