package session

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func testBlob() *Blob {
	return &Blob{
		BrowserID:       "f3b1a2c4-0000-4000-8000-000000000001",
		JID:             "905551112233:7@s.whatsapp.net",
		RegistrationID:  12345,
		NoiseKey:        []byte{1, 2, 3, 4},
		IdentityKey:     []byte{5, 6, 7, 8},
		SignedPreKey:    []byte{9, 10},
		SignedPreKeyID:  1,
		SignedPreKeySig: []byte{11, 12},
		AdvSecretKey:    []byte{13, 14},
		Account:         []byte{15},
		Platform:        "android",
		PushName:        "bot",
	}
}

func TestCodecRoundTrip(t *testing.T) {
	c := NewCodec("correct horse")

	t.Run("decrypt inverts encrypt", func(t *testing.T) {
		in := testBlob()
		s, err := c.Encrypt(in)
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		if !strings.HasPrefix(s, Prefix) {
			t.Errorf("expected prefix %q, got %q", Prefix, s[:10])
		}

		out, err := c.Decrypt(s)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if !reflect.DeepEqual(in, out) {
			t.Errorf("round trip mismatch:\n in=%+v\nout=%+v", in, out)
		}
	})

	t.Run("minimal blob", func(t *testing.T) {
		in := &Blob{BrowserID: "only-id"}
		s, err := c.Encrypt(in)
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		out, err := c.Decrypt(s)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if !reflect.DeepEqual(in, out) {
			t.Errorf("round trip mismatch: %+v vs %+v", in, out)
		}
	})

	t.Run("decrypt is deterministic", func(t *testing.T) {
		s, err := c.Encrypt(testBlob())
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		a, errA := c.Decrypt(s)
		b, errB := c.Decrypt(s)
		if errA != nil || errB != nil {
			t.Fatalf("Decrypt errors: %v, %v", errA, errB)
		}
		if !reflect.DeepEqual(a, b) {
			t.Error("two decryptions of the same string differ")
		}
	})

	t.Run("surrounding whitespace is tolerated", func(t *testing.T) {
		s, _ := c.Encrypt(testBlob())
		if _, err := c.Decrypt("  " + s + "\n"); err != nil {
			t.Errorf("Decrypt with whitespace: %v", err)
		}
	})
}

func TestCodecInvalidSession(t *testing.T) {
	c := NewCodec("secret")
	valid, err := c.Encrypt(testBlob())
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	cases := map[string]string{
		"empty":          "",
		"no prefix":      "not-a-session",
		"bad base64":     Prefix + "!!!***",
		"too short":      Prefix + encoding.EncodeToString([]byte("short")),
		"truncated":      valid[:len(valid)-6],
		"other prefix":   strings.Replace(valid, Prefix, "Asena;;;", 1),
		"tampered bytes": valid[:len(valid)-2] + flip(valid[len(valid)-2:]),
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := c.Decrypt(in)
			if !errors.Is(err, ErrInvalidSession) {
				t.Errorf("expected ErrInvalidSession, got %v", err)
			}
		})
	}

	t.Run("wrong passphrase", func(t *testing.T) {
		_, err := NewCodec("other").Decrypt(valid)
		if !errors.Is(err, ErrInvalidSession) {
			t.Errorf("expected ErrInvalidSession, got %v", err)
		}
	})

	t.Run("missing browser id", func(t *testing.T) {
		s := encryptRaw(t, c, map[string]any{"jid": "1@s.whatsapp.net"})
		_, err := c.Decrypt(s)
		if !errors.Is(err, ErrInvalidSession) {
			t.Errorf("expected ErrInvalidSession, got %v", err)
		}
	})

	t.Run("encrypt rejects invalid blob", func(t *testing.T) {
		if _, err := c.Encrypt(&Blob{}); !errors.Is(err, ErrInvalidSession) {
			t.Errorf("expected ErrInvalidSession, got %v", err)
		}
		if _, err := c.Encrypt(nil); !errors.Is(err, ErrInvalidSession) {
			t.Errorf("expected ErrInvalidSession for nil, got %v", err)
		}
	})
}

// encryptRaw seals arbitrary JSON, bypassing blob validation.
func encryptRaw(t *testing.T, c *Codec, v any) string {
	t.Helper()
	plaintext, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	salt := make([]byte, saltLen)
	nonce := make([]byte, nonceLen)
	gcm, err := c.aead(salt)
	if err != nil {
		t.Fatal(err)
	}
	raw := append(append(salt, nonce...), gcm.Seal(nil, nonce, plaintext, nil)...)
	return Prefix + encoding.EncodeToString(raw)
}

// flip changes the characters of a base64 tail so the ciphertext no longer
// authenticates.
func flip(s string) string {
	out := []byte(s)
	for i, ch := range out {
		if ch == 'A' {
			out[i] = 'B'
		} else {
			out[i] = 'A'
		}
	}
	return string(out)
}
