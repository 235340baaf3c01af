package fields

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher transforms a rendered field value before it is digested. The ledger
// stores digests either way; the cipher only controls what the digest is a
// digest of.
type Cipher interface {
	Seal(plaintext []byte) ([]byte, error)
	Name() string
}

// NewCipher returns the cipher selected by name: "identity" (or empty) for
// the passthrough, "chacha20poly1305" for the AEAD cipher keyed by key.
func NewCipher(name string, key []byte) (Cipher, error) {
	switch name {
	case "", "identity":
		return Identity{}, nil
	case "chacha20poly1305":
		return NewChaCha20Poly1305(key)
	default:
		return nil, fmt.Errorf("unknown cipher %q", name)
	}
}

// Identity is the no-op passthrough cipher. It is the default.
type Identity struct{}

// Seal returns plaintext unchanged.
func (Identity) Seal(plaintext []byte) ([]byte, error) { return plaintext, nil }

// Name implements Cipher.
func (Identity) Name() string { return "identity" }

// ChaCha20Poly1305 seals field values with the ChaCha20-Poly1305 AEAD under
// a fixed key, prefixing each sealed value with its random nonce.
type ChaCha20Poly1305 struct {
	key []byte
}

// NewChaCha20Poly1305 creates the AEAD cipher. key must be exactly 32 bytes.
func NewChaCha20Poly1305(key []byte) (*ChaCha20Poly1305, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("cipher key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &ChaCha20Poly1305{key: k}, nil
}

// Seal implements Cipher.
func (c *ChaCha20Poly1305) Seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(c.key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("draw cipher nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Name implements Cipher.
func (*ChaCha20Poly1305) Name() string { return "chacha20poly1305" }
