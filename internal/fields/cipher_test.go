package fields_test

import (
	"bytes"
	"testing"

	"github.com/auditmesh/auditmesh/internal/fields"
)

func TestIdentity_passthrough(t *testing.T) {
	c := fields.Identity{}
	in := []byte("plaintext value")

	out, err := c.Seal(in)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, in) {
		t.Errorf("identity cipher must not change the value: %q", out)
	}
}

func TestChaCha20Poly1305_sealsAndKeySize(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	c, err := fields.NewChaCha20Poly1305(key)
	if err != nil {
		t.Fatal(err)
	}

	out, err := c.Seal([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(out, []byte("secret")) {
		t.Error("sealed output must not contain the plaintext")
	}

	if _, err := fields.NewChaCha20Poly1305([]byte("short")); err == nil {
		t.Error("expected error for wrong key size")
	}
}

func TestNewCipher_selection(t *testing.T) {
	c, err := fields.NewCipher("", nil)
	if err != nil {
		t.Fatal(err)
	}
	if c.Name() != "identity" {
		t.Errorf("empty name must select identity, got %q", c.Name())
	}

	c, err = fields.NewCipher("chacha20poly1305", bytes.Repeat([]byte{1}, 32))
	if err != nil {
		t.Fatal(err)
	}
	if c.Name() != "chacha20poly1305" {
		t.Errorf("got %q", c.Name())
	}

	if _, err := fields.NewCipher("rot13", nil); err == nil {
		t.Error("expected error for unknown cipher name")
	}
}
