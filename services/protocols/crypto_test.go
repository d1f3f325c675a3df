package protocols

import (
	"bytes"
	"errors"
	"testing"
)

func TestCredentialRoundTrip(t *testing.T) {
	c, err := NewCredentialCipher("server-secret")
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}

	blob, err := c.Encrypt("p@ssw0rd")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Contains(blob, []byte("p@ssw0rd")) {
		t.Fatal("plaintext leaked into blob")
	}

	plain, err := c.Decrypt(blob)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plain != "p@ssw0rd" {
		t.Fatalf("got %q", plain)
	}
}

func TestCredentialNoncesDiffer(t *testing.T) {
	c, _ := NewCredentialCipher("server-secret")
	a, _ := c.Encrypt("same")
	b, _ := c.Encrypt("same")
	if bytes.Equal(a, b) {
		t.Fatal("two encryptions of the same plaintext must differ")
	}
}

func TestCredentialWrongSecret(t *testing.T) {
	c1, _ := NewCredentialCipher("secret-one")
	c2, _ := NewCredentialCipher("secret-two")

	blob, err := c1.Encrypt("password")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := c2.Decrypt(blob); !errors.Is(err, ErrCredentialDecrypt) {
		t.Fatalf("expected ErrCredentialDecrypt, got %v", err)
	}
}

func TestCredentialTruncatedBlob(t *testing.T) {
	c, _ := NewCredentialCipher("secret")
	if _, err := c.Decrypt([]byte{0x01, 0x02}); !errors.Is(err, ErrCredentialDecrypt) {
		t.Fatalf("expected ErrCredentialDecrypt, got %v", err)
	}
}
