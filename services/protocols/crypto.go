package protocols

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Source credentials are stored reversibly: the server must be able to
// reconnect later, so a one-way hash is useless here. The blob layout is
// nonce || AES-256-GCM ciphertext, keyed off the server secret.

var credentialSalt = []byte("lunastream.source.credential.v1")

// ErrCredentialDecrypt means the blob was produced under a different server
// secret or is corrupt.
var ErrCredentialDecrypt = errors.New("credential decryption failed")

// CredentialCipher encrypts and decrypts source passwords.
type CredentialCipher struct {
	aead cipher.AEAD
}

// NewCredentialCipher derives the encryption key from the server secret.
func NewCredentialCipher(serverSecret string) (*CredentialCipher, error) {
	key := pbkdf2.Key([]byte(serverSecret), credentialSalt, 4096, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init credential cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init credential cipher: %w", err)
	}
	return &CredentialCipher{aead: aead}, nil
}

// Encrypt seals a plaintext password into a storable blob.
func (c *CredentialCipher) Encrypt(plaintext string) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Decrypt opens a stored blob. The plaintext must never be logged.
func (c *CredentialCipher) Decrypt(blob []byte) (string, error) {
	if len(blob) < c.aead.NonceSize() {
		return "", ErrCredentialDecrypt
	}
	nonce, ciphertext := blob[:c.aead.NonceSize()], blob[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrCredentialDecrypt
	}
	return string(plaintext), nil
}
