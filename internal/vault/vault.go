// Package vault seals and opens platform credentials at rest.
package vault

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrCorruptCredential indicates the blob failed authentication: it was
// tampered with, truncated, or sealed under a different key. It is terminal;
// retrying with the same key can never succeed.
var ErrCorruptCredential = errors.New("credential blob failed authentication")

// Vault encrypts credentials with XChaCha20-Poly1305 under a process-wide key
// sourced from configuration. Sealed blobs are opaque byte strings.
type Vault struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
	}
}

// New builds a Vault from a hex- or base64-encoded 32-byte key.
func New(encodedKey string) (*Vault, error) {
	key, err := decodeKey(encodedKey)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return &Vault{aead: aead}, nil
}

func decodeKey(encoded string) ([]byte, error) {
	if key, err := hex.DecodeString(encoded); err == nil && len(key) == chacha20poly1305.KeySize {
		return key, nil
	}
	if key, err := base64.StdEncoding.DecodeString(encoded); err == nil && len(key) == chacha20poly1305.KeySize {
		return key, nil
	}
	return nil, fmt.Errorf("vault key must decode to %d bytes", chacha20poly1305.KeySize)
}

// Seal encrypts plaintext into an opaque blob: nonce || ciphertext || tag.
func (v *Vault) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return v.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a blob produced by Seal. It returns ErrCorruptCredential when
// the authentication tag does not verify.
func (v *Vault) Open(blob []byte) ([]byte, error) {
	nonceSize := v.aead.NonceSize()
	if len(blob) < nonceSize+chacha20poly1305.Overhead {
		return nil, ErrCorruptCredential
	}
	plaintext, err := v.aead.Open(nil, blob[:nonceSize], blob[nonceSize:], nil)
	if err != nil {
		return nil, ErrCorruptCredential
	}
	return plaintext, nil
}
