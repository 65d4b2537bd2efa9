// Package crypto seals secrets at rest (stored OAuth tokens) with AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrOpen is returned when a sealed value fails authentication.
var ErrOpen = errors.New("sealed value failed authentication")

// Sealer encrypts and decrypts short strings.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// AESSealer implements Sealer with AES-256-GCM. Output is base64(nonce || ciphertext || tag).
type AESSealer struct {
	aead cipher.AEAD
}

// NewAESSealer builds a sealer from a base64-encoded 32-byte key
// (generate one with: openssl rand -base64 32).
func NewAESSealer(base64Key string) (*AESSealer, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &AESSealer{aead: aead}, nil
}

// Seal encrypts plaintext. The empty string seals to the empty string.
func (s *AESSealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func (s *AESSealer) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	n := s.aead.NonceSize()
	if len(raw) < n {
		return "", fmt.Errorf("%w: too short", ErrOpen)
	}
	plain, err := s.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", ErrOpen
	}
	return string(plain), nil
}
