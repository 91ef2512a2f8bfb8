// Package crypto seals secrets stored next to race records, such as bingo room
// passwords, using AES-256-GCM. Sealed values carry a version prefix so rows
// written before a key was configured can still be read.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const sealedPrefix = "v1:"

// ErrNoKey is returned when a sealed value is read without a configured key.
var ErrNoKey = errors.New("value is sealed but ENCRYPTION_KEY is not configured")

// Sealer encrypts short strings for text columns. The binding argument is
// authenticated but not stored, so a value sealed for one room cannot be
// replayed into another row.
type Sealer interface {
	Seal(plaintext, binding string) (string, error)
	Open(stored, binding string) (string, error)
}

// AESSealer implements Sealer with AES-256-GCM.
type AESSealer struct {
	aead cipher.AEAD
}

// NewAESSealer builds a sealer from a base64-encoded 32-byte key
// (openssl rand -base64 32).
func NewAESSealer(base64Key string) (*AESSealer, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: base64 decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be 32 bytes (256 bits), got %d bytes", len(key))
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

// Seal returns "v1:" + base64(nonce || ciphertext || tag). Empty input stays empty.
func (s *AESSealer) Seal(plaintext, binding string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), []byte(binding))
	return sealedPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Values without the version prefix are returned as stored.
func (s *AESSealer) Open(stored, binding string) (string, error) {
	if !IsSealed(stored) {
		return stored, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("base64 decode failed: %w", err)
	}
	n := s.aead.NonceSize()
	if len(raw) < n+s.aead.Overhead() {
		return "", fmt.Errorf("ciphertext too short: got %d bytes", len(raw))
	}
	plain, err := s.aead.Open(nil, raw[:n], raw[n:], []byte(binding))
	if err != nil {
		return "", fmt.Errorf("decryption failed: authentication or integrity check failed")
	}
	return string(plain), nil
}

// Plaintext stores values as given. Used when no key is configured.
type Plaintext struct{}

func (Plaintext) Seal(plaintext, _ string) (string, error) { return plaintext, nil }

func (Plaintext) Open(stored, _ string) (string, error) {
	if IsSealed(stored) {
		return "", ErrNoKey
	}
	return stored, nil
}

// IsSealed reports whether stored carries the sealed-value prefix.
func IsSealed(stored string) bool { return strings.HasPrefix(stored, sealedPrefix) }

// FromKey returns an AESSealer for a non-empty key and Plaintext otherwise.
func FromKey(base64Key string) (Sealer, error) {
	if base64Key == "" {
		return Plaintext{}, nil
	}
	return NewAESSealer(base64Key)
}
