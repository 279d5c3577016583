// Package crypto seals OAuth tokens at rest with AES-256-GCM. Sealed values are
// base64 text so they fit the existing text columns, and every key carries a
// short fingerprint that is stored next to the value to catch key mismatches.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrKeyMismatch is returned when a value was sealed under a different key.
var ErrKeyMismatch = errors.New("sealed with a different encryption key")

// Sealer encrypts short secrets for text storage.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
	// KeyID identifies the key; it is safe to store and log.
	KeyID() string
}

// AESSealer implements Sealer with AES-256-GCM. The layout is
// base64(nonce || ciphertext || tag).
type AESSealer struct {
	aead  cipher.AEAD
	keyID string
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
	sum := sha256.Sum256(key)
	return &AESSealer{aead: aead, keyID: hex.EncodeToString(sum[:4])}, nil
}

func (s *AESSealer) KeyID() string { return s.keyID }

// Seal returns "" for an empty plaintext so absent tokens stay absent.
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

func (s *AESSealer) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("base64 decode failed: %w", err)
	}
	n := s.aead.NonceSize()
	if len(raw) < n+s.aead.Overhead() {
		return "", fmt.Errorf("ciphertext too short: %d bytes", len(raw))
	}
	plain, err := s.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		// the underlying error carries nothing useful
		return "", fmt.Errorf("decryption failed: authentication or integrity check failed")
	}
	return string(plain), nil
}

// OpenWithKeyID opens a value after checking the stored key id. An empty or
// legacy "default" id skips the check.
func OpenWithKeyID(s Sealer, sealed, keyID string) (string, error) {
	if keyID != "" && keyID != "default" && keyID != s.KeyID() {
		return "", fmt.Errorf("%w: stored %s, configured %s", ErrKeyMismatch, keyID, s.KeyID())
	}
	return s.Open(sealed)
}
