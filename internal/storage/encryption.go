package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const keyDerivationInfo = "ai-gateway credential encryption v1"

// Encryption seals API keys at rest with AES-256-GCM. Every ciphertext is
// bound to associated data naming its owner and provider, so a row copied
// to another owner no longer opens.
type Encryption struct {
	aead cipher.AEAD
}

// NewEncryption builds an Encryption from a raw AES key of 16, 24 or 32 bytes.
func NewEncryption(key []byte) (*Encryption, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("encryption key must be 16, 24 or 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Encryption{aead: aead}, nil
}

// NewEncryptionFromSecret takes ENCRYPTION_KEY as configured: 64 hex
// characters are used as the key itself, anything else is a passphrase
// stretched with HKDF-SHA256.
func NewEncryptionFromSecret(secret string) (*Encryption, error) {
	if secret == "" {
		return nil, errors.New("encryption key cannot be empty")
	}
	if len(secret) == 64 {
		if key, err := hex.DecodeString(secret); err == nil {
			return NewEncryption(key)
		}
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyDerivationInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return NewEncryption(key)
}

// GenerateKey returns a random 32-byte key in the hex form ENCRYPTION_KEY
// accepts.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// EncryptString seals secret and returns base64(nonce || ciphertext).
func (e *Encryption) EncryptString(secret string, associatedData []byte) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(secret), associatedData)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString opens a value produced by EncryptString with the same
// associated data.
func (e *Encryption) DecryptString(encoded string, associatedData []byte) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("ciphertext is not base64: %w", err)
	}
	n := e.aead.NonceSize()
	if len(raw) < n+e.aead.Overhead() {
		return "", errors.New("ciphertext too short")
	}
	plain, err := e.aead.Open(nil, raw[:n], raw[n:], associatedData)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plain), nil
}
