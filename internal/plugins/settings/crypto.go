package settings

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// sealedPrefix marks an encrypted value. Values without it are read as
// plaintext so rows written before encryption keep working.
const sealedPrefix = "enc:v1:"

// errSealed is returned when a sealed value cannot be opened, usually
// because SECRET_KEY changed.
var errSealed = errors.New("stored secret cannot be decrypted")

// cipherBox encrypts short secrets with AES-256-GCM.
type cipherBox struct {
	aead cipher.AEAD
}

// newCipherBox derives a 32-byte AES-256 key from the application secret.
// Uses SHA-256 so any length secret works consistently.
func newCipherBox(secret string) (*cipherBox, error) {
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &cipherBox{aead: gcm}, nil
}

// seal encrypts plaintext. The nonce is prepended to the ciphertext:
// [nonce][ciphertext+tag], base64 encoded behind sealedPrefix. The empty
// string stays empty.
func (b *cipherBox) seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// open reverses seal.
func (b *cipherBox) open(stored string) (string, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		return stored, nil
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", errSealed, err)
	}
	n := b.aead.NonceSize()
	if len(raw) < n {
		return "", fmt.Errorf("%w: ciphertext too short", errSealed)
	}
	plaintext, err := b.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errSealed, err)
	}
	return string(plaintext), nil
}
