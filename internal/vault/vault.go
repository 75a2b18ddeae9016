// Package vault implements the secrets encryption-at-rest primitive (C2):
// authenticated symmetric encryption of environment secret values before
// they are persisted, using a process-wide master key.
package vault

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

const keySize = chacha20poly1305.KeySize // 32 bytes

// Vault encrypts and decrypts secret values with ChaCha20-Poly1305, storing
// nonce || ciphertext+tag as a base64 string.
type Vault struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
	}
}

// New creates a Vault from a 32-byte key. Use GenerateKey or DecodeKey to
// produce one from configuration.
func New(key []byte) (*Vault, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("vault key must be %d bytes, got %d", keySize, len(key))
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("creating AEAD: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// GenerateKey returns a fresh random 32-byte key, for dev-mode bootstrapping
// when no SANDBOXD_SECRETS_MASTER_KEY is configured.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating vault key: %w", err)
	}
	return key, nil
}

// DecodeKey decodes a base64-encoded master key from configuration.
func DecodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding vault key: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("vault key must decode to %d bytes, got %d", keySize, len(key))
	}
	return key, nil
}

// Encrypt encrypts plaintext and returns a base64-encoded nonce||ciphertext.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt.
func (v *Vault) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}

	nonceSize := v.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypting: %w", err)
	}
	return string(plaintext), nil
}

// EncryptMap encrypts every value in a plaintext secrets map.
func (v *Vault) EncryptMap(secrets map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(secrets))
	for k, val := range secrets {
		enc, err := v.Encrypt(val)
		if err != nil {
			return nil, fmt.Errorf("encrypting secret %q: %w", k, err)
		}
		out[k] = enc
	}
	return out, nil
}

// DecryptMap decrypts every value in an encrypted secrets map.
func (v *Vault) DecryptMap(encrypted map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(encrypted))
	for k, val := range encrypted {
		dec, err := v.Decrypt(val)
		if err != nil {
			return nil, fmt.Errorf("decrypting secret %q: %w", k, err)
		}
		out[k] = dec
	}
	return out, nil
}
