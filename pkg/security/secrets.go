package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const keySize = 32

// Domain separation for derived keys. Changing either makes existing
// encrypted CA material unreadable.
var (
	keySalt          = []byte("burrow")
	passwordKeyInfo  = []byte("burrow encryption key v1")
	workspaceKeyInfo = []byte("burrow workspace key v1")
)

// SecretsManager seals material kept at rest, such as the CA root key, with
// AES-256-GCM
type SecretsManager struct {
	aead cipher.AEAD
}

// NewSecretsManager creates a secrets manager from a 32 byte key
func NewSecretsManager(key []byte) (*SecretsManager, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("encryption key must be %d bytes for AES-256, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &SecretsManager{aead: aead}, nil
}

// NewSecretsManagerFromPassword derives the key from the configured
// encryption key string
func NewSecretsManagerFromPassword(password string) (*SecretsManager, error) {
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}
	key, err := expand([]byte(password), passwordKeyInfo)
	if err != nil {
		return nil, err
	}
	return NewSecretsManager(key)
}

// EncryptSecret seals plaintext. The nonce is prepended to the result.
func (sm *SecretsManager) EncryptSecret(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("cannot encrypt empty data")
	}

	nonce := make([]byte, sm.aead.NonceSize(), sm.aead.NonceSize()+len(plaintext)+sm.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return sm.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptSecret opens data sealed by EncryptSecret
func (sm *SecretsManager) DecryptSecret(sealed []byte) ([]byte, error) {
	n := sm.aead.NonceSize()
	if len(sealed) <= n {
		return nil, fmt.Errorf("ciphertext too short")
	}

	plaintext, err := sm.aead.Open(nil, sealed[:n], sealed[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// DeriveKey derives a key from a stable identifier such as the workspace id,
// used when no encryption key is configured
func DeriveKey(id string) []byte {
	key, err := expand([]byte(id), workspaceKeyInfo)
	if err != nil {
		// hkdf only fails when asked for more than 255 hashes of output
		panic(err)
	}
	return key
}

func expand(secret, info []byte) ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, keySalt, info), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}
