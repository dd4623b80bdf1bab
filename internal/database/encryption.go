package database

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"beam/internal/constants"

	"golang.org/x/crypto/pbkdf2"
)

// MinSecretLength is the shortest accepted at-rest encryption secret
const MinSecretLength = 32

// Encryptor seals stored values with AES-256-GCM. A nil gcm passes values through.
type Encryptor struct {
	gcm cipher.AEAD
}

// NewEncryptor derives the value key from secret. An empty secret disables encryption.
func NewEncryptor(secret string) (*Encryptor, error) {
	if secret == "" {
		return &Encryptor{}, nil
	}

	key, err := deriveKey(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Encryptor{gcm: gcm}, nil
}

// Enabled reports whether values are encrypted
func (e *Encryptor) Enabled() bool {
	return e != nil && e.gcm != nil
}

// Seal encrypts plaintext, binding it to key so a value cannot be moved to another key
func (e *Encryptor) Seal(key string, plaintext []byte) ([]byte, error) {
	if !e.Enabled() {
		return plaintext, nil
	}

	nonce := make([]byte, constants.EncryptionNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, len(nonce)+len(plaintext)+e.gcm.Overhead())
	out = append(out, nonce...)
	return e.gcm.Seal(out, nonce, plaintext, []byte(key)), nil
}

// Open reverses Seal
func (e *Encryptor) Open(key string, sealed []byte) ([]byte, error) {
	if !e.Enabled() {
		return sealed, nil
	}

	if len(sealed) < constants.EncryptionNonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := sealed[:constants.EncryptionNonceSize], sealed[constants.EncryptionNonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}

func deriveKey(secret string) ([]byte, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("encryption secret must be at least %d characters long", MinSecretLength)
	}

	salt := []byte(constants.EncryptionSalt)
	return pbkdf2.Key([]byte(secret), salt, constants.EncryptionIterations, constants.EncryptionKeySize, sha256.New), nil
}
