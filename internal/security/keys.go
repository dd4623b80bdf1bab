package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"beam/internal/constants"
)

const (
	inboxKeyBytes = 16
	deviceIDBytes = 6
)

// HashInboxKey returns the lowercase SHA-256 hex digest stored server-side for a raw inbox key
func HashInboxKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// VerifyInboxKey hashes rawKey and compares it to keyHash in constant time
func VerifyInboxKey(rawKey, keyHash string) bool {
	computed := HashInboxKey(rawKey)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(keyHash)) == 1
}

// GenerateInboxKey returns a fresh base64url (unpadded) inbox key
func GenerateInboxKey() (string, error) {
	buf := make([]byte, inboxKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate inbox key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GenerateDeviceID returns a chr_ prefixed identifier with a random hex body
func GenerateDeviceID() (string, error) {
	buf := make([]byte, deviceIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate device id: %w", err)
	}
	return constants.DeviceIDPrefix + hex.EncodeToString(buf), nil
}
