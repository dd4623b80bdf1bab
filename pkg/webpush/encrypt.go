package webpush

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// ContentEncoding is the draft Web Push encryption scheme implemented here
	ContentEncoding = "aesgcm"

	saltSize   = 16
	keySize    = 16
	nonceSize  = 12
	prkSize    = 32
	pubKeySize = 65
	padSize    = 2
)

var (
	ErrMissingEndpoint = errors.New("webpush: subscription is missing endpoint")
	ErrIncompleteKeys  = errors.New("webpush: subscription keys are incomplete")
)

// Subscription is the recipient's push endpoint and encryption keys
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     Keys   `json:"keys"`
}

// Keys holds the base64url P-256 public key and auth secret of a subscription
type Keys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Validate checks that the fields needed for a send are present
func (s Subscription) Validate() error {
	if s.Endpoint == "" {
		return ErrMissingEndpoint
	}
	if s.Keys.P256dh == "" || s.Keys.Auth == "" {
		return ErrIncompleteKeys
	}
	return nil
}

// Encrypted is an encrypted message ready to POST
type Encrypted struct {
	// Body is salt || server public key || ciphertext
	Body            []byte
	Salt            []byte
	ServerPublicKey []byte
	Ciphertext      []byte
}

type encryptConfig struct {
	ephemeral *ecdh.PrivateKey
	salt      []byte
	random    io.Reader
}

// EncryptOption customises Encrypt, mainly for reproducible output
type EncryptOption func(*encryptConfig)

// WithEphemeralKey fixes the server key pair instead of generating one
func WithEphemeralKey(key *ecdh.PrivateKey) EncryptOption {
	return func(c *encryptConfig) { c.ephemeral = key }
}

// WithSalt fixes the 16-byte salt instead of generating one
func WithSalt(salt []byte) EncryptOption {
	return func(c *encryptConfig) { c.salt = salt }
}

// WithRandom sets the entropy source for generated keys and salts
func WithRandom(r io.Reader) EncryptOption {
	return func(c *encryptConfig) { c.random = r }
}

// Encrypt seals payload for the subscription using the aesgcm content encoding.
// The plaintext record is a two-byte zero padding length followed by payload.
func Encrypt(sub Subscription, payload []byte, opts ...EncryptOption) (*Encrypted, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	cfg := encryptConfig{random: rand.Reader}
	for _, opt := range opts {
		opt(&cfg)
	}

	clientPub, err := DecodeBase64URL(sub.Keys.P256dh)
	if err != nil {
		return nil, fmt.Errorf("webpush: decode p256dh: %w", err)
	}
	authSecret, err := DecodeBase64URL(sub.Keys.Auth)
	if err != nil {
		return nil, fmt.Errorf("webpush: decode auth: %w", err)
	}
	if len(authSecret) == 0 {
		return nil, ErrIncompleteKeys
	}

	clientKey, err := ecdh.P256().NewPublicKey(clientPub)
	if err != nil {
		return nil, fmt.Errorf("webpush: invalid p256dh key: %w", err)
	}

	serverKey := cfg.ephemeral
	if serverKey == nil {
		serverKey, err = ecdh.P256().GenerateKey(cfg.random)
		if err != nil {
			return nil, fmt.Errorf("webpush: generate ephemeral key: %w", err)
		}
	}
	serverPub := serverKey.PublicKey().Bytes()

	salt := cfg.salt
	if salt == nil {
		salt = make([]byte, saltSize)
		if _, err := io.ReadFull(cfg.random, salt); err != nil {
			return nil, fmt.Errorf("webpush: generate salt: %w", err)
		}
	}
	if len(salt) != saltSize {
		return nil, fmt.Errorf("webpush: salt must be %d bytes", saltSize)
	}

	shared, err := serverKey.ECDH(clientKey)
	if err != nil {
		return nil, fmt.Errorf("webpush: ecdh: %w", err)
	}

	gcm, nonce, err := contentCipher(shared, authSecret, salt, clientPub, serverPub)
	if err != nil {
		return nil, err
	}

	record := make([]byte, padSize+len(payload))
	copy(record[padSize:], payload)
	ciphertext := gcm.Seal(nil, nonce, record, nil)

	body := make([]byte, 0, len(salt)+len(serverPub)+len(ciphertext))
	body = append(body, salt...)
	body = append(body, serverPub...)
	body = append(body, ciphertext...)

	return &Encrypted{
		Body:            body,
		Salt:            salt,
		ServerPublicKey: serverPub,
		Ciphertext:      ciphertext,
	}, nil
}

// Decrypt opens a body produced by Encrypt with the recipient's private key and auth secret
func Decrypt(body []byte, recipient *ecdh.PrivateKey, authSecret []byte) ([]byte, error) {
	if len(body) < saltSize+pubKeySize+padSize {
		return nil, errors.New("webpush: body too short")
	}
	salt := body[:saltSize]
	serverPub := body[saltSize : saltSize+pubKeySize]
	ciphertext := body[saltSize+pubKeySize:]

	serverKey, err := ecdh.P256().NewPublicKey(serverPub)
	if err != nil {
		return nil, fmt.Errorf("webpush: invalid server key: %w", err)
	}
	shared, err := recipient.ECDH(serverKey)
	if err != nil {
		return nil, fmt.Errorf("webpush: ecdh: %w", err)
	}

	gcm, nonce, err := contentCipher(shared, authSecret, salt, recipient.PublicKey().Bytes(), serverPub)
	if err != nil {
		return nil, err
	}

	record, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("webpush: decrypt: %w", err)
	}
	if len(record) < padSize {
		return nil, errors.New("webpush: record too short")
	}
	pad := int(binary.BigEndian.Uint16(record))
	if padSize+pad > len(record) {
		return nil, errors.New("webpush: invalid padding")
	}
	return record[padSize+pad:], nil
}

// contentCipher derives the AES-GCM key and nonce shared by both directions
func contentCipher(shared, authSecret, salt, clientPub, serverPub []byte) (cipher.AEAD, []byte, error) {
	prk, err := hkdfBytes(shared, authSecret, nil, prkSize)
	if err != nil {
		return nil, nil, err
	}
	cek, err := hkdfBytes(prk, salt, buildInfo(ContentEncoding, clientPub, serverPub), keySize)
	if err != nil {
		return nil, nil, err
	}
	nonce, err := hkdfBytes(prk, salt, buildInfo("nonce", clientPub, serverPub), nonceSize)
	if err != nil {
		return nil, nil, err
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	return gcm, nonce, nil
}

func hkdfBytes(secret, salt, info []byte, n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, info), out); err != nil {
		return nil, fmt.Errorf("webpush: hkdf: %w", err)
	}
	return out, nil
}

// buildInfo is "Content-Encoding: <type>\0P-256\0" followed by both public
// keys, each prefixed with its 16-bit big-endian length
func buildInfo(contentType string, clientPub, serverPub []byte) []byte {
	info := make([]byte, 0, 32+len(clientPub)+len(serverPub))
	info = append(info, "Content-Encoding: "+contentType+"\x00"...)
	info = append(info, "P-256\x00"...)
	info = binary.BigEndian.AppendUint16(info, uint16(len(clientPub)))
	info = append(info, clientPub...)
	info = binary.BigEndian.AppendUint16(info, uint16(len(serverPub)))
	info = append(info, serverPub...)
	return info
}
