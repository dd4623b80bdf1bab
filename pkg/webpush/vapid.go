package webpush

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingVAPIDKeys is returned when a send is attempted without server credentials
var ErrMissingVAPIDKeys = errors.New("webpush: VAPID keys are required")

// VAPIDKeys is the application server's long-lived P-256 identity
type VAPIDKeys struct {
	// PublicKey is the base64url uncompressed point, as sent in the k= and p256ecdsa= parameters
	PublicKey  string
	privateKey *ecdsa.PrivateKey
}

// ParseVAPIDKeys loads a base64url public point and base64url private scalar.
// The public key must match the private key.
func ParseVAPIDKeys(publicKey, privateKey string) (*VAPIDKeys, error) {
	if publicKey == "" || privateKey == "" {
		return nil, ErrMissingVAPIDKeys
	}

	d, err := DecodeBase64URL(privateKey)
	if err != nil {
		return nil, fmt.Errorf("webpush: decode VAPID private key: %w", err)
	}
	priv, err := ecdsa.ParseRawPrivateKey(elliptic.P256(), d)
	if err != nil {
		return nil, fmt.Errorf("webpush: invalid VAPID private key: %w", err)
	}

	pub, err := DecodeBase64URL(publicKey)
	if err != nil {
		return nil, fmt.Errorf("webpush: decode VAPID public key: %w", err)
	}
	derived, err := priv.PublicKey.Bytes()
	if err != nil {
		return nil, fmt.Errorf("webpush: encode VAPID public key: %w", err)
	}
	if subtle.ConstantTimeCompare(pub, derived) != 1 {
		return nil, errors.New("webpush: VAPID public key does not match private key")
	}

	return &VAPIDKeys{PublicKey: EncodeBase64URL(derived), privateKey: priv}, nil
}

// GenerateVAPIDKeys creates a fresh key pair and returns it with its base64url private scalar
func GenerateVAPIDKeys() (*VAPIDKeys, string, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, "", fmt.Errorf("webpush: generate VAPID key: %w", err)
	}
	d, err := priv.Bytes()
	if err != nil {
		return nil, "", err
	}
	pub, err := priv.PublicKey.Bytes()
	if err != nil {
		return nil, "", err
	}
	return &VAPIDKeys{PublicKey: EncodeBase64URL(pub), privateKey: priv}, EncodeBase64URL(d), nil
}

// Signer returns the private key as a crypto.Signer
func (k *VAPIDKeys) Signer() crypto.Signer {
	return k.privateKey
}

// ECDSAPublicKey returns the public half, for verifying tokens
func (k *VAPIDKeys) ECDSAPublicKey() *ecdsa.PublicKey {
	return &k.privateKey.PublicKey
}

// signingMethodES256DER signs with any crypto.Signer, which produces ASN.1
// DER signatures, and converts them to the 64-byte JWS form
type signingMethodES256DER struct{}

// SigningMethodES256Signer is an ES256 jwt.SigningMethod backed by crypto.Signer.
// It is not registered globally; verification is delegated to jwt.SigningMethodES256.
var SigningMethodES256Signer jwt.SigningMethod = signingMethodES256DER{}

func (signingMethodES256DER) Alg() string {
	return "ES256"
}

func (signingMethodES256DER) Sign(signingString string, key interface{}) ([]byte, error) {
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, jwt.ErrInvalidKeyType
	}
	digest := sha256.Sum256([]byte(signingString))
	der, err := signer.Sign(rand.Reader, digest[:], crypto.SHA256)
	if err != nil {
		return nil, err
	}
	return DERToRaw(der, 32)
}

func (signingMethodES256DER) Verify(signingString string, sig []byte, key interface{}) error {
	return jwt.SigningMethodES256.Verify(signingString, sig, key)
}

// Audience returns the origin (scheme://host[:port]) of a push endpoint
func Audience(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("webpush: invalid endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("webpush: endpoint %q is not absolute", endpoint)
	}
	return u.Scheme + "://" + u.Host, nil
}

// VAPIDToken builds the signed JWT {aud, exp, sub} for an endpoint
func VAPIDToken(keys *VAPIDKeys, endpoint, subject string, expiresAt time.Time) (string, error) {
	if keys == nil || keys.privateKey == nil {
		return "", ErrMissingVAPIDKeys
	}
	aud, err := Audience(endpoint)
	if err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(SigningMethodES256Signer, jwt.MapClaims{
		"aud": aud,
		"exp": expiresAt.Unix(),
		"sub": subject,
	})
	signed, err := token.SignedString(keys.Signer())
	if err != nil {
		return "", fmt.Errorf("webpush: sign VAPID token: %w", err)
	}
	return signed, nil
}

// AuthorizationHeader is the value of the Authorization header for a VAPID token
func AuthorizationHeader(token, publicKey string) string {
	return "vapid t=" + token + ", k=" + publicKey
}
