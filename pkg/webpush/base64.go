package webpush

import (
	"encoding/base64"
	"strings"
)

// EncodeBase64URL encodes with the URL-safe alphabet and no padding
func EncodeBase64URL(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeBase64URL accepts URL-safe or standard base64, padded or not
func DecodeBase64URL(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, "=")
	s = strings.NewReplacer("+", "-", "/", "_").Replace(s)
	return base64.RawURLEncoding.DecodeString(s)
}
