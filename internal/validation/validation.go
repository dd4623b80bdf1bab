package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"beam/internal/constants"
	"beam/internal/errors"
)

var (
	deviceIDPattern = regexp.MustCompile(`^chr_[A-Za-z0-9]{6,}$`)
	keyHashPattern  = regexp.MustCompile(`^[A-Fa-f0-9]{64}$`)
)

// sentAt layouts tried in order; the first is what clients normally send
var datetimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC850,
	time.ANSIC,
}

// Join merges validation failures into one ERR_VALIDATION error, or returns nil
func Join(errs ...error) error {
	var messages []string
	for _, err := range errs {
		if err == nil {
			continue
		}
		if appErr, ok := errors.As(err); ok {
			messages = append(messages, appErr.Message)
			continue
		}
		messages = append(messages, err.Error())
	}
	if len(messages) == 0 {
		return nil
	}
	return errors.NewValidationError(messages...)
}

// RequiredString decodes a JSON string field that must be non-blank
func RequiredString(raw json.RawMessage, label string) (string, error) {
	var value string
	if len(raw) == 0 || json.Unmarshal(raw, &value) != nil || strings.TrimSpace(value) == "" {
		return "", errors.NewValidationError(fmt.Sprintf("%s must be a non-empty string", label))
	}
	return value, nil
}

// OptionalString decodes a JSON string field; ok is false when it is absent, null or not a string
func OptionalString(raw json.RawMessage) (value string, ok bool) {
	if IsAbsent(raw) {
		return "", false
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false
	}
	return value, true
}

// IsAbsent reports whether a JSON field was omitted or explicitly null
func IsAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// IsObject reports whether raw holds a JSON object (not an array or scalar)
func IsObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	var obj map[string]json.RawMessage
	return json.Unmarshal(trimmed, &obj) == nil
}

// ValidateDeviceID checks the chr_ prefix and alphanumeric body
func ValidateDeviceID(deviceID string) error {
	if !deviceIDPattern.MatchString(deviceID) {
		return errors.NewValidationError("deviceId must start with 'chr_' and contain alphanumerics")
	}
	return nil
}

// IsKeyHash reports whether s is 64 hex characters, in either case
func IsKeyHash(s string) bool {
	return keyHashPattern.MatchString(s)
}

// NormalizeKeyHash validates a SHA-256 hex digest and returns it lower-cased
func NormalizeKeyHash(keyHash string) (string, error) {
	if !keyHashPattern.MatchString(keyHash) {
		return "", errors.NewValidationError("keyHash must be a 64-character hex string (SHA-256)")
	}
	return strings.ToLower(keyHash), nil
}

// NormalizeName trims a display name and truncates it to the maximum length in runes
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) <= constants.MaxDeviceNameLength {
		return name
	}
	runes := []rune(name)
	return string(runes[:constants.MaxDeviceNameLength])
}

// ValidateHTTPURL accepts absolute http and https URLs only
func ValidateHTTPURL(raw string) error {
	invalid := errors.NewValidationError("url must be a valid http/https URL")
	if len(raw) > constants.MaxURLLength {
		return errors.NewValidationError(fmt.Sprintf("url too long (max %d characters)", constants.MaxURLLength))
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return invalid
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalid
	}
	if u.Host == "" {
		return invalid
	}
	return nil
}

// ParseDatetime parses a caller-supplied timestamp and returns it in UTC
func ParseDatetime(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, errors.NewValidationError("sentAt must be a valid datetime string")
	}
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.NewValidationError("sentAt must be a valid datetime string")
}

// ValidateNumericRange validates numeric values against bounds
func ValidateNumericRange(value int, fieldName string, min, max int) error {
	if value < min {
		return errors.New(errors.ErrCodeConfig,
			fmt.Sprintf("%s too small (min %d)", fieldName, min))
	}

	if value > max {
		return errors.New(errors.ErrCodeConfig,
			fmt.Sprintf("%s too large (max %d)", fieldName, max))
	}

	return nil
}

// ValidateTimeout validates timeout values
func ValidateTimeout(timeoutSec int, fieldName string) error {
	if timeoutSec < 1 {
		return errors.New(errors.ErrCodeConfig,
			fmt.Sprintf("%s must be at least 1 second", fieldName))
	}

	if timeoutSec > 3600 { // Max 1 hour
		return errors.New(errors.ErrCodeConfig,
			fmt.Sprintf("%s too large (max 3600 seconds)", fieldName))
	}

	return nil
}

// ValidateRetentionDays validates the pending item retention period
func ValidateRetentionDays(days int) error {
	if days < 1 {
		return errors.New(errors.ErrCodeConfig, "retention days must be at least 1")
	}

	if days > 365 {
		return errors.New(errors.ErrCodeConfig, "retention days too large (max 365)")
	}

	return nil
}
