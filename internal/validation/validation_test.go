package validation

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	apperrors "beam/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDeviceID(t *testing.T) {
	tests := []struct {
		name        string
		deviceID    string
		expectError bool
	}{
		{name: "valid hex body", deviceID: "chr_a1b2c3d4e5f6"},
		{name: "minimum length", deviceID: "chr_abcdef"},
		{name: "mixed case", deviceID: "chr_AbCdEf12"},
		{name: "too short", deviceID: "chr_abc", expectError: true},
		{name: "wrong prefix", deviceID: "dev_abcdef", expectError: true},
		{name: "dash in body", deviceID: "chr_abc-def", expectError: true},
		{name: "empty", deviceID: "", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDeviceID(tt.deviceID)
			if tt.expectError {
				require.Error(t, err)
				assert.True(t, apperrors.Is(err, apperrors.ErrCodeValidation))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNormalizeKeyHash(t *testing.T) {
	upper := strings.Repeat("AB", 32)

	got, err := NormalizeKeyHash(upper)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("ab", 32), got)

	_, err = NormalizeKeyHash(strings.Repeat("a", 63))
	assert.Error(t, err)

	_, err = NormalizeKeyHash(strings.Repeat("g", 64))
	assert.Error(t, err)
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "Laptop", NormalizeName("  Laptop \n"))

	long := strings.Repeat("é", 200)
	got := NormalizeName(long)
	assert.Equal(t, 120, len([]rune(got)))
}

func TestValidateHTTPURL(t *testing.T) {
	tests := []struct {
		url   string
		valid bool
	}{
		{"https://example.com/a?b=c", true},
		{"http://localhost:8080", true},
		{"ftp://example.com", false},
		{"javascript:alert(1)", false},
		{"example.com", false},
		{"https://", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := ValidateHTTPURL(tt.url)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}

	assert.Error(t, ValidateHTTPURL("https://example.com/"+strings.Repeat("a", 9000)))
}

func TestParseDatetime(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Time
	}{
		{"2024-05-01T10:00:00Z", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"2024-05-01T10:00:00.123Z", time.Date(2024, 5, 1, 10, 0, 0, 123000000, time.UTC)},
		{"2024-05-01T12:00:00+02:00", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"2024-05-01", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		{"Wed, 01 May 2024 10:00:00 GMT", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDatetime(tt.input)
			require.NoError(t, err)
			assert.True(t, tt.expected.Equal(got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}

	_, err := ParseDatetime("yesterday")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sentAt must be a valid datetime string")

	_, err = ParseDatetime("   ")
	assert.Error(t, err)
}

func TestRequiredString(t *testing.T) {
	got, err := RequiredString(json.RawMessage(`"Desk"`), "name")
	require.NoError(t, err)
	assert.Equal(t, "Desk", got)

	for _, raw := range []string{``, `null`, `"  "`, `42`, `{}`} {
		_, err := RequiredString(json.RawMessage(raw), "name")
		require.Error(t, err, raw)
		appErr, ok := apperrors.As(err)
		require.True(t, ok)
		assert.Equal(t, "name must be a non-empty string", appErr.Message)
	}
}

func TestIsObject(t *testing.T) {
	assert.True(t, IsObject(json.RawMessage(`{"endpoint":"https://push.example"}`)))
	assert.True(t, IsObject(json.RawMessage(` {} `)))
	assert.False(t, IsObject(json.RawMessage(`[]`)))
	assert.False(t, IsObject(json.RawMessage(`"x"`)))
	assert.False(t, IsObject(json.RawMessage(`null`)))
	assert.False(t, IsObject(nil))
}

func TestOptionalString(t *testing.T) {
	v, ok := OptionalString(json.RawMessage(`"x"`))
	assert.True(t, ok)
	assert.Equal(t, "x", v)

	_, ok = OptionalString(json.RawMessage(`null`))
	assert.False(t, ok)

	_, ok = OptionalString(json.RawMessage(`12`))
	assert.False(t, ok)
}

func TestJoin(t *testing.T) {
	assert.NoError(t, Join(nil, nil))

	err := Join(
		ValidateDeviceID("bad"),
		nil,
		errors.New("subscription must be an object"),
	)
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeValidation, appErr.Code)
	assert.Equal(t, "deviceId must start with 'chr_' and contain alphanumerics; subscription must be an object", appErr.Message)
}

func TestValidateNumericRange(t *testing.T) {
	assert.NoError(t, ValidateNumericRange(5, "limit", 1, 10))
	assert.Error(t, ValidateNumericRange(0, "limit", 1, 10))
	assert.Error(t, ValidateNumericRange(11, "limit", 1, 10))
}

func TestValidateRetentionDays(t *testing.T) {
	assert.NoError(t, ValidateRetentionDays(7))
	assert.Error(t, ValidateRetentionDays(0))
	assert.Error(t, ValidateRetentionDays(366))
}
