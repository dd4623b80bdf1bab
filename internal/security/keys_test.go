package security

import (
	"encoding/base64"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashInboxKey(t *testing.T) {
	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", HashInboxKey("abc"))
}

func TestVerifyInboxKey(t *testing.T) {
	hash := HashInboxKey("current-key")

	assert.True(t, VerifyInboxKey("current-key", hash))
	assert.False(t, VerifyInboxKey("old-key", hash))
	assert.False(t, VerifyInboxKey("current-key", ""))
}

func TestGenerateInboxKey(t *testing.T) {
	key, err := GenerateInboxKey()
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(key)
	require.NoError(t, err)
	assert.Len(t, raw, 16)

	other, err := GenerateInboxKey()
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}

func TestGenerateDeviceID(t *testing.T) {
	id, err := GenerateDeviceID()
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^chr_[0-9a-f]{12}$`), id)
}
