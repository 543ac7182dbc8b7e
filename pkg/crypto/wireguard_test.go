package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPair(t *testing.T) {
	pair, err := GenerateKeyPair()
	require.NoError(t, err)

	assert.True(t, IsValidKey(pair.PrivateKey))
	assert.True(t, IsValidKey(pair.PublicKey))
	assert.NotEqual(t, pair.PrivateKey, pair.PublicKey)
}

func TestGenerateKeyPairIsUnique(t *testing.T) {
	a, err := GenerateKeyPair()
	require.NoError(t, err)
	b, err := GenerateKeyPair()
	require.NoError(t, err)

	assert.NotEqual(t, a.PrivateKey, b.PrivateKey)
}

func TestDerivePublicKey(t *testing.T) {
	pair, err := GenerateKeyPair()
	require.NoError(t, err)

	derived, err := DerivePublicKey(pair.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, pair.PublicKey, derived)

	// Derivation is deterministic
	again, err := DerivePublicKey(pair.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, derived, again)
}

func TestDerivePublicKeyRejectsBadInput(t *testing.T) {
	_, err := DerivePublicKey("not base64!!!")
	assert.Error(t, err)

	_, err = DerivePublicKey("c2hvcnQ=")
	assert.Error(t, err, "short keys must be rejected")
}

func TestIsValidKey(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		valid bool
	}{
		{"valid 32-byte key", "QUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUE=", true},
		{"empty", "", false},
		{"too short", "QUFBQQ==", false},
		{"right length wrong charset", strings.Repeat("!", 44), false},
		{"too long", strings.Repeat("A", 43) + "==", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.valid, IsValidKey(tc.key))
		})
	}
}
