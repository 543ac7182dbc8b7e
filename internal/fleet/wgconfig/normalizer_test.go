package wgconfig

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/backend"
	domerrors "github.com/pochtmanr/dopplerland-fleet/internal/shared/errors"
)

func TestNormalizeFieldForm(t *testing.T) {
	resp := backend.PeerCreationResponse{
		PrivateKey:   "priv==",
		PublicKey:    "pub==",
		ClientIP:     "10.8.0.7",
		ServerPubkey: "server-pub==",
		Endpoint:     "203.0.113.10:51820",
		DNS:          "9.9.9.9",
	}

	c, err := Normalize(resp)
	require.NoError(t, err)

	assert.Equal(t, "priv==", c.PrivateKey)
	assert.Equal(t, "pub==", c.PublicKey)
	assert.Equal(t, "10.8.0.7", c.ClientAddress)
	assert.Equal(t, "server-pub==", c.ServerPublicKey)
	assert.Equal(t, "9.9.9.9", c.DNS)

	assert.Contains(t, c.ConfigText, "Address = 10.8.0.7/32")
	assert.Contains(t, c.ConfigText, "MTU = 1420")
	assert.Contains(t, c.ConfigText, "AllowedIPs = 0.0.0.0/0, ::/0")
	assert.Contains(t, c.ConfigText, "PersistentKeepalive = 25")
}

func TestNormalizeFieldFormDefaultsDNS(t *testing.T) {
	resp := backend.PeerCreationResponse{
		PrivateKey:   "priv==",
		ClientIP:     "10.8.0.7",
		ServerPubkey: "server-pub==",
		Endpoint:     "203.0.113.10:51820",
	}

	c, err := Normalize(resp)
	require.NoError(t, err)
	assert.Equal(t, DefaultDNS, c.DNS)
	assert.Contains(t, c.ConfigText, "DNS = 1.1.1.1, 1.0.0.1")
}

func TestNormalizeFieldFormMissingRequired(t *testing.T) {
	_, err := Normalize(backend.PeerCreationResponse{PrivateKey: "priv=="})
	require.Error(t, err)
	assert.True(t, domerrors.HasErrorCode(err, domerrors.ErrCodeBackendMalformedResponse))
}

func TestNormalizeTextForm(t *testing.T) {
	config := `[Interface]
PrivateKey = priv==
Address = 10.8.0.7/32
DNS = 1.1.1.1, 1.0.0.1
MTU = 1420

[Peer]
PublicKey = server-pub==
Endpoint = 203.0.113.10:51820
AllowedIPs = 0.0.0.0/0, ::/0
PersistentKeepalive = 25
`

	c, err := Normalize(backend.PeerCreationResponse{Config: config})
	require.NoError(t, err)

	assert.Equal(t, "priv==", c.PrivateKey)
	assert.Equal(t, "10.8.0.7", c.ClientAddress, "CIDR suffix should be stripped")
	assert.Equal(t, "server-pub==", c.ServerPublicKey)
	assert.Equal(t, "203.0.113.10:51820", c.Endpoint)
	assert.Empty(t, c.PublicKey, "text form never exposes the peer's own public key")
}

func TestNormalizeTextFormInsertsMissingInvariants(t *testing.T) {
	config := `[Interface]
PrivateKey = priv==
Address = 10.8.0.7/32

[Peer]
PublicKey = server-pub==
Endpoint = 203.0.113.10:51820
`

	c, err := Normalize(backend.PeerCreationResponse{Config: config})
	require.NoError(t, err)

	assert.Contains(t, c.ConfigText, "MTU = 1420")
	assert.Contains(t, c.ConfigText, "DNS = 1.1.1.1, 1.0.0.1")
	assert.Contains(t, c.ConfigText, "AllowedIPs = 0.0.0.0/0, ::/0")
	assert.Contains(t, c.ConfigText, "PersistentKeepalive = 25")
	assert.Equal(t, DefaultDNS, c.DNS)
}

func TestNormalizeTextFormTolerantSpacing(t *testing.T) {
	config := "[Interface]\n  PrivateKey=priv==\nAddress =10.8.0.7/24\n\n[Peer]\nPublicKey  =  server-pub==\nEndpoint = 203.0.113.10:51820\n"

	c, err := Normalize(backend.PeerCreationResponse{Config: config})
	require.NoError(t, err)
	assert.Equal(t, "priv==", c.PrivateKey)
	assert.Equal(t, "10.8.0.7", c.ClientAddress)
	assert.Equal(t, "server-pub==", c.ServerPublicKey)
}

func TestNormalizeTextFormRejectsNoKey(t *testing.T) {
	_, err := Normalize(backend.PeerCreationResponse{Config: "[Interface]\nAddress = 10.0.0.1\n"})
	require.Error(t, err)
	assert.True(t, domerrors.HasErrorCode(err, domerrors.ErrCodeBackendMalformedResponse))
}

func TestFieldAndTextFormsAgree(t *testing.T) {
	fieldResp := backend.PeerCreationResponse{
		PrivateKey:   "priv==",
		PublicKey:    "pub==",
		ClientIP:     "10.8.0.7",
		ServerPubkey: "server-pub==",
		Endpoint:     "203.0.113.10:51820",
	}
	textResp := backend.PeerCreationResponse{Config: `[Interface]
PrivateKey = priv==
Address = 10.8.0.7/32

[Peer]
PublicKey = server-pub==
Endpoint = 203.0.113.10:51820
`}

	fromFields, err := Normalize(fieldResp)
	require.NoError(t, err)
	fromText, err := Normalize(textResp)
	require.NoError(t, err)

	assert.Equal(t, fromFields.PrivateKey, fromText.PrivateKey)
	assert.Equal(t, fromFields.ClientAddress, fromText.ClientAddress)
	assert.Equal(t, fromFields.ServerPublicKey, fromText.ServerPublicKey)
	assert.Equal(t, fromFields.Endpoint, fromText.Endpoint)
	assert.Equal(t, fromFields.DNS, fromText.DNS)

	// Both rendered configs carry the same semantic lines
	for _, want := range []string{"MTU = 1420", "AllowedIPs = 0.0.0.0/0, ::/0", "DNS = 1.1.1.1, 1.0.0.1"} {
		assert.True(t, strings.Contains(fromFields.ConfigText, want), "field form missing %q", want)
		assert.True(t, strings.Contains(fromText.ConfigText, want), "text form missing %q", want)
	}
}
