package wgconfig

import (
	"fmt"
	"strings"

	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/backend"
	domerrors "github.com/pochtmanr/dopplerland-fleet/internal/shared/errors"
)

// Canonical invariants applied to every issued config.
const (
	DefaultDNS        = "1.1.1.1, 1.0.0.1"
	DefaultMTU        = 1420
	DefaultAllowedIPs = "0.0.0.0/0, ::/0"
	DefaultKeepalive  = 25
)

// Canonical is the normalized peer config regardless of which wire
// format the backend replied with. PublicKey is empty for text-form
// responses, which never expose the peer's own public key.
type Canonical struct {
	PrivateKey      string
	PublicKey       string
	ClientAddress   string
	ServerPublicKey string
	Endpoint        string
	DNS             string
	ConfigText      string
}

// Normalize converts a raw peer-creation response into the canonical
// shape, rendering a config from discrete fields or repairing a
// ready-made config document.
func Normalize(resp backend.PeerCreationResponse) (Canonical, error) {
	if resp.IsTextForm() {
		return normalizeText(resp.Config)
	}
	return normalizeFields(resp)
}

func normalizeFields(resp backend.PeerCreationResponse) (Canonical, error) {
	if resp.PrivateKey == "" || resp.ClientIP == "" || resp.ServerPubkey == "" || resp.Endpoint == "" {
		return Canonical{}, domerrors.NewBackendError(
			domerrors.ErrCodeBackendMalformedResponse,
			"peer response is missing required fields",
			false,
			nil,
		)
	}

	dns := resp.DNS
	if dns == "" {
		dns = DefaultDNS
	}
	address := resp.ClientIP
	if !strings.Contains(address, "/") {
		address += "/32"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[Interface]\n")
	fmt.Fprintf(&b, "PrivateKey = %s\n", resp.PrivateKey)
	fmt.Fprintf(&b, "Address = %s\n", address)
	fmt.Fprintf(&b, "DNS = %s\n", dns)
	fmt.Fprintf(&b, "MTU = %d\n", DefaultMTU)
	fmt.Fprintf(&b, "\n[Peer]\n")
	fmt.Fprintf(&b, "PublicKey = %s\n", resp.ServerPubkey)
	fmt.Fprintf(&b, "Endpoint = %s\n", resp.Endpoint)
	fmt.Fprintf(&b, "AllowedIPs = %s\n", DefaultAllowedIPs)
	fmt.Fprintf(&b, "PersistentKeepalive = %d\n", DefaultKeepalive)

	return Canonical{
		PrivateKey:      resp.PrivateKey,
		PublicKey:       resp.PublicKey,
		ClientAddress:   stripCIDR(resp.ClientIP),
		ServerPublicKey: resp.ServerPubkey,
		Endpoint:        resp.Endpoint,
		DNS:             dns,
		ConfigText:      b.String(),
	}, nil
}

func normalizeText(config string) (Canonical, error) {
	c := Canonical{
		PrivateKey:      extractValue(config, "PrivateKey"),
		ClientAddress:   stripCIDR(extractValue(config, "Address")),
		ServerPublicKey: extractValue(config, "PublicKey"),
		Endpoint:        extractValue(config, "Endpoint"),
		DNS:             extractValue(config, "DNS"),
	}
	if c.PrivateKey == "" {
		return Canonical{}, domerrors.NewBackendError(
			domerrors.ErrCodeBackendMalformedResponse,
			"config document has no PrivateKey",
			false,
			nil,
		)
	}
	c.ConfigText = ensureInvariants(config)
	if c.DNS == "" {
		c.DNS = DefaultDNS
	}
	return c, nil
}

// ExtractAddress pulls the interface address out of a stored config,
// without its CIDR suffix.
func ExtractAddress(config string) string {
	return stripCIDR(extractValue(config, "Address"))
}

// ExtractServerKey pulls the peer section's public key out of a stored
// config.
func ExtractServerKey(config string) string {
	return extractValue(config, "PublicKey")
}

// ExtractEndpoint pulls the peer endpoint out of a stored config.
func ExtractEndpoint(config string) string {
	return extractValue(config, "Endpoint")
}

// ExtractDNS pulls the DNS servers out of a stored config.
func ExtractDNS(config string) string {
	return extractValue(config, "DNS")
}

// extractValue finds "Key = value" with tolerant whitespace, returning
// the first match.
func extractValue(config, key string) string {
	for _, line := range strings.Split(config, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, key) {
			continue
		}
		rest := strings.TrimSpace(trimmed[len(key):])
		if !strings.HasPrefix(rest, "=") {
			continue
		}
		return strings.TrimSpace(rest[1:])
	}
	return ""
}

func stripCIDR(address string) string {
	if i := strings.Index(address, "/"); i >= 0 {
		return address[:i]
	}
	return address
}

// ensureInvariants inserts MTU, DNS, AllowedIPs and keepalive into a
// config document when the backend omitted them, rather than failing.
func ensureInvariants(config string) string {
	lines := strings.Split(strings.TrimRight(config, "\n"), "\n")

	hasMTU := extractValue(config, "MTU") != ""
	hasDNS := extractValue(config, "DNS") != ""
	hasAllowed := extractValue(config, "AllowedIPs") != ""
	hasKeepalive := extractValue(config, "PersistentKeepalive") != ""

	var out []string
	for _, line := range lines {
		out = append(out, line)
		trimmed := strings.TrimSpace(line)
		if strings.EqualFold(trimmed, "[Interface]") {
			if !hasDNS {
				out = append(out, fmt.Sprintf("DNS = %s", DefaultDNS))
			}
			if !hasMTU {
				out = append(out, fmt.Sprintf("MTU = %d", DefaultMTU))
			}
		}
		if strings.EqualFold(trimmed, "[Peer]") {
			if !hasAllowed {
				out = append(out, fmt.Sprintf("AllowedIPs = %s", DefaultAllowedIPs))
			}
			if !hasKeepalive {
				out = append(out, fmt.Sprintf("PersistentKeepalive = %d", DefaultKeepalive))
			}
		}
	}
	return strings.Join(out, "\n") + "\n"
}
