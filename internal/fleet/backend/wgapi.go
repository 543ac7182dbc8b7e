package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/db"
	domerrors "github.com/pochtmanr/dopplerland-fleet/internal/shared/errors"
	"github.com/pochtmanr/dopplerland-fleet/internal/shared/logger"
)

// PeerAPI is the minimal WireGuard control endpoint some servers run
// instead of a rich panel.
type PeerAPI interface {
	CreatePeer(ctx context.Context, server db.VpnServer) (*PeerCreationResponse, error)
	DeletePeer(ctx context.Context, server db.VpnServer, publicKey string) error
}

// WGAPIClient drives the raw create/delete peer endpoint with a static
// API key.
type WGAPIClient struct {
	httpClient *http.Client
	logger     *logger.Logger
}

// NewWGAPIClient creates a PeerAPI with the given per-call timeout.
func NewWGAPIClient(timeout time.Duration, log *logger.Logger) *WGAPIClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WGAPIClient{
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.WithComponent("wg-api"),
	}
}

// CreatePeer allocates a new peer on the server. The endpoint replies
// either with discrete JSON fields or with a rendered config document;
// both come back as a PeerCreationResponse for the normalizer.
func (c *WGAPIClient) CreatePeer(ctx context.Context, server db.VpnServer) (*PeerCreationResponse, error) {
	if server.WGAPIURL == "" {
		return nil, domerrors.NewServerError(
			domerrors.ErrCodeServerMisconfigured,
			"server has no wireguard api url",
			false,
			nil,
		).WithMetadata("server_id", server.ID)
	}

	body, err := c.do(ctx, server, "/create", nil)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var resp PeerCreationResponse
		if err := json.Unmarshal(trimmed, &resp); err != nil {
			return nil, domerrors.NewBackendError(
				domerrors.ErrCodeBackendMalformedResponse,
				"failed to decode peer creation response",
				false,
				err,
			).WithMetadata("server_id", server.ID)
		}
		if resp.PrivateKey == "" && resp.Config == "" {
			return nil, domerrors.NewBackendError(
				domerrors.ErrCodeBackendMalformedResponse,
				"peer creation response carries neither fields nor config",
				false,
				nil,
			).WithMetadata("server_id", server.ID)
		}
		return &resp, nil
	}

	// Plain text reply is a ready config document.
	config := string(trimmed)
	if !strings.Contains(config, "PrivateKey") {
		return nil, domerrors.NewBackendError(
			domerrors.ErrCodeBackendMalformedResponse,
			"peer creation reply is not a wireguard config",
			false,
			nil,
		).WithMetadata("server_id", server.ID)
	}
	return &PeerCreationResponse{Config: config}, nil
}

// DeletePeer removes a peer by public key. Used as the compensating
// action when persistence fails after a successful create.
func (c *WGAPIClient) DeletePeer(ctx context.Context, server db.VpnServer, publicKey string) error {
	if server.WGAPIURL == "" {
		return domerrors.NewServerError(
			domerrors.ErrCodeServerMisconfigured,
			"server has no wireguard api url",
			false,
			nil,
		).WithMetadata("server_id", server.ID)
	}

	payload := map[string]string{"public_key": publicKey}
	if _, err := c.do(ctx, server, "/delete", payload); err != nil {
		return err
	}
	c.logger.DebugContext(ctx, "deleted backend peer", "server_id", server.ID)
	return nil
}

func (c *WGAPIClient) do(ctx context.Context, server db.VpnServer, path string, payload interface{}) ([]byte, error) {
	endpoint := strings.TrimSuffix(server.WGAPIURL, "/") + path

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, domerrors.NewBackendError(domerrors.ErrCodeInternal, "failed to encode request payload", false, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, domerrors.NewBackendError(domerrors.ErrCodeBackendUnavailable, "failed to build request", false, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if server.WGAPIKey != "" {
		req.Header.Set("x-api-key", server.WGAPIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domerrors.NewBackendError(
			domerrors.ErrCodeBackendUnavailable,
			fmt.Sprintf("POST %s failed", path),
			true,
			domerrors.NewBackendAPIError(server.ID, 0, "", err),
		).WithMetadata("server_id", server.ID)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, domerrors.NewBackendError(domerrors.ErrCodeBackendUnavailable, "failed to read response body", true, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, domerrors.NewBackendError(
			domerrors.ErrCodeBackendUnavailable,
			fmt.Sprintf("POST %s returned status %d", path, resp.StatusCode),
			resp.StatusCode >= 500,
			domerrors.NewBackendAPIError(server.ID, resp.StatusCode, string(data), nil),
		).WithMetadata("server_id", server.ID).WithMetadata("status", resp.StatusCode)
	}

	return data, nil
}
