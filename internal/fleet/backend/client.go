package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	domerrors "github.com/pochtmanr/dopplerland-fleet/internal/shared/errors"
	"github.com/pochtmanr/dopplerland-fleet/internal/shared/logger"
)

// Client is the capability surface of a rich panel backend. Wire
// formats stay inside this package; callers only see these six
// operations.
type Client interface {
	GetSystemStats(ctx context.Context, serverID string) (*SystemStats, error)
	ListUsers(ctx context.Context, serverID string, offset, limit int) (*UserListPage, error)
	GetUser(ctx context.Context, serverID, username string) (*BackendUser, error)
	CreateUser(ctx context.Context, serverID string, req CreateUserRequest) (*BackendUser, error)
	UpdateUser(ctx context.Context, serverID, username string, req UpdateUserRequest) (*BackendUser, error)
	DeleteUser(ctx context.Context, serverID, username string) error
}

// Options tune the panel client.
type Options struct {
	Timeout        time.Duration
	TokenLifetime  time.Duration
	TokenSafetyGap time.Duration
	APIKeyHeader   string
}

func (o *Options) applyDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.TokenLifetime <= 0 {
		o.TokenLifetime = time.Hour
	}
	if o.TokenSafetyGap <= 0 {
		o.TokenSafetyGap = 5 * time.Minute
	}
	if o.APIKeyHeader == "" {
		o.APIKeyHeader = "X-API-Key"
	}
}

// PanelClient talks to Marzban-style panels, one per server, resolving
// credentials and tokens on demand.
type PanelClient struct {
	creds      CredentialStore
	tokens     TokenCache
	httpClient *http.Client
	opts       Options
	logger     *logger.Logger
}

// NewPanelClient creates a Client over the given credential store and
// token cache.
func NewPanelClient(creds CredentialStore, tokens TokenCache, opts Options, log *logger.Logger) *PanelClient {
	opts.applyDefaults()
	return &PanelClient{
		creds:      creds,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: opts.Timeout},
		opts:       opts,
		logger:     log.WithComponent("backend-client"),
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// getToken returns a cached bearer token for the server, authenticating
// against the panel when none is cached or the cached one is inside the
// safety gap before expiry. Auth failures are not retried here.
func (c *PanelClient) getToken(ctx context.Context, cred Credential) (string, error) {
	if token, ok := c.tokens.Get(ctx, cred.ServerID); ok && !token.ExpiresWithin(c.opts.TokenSafetyGap) {
		return token.Value, nil
	}

	form := url.Values{}
	form.Set("username", cred.AdminUser)
	form.Set("password", cred.AdminPass)
	form.Set("grant_type", "password")

	endpoint := strings.TrimSuffix(cred.APIURL, "/") + "/api/admin/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", domerrors.NewBackendError(domerrors.ErrCodeBackendUnavailable, "failed to build token request", false, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", domerrors.NewBackendError(
			domerrors.ErrCodeBackendUnavailable,
			"token endpoint unreachable",
			true,
			domerrors.NewAuthError(cred.ServerID, "authentication request failed", err),
		).WithMetadata("server_id", cred.ServerID)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", domerrors.NewBackendError(
			domerrors.ErrCodeBackendAuthFailed,
			fmt.Sprintf("authentication rejected with status %d", resp.StatusCode),
			false,
			domerrors.NewAuthError(cred.ServerID, string(body), nil),
		).WithMetadata("server_id", cred.ServerID).WithMetadata("status", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil || tr.AccessToken == "" {
		return "", domerrors.NewBackendError(
			domerrors.ErrCodeBackendMalformedResponse,
			"token response missing access_token",
			false,
			err,
		).WithMetadata("server_id", cred.ServerID)
	}

	token := Token{Value: tr.AccessToken, ExpiresAt: time.Now().Add(c.opts.TokenLifetime)}
	c.tokens.Set(ctx, cred.ServerID, token)
	c.logger.DebugContext(ctx, "refreshed backend token", "server_id", cred.ServerID)
	return token.Value, nil
}

// doRequest performs one authenticated panel call and decodes the JSON
// body into out when out is non-nil. A 204 reply leaves out untouched.
func (c *PanelClient) doRequest(ctx context.Context, serverID, method, path string, query url.Values, payload, out interface{}) error {
	cred, err := c.creds.Get(ctx, serverID)
	if err != nil {
		return err
	}

	token, err := c.getToken(ctx, cred)
	if err != nil {
		return err
	}

	endpoint := strings.TrimSuffix(cred.APIURL, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return domerrors.NewBackendError(domerrors.ErrCodeInternal, "failed to encode request payload", false, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return domerrors.NewBackendError(domerrors.ErrCodeBackendUnavailable, "failed to build request", false, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cred.APIKey != "" {
		req.Header.Set(c.opts.APIKeyHeader, cred.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domerrors.NewBackendError(
			domerrors.ErrCodeBackendUnavailable,
			fmt.Sprintf("%s %s failed", method, path),
			true,
			domerrors.NewBackendAPIError(serverID, 0, "", err),
		).WithMetadata("server_id", serverID)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		// Token may have been revoked server-side; drop it so the
		// next call re-authenticates.
		c.tokens.Delete(ctx, serverID)
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domerrors.NewBackendError(
			domerrors.ErrCodeBackendAuthFailed,
			"panel rejected bearer token",
			false,
			domerrors.NewBackendAPIError(serverID, resp.StatusCode, string(respBody), nil),
		).WithMetadata("server_id", serverID)
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domerrors.NewBackendError(
			domerrors.ErrCodeBackendUnavailable,
			fmt.Sprintf("%s %s returned status %d", method, path, resp.StatusCode),
			resp.StatusCode >= 500,
			domerrors.NewBackendAPIError(serverID, resp.StatusCode, string(respBody), nil),
		).WithMetadata("server_id", serverID).WithMetadata("status", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domerrors.NewBackendError(
			domerrors.ErrCodeBackendMalformedResponse,
			fmt.Sprintf("failed to decode %s %s response", method, path),
			false,
			err,
		).WithMetadata("server_id", serverID)
	}
	return nil
}

func (c *PanelClient) GetSystemStats(ctx context.Context, serverID string) (*SystemStats, error) {
	var stats SystemStats
	if err := c.doRequest(ctx, serverID, http.MethodGet, "/api/system", nil, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *PanelClient) ListUsers(ctx context.Context, serverID string, offset, limit int) (*UserListPage, error) {
	query := url.Values{}
	query.Set("offset", strconv.Itoa(offset))
	query.Set("limit", strconv.Itoa(limit))

	var page UserListPage
	if err := c.doRequest(ctx, serverID, http.MethodGet, "/api/users", query, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *PanelClient) GetUser(ctx context.Context, serverID, username string) (*BackendUser, error) {
	var user BackendUser
	path := "/api/user/" + url.PathEscape(username)
	if err := c.doRequest(ctx, serverID, http.MethodGet, path, nil, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *PanelClient) CreateUser(ctx context.Context, serverID string, req CreateUserRequest) (*BackendUser, error) {
	var user BackendUser
	if err := c.doRequest(ctx, serverID, http.MethodPost, "/api/user", nil, req, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *PanelClient) UpdateUser(ctx context.Context, serverID, username string, req UpdateUserRequest) (*BackendUser, error) {
	var user BackendUser
	path := "/api/user/" + url.PathEscape(username)
	if err := c.doRequest(ctx, serverID, http.MethodPut, path, nil, req, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *PanelClient) DeleteUser(ctx context.Context, serverID, username string) error {
	path := "/api/user/" + url.PathEscape(username)
	return c.doRequest(ctx, serverID, http.MethodDelete, path, nil, nil, nil)
}
