package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/allocator"
	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/db"
	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/health"
	fleetsync "github.com/pochtmanr/dopplerland-fleet/internal/fleet/sync"
	domerrors "github.com/pochtmanr/dopplerland-fleet/internal/shared/errors"
	applogger "github.com/pochtmanr/dopplerland-fleet/internal/shared/logger"
	"github.com/pochtmanr/dopplerland-fleet/pkg/api"
)

type stubAllocator struct {
	connectResult *allocator.ConnectResult
	connectErr    error
	disconnectErr error
}

func (s *stubAllocator) Connect(context.Context, allocator.ConnectParams) (*allocator.ConnectResult, error) {
	return s.connectResult, s.connectErr
}

func (s *stubAllocator) Disconnect(context.Context, allocator.DisconnectParams) error {
	return s.disconnectErr
}

type stubReconciler struct {
	results []fleetsync.ServerResult
}

func (s *stubReconciler) SyncAll(context.Context) ([]fleetsync.ServerResult, error) {
	return s.results, nil
}

func (s *stubReconciler) SyncServer(_ context.Context, serverID string) fleetsync.ServerResult {
	return fleetsync.ServerResult{ServerID: serverID, SyncedCount: 1}
}

type stubAggregator struct {
	snapshot *health.FleetSnapshot
}

func (s *stubAggregator) ProbeFleet(context.Context) (*health.FleetSnapshot, error) {
	return s.snapshot, nil
}

func newTestServer(t *testing.T, alloc AllocatorInterface) (*Server, db.Store) {
	t.Helper()
	_, store := db.NewTestDB(t)
	srv := NewServer(
		ServerConfig{Address: ":0", CORSOrigins: []string{"*"}, Version: "test"},
		store,
		alloc,
		&stubReconciler{},
		&stubAggregator{snapshot: &health.FleetSnapshot{ProbedAt: time.Now()}},
		nil,
		applogger.NewDevelopment("test"),
	)
	return srv, store
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse[T any](t *testing.T, rec *httptest.ResponseRecorder) api.Response[T] {
	t.Helper()
	var resp api.Response[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestConnectEndpoint(t *testing.T) {
	alloc := &stubAllocator{connectResult: &allocator.ConnectResult{
		ConfigText: "[Interface]\nPrivateKey = priv==\n",
		PublicKey:  "pub==",
		ClientIP:   "10.8.0.7",
		ExpiresAt:  time.Now().Add(24 * time.Hour),
		Tier:       "free",
	}}
	srv, _ := newTestServer(t, alloc)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/connect", api.ConnectRequest{
		AccountID: "ACC1",
		ServerID:  "srv-1",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse[api.ConnectResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "pub==", resp.Data.PublicKey)
	assert.Equal(t, "free", resp.Data.Tier)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestConnectValidation(t *testing.T) {
	srv, _ := newTestServer(t, &stubAllocator{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/connect", api.ConnectRequest{ServerID: "srv-1"})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse[any](t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, domerrors.ErrCodeValidation, resp.Error.Code)
}

func TestConnectErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{
			"device limit",
			domerrors.NewAccountError(domerrors.ErrCodeDeviceLimitReached, "limit", false, nil),
			http.StatusForbidden,
		},
		{
			"account not found",
			domerrors.NewAccountError(domerrors.ErrCodeAccountNotFound, "missing", false, nil),
			http.StatusNotFound,
		},
		{
			"server not found",
			domerrors.NewServerError(domerrors.ErrCodeServerNotFound, "missing", false, nil),
			http.StatusNotFound,
		},
		{
			"server inactive",
			domerrors.NewServerError(domerrors.ErrCodeServerInactive, "inactive", false, nil),
			http.StatusBadRequest,
		},
		{
			"backend down",
			domerrors.NewBackendError(domerrors.ErrCodeBackendUnavailable, "down", true, nil),
			http.StatusBadGateway,
		},
		{
			"persistence failed",
			domerrors.NewAllocationError(domerrors.ErrCodePersistenceFailed, "disk", true, nil),
			http.StatusInternalServerError,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := newTestServer(t, &stubAllocator{connectErr: tc.err})

			rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/connect", api.ConnectRequest{
				AccountID: "ACC1",
				ServerID:  "srv-1",
			})
			assert.Equal(t, tc.wantStatus, rec.Code)

			resp := decodeResponse[any](t, rec)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error.RequestID)
		})
	}
}

func TestDisconnectEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &stubAllocator{})

	key := "pub=="
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/disconnect", api.DisconnectRequest{
		AccountID: "ACC1",
		PublicKey: &key,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse[api.DisconnectResponse](t, rec)
	assert.True(t, resp.Data.OK)
	assert.Equal(t, "pub==", resp.Data.PublicKey)
}

func TestDisconnectRequiresTarget(t *testing.T) {
	srv, _ := newTestServer(t, &stubAllocator{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/disconnect", api.DisconnectRequest{AccountID: "ACC1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListServersEndpoint(t *testing.T) {
	srv, store := newTestServer(t, &stubAllocator{})
	db.SeedTestServer(t, store, db.CreateServerParams{
		ID: "srv-1", Name: "Amsterdam 1", CountryCode: "NL", IsActive: true, IsPremium: true,
		WGAPIURL: "https://internal:8080", WGAPIKey: "secret",
	})
	db.SeedTestServer(t, store, db.CreateServerParams{ID: "off", Name: "Off", IsActive: false})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/servers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse[api.ServerListResponse](t, rec)
	require.Len(t, resp.Data.Servers, 1, "inactive servers stay hidden")
	assert.Equal(t, "Amsterdam 1", resp.Data.Servers[0].Name)
	assert.NotContains(t, rec.Body.String(), "secret", "credentials must never appear in listings")
	assert.NotContains(t, rec.Body.String(), "wg_api", "control-plane fields must never appear in listings")
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &stubAllocator{})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse[api.HealthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Data.Status)
	assert.Equal(t, "test", resp.Data.Version)
}

func TestAdminSyncEndpoint(t *testing.T) {
	_, store := db.NewTestDB(t)
	srv := NewServer(
		ServerConfig{Address: ":0", CORSOrigins: []string{"*"}},
		store,
		&stubAllocator{},
		&stubReconciler{results: []fleetsync.ServerResult{
			{ServerID: "srv-1", SyncedCount: 12},
			{ServerID: "srv-2", SyncedCount: 0, ErrorCount: 1, Error: "boom"},
		}},
		&stubAggregator{snapshot: &health.FleetSnapshot{ProbedAt: time.Now()}},
		nil,
		applogger.NewDevelopment("test"),
	)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/admin/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse[api.SyncResponse](t, rec)
	require.Len(t, resp.Data.Results, 2)
	assert.Equal(t, 12, resp.Data.Results[0].Synced)
	assert.Equal(t, 1, resp.Data.Results[1].Errors)
}

func TestAdminSyncSingleServer(t *testing.T) {
	srv, _ := newTestServer(t, &stubAllocator{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/admin/sync?server_id=srv-7", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse[api.SyncResponse](t, rec)
	require.Len(t, resp.Data.Results, 1)
	assert.Equal(t, "srv-7", resp.Data.Results[0].Server)
}

func TestAdminFleetHealthEndpoint(t *testing.T) {
	_, store := db.NewTestDB(t)
	db.SeedTestServer(t, store, db.CreateServerParams{ID: "srv-1", Name: "Amsterdam 1", CountryCode: "NL", IPAddress: "203.0.113.10", IsActive: true})

	latency := int64(42)
	srv := NewServer(
		ServerConfig{Address: ":0", CORSOrigins: []string{"*"}},
		store,
		&stubAllocator{},
		&stubReconciler{},
		&stubAggregator{snapshot: &health.FleetSnapshot{
			Servers: []health.Snapshot{{
				ServerID:   "srv-1",
				ServerName: "Amsterdam 1",
				Status:     health.StatusHealthy,
				LatencyMS:  &latency,
			}},
			ProbedAt: time.Now(),
			Healthy:  1,
		}},
		nil,
		applogger.NewDevelopment("test"),
	)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/admin/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse[api.FleetHealthResponse](t, rec)
	require.Len(t, resp.Data.Servers, 1)
	assert.Equal(t, "healthy", resp.Data.Servers[0].Status)
	assert.Equal(t, "NL", resp.Data.Servers[0].CountryCode)
	require.NotNil(t, resp.Data.Servers[0].LatencyMS)
	assert.Equal(t, int64(42), *resp.Data.Servers[0].LatencyMS)
}

func TestAdminUserListing(t *testing.T) {
	srv, store := newTestServer(t, &stubAllocator{})
	db.SeedTestServer(t, store, db.CreateServerParams{ID: "srv-1", Name: "Amsterdam 1", IsActive: true})

	ctx := context.Background()
	for _, username := range []string{"tg_1", "tg_2", "web_3"} {
		require.NoError(t, store.UpsertSyncedUser(ctx, db.UpsertSyncedUserParams{
			ID:              username,
			ServerID:        "srv-1",
			BackendUsername: username,
			BackendType:     "marzban",
			Platform:        fleetsync.DerivePlatform(username),
			Protocol:        "vless",
			Status:          "active",
		}))
	}

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/admin/users?platform=telegram", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse[api.SyncedUserListResponse](t, rec)
	assert.Equal(t, 2, resp.Data.Total)
	require.Len(t, resp.Data.Users, 2)
	assert.Equal(t, "Amsterdam 1", resp.Data.Users[0].ServerName)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/admin/users?search=web", nil)
	resp = decodeResponse[api.SyncedUserListResponse](t, rec)
	assert.Equal(t, 1, resp.Data.Total)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/admin/users?limit=9999", nil)
	resp = decodeResponse[api.SyncedUserListResponse](t, rec)
	assert.Equal(t, maxListLimit, resp.Data.Limit, "limit must be capped")
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, &stubAllocator{})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/connect", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dashboard.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
