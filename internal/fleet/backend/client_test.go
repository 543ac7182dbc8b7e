package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domerrors "github.com/pochtmanr/dopplerland-fleet/internal/shared/errors"
	"github.com/pochtmanr/dopplerland-fleet/internal/shared/logger"
)

type stubCreds struct {
	cred Credential
}

func (s *stubCreds) Get(_ context.Context, serverID string) (Credential, error) {
	c := s.cred
	c.ServerID = serverID
	return c, nil
}

func (s *stubCreds) List(_ context.Context) ([]Credential, error) {
	return []Credential{s.cred}, nil
}

func newTestPanel(t *testing.T, handler http.Handler) (*httptest.Server, *PanelClient) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	creds := &stubCreds{cred: Credential{
		APIURL:    srv.URL,
		AdminUser: "admin",
		AdminPass: "secret",
		APIKey:    "static-key",
	}}
	client := NewPanelClient(creds, NewMemoryTokenCache(), Options{}, logger.NewDevelopment("test"))
	return srv, client
}

func tokenHandler(authCalls *int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(authCalls, 1)
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.PostFormValue("username") != "admin" || r.PostFormValue("password") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-1", "token_type": "bearer"})
	}
}

func TestGetSystemStats(t *testing.T) {
	var authCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/admin/token", tokenHandler(&authCalls))
	mux.HandleFunc("GET /api/system", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "static-key", r.Header.Get("X-API-Key"))
		json.NewEncoder(w).Encode(SystemStats{
			Version:     "0.4.9",
			MemTotal:    8 << 30,
			MemUsed:     2 << 30,
			CPUUsage:    12.5,
			TotalUser:   40,
			UsersActive: 12,
		})
	})
	_, client := newTestPanel(t, mux)

	stats, err := client.GetSystemStats(context.Background(), "srv-1")
	require.NoError(t, err)
	assert.Equal(t, 12, stats.UsersActive)
	assert.Equal(t, 12.5, stats.CPUUsage)
}

func TestTokenIsCachedAcrossCalls(t *testing.T) {
	var authCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/admin/token", tokenHandler(&authCalls))
	mux.HandleFunc("GET /api/system", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(SystemStats{})
	})
	_, client := newTestPanel(t, mux)

	ctx := context.Background()
	_, err := client.GetSystemStats(ctx, "srv-1")
	require.NoError(t, err)
	_, err = client.GetSystemStats(ctx, "srv-1")
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&authCalls), "second call should reuse cached token")
}

func TestTokenRefreshedInsideSafetyGap(t *testing.T) {
	var authCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/admin/token", tokenHandler(&authCalls))
	mux.HandleFunc("GET /api/system", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(SystemStats{})
	})
	_, client := newTestPanel(t, mux)

	ctx := context.Background()
	_, err := client.GetSystemStats(ctx, "srv-1")
	require.NoError(t, err)

	// Age the cached token to within the safety gap
	client.tokens.Set(ctx, "srv-1", Token{Value: "tok-1", ExpiresAt: time.Now().Add(time.Minute)})

	_, err = client.GetSystemStats(ctx, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&authCalls), "near-expiry token should trigger re-auth")
}

func TestAuthFailureIsTyped(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/admin/token", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	})
	_, client := newTestPanel(t, mux)

	_, err := client.GetSystemStats(context.Background(), "srv-1")
	require.Error(t, err)
	assert.True(t, domerrors.HasErrorCode(err, domerrors.ErrCodeBackendAuthFailed))
	assert.False(t, domerrors.IsRetryable(err))
}

func TestUnauthorizedDropsCachedToken(t *testing.T) {
	var authCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/admin/token", tokenHandler(&authCalls))
	mux.HandleFunc("GET /api/system", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "token revoked", http.StatusUnauthorized)
	})
	_, client := newTestPanel(t, mux)

	ctx := context.Background()
	_, err := client.GetSystemStats(ctx, "srv-1")
	require.Error(t, err)
	assert.True(t, domerrors.HasErrorCode(err, domerrors.ErrCodeBackendAuthFailed))

	_, cached := client.tokens.Get(ctx, "srv-1")
	assert.False(t, cached, "401 should evict the cached token")
}

func TestServerErrorCarriesStatusAndBody(t *testing.T) {
	var authCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/admin/token", tokenHandler(&authCalls))
	mux.HandleFunc("GET /api/users", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database gone", http.StatusInternalServerError)
	})
	_, client := newTestPanel(t, mux)

	_, err := client.ListUsers(context.Background(), "srv-1", 0, 100)
	require.Error(t, err)
	assert.True(t, domerrors.HasErrorCode(err, domerrors.ErrCodeBackendUnavailable))
	assert.True(t, domerrors.IsRetryable(err))

	var apiErr *domerrors.BackendAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "database gone")
}

func TestListUsersPagination(t *testing.T) {
	var authCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/admin/token", tokenHandler(&authCalls))
	mux.HandleFunc("GET /api/users", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "200", r.URL.Query().Get("offset"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(UserListPage{
			Users: []BackendUser{{Username: "tg_1"}, {Username: "web_2"}},
			Total: 202,
		})
	})
	_, client := newTestPanel(t, mux)

	page, err := client.ListUsers(context.Background(), "srv-1", 200, 100)
	require.NoError(t, err)
	assert.Len(t, page.Users, 2)
	assert.Equal(t, 202, page.Total)
}

func TestUserLifecycle(t *testing.T) {
	var authCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/admin/token", tokenHandler(&authCalls))
	mux.HandleFunc("POST /api/user", func(w http.ResponseWriter, r *http.Request) {
		var req CreateUserRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(BackendUser{Username: req.Username, Status: "active"})
	})
	mux.HandleFunc("GET /api/user/{username}", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(BackendUser{Username: r.PathValue("username"), Status: "active"})
	})
	mux.HandleFunc("PUT /api/user/{username}", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(BackendUser{Username: r.PathValue("username"), Status: "disabled"})
	})
	mux.HandleFunc("DELETE /api/user/{username}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	_, client := newTestPanel(t, mux)
	ctx := context.Background()

	created, err := client.CreateUser(ctx, "srv-1", CreateUserRequest{Username: "tg_42"})
	require.NoError(t, err)
	assert.Equal(t, "tg_42", created.Username)

	got, err := client.GetUser(ctx, "srv-1", "tg_42")
	require.NoError(t, err)
	assert.Equal(t, "active", got.Status)

	status := "disabled"
	updated, err := client.UpdateUser(ctx, "srv-1", "tg_42", UpdateUserRequest{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, "disabled", updated.Status)

	require.NoError(t, client.DeleteUser(ctx, "srv-1", "tg_42"))
}

func TestBackendUserTimeHelpers(t *testing.T) {
	expire := int64(1756684800)
	online := "2026-08-30T12:00:00"
	u := BackendUser{Expire: &expire, OnlineAt: &online}

	et := u.ExpireTime()
	require.NotNil(t, et)
	assert.Equal(t, time.Unix(expire, 0).UTC(), *et)

	ot := u.OnlineTime()
	require.NotNil(t, ot)
	assert.Equal(t, 2026, ot.Year())

	zero := int64(0)
	assert.Nil(t, BackendUser{Expire: &zero}.ExpireTime())
	assert.Nil(t, BackendUser{}.OnlineTime())
}
