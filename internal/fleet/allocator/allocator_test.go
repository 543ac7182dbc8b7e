package allocator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/backend"
	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/config"
	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/db"
	domerrors "github.com/pochtmanr/dopplerland-fleet/internal/shared/errors"
	"github.com/pochtmanr/dopplerland-fleet/internal/shared/logger"
	wgcrypto "github.com/pochtmanr/dopplerland-fleet/pkg/crypto"
)

type fakePeerAPI struct {
	createCalls int32
	deleteCalls int32
	deletedKeys []string
	failCreate  bool
	textForm    string
}

func (f *fakePeerAPI) CreatePeer(_ context.Context, server db.VpnServer) (*backend.PeerCreationResponse, error) {
	n := atomic.AddInt32(&f.createCalls, 1)
	if f.failCreate {
		return nil, domerrors.NewBackendError(domerrors.ErrCodeBackendUnavailable, "wg api down", true, nil)
	}
	if f.textForm != "" {
		return &backend.PeerCreationResponse{Config: f.textForm}, nil
	}
	return &backend.PeerCreationResponse{
		PrivateKey:   fmt.Sprintf("priv-%d==", n),
		PublicKey:    fmt.Sprintf("pub-%d==", n),
		ClientIP:     fmt.Sprintf("10.8.0.%d", n),
		ServerPubkey: "server-pub==",
		Endpoint:     server.IPAddress + ":51820",
	}, nil
}

func (f *fakePeerAPI) DeletePeer(_ context.Context, _ db.VpnServer, publicKey string) error {
	atomic.AddInt32(&f.deleteCalls, 1)
	f.deletedKeys = append(f.deletedKeys, publicKey)
	return nil
}

func testGrants() config.GrantConfig {
	return config.GrantConfig{
		FreeDuration: 24 * time.Hour,
		PaidDuration: 30 * 24 * time.Hour,
		MaxDevices:   10,
	}
}

func newTestAllocator(t *testing.T) (*Allocator, db.Store, *fakePeerAPI) {
	t.Helper()
	_, store := db.NewTestDB(t)
	peers := &fakePeerAPI{}
	alloc := New(store, peers, nil, testGrants(), logger.NewDevelopment("test"))
	return alloc, store, peers
}

func seedFleet(t *testing.T, store db.Store) (db.Account, db.VpnServer) {
	t.Helper()
	account := db.SeedTestAccount(t, store, "ACC1", "free", 3)
	server := db.SeedTestServer(t, store, db.CreateServerParams{
		ID:        "srv-1",
		Name:      "Amsterdam 1",
		IPAddress: "203.0.113.10",
		IsActive:  true,
		WGAPIURL:  "https://203.0.113.10:8080",
		WGAPIKey:  "wg-key",
	})
	return account, server
}

func TestConnectIssuesNewConfig(t *testing.T) {
	alloc, store, peers := newTestAllocator(t)
	account, server := seedFleet(t, store)

	result, err := alloc.Connect(context.Background(), ConnectParams{
		AccountRef: account.AccountCode,
		ServerID:   server.ID,
	})
	require.NoError(t, err)

	assert.False(t, result.Existing)
	assert.Equal(t, "pub-1==", result.PublicKey)
	assert.Equal(t, "10.8.0.1", result.ClientIP)
	assert.Equal(t, "free", result.Tier)
	assert.Contains(t, result.ConfigText, "AllowedIPs = 0.0.0.0/0, ::/0")
	assert.Equal(t, int32(1), atomic.LoadInt32(&peers.createCalls))
}

func TestConnectDerivesKeyFromTextForm(t *testing.T) {
	alloc, store, peers := newTestAllocator(t)
	account, server := seedFleet(t, store)

	privateKey := "QUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUE="
	peers.textForm = "[Interface]\n" +
		"PrivateKey = " + privateKey + "\n" +
		"Address = 10.8.0.9/32\n" +
		"\n[Peer]\n" +
		"PublicKey = server-pub==\n" +
		"Endpoint = 203.0.113.10:51820\n"

	result, err := alloc.Connect(context.Background(), ConnectParams{
		AccountRef: account.AccountCode,
		ServerID:   server.ID,
	})
	require.NoError(t, err)

	assert.True(t, wgcrypto.IsValidKey(result.PublicKey), "public key must be derived from the embedded private key")
	derived, err := wgcrypto.DerivePublicKey(privateKey)
	require.NoError(t, err)
	assert.Equal(t, derived, result.PublicKey)

	row, err := store.GetActiveConfigByPublicKey(context.Background(), account.AccountCode, derived)
	require.NoError(t, err)
	assert.Contains(t, row.ConfigData, "MTU = 1420")
}

func TestConnectRejectsUnderivableTextForm(t *testing.T) {
	alloc, store, peers := newTestAllocator(t)
	account, server := seedFleet(t, store)

	peers.textForm = "[Interface]\nPrivateKey = not-a-key\nAddress = 10.8.0.9/32\n"

	_, err := alloc.Connect(context.Background(), ConnectParams{
		AccountRef: account.AccountCode,
		ServerID:   server.ID,
	})
	require.Error(t, err)
	assert.True(t, domerrors.HasErrorCode(err, domerrors.ErrCodeBackendMalformedResponse))
}

func TestConnectIsIdempotent(t *testing.T) {
	alloc, store, peers := newTestAllocator(t)
	account, server := seedFleet(t, store)
	ctx := context.Background()

	first, err := alloc.Connect(ctx, ConnectParams{AccountRef: account.AccountCode, ServerID: server.ID})
	require.NoError(t, err)

	second, err := alloc.Connect(ctx, ConnectParams{AccountRef: account.AccountCode, ServerID: server.ID})
	require.NoError(t, err)

	assert.True(t, second.Existing)
	assert.Equal(t, first.PublicKey, second.PublicKey)
	assert.Equal(t, first.ConfigText, second.ConfigText)
	assert.Equal(t, int32(1), atomic.LoadInt32(&peers.createCalls), "reuse must not allocate a second peer")
}

func TestConnectResolvesAccountByID(t *testing.T) {
	alloc, store, _ := newTestAllocator(t)
	account, server := seedFleet(t, store)

	result, err := alloc.Connect(context.Background(), ConnectParams{
		AccountRef: account.ID,
		ServerID:   server.ID,
	})
	require.NoError(t, err)
	assert.False(t, result.Existing)
}

func TestConnectDeviceLimit(t *testing.T) {
	alloc, store, peers := newTestAllocator(t)
	account, _ := seedFleet(t, store)

	// Fill the account's limit of 3 across other servers
	for i := 0; i < 3; i++ {
		srv := db.SeedTestServer(t, store, db.CreateServerParams{
			ID: fmt.Sprintf("other-%d", i), IsActive: true, WGAPIURL: "https://x",
		})
		db.SeedTestConfig(t, store, account.AccountCode, srv.ID)
	}

	_, err := alloc.Connect(context.Background(), ConnectParams{
		AccountRef: account.AccountCode,
		ServerID:   "srv-1",
	})
	require.Error(t, err)
	assert.True(t, domerrors.HasErrorCode(err, domerrors.ErrCodeDeviceLimitReached))
	assert.Equal(t, int32(0), atomic.LoadInt32(&peers.createCalls), "limit check must precede backend calls")
}

func TestConnectReissuesExpiredConfig(t *testing.T) {
	alloc, store, peers := newTestAllocator(t)
	account, server := seedFleet(t, store)
	ctx := context.Background()

	expired, err := store.CreateConfig(ctx, db.CreateConfigParams{
		ID:          uuid.NewString(),
		AccountCode: account.AccountCode,
		ServerID:    server.ID,
		PublicKey:   "stale==",
		ConfigData:  "[Interface]\nPrivateKey = stale\n",
		Tier:        "free",
		ExpiresAt:   time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	result, err := alloc.Connect(ctx, ConnectParams{AccountRef: account.AccountCode, ServerID: server.ID})
	require.NoError(t, err)

	assert.False(t, result.Existing)
	assert.NotEqual(t, "stale==", result.PublicKey)
	assert.Equal(t, int32(1), atomic.LoadInt32(&peers.createCalls))

	n, err := store.CountActiveConfigs(ctx, account.AccountCode)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "exactly one config should remain active")

	_, err = store.GetActiveConfigByID(ctx, account.AccountCode, expired.ID)
	assert.Error(t, err, "expired config should no longer be active")
}

func TestConnectTierExpiry(t *testing.T) {
	alloc, store, _ := newTestAllocator(t)
	_, server := seedFleet(t, store)
	db.SeedTestAccount(t, store, "PAID1", "premium", 5)
	ctx := context.Background()

	free, err := alloc.Connect(ctx, ConnectParams{AccountRef: "ACC1", ServerID: server.ID})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), free.ExpiresAt, time.Minute)

	paid, err := alloc.Connect(ctx, ConnectParams{AccountRef: "PAID1", ServerID: server.ID})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), paid.ExpiresAt, time.Minute)
}

func TestConnectAccountNotFound(t *testing.T) {
	alloc, store, _ := newTestAllocator(t)
	seedFleet(t, store)

	_, err := alloc.Connect(context.Background(), ConnectParams{AccountRef: "nope", ServerID: "srv-1"})
	require.Error(t, err)
	assert.True(t, domerrors.HasErrorCode(err, domerrors.ErrCodeAccountNotFound))
}

func TestConnectServerValidation(t *testing.T) {
	alloc, store, _ := newTestAllocator(t)
	account, _ := seedFleet(t, store)
	ctx := context.Background()

	db.SeedTestServer(t, store, db.CreateServerParams{ID: "inactive", IsActive: false, WGAPIURL: "https://x"})
	db.SeedTestServer(t, store, db.CreateServerParams{ID: "bare", IsActive: true})

	_, err := alloc.Connect(ctx, ConnectParams{AccountRef: account.AccountCode, ServerID: "missing"})
	assert.True(t, domerrors.HasErrorCode(err, domerrors.ErrCodeServerNotFound))

	_, err = alloc.Connect(ctx, ConnectParams{AccountRef: account.AccountCode, ServerID: "inactive"})
	assert.True(t, domerrors.HasErrorCode(err, domerrors.ErrCodeServerInactive))

	_, err = alloc.Connect(ctx, ConnectParams{AccountRef: account.AccountCode, ServerID: "bare"})
	assert.True(t, domerrors.HasErrorCode(err, domerrors.ErrCodeServerMisconfigured))
}

func TestConnectBackendFailure(t *testing.T) {
	alloc, store, peers := newTestAllocator(t)
	account, server := seedFleet(t, store)
	peers.failCreate = true

	_, err := alloc.Connect(context.Background(), ConnectParams{
		AccountRef: account.AccountCode,
		ServerID:   server.ID,
	})
	require.Error(t, err)
	assert.True(t, domerrors.HasErrorCode(err, domerrors.ErrCodeBackendUnavailable))

	n, _ := store.CountActiveConfigs(context.Background(), account.AccountCode)
	assert.Zero(t, n, "no local state should be written when the backend fails")
}

// failingStore wraps a real store and fails CreateConfig.
type failingStore struct {
	db.Store
}

func (s *failingStore) CreateConfig(context.Context, db.CreateConfigParams) (db.ConnectionConfig, error) {
	return db.ConnectionConfig{}, errors.New("disk full")
}

func TestConnectCompensatesOnPersistenceFailure(t *testing.T) {
	_, store := db.NewTestDB(t)
	account, server := seedFleet(t, store)
	peers := &fakePeerAPI{}
	alloc := New(&failingStore{Store: store}, peers, nil, testGrants(), logger.NewDevelopment("test"))

	_, err := alloc.Connect(context.Background(), ConnectParams{
		AccountRef: account.AccountCode,
		ServerID:   server.ID,
	})
	require.Error(t, err)
	assert.True(t, domerrors.HasErrorCode(err, domerrors.ErrCodePersistenceFailed))

	require.Equal(t, int32(1), atomic.LoadInt32(&peers.deleteCalls), "compensating delete must run")
	assert.Equal(t, []string{"pub-1=="}, peers.deletedKeys, "compensation must target the created peer")
}

func TestDisconnectByPublicKey(t *testing.T) {
	alloc, store, peers := newTestAllocator(t)
	account, server := seedFleet(t, store)
	ctx := context.Background()

	result, err := alloc.Connect(ctx, ConnectParams{AccountRef: account.AccountCode, ServerID: server.ID})
	require.NoError(t, err)

	err = alloc.Disconnect(ctx, DisconnectParams{
		AccountRef: account.AccountCode,
		PublicKey:  &result.PublicKey,
	})
	require.NoError(t, err)

	n, _ := store.CountActiveConfigs(ctx, account.AccountCode)
	assert.Zero(t, n)
	assert.Equal(t, int32(1), atomic.LoadInt32(&peers.deleteCalls))
}

func TestDisconnectNotFound(t *testing.T) {
	alloc, store, _ := newTestAllocator(t)
	account, _ := seedFleet(t, store)

	missing := "missing=="
	err := alloc.Disconnect(context.Background(), DisconnectParams{
		AccountRef: account.AccountCode,
		PublicKey:  &missing,
	})
	require.Error(t, err)
	assert.True(t, domerrors.HasErrorCode(err, domerrors.ErrCodeConfigNotFound))
}
