package allocator

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/backend"
	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/config"
	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/db"
	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/wgconfig"
	domerrors "github.com/pochtmanr/dopplerland-fleet/internal/shared/errors"
	"github.com/pochtmanr/dopplerland-fleet/internal/shared/logger"
	wgcrypto "github.com/pochtmanr/dopplerland-fleet/pkg/crypto"
	"github.com/pochtmanr/dopplerland-fleet/pkg/events"
)

// ConnectParams identifies the account, optional device and target
// server for a provisioning request. AccountRef accepts either the
// internal account id or the externally facing account code.
type ConnectParams struct {
	AccountRef string
	DeviceID   *string
	ServerID   string
}

// ConnectResult is the canonical grant returned to callers.
type ConnectResult struct {
	ConfigID     string
	ConfigText   string
	PublicKey    string
	ClientIP     string
	ServerPubkey string
	Endpoint     string
	DNS          string
	ExpiresAt    time.Time
	Tier         string
	Existing     bool
}

// DisconnectParams revokes a grant by public key or config id.
type DisconnectParams struct {
	AccountRef string
	PublicKey  *string
	ConfigID   *string
}

// Allocator provisions WireGuard configs against fleet servers,
// enforcing device limits and idempotent reuse.
type Allocator struct {
	store  db.Store
	peers  backend.PeerAPI
	bus    events.EventBus
	grants config.GrantConfig
	logger *logger.Logger

	// Serializes Connect per (account, server); the partial unique
	// index on connection_configs is the storage-level backstop.
	locks keyedLocks
}

// New creates an Allocator.
func New(store db.Store, peers backend.PeerAPI, bus events.EventBus, grants config.GrantConfig, log *logger.Logger) *Allocator {
	return &Allocator{
		store:  store,
		peers:  peers,
		bus:    bus,
		grants: grants,
		logger: log.WithComponent("allocator"),
	}
}

// Connect returns a usable WireGuard config for the account on the
// target server. An unexpired active config is reused as-is; an
// expired one is deactivated and replaced. Device limits are checked
// before any backend call.
func (a *Allocator) Connect(ctx context.Context, params ConnectParams) (*ConnectResult, error) {
	op := a.logger.StartOp(ctx, "connect", "account_ref", params.AccountRef, "server_id", params.ServerID)

	account, err := a.resolveAccount(ctx, params.AccountRef)
	if err != nil {
		op.Fail(err, "account resolution failed")
		return nil, err
	}

	unlock := a.locks.lock(account.AccountCode + "/" + params.ServerID)
	defer unlock()

	// Idempotent reuse of an unexpired grant
	existing, err := a.store.GetActiveConfig(ctx, account.AccountCode, params.ServerID)
	switch {
	case err == nil && existing.ExpiresAt.After(time.Now()):
		op.Complete("reused active config", "config_id", existing.ID)
		return resultFromRow(existing, true), nil
	case err == nil:
		// Expired grant is superseded, never deleted
		if err := a.store.DeactivateConfig(ctx, existing.ID); err != nil {
			wrapped := domerrors.NewAllocationError(domerrors.ErrCodePersistenceFailed, "failed to deactivate expired config", true, err)
			op.Fail(wrapped, "deactivation failed")
			return nil, wrapped
		}
	case !errors.Is(err, sql.ErrNoRows):
		wrapped := domerrors.NewDatabaseError(domerrors.ErrCodeDatabase, "failed to look up active config", true, err)
		op.Fail(wrapped, "config lookup failed")
		return nil, wrapped
	}

	// Device limit is checked before any backend mutation
	maxDevices := account.MaxDevices
	if maxDevices <= 0 {
		maxDevices = a.grants.MaxDevices
	}
	active, err := a.store.CountActiveConfigs(ctx, account.AccountCode)
	if err != nil {
		wrapped := domerrors.NewDatabaseError(domerrors.ErrCodeDatabase, "failed to count active configs", true, err)
		op.Fail(wrapped, "device limit check failed")
		return nil, wrapped
	}
	if active >= int64(maxDevices) {
		limitErr := domerrors.NewAccountError(domerrors.ErrCodeDeviceLimitReached, "account reached its device limit", false, nil).
			WithMetadata("account_code", account.AccountCode).
			WithMetadata("max_devices", maxDevices)
		op.Fail(limitErr, "device limit reached")
		return nil, limitErr
	}

	server, err := a.resolveServer(ctx, params.ServerID)
	if err != nil {
		op.Fail(err, "server resolution failed")
		return nil, err
	}

	raw, err := a.peers.CreatePeer(ctx, server)
	if err != nil {
		op.Fail(err, "peer creation failed")
		return nil, err
	}

	canonical, err := wgconfig.Normalize(*raw)
	if err != nil {
		op.Fail(err, "response normalization failed")
		return nil, err
	}

	// Text-form responses carry no peer public key; derive it from the
	// private key so revocation and compensation stay addressable.
	if canonical.PublicKey == "" {
		derived, derr := wgcrypto.DerivePublicKey(canonical.PrivateKey)
		if derr != nil {
			wrapped := domerrors.NewBackendError(domerrors.ErrCodeBackendMalformedResponse,
				"cannot derive public key from peer response", false, derr)
			op.Fail(wrapped, "key derivation failed")
			return nil, wrapped
		}
		canonical.PublicKey = derived
	}

	tier := account.SubscriptionTier
	expiresAt := time.Now().Add(a.grantDuration(tier))

	row, err := a.store.CreateConfig(ctx, db.CreateConfigParams{
		ID:          uuid.NewString(),
		AccountCode: account.AccountCode,
		ServerID:    server.ID,
		DeviceID:    params.DeviceID,
		PublicKey:   canonical.PublicKey,
		ConfigData:  canonical.ConfigText,
		Tier:        tier,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		a.compensate(ctx, server, canonical.PublicKey)
		wrapped := domerrors.NewAllocationError(domerrors.ErrCodePersistenceFailed, "failed to persist connection config", true, err).
			WithMetadata("server_id", server.ID)
		op.Fail(wrapped, "persistence failed")
		return nil, wrapped
	}

	if a.bus != nil {
		_ = a.bus.Publish(ctx, events.NewConfigIssued(account.AccountCode, server.ID, canonical.PublicKey, tier))
	}

	op.Complete("issued new config", "config_id", row.ID, "tier", tier)
	return &ConnectResult{
		ConfigID:     row.ID,
		ConfigText:   canonical.ConfigText,
		PublicKey:    canonical.PublicKey,
		ClientIP:     canonical.ClientAddress,
		ServerPubkey: canonical.ServerPublicKey,
		Endpoint:     canonical.Endpoint,
		DNS:          canonical.DNS,
		ExpiresAt:    row.ExpiresAt,
		Tier:         tier,
		Existing:     false,
	}, nil
}

// Disconnect deactivates a grant and best-effort removes the backend
// peer. Missing grants are reported as ConfigNotFound.
func (a *Allocator) Disconnect(ctx context.Context, params DisconnectParams) error {
	op := a.logger.StartOp(ctx, "disconnect", "account_ref", params.AccountRef)

	account, err := a.resolveAccount(ctx, params.AccountRef)
	if err != nil {
		op.Fail(err, "account resolution failed")
		return err
	}

	var row db.ConnectionConfig
	switch {
	case params.PublicKey != nil && *params.PublicKey != "":
		row, err = a.store.GetActiveConfigByPublicKey(ctx, account.AccountCode, *params.PublicKey)
	case params.ConfigID != nil && *params.ConfigID != "":
		row, err = a.store.GetActiveConfigByID(ctx, account.AccountCode, *params.ConfigID)
	default:
		err = sql.ErrNoRows
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			notFound := domerrors.NewAllocationError(domerrors.ErrCodeConfigNotFound, "no matching active config", false, nil)
			op.Fail(notFound, "config not found")
			return notFound
		}
		wrapped := domerrors.NewDatabaseError(domerrors.ErrCodeDatabase, "failed to look up config", true, err)
		op.Fail(wrapped, "config lookup failed")
		return wrapped
	}

	if err := a.store.DeactivateConfig(ctx, row.ID); err != nil {
		wrapped := domerrors.NewAllocationError(domerrors.ErrCodePersistenceFailed, "failed to deactivate config", true, err)
		op.Fail(wrapped, "deactivation failed")
		return wrapped
	}

	// Peer removal is best effort; the grant is already revoked locally
	if row.PublicKey != "" {
		if server, serr := a.store.GetServer(ctx, row.ServerID); serr == nil {
			if derr := a.peers.DeletePeer(ctx, server, row.PublicKey); derr != nil {
				a.logger.WarnContext(ctx, "failed to remove backend peer",
					"server_id", row.ServerID, "error", derr)
			}
		}
	}

	if a.bus != nil {
		_ = a.bus.Publish(ctx, events.NewConfigRevoked(account.AccountCode, row.ServerID, row.PublicKey))
	}

	op.Complete("revoked config", "config_id", row.ID)
	return nil
}

func (a *Allocator) resolveAccount(ctx context.Context, ref string) (db.Account, error) {
	account, err := a.store.GetAccount(ctx, ref)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return db.Account{}, domerrors.NewDatabaseError(domerrors.ErrCodeDatabase, "failed to load account", true, err)
	}

	account, err = a.store.GetAccountByCode(ctx, ref)
	if err == nil {
		return account, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return db.Account{}, domerrors.NewAccountError(domerrors.ErrCodeAccountNotFound, "account not found", false, nil).
			WithMetadata("account_ref", ref)
	}
	return db.Account{}, domerrors.NewDatabaseError(domerrors.ErrCodeDatabase, "failed to load account", true, err)
}

func (a *Allocator) resolveServer(ctx context.Context, serverID string) (db.VpnServer, error) {
	server, err := a.store.GetServer(ctx, serverID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return db.VpnServer{}, domerrors.NewServerError(domerrors.ErrCodeServerNotFound, "server not found", false, nil).
				WithMetadata("server_id", serverID)
		}
		return db.VpnServer{}, domerrors.NewDatabaseError(domerrors.ErrCodeDatabase, "failed to load server", true, err)
	}
	if !server.IsActive {
		return db.VpnServer{}, domerrors.NewServerError(domerrors.ErrCodeServerInactive, "server is not active", false, nil).
			WithMetadata("server_id", serverID)
	}
	if server.WGAPIURL == "" {
		return db.VpnServer{}, domerrors.NewServerError(domerrors.ErrCodeServerMisconfigured, "server has no wireguard api url", false, nil).
			WithMetadata("server_id", serverID)
	}
	return server, nil
}

func (a *Allocator) grantDuration(tier string) time.Duration {
	if tier == "free" || tier == "" {
		return a.grants.FreeDuration
	}
	return a.grants.PaidDuration
}

// compensate removes the just-created backend peer after a persistence
// failure. Its own failure is logged, never escalated.
func (a *Allocator) compensate(ctx context.Context, server db.VpnServer, publicKey string) {
	if err := a.peers.DeletePeer(ctx, server, publicKey); err != nil {
		comp := domerrors.NewCompensationError(server.ID, publicKey, err)
		a.logger.ErrorCtx(ctx, "compensating peer deletion failed", comp, "server_id", server.ID)
	}
}

func resultFromRow(row db.ConnectionConfig, existing bool) *ConnectResult {
	return &ConnectResult{
		ConfigID:     row.ID,
		ConfigText:   row.ConfigData,
		PublicKey:    row.PublicKey,
		ClientIP:     wgconfig.ExtractAddress(row.ConfigData),
		ServerPubkey: wgconfig.ExtractServerKey(row.ConfigData),
		Endpoint:     wgconfig.ExtractEndpoint(row.ConfigData),
		DNS:          wgconfig.ExtractDNS(row.ConfigData),
		ExpiresAt:    row.ExpiresAt,
		Tier:         row.Tier,
		Existing:     existing,
	}
}

// keyedLocks hands out one mutex per key.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedLocks) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
