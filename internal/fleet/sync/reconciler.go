package sync

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/backend"
	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/db"
	domerrors "github.com/pochtmanr/dopplerland-fleet/internal/shared/errors"
	"github.com/pochtmanr/dopplerland-fleet/internal/shared/logger"
	"github.com/pochtmanr/dopplerland-fleet/pkg/events"
)

// BackendType tags rows pulled from rich panels.
const BackendType = "marzban"

// ServerResult summarizes one server's reconciliation pass.
type ServerResult struct {
	ServerID    string `json:"server_id"`
	SyncedCount int    `json:"synced_count"`
	ErrorCount  int    `json:"error_count"`
	Error       string `json:"error,omitempty"`
}

// Reconciler pulls authoritative user lists from every credentialed
// backend and upserts them into synced_vpn_users. Failures are
// isolated per server and per user.
type Reconciler struct {
	store    db.Store
	creds    backend.CredentialStore
	client   backend.Client
	bus      events.EventBus
	pageSize int
	timeout  time.Duration
	logger   *logger.Logger
}

// Options tune the reconciler.
type Options struct {
	PageSize    int
	PageTimeout time.Duration
}

// New creates a Reconciler.
func New(store db.Store, creds backend.CredentialStore, client backend.Client, bus events.EventBus, opts Options, log *logger.Logger) *Reconciler {
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 15 * time.Second
	}
	return &Reconciler{
		store:    store,
		creds:    creds,
		client:   client,
		bus:      bus,
		pageSize: opts.PageSize,
		timeout:  opts.PageTimeout,
		logger:   log.WithComponent("sync"),
	}
}

// SyncAll reconciles every backend that has panel credentials. One
// server's failure never aborts the others.
func (r *Reconciler) SyncAll(ctx context.Context) ([]ServerResult, error) {
	op := r.logger.StartOp(ctx, "sync_all")

	creds, err := r.creds.List(ctx)
	if err != nil {
		op.Fail(err, "credential listing failed")
		return nil, err
	}

	results := make([]ServerResult, 0, len(creds))
	for _, cred := range creds {
		result := r.syncServer(ctx, cred.ServerID)
		results = append(results, result)
		if r.bus != nil {
			_ = r.bus.Publish(ctx, events.NewSyncCompleted(cred.ServerID, result.SyncedCount, result.ErrorCount))
		}
	}

	op.Complete("fleet sync finished", "servers", len(results))
	return results, nil
}

// SyncServer reconciles a single backend on demand.
func (r *Reconciler) SyncServer(ctx context.Context, serverID string) ServerResult {
	return r.syncServer(ctx, serverID)
}

func (r *Reconciler) syncServer(ctx context.Context, serverID string) ServerResult {
	result := ServerResult{ServerID: serverID}
	offset := 0

	for {
		pageCtx, cancel := context.WithTimeout(ctx, r.timeout)
		page, err := r.client.ListUsers(pageCtx, serverID, offset, r.pageSize)
		cancel()
		if err != nil {
			wrapped := domerrors.NewSyncError(domerrors.ErrCodeSyncFailed, "user listing failed", true, err).
				WithMetadata("server_id", serverID)
			r.logger.ErrorCtx(ctx, "server sync aborted", wrapped, "server_id", serverID, "offset", offset)
			result.ErrorCount++
			result.Error = wrapped.Error()
			return result
		}

		for _, user := range page.Users {
			if err := r.upsertUser(ctx, serverID, user); err != nil {
				r.logger.WarnContext(ctx, "user upsert failed",
					"server_id", serverID, "username", user.Username, "error", err)
				result.ErrorCount++
				continue
			}
			result.SyncedCount++
		}

		if len(page.Users) < r.pageSize {
			return result
		}
		offset += r.pageSize
	}
}

func (r *Reconciler) upsertUser(ctx context.Context, serverID string, user backend.BackendUser) error {
	status := user.Status
	if status == "" {
		status = "active"
	}
	return r.store.UpsertSyncedUser(ctx, db.UpsertSyncedUserParams{
		ID:               uuid.NewString(),
		ServerID:         serverID,
		BackendUsername:  user.Username,
		BackendType:      BackendType,
		Platform:         DerivePlatform(user.Username),
		Protocol:         DeriveProtocol(user),
		Status:           status,
		UsedTrafficBytes: user.UsedTraffic,
		DataLimitBytes:   user.DataLimit,
		ExpiresAt:        user.ExpireTime(),
		LastOnlineAt:     user.OnlineTime(),
	})
}

// DeriveProtocol picks a single protocol tag from the user's configured
// proxies: vless wins, then shadowsocks, then trojan, defaulting to
// vless when nothing is identifiable.
func DeriveProtocol(user backend.BackendUser) string {
	for _, proto := range []string{"vless", "shadowsocks", "trojan"} {
		if _, ok := user.Proxies[proto]; ok {
			return proto
		}
	}
	return "vless"
}

// DerivePlatform maps the backend username convention to an origin
// platform. The bot prefix is the only recognized convention.
func DerivePlatform(username string) string {
	if strings.HasPrefix(username, "tg_") {
		return "telegram"
	}
	return "unknown"
}
