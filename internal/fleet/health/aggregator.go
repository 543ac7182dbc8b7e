package health

import (
	"context"
	"sync"
	"time"

	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/backend"
	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/db"
	domerrors "github.com/pochtmanr/dopplerland-fleet/internal/shared/errors"
	"github.com/pochtmanr/dopplerland-fleet/internal/shared/logger"
	"github.com/pochtmanr/dopplerland-fleet/pkg/events"
)

// Probe outcome classes.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusDown     = "down"
	StatusNoAgent  = "no_agent"
)

// Snapshot is one server's result from a probe round.
type Snapshot struct {
	ServerID   string               `json:"server_id"`
	ServerName string               `json:"server_name"`
	Status     string               `json:"status"`
	LatencyMS  *int64               `json:"latency_ms,omitempty"`
	Stats      *backend.SystemStats `json:"stats,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// FleetSnapshot is a point-in-time view of the whole fleet.
type FleetSnapshot struct {
	Servers   []Snapshot `json:"servers"`
	ProbedAt  time.Time  `json:"probed_at"`
	Healthy   int        `json:"healthy"`
	Degraded  int        `json:"degraded"`
	Down      int        `json:"down"`
	Unmonitor int        `json:"unmonitored"`
}

// Aggregator probes every active server concurrently and assembles a
// fleet snapshot. Each probe carries its own timeout; no probe blocks
// another's result.
type Aggregator struct {
	store        db.Store
	creds        backend.CredentialStore
	client       backend.Client
	bus          events.EventBus
	probeTimeout time.Duration
	logger       *logger.Logger
}

// New creates an Aggregator.
func New(store db.Store, creds backend.CredentialStore, client backend.Client, bus events.EventBus, probeTimeout time.Duration, log *logger.Logger) *Aggregator {
	if probeTimeout <= 0 {
		probeTimeout = 10 * time.Second
	}
	return &Aggregator{
		store:        store,
		creds:        creds,
		client:       client,
		bus:          bus,
		probeTimeout: probeTimeout,
		logger:       log.WithComponent("health"),
	}
}

// ProbeFleet probes all active servers in parallel and waits for every
// probe to settle.
func (a *Aggregator) ProbeFleet(ctx context.Context) (*FleetSnapshot, error) {
	op := a.logger.StartOp(ctx, "probe_fleet")

	servers, err := a.store.ListActiveServers(ctx)
	if err != nil {
		wrapped := domerrors.NewDatabaseError(domerrors.ErrCodeDatabase, "failed to list active servers", true, err)
		op.Fail(wrapped, "server listing failed")
		return nil, wrapped
	}

	snapshots := make([]Snapshot, len(servers))
	var wg sync.WaitGroup
	for i, server := range servers {
		wg.Add(1)
		go func(i int, server db.VpnServer) {
			defer wg.Done()
			snapshots[i] = a.probe(ctx, server)
		}(i, server)
	}
	wg.Wait()

	snapshot := &FleetSnapshot{
		Servers:  snapshots,
		ProbedAt: time.Now().UTC(),
	}
	for _, s := range snapshots {
		switch s.Status {
		case StatusHealthy:
			snapshot.Healthy++
		case StatusDegraded:
			snapshot.Degraded++
		case StatusDown:
			snapshot.Down++
			if a.bus != nil {
				_ = a.bus.Publish(ctx, events.NewServerDown(s.ServerID, s.Error))
			}
		case StatusNoAgent:
			snapshot.Unmonitor++
		}
	}

	op.Complete("fleet probed",
		"servers", len(snapshots),
		"healthy", snapshot.Healthy,
		"down", snapshot.Down,
	)
	return snapshot, nil
}

// probe runs one timed stats call. Servers without panel credentials
// have no monitoring agent and are classified as such, not as down.
func (a *Aggregator) probe(ctx context.Context, server db.VpnServer) Snapshot {
	snapshot := Snapshot{ServerID: server.ID, ServerName: server.Name}

	if _, err := a.creds.Get(ctx, server.ID); err != nil {
		snapshot.Status = StatusNoAgent
		return snapshot
	}

	probeCtx, cancel := context.WithTimeout(ctx, a.probeTimeout)
	defer cancel()

	start := time.Now()
	stats, err := a.client.GetSystemStats(probeCtx, server.ID)
	latency := time.Since(start).Milliseconds()
	snapshot.LatencyMS = &latency

	if err != nil {
		snapshot.Status = StatusDown
		snapshot.Error = err.Error()
		return snapshot
	}

	snapshot.Stats = stats
	snapshot.Status = classify(stats)
	return snapshot
}

// classify separates a responsive but overloaded server from a healthy
// one.
func classify(stats *backend.SystemStats) string {
	if stats.CPUUsage >= 95 {
		return StatusDegraded
	}
	if stats.MemTotal > 0 && float64(stats.MemUsed)/float64(stats.MemTotal) >= 0.95 {
		return StatusDegraded
	}
	return StatusHealthy
}
