package fleet

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/allocator"
	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/api"
	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/backend"
	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/config"
	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/db"
	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/health"
	fleetsync "github.com/pochtmanr/dopplerland-fleet/internal/fleet/sync"
	"github.com/pochtmanr/dopplerland-fleet/internal/shared/logger"
	"github.com/pochtmanr/dopplerland-fleet/pkg/events"
)

// APIServerInterface defines the interface for API server operations
type APIServerInterface interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Service coordinates all fleet service components and manages their lifecycle
type Service struct {
	config    *config.Config
	apiServer APIServerInterface
	logger    *logger.Logger

	// Component instances for cleanup and background loops
	store      db.Store
	bus        events.EventBus
	reconciler *fleetsync.Reconciler
	aggregator *health.Aggregator

	// Internal state for lifecycle management
	ctx    context.Context
	cancel context.CancelFunc

	// Signal handling and graceful shutdown
	signalChan            chan os.Signal
	shutdownWg            sync.WaitGroup
	isRunning             bool
	mu                    sync.RWMutex
	disableSignalHandling bool // For testing
}

// NewService creates a new Service instance and initializes all components in proper dependency order
func NewService(cfg *config.Config, log *logger.Logger) (*Service, error) {
	ctx, cancel := context.WithCancel(context.Background())

	service := &Service{
		config:     cfg,
		logger:     log.WithComponent("service"),
		ctx:        ctx,
		cancel:     cancel,
		signalChan: make(chan os.Signal, 1),
	}

	if err := service.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize service components: %w", err)
	}

	return service, nil
}

// initializeComponents creates and wires all service components in proper dependency order
func (s *Service) initializeComponents() error {
	s.logger.Info("initializing service components")

	// 1. Database store (foundational dependency)
	s.logger.Debug("initializing database store")
	store, err := db.NewStore(&db.Config{
		Path:            s.config.DB.Path,
		MaxOpenConns:    s.config.DB.MaxOpenConns,
		MaxIdleConns:    s.config.DB.MaxIdleConns,
		ConnMaxLifetime: s.config.DB.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database store: %w", err)
	}
	s.store = store
	s.logger.Debug("database store initialized successfully")

	// 2. Event bus
	s.logger.Debug("initializing event bus")
	s.bus = events.NewGookitEventBus(events.DefaultEventBusConfig(), s.logger)

	// 3. Credential store and token cache (backend control-plane dependencies)
	s.logger.Debug("initializing backend credential store")
	creds := backend.NewCredentialStore(s.store)

	var tokens backend.TokenCache
	switch s.config.Cache.Mode {
	case "redis":
		s.logger.Debug("initializing redis token cache", "addr", s.config.Cache.RedisAddr)
		tokens = backend.NewRedisTokenCache(redis.NewClient(&redis.Options{
			Addr:     s.config.Cache.RedisAddr,
			Password: s.config.Cache.RedisPassword,
			DB:       s.config.Cache.RedisDB,
		}))
	default:
		s.logger.Debug("initializing in-memory token cache")
		tokens = backend.NewMemoryTokenCache()
	}

	// 4. Backend clients (depend on credentials and token cache)
	s.logger.Debug("initializing panel client")
	panel := backend.NewPanelClient(creds, tokens, backend.Options{
		Timeout:        s.config.Backend.PanelTimeout,
		TokenLifetime:  s.config.Backend.TokenLifetime,
		TokenSafetyGap: s.config.Backend.TokenSafetyGap,
		APIKeyHeader:   s.config.Backend.APIKeyHeader,
	}, s.logger)

	s.logger.Debug("initializing peer provisioning client")
	peers := backend.NewWGAPIClient(s.config.Backend.PeerTimeout, s.logger)

	// 5. Connection allocator (depends on store, peer client, event bus)
	s.logger.Debug("initializing connection allocator")
	alloc := allocator.New(s.store, peers, s.bus, s.config.Grants, s.logger)

	// 6. Sync reconciler (depends on store, credentials, panel client)
	s.logger.Debug("initializing sync reconciler")
	s.reconciler = fleetsync.New(s.store, creds, panel, s.bus, fleetsync.Options{
		PageSize: s.config.Sync.PageSize,
	}, s.logger)

	// 7. Health aggregator (depends on store, credentials, panel client)
	s.logger.Debug("initializing health aggregator")
	s.aggregator = health.New(s.store, creds, panel, s.bus, s.config.Health.ProbeTimeout, s.logger)

	// 8. API server (depends on everything above)
	s.logger.Debug("initializing API server")
	s.apiServer = api.NewServer(
		api.ServerConfig{
			Address:     s.config.API.ListenAddr,
			CORSOrigins: s.config.API.CORSOrigins,
			Version:     Version,
		},
		s.store,
		alloc,
		s.reconciler,
		s.aggregator,
		panel,
		s.logger,
	)
	s.logger.Debug("API server initialized successfully")

	s.logger.Info("all service components initialized successfully")
	return nil
}

// Start starts all service components in proper dependency order
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("service is already running")
	}

	s.logger.Info("starting fleet service")

	if !s.disableSignalHandling {
		s.setupSignalHandling()
	}

	// 1. Start API server
	if err := s.apiServer.Start(s.ctx); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}
	s.logger.Info("API server started successfully")

	// 2. Start background loops
	s.startBackgroundLoops()

	s.isRunning = true
	s.logger.Info("fleet service started successfully")
	return nil
}

// startBackgroundLoops launches the periodic sync and health probe loops.
// An interval of zero disables the corresponding loop.
func (s *Service) startBackgroundLoops() {
	if s.config.Sync.Interval > 0 {
		s.shutdownWg.Add(1)
		go s.runSyncLoop(s.config.Sync.Interval)
		s.logger.Info("periodic sync loop started", "interval", s.config.Sync.Interval.String())
	} else {
		s.logger.Info("periodic sync loop disabled")
	}

	if s.config.Health.Interval > 0 {
		s.shutdownWg.Add(1)
		go s.runHealthLoop(s.config.Health.Interval)
		s.logger.Info("periodic health probe loop started", "interval", s.config.Health.Interval.String())
	} else {
		s.logger.Info("periodic health probe loop disabled")
	}
}

func (s *Service) runSyncLoop(interval time.Duration) {
	defer s.shutdownWg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			results, err := s.reconciler.SyncAll(s.ctx)
			if err != nil {
				s.logger.ErrorCtx(s.ctx, "periodic sync failed", err)
				continue
			}
			synced, failed := 0, 0
			for _, r := range results {
				synced += r.SyncedCount
				failed += r.ErrorCount
			}
			s.logger.InfoContext(s.ctx, "periodic sync completed",
				"servers", len(results), "synced", synced, "errors", failed)
		case <-s.ctx.Done():
			s.logger.Debug("sync loop exiting")
			return
		}
	}
}

func (s *Service) runHealthLoop(interval time.Duration) {
	defer s.shutdownWg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snapshot, err := s.aggregator.ProbeFleet(s.ctx)
			if err != nil {
				s.logger.ErrorCtx(s.ctx, "periodic fleet probe failed", err)
				continue
			}
			s.logger.InfoContext(s.ctx, "periodic fleet probe completed",
				"healthy", snapshot.Healthy, "degraded", snapshot.Degraded,
				"down", snapshot.Down, "unmonitored", snapshot.Unmonitor)
		case <-s.ctx.Done():
			s.logger.Debug("health loop exiting")
			return
		}
	}
}

// setupSignalHandling configures signal handling for graceful shutdown
func (s *Service) setupSignalHandling() {
	signal.Notify(s.signalChan, syscall.SIGINT, syscall.SIGTERM)

	s.shutdownWg.Add(1)
	go s.handleSignals()
}

// handleSignals processes shutdown signals and initiates graceful shutdown
func (s *Service) handleSignals() {
	defer s.shutdownWg.Done()

	select {
	case sig := <-s.signalChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())

		shutdownTimeout := 30 * time.Second
		if s.config != nil && s.config.Service.ShutdownTimeout > 0 {
			shutdownTimeout = s.config.Service.ShutdownTimeout
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.Stop(shutdownCtx); err != nil {
			s.logger.ErrorCtx(shutdownCtx, "error during graceful shutdown", err)
		}

	case <-s.ctx.Done():
		s.logger.Debug("signal handler exiting due to service context cancellation")
	}
}

// WaitForShutdown blocks until the service receives a shutdown signal or context is cancelled
func (s *Service) WaitForShutdown() {
	s.logger.Info("service running, waiting for shutdown signal")

	s.shutdownWg.Wait()

	s.logger.Info("service shutdown complete")
}

// Stop gracefully shuts down all service components with proper cleanup order
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		s.logger.Warn("service is not running")
		return nil
	}

	s.logger.Info("stopping fleet service")

	shutdownCtx := ctx
	if ctx == context.Background() || ctx == nil {
		shutdownTimeout := 30 * time.Second
		if s.config != nil && s.config.Service.ShutdownTimeout > 0 {
			shutdownTimeout = s.config.Service.ShutdownTimeout
		}

		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
	}

	var lastErr error

	if !s.disableSignalHandling {
		signal.Stop(s.signalChan)
		close(s.signalChan)
	}

	// Stop components in reverse dependency order
	// 1. Stop API server first (external interface)
	if s.apiServer != nil {
		s.logger.Info("stopping API server")
		if err := s.apiServer.Stop(shutdownCtx); err != nil {
			s.logger.ErrorCtx(shutdownCtx, "failed to stop API server", err)
			lastErr = err
		} else {
			s.logger.Info("API server stopped successfully")
		}
	}

	// 2. Cancel service context so background loops exit
	s.cancel()
	s.logger.Info("service context cancelled")

	// 3. Wait for background goroutines to finish
	s.logger.Debug("waiting for background goroutines to finish")
	done := make(chan struct{})
	go func() {
		s.shutdownWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Debug("all background goroutines finished")
	case <-shutdownCtx.Done():
		s.logger.Warn("timeout waiting for background goroutines to finish")
		if lastErr == nil {
			lastErr = shutdownCtx.Err()
		}
	}

	// 4. Close event bus
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			s.logger.ErrorCtx(shutdownCtx, "failed to close event bus", err)
			lastErr = err
		}
	}

	// 5. Close database store last
	if s.store != nil {
		s.logger.Info("closing database store")
		if err := s.store.Close(); err != nil {
			s.logger.ErrorCtx(shutdownCtx, "failed to close database store", err)
			lastErr = err
		} else {
			s.logger.Info("database store closed successfully")
		}
	}

	s.isRunning = false

	if lastErr != nil {
		return fmt.Errorf("service shutdown completed with errors: %w", lastErr)
	}

	s.logger.Info("fleet service stopped successfully")
	return nil
}

// Health checks the health of all service components
func (s *Service) Health() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return fmt.Errorf("service is not running")
	}

	select {
	case <-s.ctx.Done():
		return fmt.Errorf("service context cancelled")
	default:
		if s.store != nil {
			if err := s.store.Ping(context.Background()); err != nil {
				return fmt.Errorf("database health check failed: %w", err)
			}
		}
		return nil
	}
}

// IsRunning returns whether the service is currently running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Context returns the service context for components that need it
func (s *Service) Context() context.Context {
	return s.ctx
}
