package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/allocator"
	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/backend"
	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/db"
	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/health"
	fleetsync "github.com/pochtmanr/dopplerland-fleet/internal/fleet/sync"
	applogger "github.com/pochtmanr/dopplerland-fleet/internal/shared/logger"
	"github.com/pochtmanr/dopplerland-fleet/pkg/api"
)

// AllocatorInterface defines the provisioning surface the server
// depends on.
type AllocatorInterface interface {
	Connect(ctx context.Context, params allocator.ConnectParams) (*allocator.ConnectResult, error)
	Disconnect(ctx context.Context, params allocator.DisconnectParams) error
}

// ReconcilerInterface defines the fleet-sync surface.
type ReconcilerInterface interface {
	SyncAll(ctx context.Context) ([]fleetsync.ServerResult, error)
	SyncServer(ctx context.Context, serverID string) fleetsync.ServerResult
}

// AggregatorInterface defines the health-probe surface.
type AggregatorInterface interface {
	ProbeFleet(ctx context.Context) (*health.FleetSnapshot, error)
}

// Server represents the HTTP API server with proper lifecycle management.
type Server struct {
	server      *http.Server
	store       db.Store
	alloc       AllocatorInterface
	reconciler  ReconcilerInterface
	aggregator  AggregatorInterface
	panel       backend.Client
	logger      *applogger.Logger
	corsOrigins []string
	version     string
}

// ServerConfig contains configuration for the API server.
type ServerConfig struct {
	Address     string
	CORSOrigins []string
	Version     string
}

// NewServer creates a new API server instance.
func NewServer(config ServerConfig, store db.Store, alloc AllocatorInterface, reconciler ReconcilerInterface, aggregator AggregatorInterface, panel backend.Client, logger *applogger.Logger) *Server {
	return &Server{
		store:       store,
		alloc:       alloc,
		reconciler:  reconciler,
		aggregator:  aggregator,
		panel:       panel,
		logger:      logger.WithComponent("api"),
		corsOrigins: config.CORSOrigins,
		version:     config.Version,
		server: &http.Server{
			Addr:         config.Address,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start starts the HTTP server and begins serving requests.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	s.server.Handler = s.registerRoutes(mux)

	s.logger.InfoContext(ctx, "starting API server", "address", s.server.Addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("api server failed to start: %w", err)
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-time.After(100 * time.Millisecond):
		s.logger.InfoContext(ctx, "API server started successfully", "address", s.server.Addr)
		return nil
	}
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.InfoContext(ctx, "shutting down API server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown failed: %w", err)
	}

	s.logger.InfoContext(ctx, "API server shut down successfully")
	return nil
}

// Handler builds the routed handler without binding a listener. Used
// by tests.
func (s *Server) Handler() http.Handler {
	return s.registerRoutes(http.NewServeMux())
}

// registerRoutes registers API routes with middleware.
func (s *Server) registerRoutes(mux *http.ServeMux) http.Handler {
	mux.HandleFunc("/health", s.healthHandler())

	// Provisioning routes
	mux.HandleFunc("POST /api/v1/connect", s.connectHandler())
	mux.HandleFunc("POST /api/v1/disconnect", s.disconnectHandler())
	mux.HandleFunc("GET /api/v1/servers", s.listServersHandler())

	// Admin routes
	mux.HandleFunc("GET /api/v1/admin/health", s.fleetHealthHandler())
	mux.HandleFunc("POST /api/v1/admin/sync", s.syncHandler())
	mux.HandleFunc("GET /api/v1/admin/users", s.listSyncedUsersHandler())
	mux.HandleFunc("GET /api/v1/admin/servers", s.adminServersHandler())

	// Raw panel pass-throughs
	mux.HandleFunc("GET /api/v1/admin/backend-users/{serverID}/{username}", s.getBackendUserHandler())
	mux.HandleFunc("POST /api/v1/admin/backend-users/{serverID}", s.createBackendUserHandler())
	mux.HandleFunc("PUT /api/v1/admin/backend-users/{serverID}/{username}", s.updateBackendUserHandler())
	mux.HandleFunc("DELETE /api/v1/admin/backend-users/{serverID}/{username}", s.deleteBackendUserHandler())

	handler := Chain(
		RequestID(s.logger),
		Recovery(),
		Logging(),
		CORS(s.corsOrigins),
	)(mux)

	return handler
}

// healthHandler returns the service health status.
func (s *Server) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		if err := s.store.Ping(r.Context()); err != nil {
			status = "degraded"
		}
		response := api.HealthResponse{
			Status:  status,
			Version: s.version,
		}
		if err := WriteSuccess(w, response); err != nil {
			s.logger.ErrorCtx(r.Context(), "failed to encode health response", err)
		}
	}
}
