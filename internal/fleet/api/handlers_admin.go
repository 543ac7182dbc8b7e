package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/backend"
	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/db"
	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/health"
	"github.com/pochtmanr/dopplerland-fleet/pkg/api"
)

const maxListLimit = 200

var errUsernameRequired = errors.New("username is required")

// fleetHealthHandler runs a probe round and returns the snapshot.
func (s *Server) fleetHealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		snapshot, err := s.aggregator.ProbeFleet(ctx)
		if err != nil {
			WriteErrorResponse(w, r, err)
			return
		}

		servers, err := s.store.ListActiveServers(ctx)
		if err != nil {
			WriteErrorResponse(w, r, err)
			return
		}
		byID := make(map[string]db.VpnServer, len(servers))
		for _, server := range servers {
			byID[server.ID] = server
		}

		response := api.FleetHealthResponse{
			Servers:   make([]api.HealthSnapshotEntry, 0, len(snapshot.Servers)),
			CheckedAt: snapshot.ProbedAt,
		}
		for _, probe := range snapshot.Servers {
			response.Servers = append(response.Servers, snapshotEntry(probe, byID[probe.ServerID]))
		}
		if err := WriteSuccess(w, response); err != nil {
			s.logger.ErrorCtx(ctx, "failed to encode fleet health", err)
		}
	}
}

func snapshotEntry(probe health.Snapshot, server db.VpnServer) api.HealthSnapshotEntry {
	entry := api.HealthSnapshotEntry{
		ServerID:    probe.ServerID,
		Name:        probe.ServerName,
		CountryCode: server.CountryCode,
		IPAddress:   server.IPAddress,
		Status:      probe.Status,
		LatencyMS:   probe.LatencyMS,
	}
	if probe.Error != "" {
		msg := probe.Error
		entry.Error = &msg
	}
	if probe.Stats != nil {
		entry.Stats = &api.BackendStats{
			CPUUsage:     &probe.Stats.CPUUsage,
			MemUsed:      &probe.Stats.MemUsed,
			MemTotal:     &probe.Stats.MemTotal,
			UsersActive:  probe.Stats.UsersActive,
			TotalUsers:   probe.Stats.TotalUser,
			BandwidthIn:  probe.Stats.IncomingBandwidth,
			BandwidthOut: probe.Stats.OutgoingBandwidth,
		}
	}
	return entry
}

// syncHandler triggers a full fleet reconciliation, or a single
// server's when server_id is given.
func (s *Server) syncHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if serverID := r.URL.Query().Get("server_id"); serverID != "" {
			result := s.reconciler.SyncServer(ctx, serverID)
			response := api.SyncResponse{Results: []api.SyncResultEntry{{
				Server: result.ServerID,
				Synced: result.SyncedCount,
				Errors: result.ErrorCount,
			}}}
			if err := WriteSuccess(w, response); err != nil {
				s.logger.ErrorCtx(ctx, "failed to encode sync response", err)
			}
			return
		}

		results, err := s.reconciler.SyncAll(ctx)
		if err != nil {
			WriteErrorResponse(w, r, err)
			return
		}

		response := api.SyncResponse{Results: make([]api.SyncResultEntry, 0, len(results))}
		for _, result := range results {
			response.Results = append(response.Results, api.SyncResultEntry{
				Server: result.ServerID,
				Synced: result.SyncedCount,
				Errors: result.ErrorCount,
			})
		}
		if err := WriteSuccess(w, response); err != nil {
			s.logger.ErrorCtx(ctx, "failed to encode sync response", err)
		}
	}
}

// listSyncedUsersHandler serves the filtered reconciled-user listing.
func (s *Server) listSyncedUsersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		query := r.URL.Query()

		params := db.ListSyncedUsersParams{
			ServerID: query.Get("server_id"),
			Status:   query.Get("status"),
			Platform: query.Get("platform"),
			Protocol: query.Get("protocol"),
			Search:   query.Get("search"),
			Limit:    parseIntParam(query.Get("limit"), 50),
			Offset:   parseIntParam(query.Get("offset"), 0),
		}
		if params.Limit > maxListLimit {
			params.Limit = maxListLimit
		}

		users, err := s.store.ListSyncedUsers(ctx, params)
		if err != nil {
			WriteErrorResponse(w, r, err)
			return
		}
		total, err := s.store.CountSyncedUsers(ctx, params)
		if err != nil {
			WriteErrorResponse(w, r, err)
			return
		}

		serverNames := s.serverNames(ctx)
		response := api.SyncedUserListResponse{
			Users:  make([]api.SyncedUser, 0, len(users)),
			Total:  int(total),
			Offset: params.Offset,
			Limit:  params.Limit,
		}
		for _, user := range users {
			response.Users = append(response.Users, api.SyncedUser{
				ID:               user.ID,
				ServerID:         user.ServerID,
				ServerName:       serverNames[user.ServerID],
				BackendUsername:  user.BackendUsername,
				BackendType:      user.BackendType,
				Platform:         user.Platform,
				Protocol:         user.Protocol,
				Status:           user.Status,
				UsedTrafficBytes: user.UsedTrafficBytes,
				DataLimitBytes:   user.DataLimitBytes,
				ExpiresAt:        user.ExpiresAt,
				LastOnlineAt:     user.LastOnlineAt,
				CreatedAt:        user.CreatedAt,
			})
		}
		if err := WriteSuccess(w, response); err != nil {
			s.logger.ErrorCtx(ctx, "failed to encode user listing", err)
		}
	}
}

// adminServersHandler lists all servers, including inactive ones.
func (s *Server) adminServersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		servers, err := s.store.ListServers(ctx)
		if err != nil {
			WriteErrorResponse(w, r, err)
			return
		}

		response := api.ServerListResponse{Servers: make([]api.ServerInfo, 0, len(servers))}
		for _, server := range servers {
			response.Servers = append(response.Servers, api.ServerInfo{
				ID:          server.ID,
				Name:        server.Name,
				Country:     server.Country,
				CountryCode: server.CountryCode,
				City:        server.City,
				IPAddress:   server.IPAddress,
				Port:        server.Port,
				Protocol:    server.Protocol,
				IsPremium:   server.IsPremium,
				IsActive:    server.IsActive,
			})
		}
		if err := WriteSuccess(w, response); err != nil {
			s.logger.ErrorCtx(ctx, "failed to encode admin server list", err)
		}
	}
}

// Panel user pass-throughs. The dashboard manages backend users
// directly through the abstraction, never against the panel itself.

func (s *Server) getBackendUserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.panel.GetUser(r.Context(), r.PathValue("serverID"), r.PathValue("username"))
		if err != nil {
			WriteErrorResponse(w, r, err)
			return
		}
		_ = WriteSuccess(w, user)
	}
}

func (s *Server) createBackendUserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req backend.CreateUserRequest
		if err := ParseJSONRequest(r, &req); err != nil {
			WriteValidationError(w, r, err)
			return
		}
		if req.Username == "" {
			WriteValidationError(w, r, errUsernameRequired)
			return
		}
		user, err := s.panel.CreateUser(r.Context(), r.PathValue("serverID"), req)
		if err != nil {
			WriteErrorResponse(w, r, err)
			return
		}
		_ = WriteSuccess(w, user)
	}
}

func (s *Server) updateBackendUserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req backend.UpdateUserRequest
		if err := ParseJSONRequest(r, &req); err != nil {
			WriteValidationError(w, r, err)
			return
		}
		user, err := s.panel.UpdateUser(r.Context(), r.PathValue("serverID"), r.PathValue("username"), req)
		if err != nil {
			WriteErrorResponse(w, r, err)
			return
		}
		_ = WriteSuccess(w, user)
	}
}

func (s *Server) deleteBackendUserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.panel.DeleteUser(r.Context(), r.PathValue("serverID"), r.PathValue("username")); err != nil {
			WriteErrorResponse(w, r, err)
			return
		}
		_ = WriteSuccess(w, map[string]bool{"deleted": true})
	}
}

// serverNames maps server ids to display names for listing
// enrichment. Lookup failures degrade to empty names.
func (s *Server) serverNames(ctx context.Context) map[string]string {
	servers, err := s.store.ListServers(ctx)
	if err != nil {
		return nil
	}
	names := make(map[string]string, len(servers))
	for _, server := range servers {
		names[server.ID] = server.Name
	}
	return names
}

func parseIntParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
