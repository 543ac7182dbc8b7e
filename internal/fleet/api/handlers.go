package api

import (
	"net/http"

	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/allocator"
	"github.com/pochtmanr/dopplerland-fleet/pkg/api"
)

// connectHandler provisions a WireGuard config for an account on a
// target server.
func (s *Server) connectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req api.ConnectRequest
		if err := ParseJSONRequest(r, &req); err != nil {
			WriteValidationError(w, r, err)
			return
		}
		if err := ValidateConnectRequest(&req); err != nil {
			WriteValidationError(w, r, err)
			return
		}

		result, err := s.alloc.Connect(ctx, allocator.ConnectParams{
			AccountRef: req.AccountID,
			DeviceID:   req.DeviceID,
			ServerID:   req.ServerID,
		})
		if err != nil {
			WriteErrorResponse(w, r, err)
			return
		}

		response := api.ConnectResponse{
			Config:          result.ConfigText,
			PublicKey:       result.PublicKey,
			ClientIP:        result.ClientIP,
			ServerPublicKey: result.ServerPubkey,
			Endpoint:        result.Endpoint,
			DNS:             result.DNS,
			ExpiresAt:       result.ExpiresAt,
			Tier:            result.Tier,
			Existing:        result.Existing,
		}
		if err := WriteSuccess(w, response); err != nil {
			s.logger.ErrorCtx(ctx, "failed to encode connect response", err)
		}
	}
}

// disconnectHandler revokes an active config.
func (s *Server) disconnectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req api.DisconnectRequest
		if err := ParseJSONRequest(r, &req); err != nil {
			WriteValidationError(w, r, err)
			return
		}
		if err := ValidateDisconnectRequest(&req); err != nil {
			WriteValidationError(w, r, err)
			return
		}

		err := s.alloc.Disconnect(ctx, allocator.DisconnectParams{
			AccountRef: req.AccountID,
			PublicKey:  req.PublicKey,
			ConfigID:   req.ConfigID,
		})
		if err != nil {
			WriteErrorResponse(w, r, err)
			return
		}

		publicKey := ""
		if req.PublicKey != nil {
			publicKey = *req.PublicKey
		}
		if err := WriteSuccess(w, api.DisconnectResponse{OK: true, PublicKey: publicKey}); err != nil {
			s.logger.ErrorCtx(ctx, "failed to encode disconnect response", err)
		}
	}
}

// listServersHandler returns the public listing of active servers.
// Credentials and control-plane addresses never leave this layer.
func (s *Server) listServersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		servers, err := s.store.ListActiveServers(ctx)
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
			s.logger.ErrorCtx(ctx, "failed to encode server list", err)
		}
	}
}
