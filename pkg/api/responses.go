package api

import "time"

// ConnectResponse carries the canonical WireGuard client configuration.
type ConnectResponse struct {
	Config          string    `json:"config"`
	PublicKey       string    `json:"public_key"`
	ClientIP        string    `json:"client_ip,omitempty"`
	ServerPublicKey string    `json:"server_pubkey,omitempty"`
	Endpoint        string    `json:"endpoint,omitempty"`
	DNS             string    `json:"dns,omitempty"`
	ExpiresAt       time.Time `json:"expires_at"`
	Tier            string    `json:"tier"`
	Existing        bool      `json:"existing"`
}

// DisconnectResponse confirms a revoked connection config.
type DisconnectResponse struct {
	OK        bool   `json:"ok"`
	PublicKey string `json:"public_key"`
}

// ServerInfo is the public listing entry for one VPN server.
type ServerInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
	City        string `json:"city,omitempty"`
	IPAddress   string `json:"ip_address"`
	Port        int    `json:"port"`
	Protocol    string `json:"protocol"`
	IsPremium   bool   `json:"is_premium"`
	IsActive    bool   `json:"is_active"`
}

// ServerListResponse wraps the public server listing.
type ServerListResponse struct {
	Servers []ServerInfo `json:"servers"`
}

// SyncResultEntry summarizes one backend's reconciliation outcome.
type SyncResultEntry struct {
	Server string `json:"server"`
	Synced int    `json:"synced"`
	Errors int    `json:"errors"`
}

// SyncResponse wraps a full SyncAll run.
type SyncResponse struct {
	Results []SyncResultEntry `json:"results"`
}

// BackendStats mirrors the panel's system statistics where present.
type BackendStats struct {
	CPUUsage     *float64 `json:"cpu_usage"`
	MemUsed      *int64   `json:"mem_used"`
	MemTotal     *int64   `json:"mem_total"`
	UsersActive  int      `json:"users_active"`
	TotalUsers   int      `json:"total_users"`
	BandwidthIn  int64    `json:"bandwidth_in"`
	BandwidthOut int64    `json:"bandwidth_out"`
}

// HealthSnapshotEntry is one server's probe result.
type HealthSnapshotEntry struct {
	ServerID    string        `json:"server_id"`
	Name        string        `json:"name"`
	CountryCode string        `json:"country_code"`
	IPAddress   string        `json:"ip_address"`
	Status      string        `json:"status"`
	LatencyMS   *int64        `json:"latency_ms"`
	Stats       *BackendStats `json:"stats"`
	Error       *string       `json:"error"`
}

// FleetHealthResponse is the point-in-time fleet health snapshot.
type FleetHealthResponse struct {
	Servers   []HealthSnapshotEntry `json:"servers"`
	CheckedAt time.Time             `json:"checked_at"`
}

// SyncedUser is a reconciled backend user row in admin listings.
type SyncedUser struct {
	ID               string     `json:"id"`
	ServerID         string     `json:"server_id"`
	ServerName       string     `json:"server_name,omitempty"`
	BackendUsername  string     `json:"backend_username"`
	BackendType      string     `json:"backend_type"`
	Platform         string     `json:"platform"`
	Protocol         string     `json:"protocol"`
	Status           string     `json:"status"`
	UsedTrafficBytes int64      `json:"used_traffic_bytes"`
	DataLimitBytes   *int64     `json:"data_limit_bytes"`
	ExpiresAt        *time.Time `json:"expires_at"`
	LastOnlineAt     *time.Time `json:"last_online_at"`
	CreatedAt        time.Time  `json:"created_at"`
}

// SyncedUserListResponse wraps a filtered user listing with its total count.
type SyncedUserListResponse struct {
	Users  []SyncedUser `json:"users"`
	Total  int          `json:"total"`
	Offset int          `json:"offset"`
	Limit  int          `json:"limit"`
}

// HealthResponse reports the service's own liveness.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
