package api

// ConnectRequest asks for a WireGuard connection config on a specific server.
// AccountID accepts either the internal account UUID or the externally-facing
// account code (VPN-XXXX-XXXX-XXXX).
type ConnectRequest struct {
	AccountID string  `json:"account_id"`
	DeviceID  *string `json:"device_id,omitempty"`
	ServerID  string  `json:"server_id"`
}

// DisconnectRequest revokes an active connection config, addressed by either
// its public key or its config id.
type DisconnectRequest struct {
	AccountID string  `json:"account_id"`
	PublicKey *string `json:"public_key,omitempty"`
	ConfigID  *string `json:"config_id,omitempty"`
}

// SyncedUserListParams filters the reconciled backend-user listing.
type SyncedUserListParams struct {
	ServerID *string `json:"server_id,omitempty"`
	Platform *string `json:"platform,omitempty"`
	Protocol *string `json:"protocol,omitempty"`
	Status   *string `json:"status,omitempty"`
	Search   *string `json:"search,omitempty"`
	Offset   int     `json:"offset"`
	Limit    int     `json:"limit"`
}
