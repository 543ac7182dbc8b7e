package backend

import "time"

// SystemStats is the panel's system endpoint payload.
type SystemStats struct {
	Version           string  `json:"version"`
	MemTotal          int64   `json:"mem_total"`
	MemUsed           int64   `json:"mem_used"`
	CPUCores          int     `json:"cpu_cores"`
	CPUUsage          float64 `json:"cpu_usage"`
	TotalUser         int     `json:"total_user"`
	UsersActive       int     `json:"users_active"`
	IncomingBandwidth int64   `json:"incoming_bandwidth"`
	OutgoingBandwidth int64   `json:"outgoing_bandwidth"`
}

// BackendUser is a panel user exactly as the backend reports it.
type BackendUser struct {
	Username    string                 `json:"username"`
	Status      string                 `json:"status"`
	UsedTraffic int64                  `json:"used_traffic"`
	DataLimit   *int64                 `json:"data_limit"`
	Expire      *int64                 `json:"expire"`
	OnlineAt    *string                `json:"online_at"`
	Proxies     map[string]interface{} `json:"proxies"`
	Inbounds    map[string][]string    `json:"inbounds"`
	CreatedAt   string                 `json:"created_at"`
}

// ExpireTime converts the backend's UNIX expiry to a time, nil when unset.
func (u BackendUser) ExpireTime() *time.Time {
	if u.Expire == nil || *u.Expire == 0 {
		return nil
	}
	t := time.Unix(*u.Expire, 0).UTC()
	return &t
}

// OnlineTime parses the backend's last-seen timestamp, nil when absent
// or unparseable.
func (u BackendUser) OnlineTime() *time.Time {
	if u.OnlineAt == nil || *u.OnlineAt == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, *u.OnlineAt); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// UserListPage is one page of the panel's user listing.
type UserListPage struct {
	Users []BackendUser `json:"users"`
	Total int           `json:"total"`
}

// CreateUserRequest creates a user on the panel.
type CreateUserRequest struct {
	Username  string                 `json:"username"`
	Status    string                 `json:"status,omitempty"`
	DataLimit *int64                 `json:"data_limit,omitempty"`
	Expire    *int64                 `json:"expire,omitempty"`
	Proxies   map[string]interface{} `json:"proxies,omitempty"`
	Inbounds  map[string][]string    `json:"inbounds,omitempty"`
}

// UpdateUserRequest modifies a user on the panel. Nil fields are
// left untouched.
type UpdateUserRequest struct {
	Status    *string `json:"status,omitempty"`
	DataLimit *int64  `json:"data_limit,omitempty"`
	Expire    *int64  `json:"expire,omitempty"`
}

// PeerCreationResponse is the raw WireGuard endpoint's reply. Field
// form populates the discrete keys; text form populates only Config.
type PeerCreationResponse struct {
	PrivateKey   string `json:"private_key"`
	PublicKey    string `json:"public_key"`
	ClientIP     string `json:"client_ip"`
	ServerPubkey string `json:"server_pubkey"`
	Endpoint     string `json:"endpoint"`
	DNS          string `json:"dns"`
	Config       string `json:"config"`
}

// IsTextForm reports whether the response carries only a rendered
// config document.
func (r PeerCreationResponse) IsTextForm() bool {
	return r.Config != "" && r.PrivateKey == ""
}
