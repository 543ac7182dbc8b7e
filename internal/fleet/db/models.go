package db

import "time"

// VpnServer is a fleet member as stored in vpn_servers.
type VpnServer struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Country     string    `json:"country"`
	CountryCode string    `json:"country_code"`
	City        string    `json:"city"`
	IPAddress   string    `json:"ip_address"`
	Port        int       `json:"port"`
	Protocol    string    `json:"protocol"`
	IsPremium   bool      `json:"is_premium"`
	IsActive    bool      `json:"is_active"`
	WGAPIURL    string    `json:"wg_api_url"`
	WGAPIKey    string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BackendCredential holds panel access material for one server.
type BackendCredential struct {
	ServerID  string    `json:"server_id"`
	APIURL    string    `json:"api_url"`
	AdminUser string    `json:"admin_user"`
	AdminPass string    `json:"-"`
	APIKey    string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Account is a subscriber record.
type Account struct {
	ID               string    `json:"id"`
	AccountCode      string    `json:"account_code"`
	SubscriptionTier string    `json:"subscription_tier"`
	MaxDevices       int       `json:"max_devices"`
	CreatedAt        time.Time `json:"created_at"`
}

// ConnectionConfig is an issued WireGuard config grant.
type ConnectionConfig struct {
	ID          string    `json:"id"`
	AccountCode string    `json:"account_code"`
	ServerID    string    `json:"server_id"`
	DeviceID    *string   `json:"device_id,omitempty"`
	PublicKey   string    `json:"public_key"`
	ConfigData  string    `json:"config_data"`
	Tier        string    `json:"tier"`
	IsActive    bool      `json:"is_active"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// SyncedVpnUser mirrors one backend panel user.
type SyncedVpnUser struct {
	ID               string     `json:"id"`
	ServerID         string     `json:"server_id"`
	BackendUsername  string     `json:"backend_username"`
	BackendType      string     `json:"backend_type"`
	Platform         string     `json:"platform"`
	Protocol         string     `json:"protocol"`
	Status           string     `json:"status"`
	UsedTrafficBytes int64      `json:"used_traffic_bytes"`
	DataLimitBytes   *int64     `json:"data_limit_bytes,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	LastOnlineAt     *time.Time `json:"last_online_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
