package db

import (
	"context"
	"database/sql"
	"time"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so queries run
// inside or outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Queries holds all prepared statements for the fleet schema.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a Queries bound to the given transaction.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// Querier is the query surface consumed by the service layer.
type Querier interface {
	GetServer(ctx context.Context, id string) (VpnServer, error)
	ListServers(ctx context.Context) ([]VpnServer, error)
	ListActiveServers(ctx context.Context) ([]VpnServer, error)
	CreateServer(ctx context.Context, arg CreateServerParams) (VpnServer, error)
	SetServerActive(ctx context.Context, id string, active bool) error

	GetCredentials(ctx context.Context, serverID string) (BackendCredential, error)
	ListCredentials(ctx context.Context) ([]BackendCredential, error)
	UpsertCredentials(ctx context.Context, arg UpsertCredentialsParams) error

	GetAccount(ctx context.Context, id string) (Account, error)
	GetAccountByCode(ctx context.Context, code string) (Account, error)
	CreateAccount(ctx context.Context, arg CreateAccountParams) (Account, error)

	GetActiveConfig(ctx context.Context, accountCode, serverID string) (ConnectionConfig, error)
	GetActiveConfigByID(ctx context.Context, accountCode, id string) (ConnectionConfig, error)
	GetActiveConfigByPublicKey(ctx context.Context, accountCode, publicKey string) (ConnectionConfig, error)
	CountActiveConfigs(ctx context.Context, accountCode string) (int64, error)
	CreateConfig(ctx context.Context, arg CreateConfigParams) (ConnectionConfig, error)
	DeactivateConfig(ctx context.Context, id string) error

	UpsertSyncedUser(ctx context.Context, arg UpsertSyncedUserParams) error
	ListSyncedUsers(ctx context.Context, arg ListSyncedUsersParams) ([]SyncedVpnUser, error)
	CountSyncedUsers(ctx context.Context, arg ListSyncedUsersParams) (int64, error)
}

var _ Querier = (*Queries)(nil)

const serverColumns = `id, name, country, country_code, city, ip_address, port, protocol,
	is_premium, is_active, wg_api_url, wg_api_key, created_at, updated_at`

func scanServer(row interface{ Scan(...interface{}) error }) (VpnServer, error) {
	var s VpnServer
	err := row.Scan(
		&s.ID, &s.Name, &s.Country, &s.CountryCode, &s.City,
		&s.IPAddress, &s.Port, &s.Protocol, &s.IsPremium, &s.IsActive,
		&s.WGAPIURL, &s.WGAPIKey, &s.CreatedAt, &s.UpdatedAt,
	)
	return s, err
}

func (q *Queries) GetServer(ctx context.Context, id string) (VpnServer, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM vpn_servers WHERE id = ?`, id)
	return scanServer(row)
}

func (q *Queries) ListServers(ctx context.Context) ([]VpnServer, error) {
	return q.queryServers(ctx, `SELECT `+serverColumns+` FROM vpn_servers ORDER BY name`)
}

func (q *Queries) ListActiveServers(ctx context.Context) ([]VpnServer, error) {
	return q.queryServers(ctx, `SELECT `+serverColumns+` FROM vpn_servers WHERE is_active = 1 ORDER BY name`)
}

func (q *Queries) queryServers(ctx context.Context, query string, args ...interface{}) ([]VpnServer, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var servers []VpnServer
	for rows.Next() {
		s, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, s)
	}
	return servers, rows.Err()
}

type CreateServerParams struct {
	ID          string
	Name        string
	Country     string
	CountryCode string
	City        string
	IPAddress   string
	Port        int
	Protocol    string
	IsPremium   bool
	IsActive    bool
	WGAPIURL    string
	WGAPIKey    string
}

func (q *Queries) CreateServer(ctx context.Context, arg CreateServerParams) (VpnServer, error) {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO vpn_servers (id, name, country, country_code, city, ip_address, port,
			protocol, is_premium, is_active, wg_api_url, wg_api_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		arg.ID, arg.Name, arg.Country, arg.CountryCode, arg.City, arg.IPAddress,
		arg.Port, arg.Protocol, arg.IsPremium, arg.IsActive, arg.WGAPIURL, arg.WGAPIKey,
	)
	if err != nil {
		return VpnServer{}, err
	}
	return q.GetServer(ctx, arg.ID)
}

func (q *Queries) SetServerActive(ctx context.Context, id string, active bool) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE vpn_servers SET is_active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		active, id,
	)
	return err
}

func (q *Queries) GetCredentials(ctx context.Context, serverID string) (BackendCredential, error) {
	var c BackendCredential
	err := q.db.QueryRowContext(ctx, `
		SELECT server_id, api_url, admin_user, admin_pass, api_key, created_at
		FROM backend_credentials WHERE server_id = ?`, serverID,
	).Scan(&c.ServerID, &c.APIURL, &c.AdminUser, &c.AdminPass, &c.APIKey, &c.CreatedAt)
	return c, err
}

func (q *Queries) ListCredentials(ctx context.Context) ([]BackendCredential, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT server_id, api_url, admin_user, admin_pass, api_key, created_at
		FROM backend_credentials ORDER BY server_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []BackendCredential
	for rows.Next() {
		var c BackendCredential
		if err := rows.Scan(&c.ServerID, &c.APIURL, &c.AdminUser, &c.AdminPass, &c.APIKey, &c.CreatedAt); err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

type UpsertCredentialsParams struct {
	ServerID  string
	APIURL    string
	AdminUser string
	AdminPass string
	APIKey    string
}

func (q *Queries) UpsertCredentials(ctx context.Context, arg UpsertCredentialsParams) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO backend_credentials (server_id, api_url, admin_user, admin_pass, api_key)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (server_id) DO UPDATE SET
			api_url = excluded.api_url,
			admin_user = excluded.admin_user,
			admin_pass = excluded.admin_pass,
			api_key = excluded.api_key`,
		arg.ServerID, arg.APIURL, arg.AdminUser, arg.AdminPass, arg.APIKey,
	)
	return err
}

func (q *Queries) GetAccount(ctx context.Context, id string) (Account, error) {
	var a Account
	err := q.db.QueryRowContext(ctx, `
		SELECT id, account_code, subscription_tier, max_devices, created_at
		FROM accounts WHERE id = ?`, id,
	).Scan(&a.ID, &a.AccountCode, &a.SubscriptionTier, &a.MaxDevices, &a.CreatedAt)
	return a, err
}

func (q *Queries) GetAccountByCode(ctx context.Context, code string) (Account, error) {
	var a Account
	err := q.db.QueryRowContext(ctx, `
		SELECT id, account_code, subscription_tier, max_devices, created_at
		FROM accounts WHERE account_code = ?`, code,
	).Scan(&a.ID, &a.AccountCode, &a.SubscriptionTier, &a.MaxDevices, &a.CreatedAt)
	return a, err
}

type CreateAccountParams struct {
	ID               string
	AccountCode      string
	SubscriptionTier string
	MaxDevices       int
}

func (q *Queries) CreateAccount(ctx context.Context, arg CreateAccountParams) (Account, error) {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO accounts (id, account_code, subscription_tier, max_devices)
		VALUES (?, ?, ?, ?)`,
		arg.ID, arg.AccountCode, arg.SubscriptionTier, arg.MaxDevices,
	)
	if err != nil {
		return Account{}, err
	}
	return q.GetAccount(ctx, arg.ID)
}

const configColumns = `id, account_code, server_id, device_id, public_key, config_data,
	tier, is_active, expires_at, created_at`

func scanConfig(row interface{ Scan(...interface{}) error }) (ConnectionConfig, error) {
	var c ConnectionConfig
	var deviceID sql.NullString
	err := row.Scan(
		&c.ID, &c.AccountCode, &c.ServerID, &deviceID, &c.PublicKey,
		&c.ConfigData, &c.Tier, &c.IsActive, &c.ExpiresAt, &c.CreatedAt,
	)
	if deviceID.Valid {
		c.DeviceID = &deviceID.String
	}
	return c, err
}

func (q *Queries) GetActiveConfig(ctx context.Context, accountCode, serverID string) (ConnectionConfig, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+configColumns+` FROM connection_configs
		WHERE account_code = ? AND server_id = ? AND is_active = 1
		ORDER BY created_at DESC LIMIT 1`, accountCode, serverID)
	return scanConfig(row)
}

func (q *Queries) GetActiveConfigByID(ctx context.Context, accountCode, id string) (ConnectionConfig, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+configColumns+` FROM connection_configs
		WHERE account_code = ? AND id = ? AND is_active = 1`, accountCode, id)
	return scanConfig(row)
}

func (q *Queries) GetActiveConfigByPublicKey(ctx context.Context, accountCode, publicKey string) (ConnectionConfig, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+configColumns+` FROM connection_configs
		WHERE account_code = ? AND public_key = ? AND is_active = 1
		LIMIT 1`, accountCode, publicKey)
	return scanConfig(row)
}

func (q *Queries) CountActiveConfigs(ctx context.Context, accountCode string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM connection_configs
		WHERE account_code = ? AND is_active = 1`, accountCode,
	).Scan(&n)
	return n, err
}

type CreateConfigParams struct {
	ID          string
	AccountCode string
	ServerID    string
	DeviceID    *string
	PublicKey   string
	ConfigData  string
	Tier        string
	ExpiresAt   time.Time
}

func (q *Queries) CreateConfig(ctx context.Context, arg CreateConfigParams) (ConnectionConfig, error) {
	var deviceID sql.NullString
	if arg.DeviceID != nil {
		deviceID = sql.NullString{String: *arg.DeviceID, Valid: true}
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO connection_configs (id, account_code, server_id, device_id,
			public_key, config_data, tier, is_active, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		arg.ID, arg.AccountCode, arg.ServerID, deviceID,
		arg.PublicKey, arg.ConfigData, arg.Tier, arg.ExpiresAt,
	)
	if err != nil {
		return ConnectionConfig{}, err
	}
	row := q.db.QueryRowContext(ctx, `
		SELECT `+configColumns+` FROM connection_configs WHERE id = ?`, arg.ID)
	return scanConfig(row)
}

func (q *Queries) DeactivateConfig(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE connection_configs SET is_active = 0 WHERE id = ?`, id)
	return err
}

type UpsertSyncedUserParams struct {
	ID               string
	ServerID         string
	BackendUsername  string
	BackendType      string
	Platform         string
	Protocol         string
	Status           string
	UsedTrafficBytes int64
	DataLimitBytes   *int64
	ExpiresAt        *time.Time
	LastOnlineAt     *time.Time
}

func (q *Queries) UpsertSyncedUser(ctx context.Context, arg UpsertSyncedUserParams) error {
	var dataLimit sql.NullInt64
	if arg.DataLimitBytes != nil {
		dataLimit = sql.NullInt64{Int64: *arg.DataLimitBytes, Valid: true}
	}
	var expiresAt, lastOnline sql.NullTime
	if arg.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: *arg.ExpiresAt, Valid: true}
	}
	if arg.LastOnlineAt != nil {
		lastOnline = sql.NullTime{Time: *arg.LastOnlineAt, Valid: true}
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO synced_vpn_users (id, server_id, backend_username, backend_type,
			platform, protocol, status, used_traffic_bytes, data_limit_bytes,
			expires_at, last_online_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (server_id, backend_username, backend_type) DO UPDATE SET
			platform = excluded.platform,
			protocol = excluded.protocol,
			status = excluded.status,
			used_traffic_bytes = excluded.used_traffic_bytes,
			data_limit_bytes = excluded.data_limit_bytes,
			expires_at = excluded.expires_at,
			last_online_at = excluded.last_online_at,
			updated_at = CURRENT_TIMESTAMP`,
		arg.ID, arg.ServerID, arg.BackendUsername, arg.BackendType,
		arg.Platform, arg.Protocol, arg.Status, arg.UsedTrafficBytes,
		dataLimit, expiresAt, lastOnline,
	)
	return err
}

type ListSyncedUsersParams struct {
	ServerID string
	Status   string
	Platform string
	Protocol string
	Search   string // substring match on backend_username
	Limit    int
	Offset   int
}

func (p ListSyncedUsersParams) where() (string, []interface{}) {
	clause := ` WHERE 1=1`
	var args []interface{}
	if p.ServerID != "" {
		clause += ` AND server_id = ?`
		args = append(args, p.ServerID)
	}
	if p.Status != "" {
		clause += ` AND status = ?`
		args = append(args, p.Status)
	}
	if p.Platform != "" {
		clause += ` AND platform = ?`
		args = append(args, p.Platform)
	}
	if p.Protocol != "" {
		clause += ` AND protocol = ?`
		args = append(args, p.Protocol)
	}
	if p.Search != "" {
		clause += ` AND backend_username LIKE ?`
		args = append(args, "%"+p.Search+"%")
	}
	return clause, args
}

func (q *Queries) ListSyncedUsers(ctx context.Context, arg ListSyncedUsersParams) ([]SyncedVpnUser, error) {
	clause, args := arg.where()
	query := `
		SELECT id, server_id, backend_username, backend_type, platform, protocol,
			status, used_traffic_bytes, data_limit_bytes, expires_at, last_online_at,
			created_at, updated_at
		FROM synced_vpn_users` + clause + ` ORDER BY backend_username`
	if arg.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, arg.Limit, arg.Offset)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []SyncedVpnUser
	for rows.Next() {
		var u SyncedVpnUser
		var dataLimit sql.NullInt64
		var expiresAt, lastOnline sql.NullTime
		if err := rows.Scan(
			&u.ID, &u.ServerID, &u.BackendUsername, &u.BackendType, &u.Platform,
			&u.Protocol, &u.Status, &u.UsedTrafficBytes, &dataLimit, &expiresAt,
			&lastOnline, &u.CreatedAt, &u.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if dataLimit.Valid {
			u.DataLimitBytes = &dataLimit.Int64
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			u.ExpiresAt = &t
		}
		if lastOnline.Valid {
			t := lastOnline.Time
			u.LastOnlineAt = &t
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (q *Queries) CountSyncedUsers(ctx context.Context, arg ListSyncedUsersParams) (int64, error) {
	clause, args := arg.where()
	var n int64
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM synced_vpn_users`+clause, args...,
	).Scan(&n)
	return n, err
}
