package config

import (
	"fmt"
	"time"
)

// Config defines the configuration for the fleet service.
type Config struct {
	Service ServiceConfig `mapstructure:"service"`
	Log     LogConfig     `mapstructure:"log"`
	API     APIConfig     `mapstructure:"api"`
	DB      DBConfig      `mapstructure:"db"`
	Backend BackendConfig `mapstructure:"backend"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Grants  GrantConfig   `mapstructure:"grants"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Health  HealthConfig  `mapstructure:"health"`
}

// LogConfig defines the logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// APIConfig defines the API server configuration.
type APIConfig struct {
	ListenAddr  string   `mapstructure:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// DBConfig defines the database configuration.
type DBConfig struct {
	Path            string `mapstructure:"path"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // seconds
}

// ServiceConfig defines service-level configuration options.
type ServiceConfig struct {
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// BackendConfig defines timeouts for backend control-plane calls.
type BackendConfig struct {
	PanelTimeout   time.Duration `mapstructure:"panel_timeout"`
	PeerTimeout    time.Duration `mapstructure:"peer_timeout"`
	TokenLifetime  time.Duration `mapstructure:"token_lifetime"`
	TokenSafetyGap time.Duration `mapstructure:"token_safety_gap"`
	APIKeyHeader   string        `mapstructure:"api_key_header"`
}

// CacheConfig selects the token cache backend.
type CacheConfig struct {
	Mode          string `mapstructure:"mode"` // "memory" or "redis"
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// GrantConfig defines tier-based connection config lifetimes.
type GrantConfig struct {
	FreeDuration time.Duration `mapstructure:"free_duration"`
	PaidDuration time.Duration `mapstructure:"paid_duration"`
	MaxDevices   int           `mapstructure:"max_devices"` // fallback when an account has none set
}

// SyncConfig defines the reconciler configuration.
type SyncConfig struct {
	Interval time.Duration `mapstructure:"interval"` // 0 disables the periodic loop
	PageSize int           `mapstructure:"page_size"`
}

// HealthConfig defines the fleet health aggregator configuration.
type HealthConfig struct {
	Interval     time.Duration `mapstructure:"interval"` // 0 disables the periodic loop
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

// Validate validates the configuration for correctness and completeness
func (c *Config) Validate() error {
	// Validate log level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if c.Log.Level != "" && !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	// Validate log format
	if c.Log.Format != "" && c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("invalid log.format: %s (must be json or text)", c.Log.Format)
	}

	if c.Cache.Mode != "" && c.Cache.Mode != "memory" && c.Cache.Mode != "redis" {
		return fmt.Errorf("invalid cache.mode: %s (must be memory or redis)", c.Cache.Mode)
	}
	if c.Cache.Mode == "redis" && c.Cache.RedisAddr == "" {
		return fmt.Errorf("cache.redis_addr is required when cache.mode is redis")
	}

	if c.Service.ShutdownTimeout > 0 && c.Service.ShutdownTimeout < time.Second {
		return fmt.Errorf("service.shutdown_timeout must be at least 1 second")
	}

	if c.Sync.Interval > 0 && c.Sync.Interval < time.Minute {
		return fmt.Errorf("sync.interval must be at least 1 minute")
	}
	if c.Health.Interval > 0 && c.Health.Interval < 10*time.Second {
		return fmt.Errorf("health.interval must be at least 10 seconds")
	}
	if c.Grants.FreeDuration > 0 && c.Grants.FreeDuration < time.Hour {
		return fmt.Errorf("grants.free_duration must be at least 1 hour")
	}

	c.setDefaults()

	return nil
}

// setDefaults sets default values for configuration fields that are not set
func (c *Config) setDefaults() {
	// Service defaults
	if c.Service.ShutdownTimeout <= 0 {
		c.Service.ShutdownTimeout = 30 * time.Second
	}

	// Database defaults
	if c.DB.Path == "" {
		c.DB.Path = "./data/fleet.db"
	}
	if c.DB.MaxOpenConns <= 0 {
		c.DB.MaxOpenConns = 25
	}
	if c.DB.MaxIdleConns <= 0 {
		c.DB.MaxIdleConns = 5
	}
	if c.DB.ConnMaxLifetime <= 0 {
		c.DB.ConnMaxLifetime = 300
	}

	// API defaults
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if len(c.API.CORSOrigins) == 0 {
		c.API.CORSOrigins = []string{"*"}
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	// Backend defaults
	if c.Backend.PanelTimeout <= 0 {
		c.Backend.PanelTimeout = 15 * time.Second
	}
	if c.Backend.PeerTimeout <= 0 {
		c.Backend.PeerTimeout = 30 * time.Second
	}
	if c.Backend.TokenLifetime <= 0 {
		c.Backend.TokenLifetime = time.Hour
	}
	if c.Backend.TokenSafetyGap <= 0 {
		c.Backend.TokenSafetyGap = 5 * time.Minute
	}
	if c.Backend.APIKeyHeader == "" {
		c.Backend.APIKeyHeader = "X-Backend-Key"
	}

	// Cache defaults
	if c.Cache.Mode == "" {
		c.Cache.Mode = "memory"
	}

	// Grant defaults
	if c.Grants.FreeDuration <= 0 {
		c.Grants.FreeDuration = 24 * time.Hour
	}
	if c.Grants.PaidDuration <= 0 {
		c.Grants.PaidDuration = 30 * 24 * time.Hour
	}
	if c.Grants.MaxDevices <= 0 {
		c.Grants.MaxDevices = 10
	}

	// Sync defaults
	if c.Sync.PageSize <= 0 {
		c.Sync.PageSize = 100
	}

	// Health defaults
	if c.Health.ProbeTimeout <= 0 {
		c.Health.ProbeTimeout = 10 * time.Second
	}
}
