package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from YAML files and environment variables
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// Load loads configuration from files and environment variables.
// YAML files take precedence, then ENV variables override.
func (l *Loader) Load() (*Config, error) {
	l.v.SetConfigName("config")
	l.v.SetConfigType("yaml")

	// Search paths in order of priority
	l.v.AddConfigPath("/etc/dopplerland-fleet")
	l.v.AddConfigPath("$HOME/.dopplerland-fleet")
	l.v.AddConfigPath(".")

	l.v.SetEnvPrefix("DOPPLERLAND")
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	l.setDefaults()

	// Config file is optional - defaults and ENV are enough to run
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "json")

	l.v.SetDefault("api.listen_addr", ":8080")
	l.v.SetDefault("api.cors_origins", []string{"*"})

	l.v.SetDefault("db.path", "./data/fleet.db")
	l.v.SetDefault("db.max_open_conns", 25)
	l.v.SetDefault("db.max_idle_conns", 5)
	l.v.SetDefault("db.conn_max_lifetime", 300)

	l.v.SetDefault("service.shutdown_timeout", "30s")

	l.v.SetDefault("backend.panel_timeout", "15s")
	l.v.SetDefault("backend.peer_timeout", "30s")
	l.v.SetDefault("backend.token_lifetime", "1h")
	l.v.SetDefault("backend.token_safety_gap", "5m")
	l.v.SetDefault("backend.api_key_header", "X-Backend-Key")

	l.v.SetDefault("cache.mode", "memory")

	l.v.SetDefault("grants.free_duration", "24h")
	l.v.SetDefault("grants.paid_duration", "720h")
	l.v.SetDefault("grants.max_devices", 10)

	l.v.SetDefault("sync.page_size", 100)
	l.v.SetDefault("health.probe_timeout", "10s")
}

// LoadWithPath loads configuration from a specific file path
func LoadWithPath(configPath string) (*Config, error) {
	loader := NewLoader()
	loader.v.SetConfigFile(configPath)
	return loader.Load()
}

// LoadFromEnv loads configuration only from environment variables
func LoadFromEnv() (*Config, error) {
	loader := NewLoader()
	loader.setDefaults()

	loader.v.SetEnvPrefix("DOPPLERLAND")
	loader.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	loader.v.AutomaticEnv()

	var cfg Config
	if err := loader.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
