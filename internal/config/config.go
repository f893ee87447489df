// Package config loads engine configuration from file and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable the engine wiring needs.
type Config struct {
	// StoragePath is the SQLite database file holding the snapshot and
	// intent log.
	StoragePath string `mapstructure:"storage_path"`

	// Namespace keys the persisted snapshot and intents, so multiple
	// profiles can share one database file.
	Namespace string `mapstructure:"namespace"`

	// ServerURL is the JSON API root.
	ServerURL string `mapstructure:"server_url"`

	// RealtimeURL is the WebSocket push endpoint.
	RealtimeURL string `mapstructure:"realtime_url"`

	// ProbeURL is requested to test reachability; defaults to the
	// server's health endpoint.
	ProbeURL string `mapstructure:"probe_url"`

	// ProbeInterval is how often connectivity is probed.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`

	// AuthToken is the bearer token for remote calls; empty means
	// anonymous local-only mode.
	AuthToken string `mapstructure:"auth_token"`

	// LogFile receives rotated engine logs; empty logs to stderr.
	LogFile string `mapstructure:"log_file"`

	// OverridePath enables the test-harness state override watcher when
	// set. Never set this in production.
	OverridePath string `mapstructure:"override_path"`
}

// Load reads configuration from the given file (optional) with MEALSYNC_*
// environment variables taking precedence.
//
// Example:
//
//	cfg, err := config.Load("mealsync.yaml")
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("storage_path", ".mealsync/mealsync.db")
	v.SetDefault("namespace", "default")
	v.SetDefault("server_url", "https://api.platewise.app/v1")
	v.SetDefault("realtime_url", "wss://api.platewise.app/v1/ws")
	v.SetDefault("probe_interval", 30*time.Second)

	v.SetEnvPrefix("MEALSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.ProbeURL == "" {
		cfg.ProbeURL = cfg.ServerURL + "/health"
	}

	return &cfg, nil
}
