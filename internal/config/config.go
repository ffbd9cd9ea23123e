// Package config loads shelfsync configuration from a file, environment
// variables and defaults, in that order of increasing precedence for env.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Remote backend kinds.
const (
	RemoteREST     = "rest"
	RemotePostgres = "postgres"
)

// Config is the complete runtime configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`
}

// DatabaseConfig locates the local store.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// RemoteConfig selects and configures the remote backend.
type RemoteConfig struct {
	Kind       string        `mapstructure:"kind"`
	URL        string        `mapstructure:"url"`
	APIKey     string        `mapstructure:"api_key"`
	DSN        string        `mapstructure:"dsn"`
	Timeout    time.Duration `mapstructure:"timeout"`
	PageSize   int           `mapstructure:"page_size"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// SyncConfig tunes the sync loop.
type SyncConfig struct {
	Interval          time.Duration `mapstructure:"interval"`
	MaxJournalRetries int           `mapstructure:"max_journal_retries"`
}

// DashboardConfig configures the HTTP surface.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LogConfig configures log output.
type LogConfig struct {
	// File receives logs in addition to stderr when set. Rotated at
	// MaxSizeMB.
	File      string `mapstructure:"file"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
}

// Load reads configuration. path may be empty, in which case the usual
// search locations apply. Environment variables use the SHELFSYNC_ prefix
// with underscores, e.g. SHELFSYNC_REMOTE_API_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("shelfsync")
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/shelfsync")
		v.AddConfigPath("/etc/shelfsync")
	}

	v.SetEnvPrefix("SHELFSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No config file is fine, env and defaults carry it.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "shelfsync.db")
	v.SetDefault("remote.kind", RemoteREST)
	v.SetDefault("remote.timeout", "10s")
	v.SetDefault("remote.page_size", 1000)
	v.SetDefault("remote.max_retries", 3)
	v.SetDefault("sync.interval", "30s")
	v.SetDefault("sync.max_journal_retries", 5)
	v.SetDefault("dashboard.enabled", true)
	v.SetDefault("dashboard.port", 8484)
	v.SetDefault("log.max_size_mb", 10)
}

func (c *Config) validate() error {
	switch c.Remote.Kind {
	case RemoteREST:
		if c.Remote.URL == "" {
			return fmt.Errorf("remote.url is required for the rest backend")
		}
	case RemotePostgres:
		if c.Remote.DSN == "" {
			return fmt.Errorf("remote.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown remote.kind %q (want %s or %s)", c.Remote.Kind, RemoteREST, RemotePostgres)
	}
	if c.Sync.Interval < time.Second {
		return fmt.Errorf("sync.interval %v is below the 1s minimum", c.Sync.Interval)
	}
	return nil
}
