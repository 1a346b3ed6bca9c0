// Package config loads histalog configuration from defaults, an optional
// .env file and HISTALOG_* environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all histalog configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Remote    RemoteConfig
	Sync      SyncConfig
	Tolerance ToleranceConfig
}

type ServerConfig struct {
	Bind string
	Port int
}

type DatabaseConfig struct {
	Path string
}

type RemoteConfig struct {
	BaseURL    string // remote store base URL; empty disables sync
	Token      string // bearer token, passed through as-is
	CatalogURL string // catalog snapshot URL for refresh
}

type SyncConfig struct {
	Interval    time.Duration // between background drain passes
	MaxAttempts int           // retry ceiling per entry, 0 = retry forever
}

type ToleranceConfig struct {
	DefaultHU float64 // starting tolerance before the first daily update
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37780,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Sync: SyncConfig{
			Interval:    time.Minute,
			MaxAttempts: 0,
		},
		Tolerance: ToleranceConfig{
			DefaultHU: 100,
		},
	}
}

// Load merges defaults with .env and HISTALOG_* environment variables.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("HISTALOG")
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("BIND", def.Server.Bind)
	v.SetDefault("PORT", def.Server.Port)
	v.SetDefault("DB_PATH", def.Database.Path)
	v.SetDefault("REMOTE_URL", "")
	v.SetDefault("REMOTE_TOKEN", "")
	v.SetDefault("CATALOG_URL", "")
	v.SetDefault("SYNC_INTERVAL", def.Sync.Interval)
	v.SetDefault("SYNC_MAX_ATTEMPTS", def.Sync.MaxAttempts)
	v.SetDefault("DEFAULT_TOLERANCE", def.Tolerance.DefaultHU)

	cfg := Config{
		Server: ServerConfig{
			Bind: v.GetString("BIND"),
			Port: v.GetInt("PORT"),
		},
		Database: DatabaseConfig{
			Path: v.GetString("DB_PATH"),
		},
		Remote: RemoteConfig{
			BaseURL:    v.GetString("REMOTE_URL"),
			Token:      v.GetString("REMOTE_TOKEN"),
			CatalogURL: v.GetString("CATALOG_URL"),
		},
		Sync: SyncConfig{
			Interval:    v.GetDuration("SYNC_INTERVAL"),
			MaxAttempts: v.GetInt("SYNC_MAX_ATTEMPTS"),
		},
		Tolerance: ToleranceConfig{
			DefaultHU: v.GetFloat64("DEFAULT_TOLERANCE"),
		},
	}
	if cfg.Sync.Interval <= 0 {
		return cfg, fmt.Errorf("sync interval must be positive, got %s", cfg.Sync.Interval)
	}
	if cfg.Tolerance.DefaultHU < 50 || cfg.Tolerance.DefaultHU > 250 {
		return cfg, fmt.Errorf("default tolerance %v outside [50, 250]", cfg.Tolerance.DefaultHU)
	}
	return cfg, nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
