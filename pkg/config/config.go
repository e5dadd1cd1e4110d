// Package config loads server settings from a TOML file with sane defaults
// for everything left unset.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/pylonengine/netsync/pkg/scheduler"
)

// Config is the full server configuration surface.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Rates     RatesConfig     `toml:"rates"`
	Heartbeat HeartbeatConfig `toml:"heartbeat"`
	Storage   StorageConfig   `toml:"storage"`
}

// ServerConfig covers listening and capacity.
type ServerConfig struct {
	// Addr is the game listen address, host optional.
	Addr string `toml:"addr"`
	// StatusAddr serves the status and metrics HTTP endpoints.
	StatusAddr string `toml:"status_addr"`
	// MaxConnections caps concurrent clients.
	MaxConnections int `toml:"max_connections"`
	// TickRate is simulation updates per second.
	TickRate int `toml:"tick_rate"`
	// LogLevel is one of error, warn, info, debug, trace.
	LogLevel string `toml:"log_level"`
}

// RatesConfig sets the throttled scheduler tiers, sends per second.
type RatesConfig struct {
	High   float64 `toml:"high"`
	Medium float64 `toml:"medium"`
	Low    float64 `toml:"low"`
}

// HeartbeatConfig sets keepalive timing in seconds.
type HeartbeatConfig struct {
	Interval float64 `toml:"interval"`
	Timeout  float64 `toml:"timeout"`
}

// StorageConfig selects the snapshot repository.
type StorageConfig struct {
	// Driver is "sqlite", "postgres", or "" to disable persistence.
	Driver string `toml:"driver"`
	// DSN is the driver-specific connection string or file path.
	DSN string `toml:"dsn"`
	// SaveInterval is seconds between world snapshots.
	SaveInterval float64 `toml:"save_interval"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":9001",
			StatusAddr:     ":9002",
			MaxConnections: 16,
			TickRate:       60,
			LogLevel:       "info",
		},
		Rates: RatesConfig{
			High:   60,
			Medium: 20,
			Low:    5,
		},
		Heartbeat: HeartbeatConfig{
			Interval: 2,
			Timeout:  10,
		},
		Storage: StorageConfig{
			SaveInterval: 30,
		},
	}
}

// Load reads a TOML file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.MaxConnections <= 0 {
		return fmt.Errorf("server.max_connections must be positive")
	}
	if c.Server.TickRate <= 0 {
		return fmt.Errorf("server.tick_rate must be positive")
	}
	if c.Rates.High <= 0 || c.Rates.Medium <= 0 || c.Rates.Low <= 0 {
		return fmt.Errorf("rates must be positive")
	}
	if c.Heartbeat.Interval <= 0 || c.Heartbeat.Timeout <= c.Heartbeat.Interval {
		return fmt.Errorf("heartbeat.timeout must exceed heartbeat.interval")
	}
	switch c.Storage.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	return nil
}

// SchedulerRates converts the configured rates for the scheduler.
func (c Config) SchedulerRates() scheduler.Rates {
	return scheduler.Rates{
		High:   c.Rates.High,
		Medium: c.Rates.Medium,
		Low:    c.Rates.Low,
	}
}
