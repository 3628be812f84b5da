// Package config loads the daemon configuration from config.yaml under the
// data directory, applying defaults for anything unset.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flashing/seafile/internal/otel"
)

// CloneConfig tunes the clone manager.
type CloneConfig struct {
	// CheckConnectIntervalSeconds is the connectivity pulse period.
	CheckConnectIntervalSeconds int `yaml:"check_connect_interval_seconds"`
}

// GatewayConfig configures the HTTP status surface.
type GatewayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	// Token, when set, is required as a Bearer token on every request
	// except /healthz.
	Token string `yaml:"token"`
}

// MaintenanceConfig schedules periodic store maintenance.
type MaintenanceConfig struct {
	// VacuumCron is a standard 5-field cron expression; empty disables
	// the vacuum job.
	VacuumCron string `yaml:"vacuum_cron"`
}

// Config is the top-level daemon configuration.
type Config struct {
	// DataDir holds the clone database and logs. Defaults to ~/.seafile.
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`

	Clone       CloneConfig       `yaml:"clone"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	OTel        otel.Config       `yaml:"otel"`
}

// DefaultDataDir returns ~/.seafile, falling back to the current directory
// when the home directory cannot be resolved.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".seafile")
}

func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Clone.CheckConnectIntervalSeconds <= 0 {
		cfg.Clone.CheckConnectIntervalSeconds = 5
	}
	if cfg.Gateway.Addr == "" {
		cfg.Gateway.Addr = "127.0.0.1:13420"
	}
}

// CheckConnectInterval returns the pulse period as a duration.
func (c *Config) CheckConnectInterval() time.Duration {
	return time.Duration(c.Clone.CheckConnectIntervalSeconds) * time.Second
}

// Path returns the config file path under the given data directory.
func Path(dataDir string) string {
	return filepath.Join(dataDir, "config.yaml")
}

// Load reads config.yaml from dataDir. A missing file yields the defaults;
// a malformed file is an error.
func Load(dataDir string) (*Config, error) {
	cfg := &Config{DataDir: dataDir}

	data, err := os.ReadFile(Path(dataDir))
	if err != nil {
		if os.IsNotExist(err) {
			applyDefaults(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = dataDir
	}
	applyDefaults(cfg)
	return cfg, nil
}
