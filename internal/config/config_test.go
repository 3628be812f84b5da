package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flashing/seafile/internal/config"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != dir {
		t.Fatalf("data dir: got %q want %q", cfg.DataDir, dir)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("log level default: %q", cfg.LogLevel)
	}
	if got := cfg.CheckConnectInterval(); got != 5*time.Second {
		t.Fatalf("check interval default: %v", got)
	}
	if cfg.Gateway.Addr == "" {
		t.Fatal("expected default gateway addr")
	}
}

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	content := `
log_level: debug
clone:
  check_connect_interval_seconds: 2
gateway:
  enabled: true
  addr: "127.0.0.1:9999"
  token: "secret"
maintenance:
  vacuum_cron: "0 3 * * *"
otel:
  enabled: true
  exporter: stdout
`
	if err := os.WriteFile(config.Path(dir), []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level: %q", cfg.LogLevel)
	}
	if got := cfg.CheckConnectInterval(); got != 2*time.Second {
		t.Fatalf("check interval: %v", got)
	}
	if !cfg.Gateway.Enabled || cfg.Gateway.Addr != "127.0.0.1:9999" {
		t.Fatalf("gateway: %+v", cfg.Gateway)
	}
	if cfg.Maintenance.VacuumCron != "0 3 * * *" {
		t.Fatalf("vacuum cron: %q", cfg.Maintenance.VacuumCron)
	}
	if !cfg.OTel.Enabled || cfg.OTel.Exporter != "stdout" {
		t.Fatalf("otel: %+v", cfg.OTel)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(config.Path(dir), []byte("log_level: [unclosed"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := config.Load(dir); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestPath(t *testing.T) {
	if got := config.Path("/data"); got != filepath.Join("/data", "config.yaml") {
		t.Fatalf("path: %q", got)
	}
}
