package client

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("RELAY_TEST_HOST", "relay.example.com")

	path := writeConfig(t, `
gateway:
  url: ws://${RELAY_TEST_HOST}:3002/ws
state:
  database_path: /tmp/devices.db
presence:
  probe_timeout: 10s
  reprobe_interval: 1m
log:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Gateway.URL != "ws://relay.example.com:3002/ws" {
		t.Errorf("gateway url = %q", cfg.Gateway.URL)
	}
	if cfg.State.DatabasePath != "/tmp/devices.db" {
		t.Errorf("database path = %q", cfg.State.DatabasePath)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}

	tcfg, err := cfg.TrackerConfig()
	if err != nil {
		t.Fatalf("TrackerConfig: %v", err)
	}
	if tcfg.ProbeTimeout != 10*time.Second {
		t.Errorf("probe timeout = %v", tcfg.ProbeTimeout)
	}
	if tcfg.ReprobeInterval != time.Minute {
		t.Errorf("reprobe interval = %v", tcfg.ReprobeInterval)
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
gateway:
  url: ws://localhost:3002/ws
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.State.DatabasePath == "" {
		t.Error("database path default not applied")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log level default = %q", cfg.Log.Level)
	}

	tcfg, err := cfg.TrackerConfig()
	if err != nil {
		t.Fatalf("TrackerConfig: %v", err)
	}
	if tcfg.ProbeTimeout != 0 || tcfg.ReprobeInterval != 0 {
		t.Errorf("hardening enabled by default: %+v", tcfg)
	}
}

func TestLoadRequiresGatewayURL(t *testing.T) {
	path := writeConfig(t, `
log:
  level: info
`)

	if _, err := Load(path); err == nil {
		t.Error("Load accepted config without gateway url")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
gateway:
  url: ws://localhost:3002/ws
presence:
  probe_timeout: soon
`)

	if _, err := Load(path); err == nil {
		t.Error("Load accepted invalid probe_timeout")
	}
}
