// Package client runs a headless relay client session: persisted device
// list, presence tracking, and the WebSocket link to the gateway.
package client

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gtsfield/relay/internal/presence"
)

// Config is the client session configuration, loaded from a YAML file.
type Config struct {
	Gateway  GatewayConfig  `yaml:"gateway"`
	State    StateConfig    `yaml:"state"`
	Presence PresenceConfig `yaml:"presence"`
	Log      LogConfig      `yaml:"log"`
}

type GatewayConfig struct {
	// URL is the relay's WebSocket endpoint (ws:// or wss://).
	URL string `yaml:"url"`
}

type StateConfig struct {
	DatabasePath string `yaml:"database_path"`
}

type PresenceConfig struct {
	// ProbeTimeout reverts unanswered devices to offline. Empty or "0"
	// keeps the stock behavior: devices stay offline until a reply lands,
	// and online forever once it does.
	ProbeTimeout string `yaml:"probe_timeout"`

	// ReprobeInterval re-pings all devices periodically. Empty or "0"
	// means a single probe per session.
	ReprobeInterval string `yaml:"reprobe_interval"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads and parses the config file. Environment references in the
// file are expanded first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.setDefaults()

	if cfg.Gateway.URL == "" {
		return nil, fmt.Errorf("gateway.url is required")
	}
	if _, err := cfg.TrackerConfig(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.State.DatabasePath == "" {
		c.State.DatabasePath = "./relay-client.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// TrackerConfig converts the presence settings into tracker options.
func (c *Config) TrackerConfig() (presence.Config, error) {
	var tcfg presence.Config

	if c.Presence.ProbeTimeout != "" {
		d, err := time.ParseDuration(c.Presence.ProbeTimeout)
		if err != nil {
			return tcfg, fmt.Errorf("presence.probe_timeout: %w", err)
		}
		tcfg.ProbeTimeout = d
	}

	if c.Presence.ReprobeInterval != "" {
		d, err := time.ParseDuration(c.Presence.ReprobeInterval)
		if err != nil {
			return tcfg, fmt.Errorf("presence.reprobe_interval: %w", err)
		}
		tcfg.ReprobeInterval = d
	}

	return tcfg, nil
}
