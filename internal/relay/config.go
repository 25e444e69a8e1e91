// Package relay implements the realtime gateway bridging WebSocket clients
// to the shared broker connection.
package relay

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gtsfield/relay/internal/broker"
)

// Config holds relay server configuration from environment variables.
type Config struct {
	// Server
	ListenAddr string

	// Security
	AllowedOrigins []string // optional, for WebSocket origin validation

	// Broker connection
	Broker broker.Config
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ListenAddr:     getEnv("RELAY_LISTEN", ":3002"),
		AllowedOrigins: parseOrigins("RELAY_ALLOWED_ORIGINS"),
		Broker: broker.Config{
			Host:              getEnv("RELAY_BROKER_HOST", "localhost"),
			Port:              parseInt("RELAY_BROKER_PORT", 1883),
			Username:          getEnv("RELAY_BROKER_USERNAME", "emqx"),
			Password:          getEnv("RELAY_BROKER_PASSWORD", "public"),
			ClientID:          getEnv("RELAY_BROKER_CLIENT_ID", "relay-server"),
			UplinkTopic:       os.Getenv("RELAY_UPLINK_TOPIC"),
			DownlinkPrefix:    os.Getenv("RELAY_DOWNLINK_PREFIX"),
			ReconnectInterval: parseDuration("RELAY_BROKER_RECONNECT_INTERVAL", time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	var errs []string

	if c.Broker.UplinkTopic == "" {
		errs = append(errs, "RELAY_UPLINK_TOPIC is required")
	}
	if c.Broker.DownlinkPrefix == "" {
		errs = append(errs, "RELAY_DOWNLINK_PREFIX is required")
	}
	if c.Broker.ReconnectInterval < time.Second {
		errs = append(errs, "RELAY_BROKER_RECONNECT_INTERVAL must be at least 1s")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func parseDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseOrigins(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
