// Package broker maintains the single persistent MQTT connection shared by
// the whole relay process.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/gtsfield/relay/internal/frame"
)

// ErrNotConnected is returned by Publish while the broker link is down.
// Callers must not block waiting for reconnection; the retry loop runs in
// the background.
var ErrNotConnected = errors.New("broker unavailable")

// Config holds the broker connection settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	ClientID string

	// UplinkTopic is the one fixed topic all devices publish to. Devices
	// self-identify via the mac prefix in the payload, not the topic.
	UplinkTopic string

	// DownlinkPrefix forms per-device command topics as "<prefix><mac>".
	DownlinkPrefix string

	// ReconnectInterval is the fixed retry interval. Retries are unbounded.
	ReconnectInterval time.Duration
}

func (c Config) brokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.Host, c.Port)
}

// Client wraps the MQTT connection: one uplink subscription, per-device
// downlink publishes, automatic reconnection. Construct it explicitly and
// inject it where needed; there is no package-level singleton.
type Client struct {
	cfg     Config
	log     zerolog.Logger
	mqtt    mqtt.Client
	handler func(frame.Frame)
}

// New creates a broker client. Call Handle before Connect.
func New(cfg Config, log zerolog.Logger) *Client {
	c := &Client{
		cfg: cfg,
		log: log.With().Str("component", "broker").Logger(),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.brokerURL())
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(cfg.ReconnectInterval)
	opts.SetMaxReconnectInterval(cfg.ReconnectInterval)
	opts.SetConnectTimeout(4 * time.Second)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.mqtt = mqtt.NewClient(opts)
	return c
}

// Handle registers the single uplink handler. It is invoked for every
// decodable message on the uplink topic; malformed payloads are logged and
// dropped. Must be called before Connect.
func (c *Client) Handle(fn func(frame.Frame)) {
	c.handler = fn
}

// Connect establishes the link and blocks until connected or the context
// is cancelled. Connection failures are retried internally at the fixed
// interval, so a missing broker delays this call rather than failing it.
func (c *Client) Connect(ctx context.Context) error {
	c.log.Info().Str("url", c.cfg.brokerURL()).Str("client_id", c.cfg.ClientID).Msg("connecting to broker")

	token := c.mqtt.Connect()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
		return token.Error()
	}
}

// onConnect runs on every successful (re)connect. Clean-session semantics
// mean the subscription does not survive reconnects and must be re-issued.
func (c *Client) onConnect(_ mqtt.Client) {
	c.log.Info().Str("topic", c.cfg.UplinkTopic).Msg("broker connected, subscribing uplink")

	token := c.mqtt.Subscribe(c.cfg.UplinkTopic, 0, c.onMessage)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			c.log.Error().Err(err).Str("topic", c.cfg.UplinkTopic).Msg("uplink subscribe failed")
		}
	}()
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.log.Warn().Err(err).Dur("retry_interval", c.cfg.ReconnectInterval).Msg("broker connection lost")
}

func (c *Client) onMessage(_ mqtt.Client, msg mqtt.Message) {
	f, err := frame.Decode(string(msg.Payload()))
	if err != nil {
		c.log.Warn().Str("payload", string(msg.Payload())).Msg("dropping malformed uplink payload")
		return
	}

	c.log.Debug().Uint64("mac", f.Mac).Str("cmd", f.Cmd).Msg("uplink frame")

	if c.handler != nil {
		c.handler(f)
	}
}

// Publish sends a command to a device's downlink topic at QoS 0,
// non-retained. Fire-and-forget: delivery failures are logged, not
// returned. While disconnected it fails fast with ErrNotConnected instead
// of queueing.
func (c *Client) Publish(mac uint64, cmd string) error {
	if !c.mqtt.IsConnectionOpen() {
		return ErrNotConnected
	}

	topic := frame.DownlinkTopic(c.cfg.DownlinkPrefix, mac)
	payload := frame.DownlinkPayload(frame.Frame{Mac: mac, Cmd: cmd})

	token := c.mqtt.Publish(topic, 0, false, payload)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			c.log.Error().Err(err).Str("topic", topic).Msg("publish failed")
		}
	}()

	c.log.Debug().Str("topic", topic).Str("cmd", cmd).Msg("downlink publish")
	return nil
}

// IsConnected reports whether the broker link is currently up.
func (c *Client) IsConnected() bool {
	return c.mqtt.IsConnectionOpen()
}

// Close tears down the connection. Only used on process shutdown; during
// normal operation the link lives for the life of the process.
func (c *Client) Close() {
	c.mqtt.Disconnect(250)
}
