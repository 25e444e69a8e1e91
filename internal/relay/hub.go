package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/gtsfield/relay/internal/frame"
	"github.com/gtsfield/relay/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Command frames are tiny.
	maxMessageSize = 4 * 1024
)

// Publisher sends downlink commands toward devices. The broker client
// satisfies it; tests inject fakes.
type Publisher interface {
	Publish(mac uint64, cmd string) error
}

// Client represents one connected WebSocket peer.
type Client struct {
	conn *websocket.Conn
	id   string
	send chan []byte
	hub  *Hub
}

// Hub maintains the set of connected clients and moves frames between
// them and the broker. All client-set access happens on the Run loop, so
// the maps need no locking.
type Hub struct {
	log       zerolog.Logger
	publisher Publisher

	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client

	// inbound carries client command frames toward the broker.
	inbound chan frame.Frame

	// uplink carries broker frames toward the clients.
	uplink chan frame.Frame
}

// NewHub creates a hub publishing through the given broker client. The
// publisher is injected here; the hub never reaches for shared globals.
func NewHub(publisher Publisher, log zerolog.Logger) *Hub {
	return &Hub{
		log:        log.With().Str("component", "hub").Logger(),
		publisher:  publisher,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan frame.Frame, 256),
		uplink:     make(chan frame.Frame, 256),
	}
}

// Run starts the hub's main loop. It returns when the context ends.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			h.log.Debug().Str("id", client.id).Int("clients", len(h.clients)).Msg("client registered")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.log.Debug().Str("id", client.id).Int("clients", len(h.clients)).Msg("client unregistered")

		case f := <-h.inbound:
			// Forward verbatim. Ownership checks, if any, happened at the
			// request layer; any client may command any device here.
			if err := h.publisher.Publish(f.Mac, f.Cmd); err != nil {
				h.log.Warn().Err(err).Uint64("mac", f.Mac).Str("cmd", f.Cmd).Msg("downlink publish dropped")
			}

		case f := <-h.uplink:
			h.broadcast(f)
		}
	}
}

// HandleUplink hands a decoded broker frame to the hub. Called from the
// broker client's receive path; it must never block the broker, so when
// the hub is saturated the frame is dropped and logged.
func (h *Hub) HandleUplink(f frame.Frame) {
	select {
	case h.uplink <- f:
	default:
		h.log.Warn().Uint64("mac", f.Mac).Str("cmd", f.Cmd).Msg("uplink queue full, frame dropped")
	}
}

// broadcast delivers a frame to every connected client. Clients filter by
// their own device set; the hub does not know which client owns which mac.
func (h *Hub) broadcast(f frame.Frame) {
	msg, err := protocol.NewCommand(f)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to build command message")
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to marshal command message")
		return
	}

	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			// Client send buffer full, skip
		}
	}
}

// readPump reads messages from the WebSocket connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Error().Err(err).Str("id", c.id).Msg("read error")
			}
			return
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.log.Warn().Err(err).Str("id", c.id).Msg("failed to parse message")
			continue
		}

		if msg.Type != protocol.TypeCommand {
			continue
		}

		var f frame.Frame
		if err := msg.ParsePayload(&f); err != nil {
			c.hub.log.Warn().Err(err).Str("id", c.id).Msg("failed to parse command payload")
			continue
		}

		c.hub.inbound <- f
	}
}

// writePump pumps messages to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
