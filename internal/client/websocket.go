package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/gtsfield/relay/internal/frame"
	"github.com/gtsfield/relay/internal/protocol"
)

// ConnectionHandler is called on connection events.
type ConnectionHandler interface {
	OnConnected()
	OnDisconnected()
}

// Socket manages the WebSocket connection to the gateway.
type Socket struct {
	url     string
	log     zerolog.Logger
	handler ConnectionHandler

	conn   *websocket.Conn
	mu     sync.Mutex
	frames chan frame.Frame

	// Reconnection
	connected bool
	backoff   time.Duration
}

const (
	pingInterval   = 30 * time.Second
	pongWait       = 45 * time.Second
	writeWait      = 10 * time.Second
	maxBackoff     = 60 * time.Second
	initialBackoff = 1 * time.Second
)

// NewSocket creates a gateway socket. Frames received on the command
// channel are delivered on Frames().
func NewSocket(url string, log zerolog.Logger, handler ConnectionHandler) *Socket {
	return &Socket{
		url:     url,
		log:     log.With().Str("component", "socket").Logger(),
		handler: handler,
		frames:  make(chan frame.Frame, 100),
		backoff: initialBackoff,
	}
}

// Run connects to the gateway and maintains the connection.
// It blocks until the context is cancelled.
func (s *Socket) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.log.Debug().Msg("context cancelled, stopping")
			return
		default:
		}

		if err := s.connect(ctx); err != nil {
			s.log.Error().Err(err).Dur("backoff", s.backoff).Msg("connection failed, retrying")
			s.waitBackoff(ctx)
			continue
		}

		// Connected - reset backoff
		s.backoff = initialBackoff

		s.readLoop(ctx)

		// Disconnected - wait before reconnecting
		s.waitBackoff(ctx)
	}
}

func (s *Socket) connect(ctx context.Context) error {
	s.log.Debug().Str("url", s.url).Msg("connecting")

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go s.pingLoop(ctx)

	s.handler.OnConnected()

	return nil
}

func (s *Socket) readLoop(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.connected = false
		if s.conn != nil {
			s.conn.Close()
			s.conn = nil
		}
		s.mu.Unlock()
		s.handler.OnDisconnected()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Error().Err(err).Msg("read error")
			}
			return
		}

		conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Warn().Err(err).Str("data", string(data)).Msg("failed to parse message")
			continue
		}

		if msg.Type != protocol.TypeCommand {
			continue
		}

		var f frame.Frame
		if err := msg.ParsePayload(&f); err != nil {
			s.log.Warn().Err(err).Msg("failed to parse command payload")
			continue
		}

		select {
		case s.frames <- f:
		default:
			s.log.Warn().Msg("frame queue full, dropping frame")
		}
	}
}

func (s *Socket) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			conn := s.conn
			connected := s.connected
			s.mu.Unlock()

			if !connected || conn == nil {
				return
			}

			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

func (s *Socket) waitBackoff(ctx context.Context) {
	timer := time.NewTimer(s.backoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}

	// Exponential backoff
	s.backoff *= 2
	if s.backoff > maxBackoff {
		s.backoff = maxBackoff
	}
}

// SendFrame sends a command frame to the gateway.
func (s *Socket) SendFrame(f frame.Frame) error {
	msg, err := protocol.NewCommand(f)
	if err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return websocket.ErrCloseSent
	}

	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Frames returns the channel of received command frames.
func (s *Socket) Frames() <-chan frame.Frame {
	return s.frames
}

// IsConnected returns whether the socket is connected.
func (s *Socket) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}
