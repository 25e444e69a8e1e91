package client

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/gtsfield/relay/internal/presence"
	"github.com/gtsfield/relay/internal/state"
)

// Session ties the client pieces together: the state store seeds the
// device list, the tracker owns presence, and the socket carries frames.
// Every (re)connect is a session start: presence resets and all devices
// get probed again.
type Session struct {
	log     zerolog.Logger
	store   *state.Store
	socket  *Socket
	tracker *presence.Tracker

	mu          sync.Mutex
	cancelProbe context.CancelFunc
	ctx         context.Context
}

// NewSession builds a session over an opened store.
func NewSession(cfg *Config, store *state.Store, log zerolog.Logger) (*Session, error) {
	s := &Session{
		log:   log.With().Str("component", "session").Logger(),
		store: store,
	}

	s.socket = NewSocket(cfg.Gateway.URL, log, s)

	tcfg, err := cfg.TrackerConfig()
	if err != nil {
		return nil, err
	}
	s.tracker = presence.New(tcfg, store, s.socket, log)

	return s, nil
}

// Run drives the session until the context ends.
func (s *Session) Run(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	go s.socket.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case f := <-s.socket.Frames():
			s.tracker.HandleFrame(f)
		}
	}
}

// OnConnected starts a fresh presence round for this connection.
func (s *Session) OnConnected() {
	s.log.Info().Int("devices", len(s.store.Devices())).Msg("gateway connected, probing devices")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelProbe != nil {
		s.cancelProbe()
	}

	parent := s.ctx
	if parent == nil {
		parent = context.Background()
	}
	probeCtx, cancel := context.WithCancel(parent)
	s.cancelProbe = cancel

	go s.tracker.Start(probeCtx)
}

// OnDisconnected stops the current presence round; reconnecting starts a
// new one.
func (s *Session) OnDisconnected() {
	s.log.Warn().Msg("gateway disconnected")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelProbe != nil {
		s.cancelProbe()
		s.cancelProbe = nil
	}
}
