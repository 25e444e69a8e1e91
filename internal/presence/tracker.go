// Package presence derives per-device online/offline state from ping
// replies relayed over the gateway.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gtsfield/relay/internal/frame"
	"github.com/gtsfield/relay/internal/state"
)

// Sender emits downlink frames toward the gateway.
type Sender interface {
	SendFrame(f frame.Frame) error
}

// Config controls the optional hardening on top of the base behavior.
// With both zero the tracker probes once per session start and devices
// that answer stay online until the next session: no timeout, no retry.
type Config struct {
	// ProbeTimeout reverts devices that did not answer a probe within the
	// window back to offline. Zero disables reversion.
	ProbeTimeout time.Duration

	// ReprobeInterval re-probes all devices periodically. Zero means one
	// probe per session start only.
	ReprobeInterval time.Duration
}

// Tracker owns the offline→online transition for every device in the
// session's aggregate. The only signal it acts on is a CMD_PING reply;
// every other command tag is a no-op.
type Tracker struct {
	cfg    Config
	log    zerolog.Logger
	store  *state.Store
	sender Sender

	mu      sync.Mutex
	pending map[uint64]struct{}
}

// New creates a tracker over the given store and frame sender.
func New(cfg Config, store *state.Store, sender Sender, log zerolog.Logger) *Tracker {
	return &Tracker{
		cfg:     cfg,
		log:     log.With().Str("component", "presence").Logger(),
		store:   store,
		sender:  sender,
		pending: make(map[uint64]struct{}),
	}
}

// Start resets every device to offline, emits one probe per device, and
// then runs the optional sweep/re-probe loop until the context ends. In
// the default configuration it returns immediately after the probes.
func (t *Tracker) Start(ctx context.Context) {
	t.store.ResetPresence()
	t.probeAll()

	var sweepTimer *time.Timer
	var sweepC <-chan time.Time
	if t.cfg.ProbeTimeout > 0 {
		sweepTimer = time.NewTimer(t.cfg.ProbeTimeout)
		sweepC = sweepTimer.C
		defer sweepTimer.Stop()
	}

	var reprobeC <-chan time.Time
	if t.cfg.ReprobeInterval > 0 {
		ticker := time.NewTicker(t.cfg.ReprobeInterval)
		reprobeC = ticker.C
		defer ticker.Stop()
	}

	if sweepC == nil && reprobeC == nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-sweepC:
			t.sweepPending()

		case <-reprobeC:
			t.probeAll()
			if sweepTimer != nil {
				if !sweepTimer.Stop() {
					select {
					case <-sweepTimer.C:
					default:
					}
				}
				sweepTimer.Reset(t.cfg.ProbeTimeout)
			}
		}
	}
}

// HandleFrame applies one uplink frame. A ping reply flips the matching
// device online; the store ignores macs outside the aggregate.
func (t *Tracker) HandleFrame(f frame.Frame) {
	switch f.Cmd {
	case frame.CmdPing:
		t.store.SetOnline(f.Mac)

		t.mu.Lock()
		delete(t.pending, f.Mac)
		t.mu.Unlock()

		t.log.Debug().Uint64("mac", f.Mac).Msg("ping reply, device online")

	default:
		// Unrecognized tags pass through untouched.
	}
}

// probeAll sends one CMD_PING per device. Send failures are logged and
// dropped: while the link is down the devices simply stay offline until a
// later probe gets through.
func (t *Tracker) probeAll() {
	devices := t.store.Devices()

	if t.cfg.ProbeTimeout > 0 {
		t.mu.Lock()
		t.pending = make(map[uint64]struct{}, len(devices))
		for _, d := range devices {
			t.pending[d.Mac] = struct{}{}
		}
		t.mu.Unlock()
	}

	for _, d := range devices {
		if err := t.sender.SendFrame(frame.Frame{Mac: d.Mac, Cmd: frame.CmdPing}); err != nil {
			t.log.Debug().Err(err).Uint64("mac", d.Mac).Msg("probe send failed")
		}
	}

	t.log.Debug().Int("devices", len(devices)).Msg("probes sent")
}

// sweepPending reverts devices whose probe went unanswered.
func (t *Tracker) sweepPending() {
	t.mu.Lock()
	unanswered := t.pending
	t.pending = make(map[uint64]struct{})
	t.mu.Unlock()

	for mac := range unanswered {
		t.store.SetOffline(mac)
		t.log.Debug().Uint64("mac", mac).Msg("probe timed out, device offline")
	}
}
