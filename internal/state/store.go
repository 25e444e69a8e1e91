// Package state holds the authenticated user's device list on the client
// side, persisted to SQLite on every mutation.
package state

import (
	"database/sql"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

// Storage keys. Two opaque JSON blobs, no version field.
const (
	keyUser  = "user"
	keyToken = "token"
)

// Device is one registered device. Macs are decimal-rendered efuse values,
// unique within a user.
type Device struct {
	Mac    uint64 `json:"mac"`
	Name   string `json:"name"`
	Online bool   `json:"online"`
}

// User is the session's single aggregate root. Device order is insertion
// order and survives persistence round-trips.
type User struct {
	ID        int64    `json:"_id"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	UserName  string   `json:"userName"`
	Type      string   `json:"type"`
	Devices   []Device `json:"devices"`
}

func emptyUser() User {
	return User{ID: 0, Type: "user", Devices: []Device{}}
}

// Store is the source of truth for the client session. Mutations are
// total: they never fail, and each one writes through to the database
// before returning. Persistence errors are logged, not surfaced.
type Store struct {
	log zerolog.Logger
	db  *sql.DB

	mu    sync.RWMutex
	user  User
	token string
}

// Open loads the persisted aggregate. Missing or corrupt state falls back
// to an empty user rather than failing; the session simply starts with no
// devices.
func Open(db *sql.DB, log zerolog.Logger) *Store {
	s := &Store{
		log:  log.With().Str("component", "state").Logger(),
		db:   db,
		user: emptyUser(),
	}

	if raw, ok := s.read(keyUser); ok {
		var u User
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			s.log.Warn().Err(err).Msg("persisted user state corrupt, starting empty")
		} else {
			if u.Devices == nil {
				u.Devices = []Device{}
			}
			s.user = u
		}
	}

	if raw, ok := s.read(keyToken); ok {
		var tok string
		if err := json.Unmarshal([]byte(raw), &tok); err != nil {
			s.log.Warn().Err(err).Msg("persisted token corrupt, discarding")
		} else {
			s.token = tok
		}
	}

	return s
}

// User returns a copy of the aggregate.
func (s *Store) User() User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyUser()
}

// Devices returns a copy of the device list in insertion order.
func (s *Store) Devices() []Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	devices := make([]Device, len(s.user.Devices))
	copy(devices, s.user.Devices)
	return devices
}

// Token returns the stored session token.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// ReplaceUser swaps in a new aggregate and session token on sign-in.
func (s *Store) ReplaceUser(user User, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Devices == nil {
		user.Devices = []Device{}
	}
	s.user = user
	s.token = token
	s.persistUser()
	s.persistToken()
}

// AddDevice appends a newly registered device, offline.
func (s *Store) AddDevice(mac uint64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.user.Devices = append(s.user.Devices, Device{Mac: mac, Name: name, Online: false})
	s.persistUser()
}

// SetOnline marks the device with the given mac online. Unknown macs are a
// silent no-op: all clients see all broadcast frames and filter by their
// own device set.
func (s *Store) SetOnline(mac uint64) {
	s.setOnlineFlag(mac, true)
}

// SetOffline marks the device with the given mac offline. Unknown macs are
// a silent no-op.
func (s *Store) SetOffline(mac uint64) {
	s.setOnlineFlag(mac, false)
}

func (s *Store) setOnlineFlag(mac uint64, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.user.Devices {
		if s.user.Devices[i].Mac == mac {
			s.user.Devices[i].Online = online
			break
		}
	}
	s.persistUser()
}

// ResetPresence marks every device offline. Runs at session start before
// probing: persisted online flags from the previous session are meaningless
// until a fresh ping reply proves the device is still there.
func (s *Store) ResetPresence() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.user.Devices {
		s.user.Devices[i].Online = false
	}
	s.persistUser()
}

func (s *Store) copyUser() User {
	u := s.user
	u.Devices = make([]Device, len(s.user.Devices))
	copy(u.Devices, s.user.Devices)
	return u
}

func (s *Store) read(key string) (string, bool) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false
	}
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to read persisted state")
		return "", false
	}
	return value, true
}

func (s *Store) persistUser() {
	data, err := json.Marshal(s.user)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to marshal user state")
		return
	}
	s.write(keyUser, string(data))
}

func (s *Store) persistToken() {
	data, err := json.Marshal(s.token)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to marshal token")
		return
	}
	s.write(keyToken, string(data))
}

func (s *Store) write(key, value string) {
	_, err := s.db.Exec(`
		INSERT INTO state (key, value, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value)
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("failed to persist state")
	}
}
