package state

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := InitDatabase(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("InitDatabase: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenEmptyDatabaseFallsBackToEmptyUser(t *testing.T) {
	s := Open(testDB(t), zerolog.Nop())

	u := s.User()
	if u.ID != 0 {
		t.Errorf("ID = %d, want 0", u.ID)
	}
	if u.Type != "user" {
		t.Errorf("Type = %q, want user", u.Type)
	}
	if len(u.Devices) != 0 {
		t.Errorf("Devices = %v, want empty", u.Devices)
	}
	if s.Token() != "" {
		t.Errorf("Token = %q, want empty", s.Token())
	}
}

func TestOpenCorruptStateFallsBackToEmptyUser(t *testing.T) {
	db := testDB(t)
	if _, err := db.Exec(`INSERT INTO state (key, value) VALUES ('user', 'not json')`); err != nil {
		t.Fatalf("seed corrupt state: %v", err)
	}

	s := Open(db, zerolog.Nop())

	if got := s.User(); got.ID != 0 || len(got.Devices) != 0 {
		t.Errorf("corrupt state produced user %+v, want empty aggregate", got)
	}
}

func TestReplaceUserPersistsAcrossReopen(t *testing.T) {
	db := testDB(t)
	s := Open(db, zerolog.Nop())

	s.ReplaceUser(User{
		ID:        7,
		FirstName: "Ada",
		UserName:  "ada",
		Type:      "user",
		Devices: []Device{
			{Mac: 1001, Name: "greenhouse"},
			{Mac: 2002, Name: "pump"},
		},
	}, "session-token")

	reopened := Open(db, zerolog.Nop())

	u := reopened.User()
	if u.ID != 7 || u.UserName != "ada" {
		t.Errorf("reloaded user = %+v", u)
	}
	if len(u.Devices) != 2 || u.Devices[0].Mac != 1001 || u.Devices[1].Mac != 2002 {
		t.Errorf("device order not preserved: %v", u.Devices)
	}
	if reopened.Token() != "session-token" {
		t.Errorf("Token = %q", reopened.Token())
	}
}

func TestAddDeviceAppendsOffline(t *testing.T) {
	s := Open(testDB(t), zerolog.Nop())

	s.AddDevice(1001, "greenhouse")
	s.AddDevice(2002, "pump")

	devices := s.Devices()
	if len(devices) != 2 {
		t.Fatalf("len(devices) = %d, want 2", len(devices))
	}
	if devices[1].Mac != 2002 || devices[1].Name != "pump" {
		t.Errorf("devices[1] = %+v", devices[1])
	}
	for _, d := range devices {
		if d.Online {
			t.Errorf("device %d created online", d.Mac)
		}
	}
}

func TestSetOnlineFlipsOnlyMatchingDevice(t *testing.T) {
	s := Open(testDB(t), zerolog.Nop())
	s.AddDevice(1001, "greenhouse")
	s.AddDevice(2002, "pump")

	s.SetOnline(1001)

	devices := s.Devices()
	if !devices[0].Online {
		t.Error("device 1001 not online")
	}
	if devices[1].Online {
		t.Error("device 2002 flipped online")
	}
}

func TestSetOnlineUnknownMacIsNoOp(t *testing.T) {
	s := Open(testDB(t), zerolog.Nop())
	s.AddDevice(1001, "greenhouse")

	s.SetOnline(9999)

	if s.Devices()[0].Online {
		t.Error("unknown mac mutated an unrelated device")
	}
}

func TestSetOnlineIsIdempotent(t *testing.T) {
	s := Open(testDB(t), zerolog.Nop())
	s.AddDevice(1001, "greenhouse")

	s.SetOnline(1001)
	s.SetOnline(1001)

	devices := s.Devices()
	if len(devices) != 1 || !devices[0].Online {
		t.Errorf("devices = %v", devices)
	}
}

func TestResetPresence(t *testing.T) {
	s := Open(testDB(t), zerolog.Nop())
	s.AddDevice(1001, "greenhouse")
	s.AddDevice(2002, "pump")
	s.SetOnline(1001)
	s.SetOnline(2002)

	s.ResetPresence()

	for _, d := range s.Devices() {
		if d.Online {
			t.Errorf("device %d still online after reset", d.Mac)
		}
	}
}
