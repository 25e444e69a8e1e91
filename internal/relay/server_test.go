package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/gtsfield/relay/internal/frame"
	"github.com/gtsfield/relay/internal/protocol"
)

func startTestServer(t *testing.T, publisher Publisher) (*Server, *httptest.Server) {
	t.Helper()

	hub := NewHub(publisher, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	s := New(&Config{ListenAddr: ":0"}, hub, zerolog.Nop())
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)

	return s, ts
}

func dialTestClient(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readCommand(t *testing.T, conn *websocket.Conn) frame.Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg protocol.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	var f frame.Frame
	if err := msg.ParsePayload(&f); err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	return f
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := startTestServer(t, newFakePublisher())

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestUplinkFansOutToAllConnections(t *testing.T) {
	s, ts := startTestServer(t, newFakePublisher())

	c1 := dialTestClient(t, ts)
	c2 := dialTestClient(t, ts)

	// Give the upgrade handlers time to register with the hub.
	time.Sleep(100 * time.Millisecond)

	s.hub.HandleUplink(frame.Frame{Mac: 1001, Cmd: frame.CmdPing})

	for i, conn := range []*websocket.Conn{c1, c2} {
		f := readCommand(t, conn)
		if f.Mac != 1001 || f.Cmd != frame.CmdPing {
			t.Errorf("connection %d got %+v", i, f)
		}
	}
}

func TestClientCommandReachesPublisher(t *testing.T) {
	publisher := newFakePublisher()
	_, ts := startTestServer(t, publisher)

	conn := dialTestClient(t, ts)
	time.Sleep(100 * time.Millisecond)

	msg, err := protocol.NewCommand(frame.Frame{Mac: 2002, Cmd: frame.CmdPing})
	if err != nil {
		t.Fatalf("NewCommand: %v", err)
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case got := <-publisher.notify:
		if got.Mac != 2002 || got.Cmd != frame.CmdPing {
			t.Errorf("published %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command never reached the publisher")
	}
}

func TestMalformedClientMessageIsDropped(t *testing.T) {
	publisher := newFakePublisher()
	_, ts := startTestServer(t, publisher)

	conn := dialTestClient(t, ts)
	time.Sleep(100 * time.Millisecond)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("garbage")); err != nil {
		t.Fatalf("write: %v", err)
	}

	// A valid command afterwards proves the connection survived.
	msg, _ := protocol.NewCommand(frame.Frame{Mac: 3003, Cmd: frame.CmdPing})
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case got := <-publisher.notify:
		if got.Mac != 3003 {
			t.Errorf("published %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not survive malformed message")
	}
}
