package offlineagent

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/always-cache/offline-agent/bus"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// newHubAgent wires a test agent to a real session hub served over WebSocket.
func newHubAgent(t *testing.T) (*testAgent, *bus.Hub, *httptest.Server) {
	t.Helper()
	logger := zerolog.Nop()
	hub := bus.NewHub(bus.HubConfig{Logger: &logger})
	ta := newTestAgent(t, emptyListing(siteHandler), func(c *Config) {
		c.Bus = hub
		c.Host = hub
	})
	hub.SetHandler(ta.Agent)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return ta, hub, srv
}

func attachSession(t *testing.T, hub *bus.Hub, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	before := hub.Sessions()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	eventually(t, func() bool { return hub.Sessions() == before+1 })
	return conn
}

func sendMessage(t *testing.T, conn *websocket.Conn, msg Message) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatal(err)
	}
}

func receiveMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	return msg
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("Condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// expectTrusted checks that a session's login reaches the status state and unlocks the offline add-item redirect.
func expectTrusted(t *testing.T, ta *testAgent, conn *websocket.Conn) {
	t.Helper()
	want := Status{Online: false, LoggedIn: true}
	sendMessage(t, conn, bus.StatusUpdate(want))
	eventually(t, func() bool { return ta.Status().Snapshot() == want })
	expectRedirect(t, ta.serve("GET", "/login", true), "/add-post")
}

func TestUnclaimedSessionIsNotTrusted(t *testing.T) {
	ta, hub, srv := newHubAgent(t)
	conn := attachSession(t, hub, srv)

	sendMessage(t, conn, bus.StatusUpdate(Status{Online: false, LoggedIn: true}))

	eventually(t, func() bool { return !ta.Status().Snapshot().Online })
	if ta.Status().Snapshot().LoggedIn {
		t.Fatal("Uncontrolled session logged in")
	}
}

func TestFirstBootControlsSessions(t *testing.T) {
	t.Run("open before boot", func(t *testing.T) {
		ta, hub, srv := newHubAgent(t)
		conn := attachSession(t, hub, srv)

		if err := ta.Boot(context.Background(), false); err != nil {
			t.Fatal(err)
		}
		ta.Prefetcher().Wait()

		if msg := receiveMessage(t, conn); !msg.RequestStatusUpdate {
			t.Fatalf("First message is %v", msg)
		}
		expectTrusted(t, ta, conn)
	})
	t.Run("attached after boot", func(t *testing.T) {
		ta, hub, srv := newHubAgent(t)
		if err := ta.Boot(context.Background(), false); err != nil {
			t.Fatal(err)
		}
		ta.Prefetcher().Wait()

		expectTrusted(t, ta, attachSession(t, hub, srv))
	})
}

func TestRestartControlsSessions(t *testing.T) {
	t.Run("open before boot", func(t *testing.T) {
		ta, hub, srv := newHubAgent(t)
		conn := attachSession(t, hub, srv)

		if err := ta.Boot(context.Background(), true); err != nil {
			t.Fatal(err)
		}
		ta.Prefetcher().Wait()

		if msg := receiveMessage(t, conn); !msg.RequestStatusUpdate {
			t.Fatalf("First message is %v", msg)
		}
		expectTrusted(t, ta, conn)
	})
	t.Run("attached after boot", func(t *testing.T) {
		ta, hub, srv := newHubAgent(t)
		if err := ta.Boot(context.Background(), true); err != nil {
			t.Fatal(err)
		}
		ta.Prefetcher().Wait()

		conn := attachSession(t, hub, srv)
		expectTrusted(t, ta, conn)

		res := ta.serve("GET", "/logout", true)
		expectRedirect(t, res, "/")
		if msg := receiveMessage(t, conn); !msg.ForceLogout {
			t.Fatalf("Session got %v instead of a forced logout", msg)
		}
	})
}

func TestRestartKeepsCache(t *testing.T) {
	ta, _, _ := newHubAgent(t)
	ta.store(t, "/", "cached home")
	if _, err := ta.provider.Open("test-1"); err != nil {
		t.Fatal(err)
	}

	if err := ta.Boot(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	ta.Prefetcher().Wait()

	if n := ta.origin.count("/"); n != 0 {
		t.Fatalf("Cached shell asset fetched %d times", n)
	}
	if ok, _ := ta.provider.HasGeneration("test-1"); !ok {
		t.Fatal("Restart deleted a generation")
	}
}
