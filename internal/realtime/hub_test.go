package realtime_test

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"taskmaster/internal/realtime"
)

const testSecret = "test-secret"

func mintToken(t *testing.T, userID string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func newTestHub(t *testing.T, requireSubscribeAuth bool) *realtime.Hub {
	t.Helper()
	return realtime.NewHub(realtime.Authenticator{
		JWTSecret:            testSecret,
		RequireSubscribeAuth: requireSubscribeAuth,
	}, time.Second, nil)
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, f realtime.Frame) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, f.Encode()); err != nil {
		t.Fatalf("write %s: %v", f.Command, err)
	}
}

func read(t *testing.T, conn *websocket.Conn) realtime.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	f, err := realtime.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return f
}

func connect(t *testing.T, conn *websocket.Conn, token string) {
	t.Helper()
	headers := map[string]string{}
	if token != "" {
		headers["authorization"] = "Bearer " + token
	}
	send(t, conn, realtime.Frame{Command: realtime.CmdConnect, Headers: headers})
	f := read(t, conn)
	if f.Command != realtime.CmdConnected {
		t.Fatalf("expected CONNECTED, got %s", f.Command)
	}
}

func subscribe(t *testing.T, conn *websocket.Conn, id, dest string) {
	t.Helper()
	send(t, conn, realtime.Frame{
		Command: realtime.CmdSubscribe,
		Headers: map[string]string{"id": id, "destination": dest},
	})
}

func waitForSubscribers(t *testing.T, hub *realtime.Hub, dest string, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if hub.SubscriberCount(dest) >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("destination %s never reached %d subscribers", dest, n)
}

func TestPublishReachesOwnerInOrder(t *testing.T) {
	hub := newTestHub(t, true)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	connect(t, conn, mintToken(t, "bob"))
	dest := realtime.UserDestination("bob")
	subscribe(t, conn, "s1", dest)
	waitForSubscribers(t, hub, dest, 1)

	for i := 0; i < 5; i++ {
		if err := hub.Publish("bob", map[string]any{"seq": i}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	for i := 0; i < 5; i++ {
		f := read(t, conn)
		if f.Command != realtime.CmdMessage {
			t.Fatalf("expected MESSAGE, got %s", f.Command)
		}
		if f.Header("destination") != dest || f.Header("subscription") != "s1" {
			t.Fatalf("unexpected headers: %v", f.Headers)
		}
		var payload map[string]any
		if err := json.Unmarshal(f.Body, &payload); err != nil {
			t.Fatalf("payload: %v", err)
		}
		if int(payload["seq"].(float64)) != i {
			t.Fatalf("out of order: got seq %v, want %d", payload["seq"], i)
		}
	}
}

func TestPublishWithoutSubscribersIsDropped(t *testing.T) {
	hub := newTestHub(t, true)
	if err := hub.Publish("nobody", map[string]any{"x": 1}); err != nil {
		t.Fatalf("publish to empty destination should succeed: %v", err)
	}
}

func TestSubscribeOtherUsersDestinationRejected(t *testing.T) {
	hub := newTestHub(t, true)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	connect(t, conn, mintToken(t, "carol"))
	subscribe(t, conn, "s1", realtime.UserDestination("bob"))
	f := read(t, conn)
	if f.Command != realtime.CmdError {
		t.Fatalf("expected ERROR, got %s", f.Command)
	}
	if hub.SubscriberCount(realtime.UserDestination("bob")) != 0 {
		t.Fatalf("rejected subscription must not register")
	}
}

func TestBadConnectAuthKeepsConnection(t *testing.T) {
	hub := newTestHub(t, true)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	// Garbage token: the session stays open but unauthenticated.
	connect(t, conn, "not-a-jwt")

	subscribe(t, conn, "s1", realtime.UserDestination("bob"))
	f := read(t, conn)
	if f.Command != realtime.CmdError {
		t.Fatalf("unauthenticated subscribe should be rejected, got %s", f.Command)
	}
}

func TestLegacyModeIgnoresUnauthenticatedSubscribe(t *testing.T) {
	hub := newTestHub(t, false)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	connect(t, conn, "")
	dest := realtime.UserDestination("bob")
	subscribe(t, conn, "s1", dest)

	// No ERROR frame comes back and nothing is registered; the next
	// publish must not reach this session.
	time.Sleep(100 * time.Millisecond)
	if hub.SubscriberCount(dest) != 0 {
		t.Fatalf("unauthenticated subscribe must not register")
	}
	if err := hub.Publish("bob", map[string]any{"secret": true}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, raw, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected no delivery, got %q", raw)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := newTestHub(t, true)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	connect(t, conn, mintToken(t, "bob"))
	dest := realtime.UserDestination("bob")
	subscribe(t, conn, "s1", dest)
	waitForSubscribers(t, hub, dest, 1)

	send(t, conn, realtime.Frame{
		Command: realtime.CmdUnsubscribe,
		Headers: map[string]string{"id": "s1"},
	})
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && hub.SubscriberCount(dest) > 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if got := hub.SubscriberCount(dest); got != 0 {
		t.Fatalf("still %d subscribers after unsubscribe", got)
	}
}

func TestBroadcastFanOut(t *testing.T) {
	hub := newTestHub(t, true)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conns := make([]*websocket.Conn, 2)
	for i := range conns {
		conns[i] = dial(t, srv)
		connect(t, conns[i], mintToken(t, fmt.Sprintf("user%d", i)))
		subscribe(t, conns[i], "b", realtime.BroadcastDestination)
	}
	waitForSubscribers(t, hub, realtime.BroadcastDestination, 2)

	if err := hub.Broadcast(map[string]any{"hello": "all"}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	for i, conn := range conns {
		f := read(t, conn)
		if f.Command != realtime.CmdMessage {
			t.Fatalf("conn %d: expected MESSAGE, got %s", i, f.Command)
		}
	}
}
