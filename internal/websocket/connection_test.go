package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"schoolchat/pkg/interfaces"
	"schoolchat/pkg/types"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// dialTestPair upgrades a loopback WebSocket and returns both ends: the
// server side for wrapping in a Connection and the client side for
// observing frames.
func dialTestPair(t *testing.T) (server *websocket.Conn, client *websocket.Conn) {
	t.Helper()

	serverConnCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		serverConnCh <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial test server: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	select {
	case server = <-serverConnCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Server side of test connection never arrived")
	}
	t.Cleanup(func() { _ = server.Close() })

	return server, client
}

func testPrincipal() types.Principal {
	return types.Principal{ID: 10, Type: types.PrincipalStudent}
}

func TestConnection_InterfaceCompliance(t *testing.T) {
	var _ interfaces.Conn = &Connection{}
}

func TestConnection_Initialization(t *testing.T) {
	server, _ := dialTestPair(t)

	conn := NewConnection(server, testPrincipal(), types.SessionScope(1), 100, time.Second)
	defer func() { _ = conn.Close() }()

	if conn.ID() == "" {
		t.Error("Connection ID not assigned")
	}
	if conn.Principal() != testPrincipal() {
		t.Errorf("Unexpected principal: %+v", conn.Principal())
	}
	if conn.Scope() != types.SessionScope(1) {
		t.Errorf("Unexpected scope: %+v", conn.Scope())
	}
	if !conn.IsOpen() {
		t.Error("New connection should be open")
	}
	if cap(conn.writeCh) != 100 {
		t.Errorf("Expected write buffer of 100, got %d", cap(conn.writeCh))
	}
}

func TestConnection_UniqueIDs(t *testing.T) {
	server1, _ := dialTestPair(t)
	server2, _ := dialTestPair(t)

	c1 := NewConnection(server1, testPrincipal(), types.SessionScope(1), 10, time.Second)
	c2 := NewConnection(server2, testPrincipal(), types.SessionScope(1), 10, time.Second)
	defer func() { _ = c1.Close() }()
	defer func() { _ = c2.Close() }()

	if c1.ID() == c2.ID() {
		t.Error("Two connections of the same principal must have distinct IDs")
	}
}

func TestConnection_WriteJSONDeliversFrame(t *testing.T) {
	server, client := dialTestPair(t)

	conn := NewConnection(server, testPrincipal(), types.SessionScope(1), 10, time.Second)
	defer func() { _ = conn.Close() }()

	frame := &types.MessageFrame{SessionID: 1, Role: types.RoleTeacher, Content: "hi", Timestamp: time.Now().UTC()}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("Client read failed: %v", err)
	}

	var got types.MessageFrame
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Frame not valid JSON: %v", err)
	}
	if got.SessionID != 1 || got.Role != types.RoleTeacher || got.Content != "hi" {
		t.Errorf("Unexpected frame: %+v", got)
	}
}

func TestConnection_WriteJSONRejectsUnmarshalable(t *testing.T) {
	server, _ := dialTestPair(t)

	conn := NewConnection(server, testPrincipal(), types.SessionScope(1), 10, time.Second)
	defer func() { _ = conn.Close() }()

	if err := conn.WriteJSON(make(chan int)); err != ErrInvalidJSON {
		t.Errorf("Expected ErrInvalidJSON, got %v", err)
	}
}

func TestConnection_WriteAfterClose(t *testing.T) {
	server, _ := dialTestPair(t)

	conn := NewConnection(server, testPrincipal(), types.SessionScope(1), 10, time.Second)
	if err := conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if conn.IsOpen() {
		t.Error("Connection should not be open after Close")
	}
	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != ErrConnectionClosed {
		t.Errorf("Expected ErrConnectionClosed, got %v", err)
	}
}

func TestConnection_TransportFailureClosesConnection(t *testing.T) {
	server, client := dialTestPair(t)

	conn := NewConnection(server, testPrincipal(), types.SessionScope(1), 10, 200*time.Millisecond)
	defer func() { _ = conn.Close() }()

	// Sever the TCP transport underneath the writer, then queue one
	// frame so the writer hits the dead socket.
	_ = client.Close()
	_ = server.UnderlyingConn().Close()
	_ = conn.WriteJSON(types.PingFrame{Type: types.FrameTypePing})

	// The write failure must take the connection out of OPEN, not just
	// kill the writer goroutine.
	deadline := time.Now().Add(2 * time.Second)
	for conn.IsOpen() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if conn.IsOpen() {
		t.Fatal("Connection still reports open after a transport write failure")
	}

	// Deliveries after the failure are refused, so a fanout pass sees
	// the error (or the closed state) and evicts instead of silently
	// filling a buffer nothing drains.
	for i := 0; i < 10; i++ {
		if err := conn.WriteJSON(types.PingFrame{Type: types.FrameTypePing}); err != ErrConnectionClosed {
			t.Fatalf("Delivery %d after transport failure: expected ErrConnectionClosed, got %v", i, err)
		}
	}
}

func TestConnection_CloseIsIdempotent(t *testing.T) {
	server, _ := dialTestPair(t)

	conn := NewConnection(server, testPrincipal(), types.SessionScope(1), 10, time.Second)
	if err := conn.Close(); err != nil {
		t.Fatalf("First Close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}
}

func TestConnection_CloseWithStatusSendsCloseFrame(t *testing.T) {
	server, client := dialTestPair(t)

	conn := NewConnection(server, testPrincipal(), types.SessionScope(1), 10, time.Second)

	if err := conn.CloseWithStatus(websocket.CloseNormalClosure, "session deleted"); err != nil {
		t.Fatalf("CloseWithStatus failed: %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := client.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("Expected a close error on the client side, got %v", err)
	}
	if closeErr.Code != websocket.CloseNormalClosure {
		t.Errorf("Expected close code %d, got %d", websocket.CloseNormalClosure, closeErr.Code)
	}
	if closeErr.Text != "session deleted" {
		t.Errorf("Expected close reason %q, got %q", "session deleted", closeErr.Text)
	}
}

func TestKeepAlive_SendsPings(t *testing.T) {
	server, client := dialTestPair(t)

	conn := NewConnection(server, testPrincipal(), types.SessionScope(1), 10, time.Second)
	defer func() { _ = conn.Close() }()

	keepAlive := NewKeepAlive(20 * time.Millisecond)
	keepAlive.Watch(conn)

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < 2; i++ {
		_, data, err := client.ReadMessage()
		if err != nil {
			t.Fatalf("Client read %d failed: %v", i, err)
		}
		var ping types.PingFrame
		if err := json.Unmarshal(data, &ping); err != nil {
			t.Fatalf("Ping frame not valid JSON: %v", err)
		}
		if ping.Type != types.FrameTypePing {
			t.Errorf("Expected %q frame, got %q", types.FrameTypePing, ping.Type)
		}
	}
}

func TestKeepAlive_StopsOnClose(t *testing.T) {
	server, client := dialTestPair(t)

	conn := NewConnection(server, testPrincipal(), types.SessionScope(1), 10, time.Second)

	keepAlive := NewKeepAlive(10 * time.Millisecond)
	keepAlive.Watch(conn)

	// Let at least one ping through, then close.
	time.Sleep(30 * time.Millisecond)
	_ = conn.Close()

	// Drain whatever arrived; the stream must end rather than keep
	// producing pings.
	_ = client.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	for {
		if _, _, err := client.ReadMessage(); err != nil {
			return
		}
	}
}
