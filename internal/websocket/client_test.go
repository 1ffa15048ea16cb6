package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type recordingSink struct {
	connected    int
	disconnected int
	texts        []string
	binaries     [][]byte
}

func (s *recordingSink) OnConnected()          { s.connected++ }
func (s *recordingSink) OnDisconnected()       { s.disconnected++ }
func (s *recordingSink) OnText(payload []byte) { s.texts = append(s.texts, string(payload)) }
func (s *recordingSink) OnBinary(payload []byte) {
	s.binaries = append(s.binaries, payload)
}

type testServer struct {
	*httptest.Server
	conns   chan *websocket.Conn
	queries chan url.Values
}

// newTestServer starts a session server stub that hands every upgraded
// connection to the test.
func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ts := &testServer{
		conns:   make(chan *websocket.Conn, 4),
		queries: make(chan url.Values, 4),
	}

	e := echo.New()
	e.GET("/xiaozhi/v1/", func(c echo.Context) error {
		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return err
		}
		ts.queries <- c.QueryParams()
		ts.conns <- conn
		return nil
	})

	ts.Server = httptest.NewServer(e)
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) endpoint() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/xiaozhi/v1/?device-id=AA:BB&client-id=1111111"
}

func (ts *testServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-ts.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("server did not accept a connection")
		return nil
	}
}

func tickUntil(t *testing.T, c *Client, cond func() bool) {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		c.Tick(ctx)
		if cond() {
			return
		}
	}
	t.Fatal("condition not met before deadline")
}

func newTestClient(t *testing.T, cfg Config) (*Client, *recordingSink) {
	t.Helper()
	c := NewClient(cfg, zap.NewNop())
	sink := &recordingSink{}
	c.SetEventSink(sink)
	t.Cleanup(func() { c.Close() })
	return c, sink
}

func TestClient_ConnectSendReceive(t *testing.T) {
	ts := newTestServer(t)
	c, sink := newTestClient(t, Config{})

	if err := c.Connect(ts.endpoint()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	serverConn := ts.accept(t)
	tickUntil(t, c, func() bool { return sink.connected == 1 })

	query := <-ts.queries
	if query.Get("device-id") != "AA:BB" || query.Get("client-id") != "1111111" {
		t.Errorf("Unexpected query parameters: %v", query)
	}

	if err := c.SendText([]byte(`{"type":"hello"}`)); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if err := c.SendBinary([]byte{1, 0, 2, 0}); err != nil {
		t.Fatalf("SendBinary: %v", err)
	}

	serverConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	messageType, message, err := serverConn.ReadMessage()
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if messageType != websocket.TextMessage || string(message) != `{"type":"hello"}` {
		t.Errorf("Unexpected text frame: %d %s", messageType, message)
	}
	messageType, message, err = serverConn.ReadMessage()
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if messageType != websocket.BinaryMessage || len(message) != 4 {
		t.Errorf("Unexpected binary frame: %d %v", messageType, message)
	}

	if err := serverConn.WriteMessage(websocket.TextMessage, []byte(`{"type":"listen","state":"start"}`)); err != nil {
		t.Fatalf("server write: %v", err)
	}
	if err := serverConn.WriteMessage(websocket.BinaryMessage, []byte{9, 0, 8, 0, 7, 0}); err != nil {
		t.Fatalf("server write: %v", err)
	}

	tickUntil(t, c, func() bool { return len(sink.texts) == 1 && len(sink.binaries) == 1 })

	if sink.texts[0] != `{"type":"listen","state":"start"}` {
		t.Errorf("Unexpected text: %s", sink.texts[0])
	}
	if len(sink.binaries[0]) != 6 {
		t.Errorf("Expected 6 binary bytes, got %d", len(sink.binaries[0]))
	}
	if sink.disconnected != 0 {
		t.Errorf("Expected no disconnects, got %d", sink.disconnected)
	}
}

func TestClient_ServerCloseReportsDisconnectAndReconnects(t *testing.T) {
	ts := newTestServer(t)
	dials := 0
	c, sink := newTestClient(t, Config{
		ReconnectInterval: 20 * time.Millisecond,
		OnDialAttempt:     func() { dials++ },
	})

	if err := c.Connect(ts.endpoint()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	serverConn := ts.accept(t)
	tickUntil(t, c, func() bool { return sink.connected == 1 })

	serverConn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"))
	serverConn.Close()

	tickUntil(t, c, func() bool { return sink.disconnected == 1 })
	if c.Connected() {
		t.Error("Client should report disconnected")
	}
	if err := c.SendText([]byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}

	// The client only redials from Tick.
	tickUntil(t, c, func() bool { return len(ts.conns) > 0 })
	ts.accept(t)
	tickUntil(t, c, func() bool { return sink.connected == 2 })

	if dials < 2 {
		t.Errorf("Expected at least 2 dial attempts, got %d", dials)
	}
}

func TestClient_DialFailureReportsDisconnect(t *testing.T) {
	ts := newTestServer(t)
	endpoint := ts.endpoint()
	ts.Close()

	c, sink := newTestClient(t, Config{ReconnectInterval: time.Hour})

	if err := c.Connect(endpoint); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	tickUntil(t, c, func() bool { return sink.disconnected == 1 })

	if sink.connected != 0 {
		t.Errorf("Expected no connects, got %d", sink.connected)
	}
}

func TestClient_SendBeforeConnect(t *testing.T) {
	c, _ := newTestClient(t, Config{})

	if err := c.SendBinary([]byte{0, 0}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
	if err := c.Connect(""); err == nil {
		t.Error("Expected error for empty endpoint")
	}
}

func TestClient_Close(t *testing.T) {
	ts := newTestServer(t)
	c, sink := newTestClient(t, Config{})

	if err := c.Connect(ts.endpoint()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	serverConn := ts.accept(t)
	tickUntil(t, c, func() bool { return sink.connected == 1 })

	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	if err := c.SendText([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if err := c.Connect(ts.endpoint()); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}

	serverConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := serverConn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("Expected normal closure at the server, got %v", err)
	}
}

func TestClient_TickIsBounded(t *testing.T) {
	c, _ := newTestClient(t, Config{PollInterval: 10 * time.Millisecond})

	start := time.Now()
	c.Tick(context.Background())
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Tick blocked for %v", elapsed)
	}
}
