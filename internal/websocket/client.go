package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/device/domain/repositories"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 2 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio frames

	// Maximum number of events dispatched by one Tick.
	maxEventsPerTick = 64

	defaultHandshakeTimeout  = 10 * time.Second
	defaultReconnectInterval = 5 * time.Second
	defaultPollInterval      = 5 * time.Millisecond
)

// ErrNotConnected is returned by the send methods while no connection is up
var ErrNotConnected = errors.New("websocket not connected")

// ErrClosed is returned after Close
var ErrClosed = errors.New("websocket client closed")

type eventKind int

const (
	eventConnected eventKind = iota
	eventDialFailed
	eventText
	eventBinary
	eventClosed
)

type event struct {
	kind    eventKind
	conn    *websocket.Conn
	payload []byte
	err     error
}

// Config tunes the client. Zero values select the defaults.
type Config struct {
	// ReconnectInterval is the minimum time between connection attempts
	ReconnectInterval time.Duration
	// PollInterval bounds how long Tick waits for the first event
	PollInterval time.Duration
	// HandshakeTimeout bounds a single dial
	HandshakeTimeout time.Duration
	// Header is sent with every handshake request
	Header http.Header
	// OnDialAttempt is called on the ticking goroutine before every dial. May be nil.
	OnDialAttempt func()
}

// Client is a persistent WebSocket connection to the session server.
//
// Dialing and reading run on helper goroutines that only enqueue events; the
// events are dispatched to the sink from Tick, so every callback runs on the
// goroutine that ticks. Connect, the send methods, Tick and Close must all be
// called from that same goroutine.
type Client struct {
	dialer *websocket.Dialer
	cfg    Config
	logger *zap.Logger
	sink   repositories.EventSink

	// Helper goroutines push here; Tick drains.
	events chan event
	done   chan struct{}

	endpoint    string
	conn        *websocket.Conn
	dialing     bool
	closed      bool
	lastAttempt time.Time
	lastPing    time.Time
}

// Ensure Client implements the Transport interface
var _ repositories.Transport = (*Client)(nil)

// NewClient creates a disconnected client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	return &Client{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		cfg:    cfg,
		logger: logger,
		events: make(chan event, 256),
		done:   make(chan struct{}),
	}
}

// SetEventSink registers the receiver of connection events
func (c *Client) SetEventSink(sink repositories.EventSink) {
	c.sink = sink
}

// Connect starts connecting to endpoint. While disconnected afterwards, the
// client retries on its own every ReconnectInterval.
func (c *Client) Connect(endpoint string) error {
	if c.closed {
		return ErrClosed
	}
	if endpoint == "" {
		return errors.New("endpoint is required")
	}
	c.endpoint = endpoint
	if c.conn != nil || c.dialing {
		c.logger.Debug("Connect ignored, connection already in progress",
			zap.Bool("connected", c.conn != nil),
			zap.Bool("dialing", c.dialing))
		return nil
	}
	c.dial()
	return nil
}

// Connected reports whether a connection is currently up
func (c *Client) Connected() bool {
	return c.conn != nil
}

// SendText writes one text frame
func (c *Client) SendText(payload []byte) error {
	return c.write(websocket.TextMessage, payload)
}

// SendBinary writes one binary frame
func (c *Client) SendBinary(payload []byte) error {
	return c.write(websocket.BinaryMessage, payload)
}

func (c *Client) write(messageType int, payload []byte) error {
	if c.closed {
		return ErrClosed
	}
	if c.conn == nil {
		return ErrNotConnected
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(messageType, payload); err != nil {
		c.logger.Warn("Failed to write message", zap.Int("type", messageType), zap.Error(err))
		// Closing makes the read pump fail, which reports the disconnect
		// through the next Tick.
		c.conn.Close()
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Tick dispatches queued events to the sink, re-dials when due and keeps the
// connection alive. It waits at most PollInterval for the first event.
func (c *Client) Tick(ctx context.Context) {
	if c.closed {
		return
	}

	timer := time.NewTimer(c.cfg.PollInterval)
	defer timer.Stop()

	select {
	case ev := <-c.events:
		c.handle(ev)
		c.drain(maxEventsPerTick - 1)
	case <-timer.C:
	case <-ctx.Done():
		return
	case <-c.done:
		return
	}

	now := time.Now()
	if c.endpoint != "" && c.conn == nil && !c.dialing && now.Sub(c.lastAttempt) >= c.cfg.ReconnectInterval {
		c.logger.Info("Reconnecting to server", zap.String("endpoint", c.endpoint))
		c.dial()
	}

	if c.conn != nil && now.Sub(c.lastPing) >= pingPeriod {
		c.lastPing = now
		if err := c.conn.WriteControl(websocket.PingMessage, nil, now.Add(writeWait)); err != nil {
			c.logger.Warn("Failed to send ping", zap.Error(err))
			c.conn.Close()
		}
	}
}

func (c *Client) drain(limit int) {
	for i := 0; i < limit; i++ {
		select {
		case ev := <-c.events:
			c.handle(ev)
		default:
			return
		}
	}
}

func (c *Client) handle(ev event) {
	switch ev.kind {
	case eventConnected:
		c.dialing = false
		c.conn = ev.conn
		c.lastPing = time.Now()
		go c.readPump(ev.conn)
		c.logger.Info("WebSocket connected", zap.String("endpoint", c.endpoint))
		if c.sink != nil {
			c.sink.OnConnected()
		}

	case eventDialFailed:
		c.dialing = false
		c.logger.Warn("WebSocket connection failed",
			zap.String("endpoint", c.endpoint),
			zap.Error(ev.err))
		if c.sink != nil {
			c.sink.OnDisconnected()
		}

	case eventText:
		if ev.conn != c.conn {
			return
		}
		if c.sink != nil {
			c.sink.OnText(ev.payload)
		}

	case eventBinary:
		if ev.conn != c.conn {
			return
		}
		if c.sink != nil {
			c.sink.OnBinary(ev.payload)
		}

	case eventClosed:
		if ev.conn != c.conn {
			return
		}
		c.conn.Close()
		c.conn = nil
		c.lastAttempt = time.Now()
		if websocket.IsUnexpectedCloseError(ev.err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			c.logger.Warn("WebSocket error", zap.Error(ev.err))
		}
		c.logger.Info("WebSocket disconnected", zap.String("endpoint", c.endpoint))
		if c.sink != nil {
			c.sink.OnDisconnected()
		}
	}
}

func (c *Client) dial() {
	c.dialing = true
	c.lastAttempt = time.Now()
	if c.cfg.OnDialAttempt != nil {
		c.cfg.OnDialAttempt()
	}

	endpoint := c.endpoint
	header := c.cfg.Header
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
		defer cancel()

		conn, resp, err := c.dialer.DialContext(ctx, endpoint, header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			if resp != nil {
				err = fmt.Errorf("dial status %d: %w", resp.StatusCode, err)
			}
			c.push(event{kind: eventDialFailed, err: err})
			return
		}
		if !c.push(event{kind: eventConnected, conn: conn}) {
			conn.Close()
		}
	}()
}

// readPump pumps messages from the websocket connection to the event queue.
func (c *Client) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			c.push(event{kind: eventClosed, conn: conn, err: err})
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		switch messageType {
		case websocket.TextMessage:
			if !c.push(event{kind: eventText, conn: conn, payload: message}) {
				return
			}
		case websocket.BinaryMessage:
			if !c.push(event{kind: eventBinary, conn: conn, payload: message}) {
				return
			}
		}
	}
}

// push enqueues ev and reports false once the client is closed
func (c *Client) push(ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

// Close tears down the connection and stops reconnecting
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	if c.conn == nil {
		return nil
	}
	conn := c.conn
	c.conn = nil
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	return conn.Close()
}
