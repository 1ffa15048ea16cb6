package entities

import (
	"errors"
	"time"
)

// ErrNotConnected is returned when listening is requested without a live connection
var ErrNotConnected = errors.New("session is not connected")

// ConnectionState represents the transport lifecycle as seen by the session
type ConnectionState int

const (
	ConnectionDisconnected ConnectionState = iota
	ConnectionConnecting
	ConnectionConnected
)

// String returns the lowercase name used in logs and the status API
func (s ConnectionState) String() string {
	switch s {
	case ConnectionDisconnected:
		return "disconnected"
	case ConnectionConnecting:
		return "connecting"
	case ConnectionConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// ListeningState represents whether captured audio is streamed to the server
type ListeningState int

const (
	ListeningIdle ListeningState = iota
	ListeningActive
)

// String returns the lowercase name used in logs and the status API
func (s ListeningState) String() string {
	switch s {
	case ListeningIdle:
		return "idle"
	case ListeningActive:
		return "listening"
	default:
		return "unknown"
	}
}

// Session holds the state of the one device-to-server voice session.
// It is owned by a single goroutine and is not safe for concurrent use;
// other goroutines read it through Snapshot.
type Session struct {
	id          string
	connection  ConnectionState
	listening   ListeningState
	connectedAt time.Time
	lastChat    string
}

// NewSession creates a disconnected, idle session without an id
func NewSession() *Session {
	return &Session{
		connection: ConnectionDisconnected,
		listening:  ListeningIdle,
	}
}

// ID returns the id assigned by the server handshake, empty before it completes
func (s *Session) ID() string {
	return s.id
}

// Connection returns the current connection state
func (s *Session) Connection() ConnectionState {
	return s.connection
}

// Listening returns the current listening state
func (s *Session) Listening() ListeningState {
	return s.listening
}

// IsConnected reports whether the transport is up
func (s *Session) IsConnected() bool {
	return s.connection == ConnectionConnected
}

// IsStreaming reports whether captured audio should be sent this tick
func (s *Session) IsStreaming() bool {
	return s.connection == ConnectionConnected && s.listening == ListeningActive
}

// Established reports whether the handshake has assigned a session id
func (s *Session) Established() bool {
	return s.connection == ConnectionConnected && s.id != ""
}

// BeginConnecting moves a disconnected session to connecting.
// It reports false when the session was not disconnected.
func (s *Session) BeginConnecting() bool {
	if s.connection != ConnectionDisconnected {
		return false
	}
	s.connection = ConnectionConnecting
	return true
}

// MarkConnected records a successful transport connection.
// The previous handshake is void, so the id is cleared until the next ack.
func (s *Session) MarkConnected() {
	s.connection = ConnectionConnected
	s.listening = ListeningIdle
	s.id = ""
	s.connectedAt = time.Now()
}

// Establish stores the session id from a handshake acknowledgement
func (s *Session) Establish(sessionID string) {
	s.id = sessionID
}

// StartListening switches to listening. Listening requires a connection.
func (s *Session) StartListening() error {
	if s.connection != ConnectionConnected {
		return ErrNotConnected
	}
	s.listening = ListeningActive
	return nil
}

// StopListening switches to idle. Calling it while idle is a no-op.
func (s *Session) StopListening() {
	s.listening = ListeningIdle
}

// Disconnect resets the session after the transport is lost
func (s *Session) Disconnect() {
	s.connection = ConnectionDisconnected
	s.listening = ListeningIdle
	s.id = ""
	s.connectedAt = time.Time{}
}

// RecordChat keeps the most recent chat text surfaced by the server
func (s *Session) RecordChat(text string) {
	s.lastChat = text
}

// SessionSnapshot is an immutable copy of the session for other goroutines
type SessionSnapshot struct {
	SessionID   string     `json:"session_id"`
	Connection  string     `json:"connection"`
	Listening   string     `json:"listening"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	LastChat    string     `json:"last_chat,omitempty"`
}

// Snapshot returns a copy of the current state
func (s *Session) Snapshot() SessionSnapshot {
	snap := SessionSnapshot{
		SessionID:  s.id,
		Connection: s.connection.String(),
		Listening:  s.listening.String(),
		LastChat:   s.lastChat,
	}
	if !s.connectedAt.IsZero() {
		at := s.connectedAt
		snap.ConnectedAt = &at
	}
	return snap
}
