package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/device/domain/entities"
	"github.com/satriahrh/arunika/device/domain/repositories"
	"github.com/satriahrh/arunika/device/internal/observe"
	"github.com/satriahrh/arunika/device/internal/protocol"
)

const (
	defaultAudioTimeout     = 100 * time.Millisecond
	defaultCommandQueueSize = 8
)

// ErrEngineBusy is returned when a local command cannot be queued
var ErrEngineBusy = errors.New("session engine busy")

// ChatHandler receives chat text pushed by the server
type ChatHandler func(text string)

// EngineConfig tunes the session engine. Zero values select the defaults.
type EngineConfig struct {
	// Endpoint is the full WebSocket URL including the identity query
	Endpoint string
	// FrameCapacity is the size in samples of the capture buffer. The playback
	// buffer also holds at least one frame of the identity's audio params.
	FrameCapacity int
	// AudioTimeout bounds every Capture and Play call
	AudioTimeout time.Duration
	// CommandQueueSize bounds pending local commands
	CommandQueueSize int
	Supervisor       SupervisorConfig
}

type commandKind int

const (
	commandAbort commandKind = iota
	commandListen
)

type command struct {
	kind   commandKind
	state  protocol.ListenState
	result chan error
}

// SessionEngine drives the one voice session of the device.
//
// Everything runs on the goroutine that calls Run (or Tick): transport
// callbacks, audio capture and playback, local commands and the supervisor.
// Other goroutines only read Snapshot and submit commands through Abort and
// Listen.
type SessionEngine struct {
	session    *entities.Session
	transport  repositories.Transport
	audio      repositories.AudioDevice
	identity   entities.DeviceIdentity
	cfg        EngineConfig
	supervisor *Supervisor
	metrics    *observe.Metrics
	logger     *zap.Logger
	onChat     ChatHandler

	// Scratch buffers, reused every tick.
	captureBuf  []int16
	playbackBuf []int16
	sendBuf     []byte

	commands       chan command
	snapshot       atomic.Pointer[entities.SessionSnapshot]
	gaugeListening bool
	audioClosed    bool
}

// Ensure SessionEngine receives transport events
var _ repositories.EventSink = (*SessionEngine)(nil)

// NewSessionEngine wires an engine to its transport and audio device and
// registers itself as the transport's event sink.
func NewSessionEngine(
	transport repositories.Transport,
	audio repositories.AudioDevice,
	identity entities.DeviceIdentity,
	cfg EngineConfig,
	metrics *observe.Metrics,
	logger *zap.Logger,
) *SessionEngine {
	if cfg.FrameCapacity <= 0 {
		cfg.FrameCapacity = entities.DefaultFrameCapacity
	}
	if cfg.AudioTimeout <= 0 {
		cfg.AudioTimeout = defaultAudioTimeout
	}
	if cfg.CommandQueueSize <= 0 {
		cfg.CommandQueueSize = defaultCommandQueueSize
	}
	if metrics == nil {
		metrics = observe.NewNopMetrics()
	}

	e := &SessionEngine{
		session:     entities.NewSession(),
		transport:   transport,
		audio:       audio,
		identity:    identity,
		cfg:         cfg,
		metrics:     metrics,
		logger:      logger,
		captureBuf:  make([]int16, cfg.FrameCapacity),
		playbackBuf: make([]int16, identity.Audio.PlaybackCapacity(cfg.FrameCapacity)),
		sendBuf:     make([]byte, 2*cfg.FrameCapacity),
		commands:    make(chan command, cfg.CommandQueueSize),
	}
	e.onChat = func(text string) {
		logger.Info("Chat message", zap.String("text", text))
	}
	e.supervisor = NewSupervisor(e, cfg.Supervisor, logger)
	transport.SetEventSink(e)
	e.publish()
	return e
}

// SetChatHandler replaces the default chat handler, which only logs.
// Must be called before Run.
func (e *SessionEngine) SetChatHandler(handler ChatHandler) {
	if handler != nil {
		e.onChat = handler
	}
}

// Snapshot returns the session state as of the last completed tick.
// Safe to call from any goroutine.
func (e *SessionEngine) Snapshot() entities.SessionSnapshot {
	return *e.snapshot.Load()
}

// Run connects and ticks until ctx is cancelled, then closes the transport
func (e *SessionEngine) Run(ctx context.Context) error {
	e.logger.Info("Session engine started",
		zap.String("deviceID", e.identity.DeviceID),
		zap.String("clientID", e.identity.ClientID))

	e.Reconnect()
	e.publish()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Session engine stopping")
			e.drainCommands(ctx.Err())
			if err := e.transport.Close(); err != nil {
				e.logger.Warn("Failed to close transport", zap.Error(err))
			}
			e.OnDisconnected()
			e.publish()
			return nil
		default:
			e.Tick(ctx)
		}
	}
}

// Tick runs one engine iteration: transport events, pending local commands,
// one capture step while streaming, the supervisor, then snapshot publication.
func (e *SessionEngine) Tick(ctx context.Context) {
	start := time.Now()

	e.transport.Tick(ctx)
	e.runCommands()
	e.captureStep(ctx)
	e.supervisor.Tick(time.Now())
	e.publish()

	e.metrics.TickDuration.Record(ctx, time.Since(start).Seconds())
}

// Disconnected reports whether no connection is up or being attempted
func (e *SessionEngine) Disconnected() bool {
	return e.session.Connection() == entities.ConnectionDisconnected
}

// Reconnect starts a connection attempt when the session is disconnected
func (e *SessionEngine) Reconnect() {
	if !e.session.BeginConnecting() {
		return
	}
	e.logger.Info("Connecting to server", zap.String("endpoint", e.cfg.Endpoint))

	if err := e.transport.Connect(e.cfg.Endpoint); err != nil {
		e.logger.Error("Failed to start connection", zap.Error(err))
		e.session.Disconnect()
	}
}

// OnConnected sends the handshake on a fresh connection
func (e *SessionEngine) OnConnected() {
	e.session.MarkConnected()
	e.supervisor.Reset()
	e.audioClosed = false

	hello, err := protocol.EncodeHello(e.identity)
	if err != nil {
		e.logger.Error("Failed to encode hello", zap.Error(err))
		return
	}
	if err := e.transport.SendText(hello); err != nil {
		e.logger.Warn("Failed to send hello", zap.Error(err))
		return
	}
	e.logger.Info("Connected, hello sent", zap.String("deviceID", e.identity.DeviceID))
}

// OnDisconnected resets the session to disconnected and idle
func (e *SessionEngine) OnDisconnected() {
	prev := e.session.Snapshot()
	e.session.Disconnect()
	if prev.Connection != entities.ConnectionDisconnected.String() {
		e.logger.Info("Disconnected from server",
			zap.String("sessionID", prev.SessionID),
			zap.String("previousState", prev.Connection))
	}
}

// OnText decodes and applies one control frame
func (e *SessionEngine) OnText(payload []byte) {
	msg, err := protocol.Decode(payload)
	if err != nil {
		e.metrics.RecordProtocolDropped(context.Background(), string(msg.Type()))
		e.logger.Warn("Dropping control message", zap.Error(err), zap.Int("size", len(payload)))
		return
	}

	switch m := msg.(type) {
	case protocol.HelloAck:
		e.session.Establish(m.SessionID)
		e.logger.Info("Session established", zap.String("sessionID", m.SessionID))

	case protocol.Listen:
		e.applyListen(m.State)

	case protocol.Chat:
		e.session.RecordChat(m.Text)
		e.onChat(m.Text)

	case protocol.AudioNotice:
		e.logger.Debug("Server audio incoming")

	case protocol.Abort:
		e.session.StopListening()
		e.logger.Info("Interaction aborted by server")

	default:
		e.logger.Debug("Ignoring control message", zap.String("type", string(msg.Type())))
	}
}

// OnBinary plays one inbound audio frame, whatever the listening state.
// Frames larger than the playback buffer are played in buffer-sized pieces.
func (e *SessionEngine) OnBinary(payload []byte) {
	if len(payload)%2 != 0 {
		e.logger.Warn("Audio frame has odd length, dropping trailing byte", zap.Int("size", len(payload)))
		payload = payload[:len(payload)-1]
	}
	if len(payload) == 0 {
		return
	}

	for len(payload) > 0 {
		n := entities.DecodePCM16(e.playbackBuf, payload)
		payload = payload[2*n:]

		played, err := e.audio.Play(e.playbackBuf[:n], e.cfg.AudioTimeout)
		if err != nil {
			e.audioError(entities.FramePlayback, err)
			return
		}
		e.metrics.FramesPlayed.Add(context.Background(), 1)
		if played < n {
			e.logger.Debug("Short playback write", zap.Int("samples", n), zap.Int("played", played))
		}
	}
}

func (e *SessionEngine) captureStep(ctx context.Context) {
	if !e.session.IsStreaming() {
		return
	}

	n, err := e.audio.Capture(e.captureBuf, e.cfg.AudioTimeout)
	if err != nil {
		e.audioError(entities.FrameCapture, err)
		return
	}
	if n == 0 {
		return
	}
	e.metrics.FramesCaptured.Add(ctx, 1)

	size := entities.EncodePCM16(e.sendBuf, e.captureBuf[:n])
	if err := e.transport.SendBinary(e.sendBuf[:size]); err != nil {
		e.logger.Warn("Failed to send audio frame", zap.Int("samples", n), zap.Error(err))
		return
	}
	e.metrics.FramesSent.Add(ctx, 1)
}

func (e *SessionEngine) audioError(direction entities.FrameDirection, err error) {
	switch {
	case errors.Is(err, repositories.ErrAudioTimeout):
		e.metrics.RecordAudioTimeout(context.Background(), direction.String())
		e.logger.Debug("Audio device timeout", zap.Stringer("direction", direction))
	case errors.Is(err, repositories.ErrAudioClosed):
		if !e.audioClosed {
			e.audioClosed = true
			e.logger.Error("Audio device closed", zap.Stringer("direction", direction))
		}
	default:
		e.logger.Warn("Audio device error", zap.Stringer("direction", direction), zap.Error(err))
	}
}

func (e *SessionEngine) applyListen(state protocol.ListenState) {
	switch state {
	case protocol.ListenStart:
		if err := e.session.StartListening(); err != nil {
			e.logger.Warn("Cannot start listening", zap.Error(err))
			return
		}
		e.logger.Info("Listening started", zap.String("sessionID", e.session.ID()))
	case protocol.ListenStop:
		e.session.StopListening()
		e.logger.Info("Listening stopped", zap.String("sessionID", e.session.ID()))
	}
}

// Abort asks the engine to stop the current interaction and tell the server.
// It blocks until the engine has handled the request or ctx is done.
func (e *SessionEngine) Abort(ctx context.Context) error {
	return e.submit(ctx, command{kind: commandAbort})
}

// Listen asks the engine to start or stop streaming and tell the server.
// Starting requires a connection.
func (e *SessionEngine) Listen(ctx context.Context, state protocol.ListenState) error {
	if state != protocol.ListenStart && state != protocol.ListenStop {
		return fmt.Errorf("invalid listen state: %q", state)
	}
	return e.submit(ctx, command{kind: commandListen, state: state})
}

func (e *SessionEngine) submit(ctx context.Context, cmd command) error {
	cmd.result = make(chan error, 1)
	select {
	case e.commands <- cmd:
	default:
		return ErrEngineBusy
	}

	select {
	case err := <-cmd.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *SessionEngine) runCommands() {
	for {
		select {
		case cmd := <-e.commands:
			err := e.execute(cmd)
			// The caller reads Snapshot as soon as it has the result.
			e.publish()
			cmd.result <- err
		default:
			return
		}
	}
}

func (e *SessionEngine) drainCommands(err error) {
	for {
		select {
		case cmd := <-e.commands:
			cmd.result <- err
		default:
			return
		}
	}
}

func (e *SessionEngine) execute(cmd command) error {
	switch cmd.kind {
	case commandAbort:
		if e.session.IsConnected() {
			e.sendControl(protocol.Abort{})
		}
		e.session.StopListening()
		e.logger.Info("Interaction aborted locally")
		return nil

	case commandListen:
		if cmd.state == protocol.ListenStart && !e.session.IsConnected() {
			return entities.ErrNotConnected
		}
		if e.session.IsConnected() {
			e.sendControl(protocol.Listen{State: cmd.state})
		}
		e.applyListen(cmd.state)
		return nil

	default:
		return fmt.Errorf("unknown command: %d", cmd.kind)
	}
}

func (e *SessionEngine) sendControl(msg protocol.Message) {
	payload, err := protocol.Encode(msg)
	if err != nil {
		e.logger.Error("Failed to encode control message", zap.String("type", string(msg.Type())), zap.Error(err))
		return
	}
	if err := e.transport.SendText(payload); err != nil {
		e.logger.Warn("Failed to send control message", zap.String("type", string(msg.Type())), zap.Error(err))
	}
}

func (e *SessionEngine) publish() {
	snap := e.session.Snapshot()
	e.snapshot.Store(&snap)

	listening := e.session.IsStreaming()
	if listening != e.gaugeListening {
		delta := int64(1)
		if !listening {
			delta = -1
		}
		e.metrics.Listening.Add(context.Background(), delta)
		e.gaugeListening = listening
	}
}

// Endpoint builds the session URL for identity from the server base URL
func Endpoint(serverURL string, identity entities.DeviceIdentity) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("server url must use ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("server url has no host")
	}

	query := u.Query()
	query.Set("device-id", identity.DeviceID)
	query.Set("client-id", identity.ClientID)
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// HandshakeHeader returns the headers sent when dialing the session server.
// The bearer token is only set when the identity carries one.
func HandshakeHeader(identity entities.DeviceIdentity) http.Header {
	header := http.Header{}
	header.Set("Device-Id", identity.DeviceID)
	header.Set("Client-Id", identity.ClientID)
	if identity.Token != "" {
		header.Set("Authorization", "Bearer "+identity.Token)
	}
	return header
}
