package repositories

import "context"

// EventSink receives transport events. Implementations are called only from
// within Transport.Tick, on the goroutine that calls Tick.
type EventSink interface {
	OnConnected()
	OnDisconnected()
	OnText(payload []byte)
	OnBinary(payload []byte)
}

// Transport is a persistent, auto-reconnecting message channel to the session server
type Transport interface {
	// SetEventSink registers the receiver of connection events
	SetEventSink(sink EventSink)
	// Connect starts connecting to endpoint and keeps reconnecting while disconnected
	Connect(endpoint string) error
	SendText(payload []byte) error
	SendBinary(payload []byte) error
	// Tick advances the channel and dispatches pending events to the sink.
	// It never blocks longer than a short bounded poll.
	Tick(ctx context.Context)
	Close() error
}
