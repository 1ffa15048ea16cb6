// Package observe provides the OpenTelemetry metric instruments of the device.
//
// Instruments are created from any [metric.MeterProvider]. [InitProvider]
// installs an SDK provider backed by the Prometheus exporter so the local API
// can serve them on /metrics. Tests should use [NewMetrics] with a provider
// built on a ManualReader.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope name used for all device metrics.
const meterName = "github.com/satriahrh/arunika/device"

// Metrics holds the instruments recorded by the session engine.
// All fields are safe for concurrent use.
type Metrics struct {
	// FramesCaptured counts microphone frames read from the audio device.
	FramesCaptured metric.Int64Counter

	// FramesSent counts binary frames written to the server.
	FramesSent metric.Int64Counter

	// FramesPlayed counts play calls accepted by the audio device.
	FramesPlayed metric.Int64Counter

	// AudioTimeouts counts capture and playback timeouts. Use with attribute:
	//   attribute.String("direction", "capture"|"playback")
	AudioTimeouts metric.Int64Counter

	// Reconnects counts every dial of the session server, whether started by
	// the supervisor or by the transport's own retry.
	Reconnects metric.Int64Counter

	// ProtocolDropped counts inbound control frames that were not understood.
	ProtocolDropped metric.Int64Counter

	// Listening is 1 while the session streams microphone audio, else 0.
	Listening metric.Int64UpDownCounter

	// TickDuration tracks how long one engine iteration takes.
	TickDuration metric.Float64Histogram
}

// tickBuckets are histogram boundaries (in seconds) around the audio timeout.
var tickBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.15, 0.25, 0.5, 1,
}

// NewMetrics creates all instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesCaptured, err = m.Int64Counter("arunika.audio.frames_captured",
		metric.WithDescription("Total audio frames captured from the microphone."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("arunika.audio.frames_sent",
		metric.WithDescription("Total binary audio frames sent to the server."),
	); err != nil {
		return nil, err
	}
	if met.FramesPlayed, err = m.Int64Counter("arunika.audio.frames_played",
		metric.WithDescription("Total audio frames handed to the speaker."),
	); err != nil {
		return nil, err
	}
	if met.AudioTimeouts, err = m.Int64Counter("arunika.audio.timeouts",
		metric.WithDescription("Total audio device timeouts by direction."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("arunika.transport.reconnects",
		metric.WithDescription("Total dials of the session server."),
	); err != nil {
		return nil, err
	}
	if met.ProtocolDropped, err = m.Int64Counter("arunika.protocol.dropped",
		metric.WithDescription("Total inbound control frames dropped as unknown or malformed."),
	); err != nil {
		return nil, err
	}
	if met.Listening, err = m.Int64UpDownCounter("arunika.session.listening",
		metric.WithDescription("Whether the session is currently streaming microphone audio."),
	); err != nil {
		return nil, err
	}
	if met.TickDuration, err = m.Float64Histogram("arunika.engine.tick.duration",
		metric.WithDescription("Duration of one session engine iteration."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(tickBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// NewNopMetrics returns instruments that record nothing
func NewNopMetrics() *Metrics {
	met, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic("observe: noop metrics: " + err.Error())
	}
	return met
}

// RecordAudioTimeout increments the timeout counter for direction
func (m *Metrics) RecordAudioTimeout(ctx context.Context, direction string) {
	m.AudioTimeouts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("direction", direction)),
	)
}

// RecordProtocolDropped increments the dropped frame counter with the raw type
// of the frame, empty when it had none.
func (m *Metrics) RecordProtocolDropped(ctx context.Context, rawType string) {
	m.ProtocolDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", rawType)),
	)
}
