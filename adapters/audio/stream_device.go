package audio

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/device/domain/entities"
	"github.com/satriahrh/arunika/device/domain/repositories"
)

const (
	// chunkSamples is how many samples the pumps move per read or write
	chunkSamples = 256

	defaultRingFrames = 8
)

// StreamConfig sizes the buffers of a StreamDevice. Zero values select the defaults.
type StreamConfig struct {
	// FrameCapacity is the largest frame Capture accepts
	FrameCapacity int
	// PlaybackCapacity is the largest frame Play accepts. It is raised to
	// FrameCapacity when smaller.
	PlaybackCapacity int
	// RingFrames is the ring size in frames for each direction
	RingFrames int
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.FrameCapacity <= 0 {
		c.FrameCapacity = entities.DefaultFrameCapacity
	}
	if c.RingFrames <= 0 {
		c.RingFrames = defaultRingFrames
	}
	c.PlaybackCapacity = max(c.PlaybackCapacity, c.FrameCapacity)
	return c
}

// StreamDevice is an AudioDevice over raw little-endian PCM16 streams.
//
// A fill goroutine copies the capture source into a bounded ring, dropping the
// oldest samples when the engine falls behind. A drain goroutine copies the
// playback ring into the sink. Capture and Play only touch the rings, so they
// always return within their timeout.
type StreamDevice struct {
	cfg    StreamConfig
	logger *zap.Logger

	capture  *sampleRing
	playback *sampleRing

	closers   []io.Closer
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Ensure StreamDevice implements the AudioDevice interface
var _ repositories.AudioDevice = (*StreamDevice)(nil)

// NewStreamDevice starts pumping src into the capture ring and the playback
// ring into sink. Either may be nil to disable that direction. closers are
// closed by Close, after the rings.
func NewStreamDevice(src io.Reader, sink io.Writer, cfg StreamConfig, logger *zap.Logger, closers ...io.Closer) *StreamDevice {
	cfg = cfg.withDefaults()
	d := &StreamDevice{
		cfg:      cfg,
		logger:   logger,
		capture:  newSampleRing(cfg.FrameCapacity * cfg.RingFrames),
		playback: newSampleRing(cfg.PlaybackCapacity * cfg.RingFrames),
		closers:  closers,
		done:     make(chan struct{}),
	}

	if src != nil {
		go d.fill(src)
	} else {
		d.capture.close()
	}
	if sink != nil {
		go d.drain(sink)
	} else {
		d.playback.close()
	}
	return d
}

// Capture fills buf with exactly len(buf) samples. When fewer are buffered it
// waits up to timeout and returns ErrAudioTimeout without consuming anything.
// After the source ends the remaining samples are returned, then ErrAudioClosed.
func (d *StreamDevice) Capture(buf []int16, timeout time.Duration) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if len(buf) > d.cfg.FrameCapacity {
		return 0, fmt.Errorf("capture of %d samples exceeds frame capacity %d", len(buf), d.cfg.FrameCapacity)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if d.capture.tryReadExact(buf) {
			return len(buf), nil
		}
		if d.capture.isClosed() {
			if n := d.capture.readUpTo(buf); n > 0 {
				return n, nil
			}
			return 0, repositories.ErrAudioClosed
		}

		select {
		case <-d.capture.dataReady:
		case <-timer.C:
			return 0, repositories.ErrAudioTimeout
		case <-d.done:
			return 0, repositories.ErrAudioClosed
		}
	}
}

// Play queues all of buf for playback or, when the ring has no room before
// timeout, nothing at all.
func (d *StreamDevice) Play(buf []int16, timeout time.Duration) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if len(buf) > d.cfg.PlaybackCapacity {
		return 0, fmt.Errorf("playback of %d samples exceeds playback capacity %d", len(buf), d.cfg.PlaybackCapacity)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if d.playback.isClosed() {
			return 0, repositories.ErrAudioClosed
		}
		if d.playback.tryWriteAll(buf) {
			return len(buf), nil
		}

		select {
		case <-d.playback.spaceReady:
		case <-timer.C:
			return 0, repositories.ErrAudioTimeout
		case <-d.done:
			return 0, repositories.ErrAudioClosed
		}
	}
}

// Buffered returns the number of captured samples waiting to be read
func (d *StreamDevice) Buffered() int {
	return d.capture.len()
}

// Close stops both directions and closes the underlying streams
func (d *StreamDevice) Close() error {
	d.closeOnce.Do(func() {
		close(d.done)
		d.capture.close()
		d.playback.close()

		var errs []error
		for _, c := range d.closers {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		d.closeErr = errors.Join(errs...)
	})
	return d.closeErr
}

func (d *StreamDevice) fill(src io.Reader) {
	raw := make([]byte, chunkSamples*2)
	samples := make([]int16, chunkSamples)

	for {
		n, err := io.ReadFull(src, raw)
		if n > 0 {
			count := entities.DecodePCM16(samples, raw[:n])
			if dropped := d.capture.writeOverwrite(samples[:count]); dropped > 0 {
				d.logger.Debug("Capture ring overflow, dropped oldest samples", zap.Int("dropped", dropped))
			}
		}
		if err != nil {
			select {
			case <-d.done:
			default:
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					d.logger.Info("Capture stream ended")
				} else {
					d.logger.Warn("Capture stream failed", zap.Error(err))
				}
			}
			d.capture.close()
			return
		}
	}
}

func (d *StreamDevice) drain(sink io.Writer) {
	samples := make([]int16, chunkSamples)
	raw := make([]byte, chunkSamples*2)

	for {
		n := d.playback.readUpTo(samples)
		if n == 0 {
			if d.playback.isClosed() {
				return
			}
			select {
			case <-d.playback.dataReady:
			case <-d.done:
				return
			}
			continue
		}

		size := entities.EncodePCM16(raw, samples[:n])
		if _, err := sink.Write(raw[:size]); err != nil {
			d.logger.Warn("Playback stream failed", zap.Error(err))
			d.playback.close()
			return
		}
	}
}
