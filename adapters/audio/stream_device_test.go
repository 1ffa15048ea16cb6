package audio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/arunika/device/domain/entities"
	"github.com/satriahrh/arunika/device/domain/repositories"
)

func pcm(samples ...int16) []byte {
	out := make([]byte, 2*len(samples))
	entities.EncodePCM16(out, samples)
	return out
}

func ramp(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(i)
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

type countingCloser struct {
	closed int
}

func (c *countingCloser) Close() error {
	c.closed++
	return nil
}

func TestSampleRing_OverwriteDropsOldest(t *testing.T) {
	r := newSampleRing(4)

	if dropped := r.writeOverwrite([]int16{1, 2, 3}); dropped != 0 {
		t.Errorf("Expected no drops, got %d", dropped)
	}
	if dropped := r.writeOverwrite([]int16{4, 5, 6}); dropped != 2 {
		t.Errorf("Expected 2 drops, got %d", dropped)
	}

	out := make([]int16, 4)
	if !r.tryReadExact(out) {
		t.Fatal("Expected a full read")
	}
	want := []int16{3, 4, 5, 6}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, out)
		}
	}

	if dropped := r.writeOverwrite([]int16{1, 2, 3, 4, 5, 6}); dropped != 2 {
		t.Errorf("Expected 2 drops for an oversized write, got %d", dropped)
	}
	if r.len() != 4 {
		t.Errorf("Expected ring to be full, got %d", r.len())
	}
}

func TestSampleRing_OversizedWriteCountsQueuedSamples(t *testing.T) {
	r := newSampleRing(4)
	r.writeOverwrite([]int16{1, 2, 3})

	// 3 queued samples and the 2 oldest new ones are lost.
	if dropped := r.writeOverwrite([]int16{4, 5, 6, 7, 8, 9}); dropped != 5 {
		t.Errorf("Expected 5 drops, got %d", dropped)
	}

	out := make([]int16, 4)
	if !r.tryReadExact(out) {
		t.Fatal("Expected a full read")
	}
	want := []int16{6, 7, 8, 9}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, out)
		}
	}
}

func TestSampleRing_TryWriteAllAndReadUpTo(t *testing.T) {
	r := newSampleRing(4)

	if !r.tryWriteAll([]int16{1, 2, 3}) {
		t.Fatal("Expected write to fit")
	}
	if r.tryWriteAll([]int16{4, 5}) {
		t.Error("Expected write not to fit")
	}
	if r.len() != 3 {
		t.Errorf("A rejected write must not enqueue anything, got %d samples", r.len())
	}

	out := make([]int16, 8)
	if n := r.readUpTo(out); n != 3 {
		t.Errorf("Expected 3 samples, got %d", n)
	}
	if r.tryReadExact(out[:1]) {
		t.Error("Expected empty ring")
	}

	r.close()
	if r.tryWriteAll([]int16{1}) {
		t.Error("Expected closed ring to reject writes")
	}
}

func TestStreamDevice_CaptureExactFrame(t *testing.T) {
	samples := ramp(1024)
	d := NewStreamDevice(bytes.NewReader(pcm(samples...)), nil, StreamConfig{}, zaptest.NewLogger(t))
	defer d.Close()

	buf := make([]int16, 1024)
	n, err := d.Capture(buf, time.Second)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if n != 1024 {
		t.Fatalf("Expected 1024 samples, got %d", n)
	}
	for i := range samples {
		if buf[i] != samples[i] {
			t.Fatalf("Sample %d: expected %d, got %d", i, samples[i], buf[i])
		}
	}

	if _, err := d.Capture(buf, 50*time.Millisecond); !errors.Is(err, repositories.ErrAudioClosed) {
		t.Errorf("Expected ErrAudioClosed after the stream ended, got %v", err)
	}
}

func TestStreamDevice_CaptureTimesOutWithoutConsuming(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	d := NewStreamDevice(pr, nil, StreamConfig{}, zap.NewNop(), pr)
	defer d.Close()

	go pw.Write(pcm(ramp(300)...))
	waitFor(t, func() bool { return d.Buffered() == chunkSamples })

	buf := make([]int16, 512)
	start := time.Now()
	n, err := d.Capture(buf, 30*time.Millisecond)
	if !errors.Is(err, repositories.ErrAudioTimeout) {
		t.Fatalf("Expected ErrAudioTimeout, got %v", err)
	}
	if n != 0 {
		t.Errorf("Expected 0 samples on timeout, got %d", n)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Capture exceeded its timeout: %v", elapsed)
	}
	if d.Buffered() != chunkSamples {
		t.Errorf("Timed out capture consumed samples, %d left", d.Buffered())
	}

	n, err = d.Capture(buf[:chunkSamples], time.Second)
	if err != nil || n != chunkSamples {
		t.Fatalf("Expected %d samples, got %d (%v)", chunkSamples, n, err)
	}
	if buf[0] != 0 || buf[chunkSamples-1] != chunkSamples-1 {
		t.Errorf("Unexpected samples: first %d last %d", buf[0], buf[chunkSamples-1])
	}
}

func TestStreamDevice_CaptureReturnsRemainderAfterEnd(t *testing.T) {
	d := NewStreamDevice(bytes.NewReader(pcm(ramp(100)...)), nil, StreamConfig{}, zap.NewNop())
	defer d.Close()

	buf := make([]int16, 200)
	n, err := d.Capture(buf, time.Second)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if n != 100 {
		t.Errorf("Expected the 100 remaining samples, got %d", n)
	}
}

func TestStreamDevice_CaptureOverflowKeepsNewest(t *testing.T) {
	cfg := StreamConfig{FrameCapacity: 256, RingFrames: 2}
	d := NewStreamDevice(bytes.NewReader(pcm(ramp(1024)...)), nil, cfg, zap.NewNop())
	defer d.Close()

	waitFor(t, d.capture.isClosed)
	if d.Buffered() != 512 {
		t.Fatalf("Expected a full ring of 512, got %d", d.Buffered())
	}

	buf := make([]int16, 256)
	if _, err := d.Capture(buf, time.Second); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if buf[0] != 512 {
		t.Errorf("Expected oldest kept sample 512, got %d", buf[0])
	}
}

func TestStreamDevice_RejectsOversizedFrames(t *testing.T) {
	cfg := StreamConfig{FrameCapacity: 16}
	d := NewStreamDevice(bytes.NewReader(nil), &safeBuffer{}, cfg, zap.NewNop())
	defer d.Close()

	if _, err := d.Capture(make([]int16, 17), time.Millisecond); err == nil {
		t.Error("Expected error for oversized capture")
	}
	if _, err := d.Play(make([]int16, 17), time.Millisecond); err == nil {
		t.Error("Expected error for oversized playback")
	}
	if n, err := d.Play(nil, time.Millisecond); n != 0 || err != nil {
		t.Errorf("Expected empty play to be a no-op, got %d %v", n, err)
	}
}

func TestStreamDevice_PlaybackCapacity(t *testing.T) {
	sink := &safeBuffer{}
	cfg := StreamConfig{FrameCapacity: 1024, PlaybackCapacity: 1440}
	d := NewStreamDevice(nil, sink, cfg, zap.NewNop())
	defer d.Close()

	n, err := d.Play(ramp(1440), time.Second)
	if err != nil || n != 1440 {
		t.Fatalf("Play: %d %v", n, err)
	}
	waitFor(t, func() bool { return len(sink.Bytes()) == 2880 })

	if _, err := d.Play(make([]int16, 1441), time.Millisecond); err == nil {
		t.Error("Expected error above the playback capacity")
	}

	small := NewStreamDevice(nil, &safeBuffer{}, StreamConfig{FrameCapacity: 64, PlaybackCapacity: 16}, zap.NewNop())
	defer small.Close()
	if n, err := small.Play(make([]int16, 64), time.Second); err != nil || n != 64 {
		t.Errorf("Expected playback capacity raised to the frame capacity, got %d %v", n, err)
	}
}

func TestStreamDevice_PlayWritesLittleEndian(t *testing.T) {
	sink := &safeBuffer{}
	d := NewStreamDevice(nil, sink, StreamConfig{}, zaptest.NewLogger(t))
	defer d.Close()

	n, err := d.Play([]int16{1, -2, 0x1234}, time.Second)
	if err != nil || n != 3 {
		t.Fatalf("Play: %d %v", n, err)
	}

	want := []byte{0x01, 0x00, 0xFE, 0xFF, 0x34, 0x12}
	waitFor(t, func() bool { return len(sink.Bytes()) == len(want) })
	if !bytes.Equal(sink.Bytes(), want) {
		t.Errorf("Expected %v, got %v", want, sink.Bytes())
	}

	if _, err := d.Capture(make([]int16, 4), time.Millisecond); !errors.Is(err, repositories.ErrAudioClosed) {
		t.Errorf("Expected ErrAudioClosed without a capture source, got %v", err)
	}
}

func TestStreamDevice_PlayTimesOutWhenSinkStalls(t *testing.T) {
	pr, pw := io.Pipe()
	defer pr.Close()

	cfg := StreamConfig{FrameCapacity: chunkSamples, RingFrames: 1}
	d := NewStreamDevice(nil, pw, cfg, zap.NewNop(), pw)
	defer d.Close()

	frame := ramp(chunkSamples)
	for i := 0; i < 2; i++ {
		if _, err := d.Play(frame, time.Second); err != nil {
			t.Fatalf("Play %d: %v", i, err)
		}
	}

	start := time.Now()
	n, err := d.Play(frame, 30*time.Millisecond)
	if !errors.Is(err, repositories.ErrAudioTimeout) {
		t.Fatalf("Expected ErrAudioTimeout, got %v", err)
	}
	if n != 0 {
		t.Errorf("Expected nothing accepted, got %d", n)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Play exceeded its timeout: %v", elapsed)
	}
}

func TestStreamDevice_Close(t *testing.T) {
	pr, pw := io.Pipe()
	closer := &countingCloser{}
	d := NewStreamDevice(pr, &safeBuffer{}, StreamConfig{}, zap.NewNop(), pw, closer)

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if closer.closed != 1 {
		t.Errorf("Expected closers to run once, ran %d times", closer.closed)
	}

	if _, err := d.Capture(make([]int16, 4), time.Second); !errors.Is(err, repositories.ErrAudioClosed) {
		t.Errorf("Expected ErrAudioClosed, got %v", err)
	}
	if _, err := d.Play(make([]int16, 4), time.Second); !errors.Is(err, repositories.ErrAudioClosed) {
		t.Errorf("Expected ErrAudioClosed, got %v", err)
	}
}

func TestOpen_FileDriver(t *testing.T) {
	dir := t.TempDir()
	capturePath := filepath.Join(dir, "capture.raw")
	playbackPath := filepath.Join(dir, "playback.raw")
	if err := os.WriteFile(capturePath, pcm(ramp(64)...), 0o644); err != nil {
		t.Fatal(err)
	}

	device, err := Open(context.Background(), Options{
		Driver:       DriverFile,
		CaptureFile:  capturePath,
		PlaybackFile: playbackPath,
		Stream:       StreamConfig{FrameCapacity: 64},
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	buf := make([]int16, 64)
	if n, err := device.Capture(buf, time.Second); err != nil || n != 64 {
		t.Fatalf("Capture: %d %v", n, err)
	}
	if _, err := device.Play(buf[:8], time.Second); err != nil {
		t.Fatalf("Play: %v", err)
	}

	waitFor(t, func() bool {
		info, err := os.Stat(playbackPath)
		return err == nil && info.Size() == 16
	})
	if err := device.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	if _, err := Open(context.Background(), Options{Driver: "i2s"}, zap.NewNop()); err == nil {
		t.Error("Expected error for unsupported driver")
	}
	if _, err := Open(context.Background(), Options{Driver: DriverFile, CaptureFile: "/does/not/exist"}, zap.NewNop()); err == nil {
		t.Error("Expected error for missing capture file")
	}
}

func TestNewCommandDevice(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}

	dir := t.TempDir()
	capturePath := filepath.Join(dir, "capture.raw")
	if err := os.WriteFile(capturePath, pcm(ramp(chunkSamples)...), 0o644); err != nil {
		t.Fatal(err)
	}

	d, err := NewCommandDevice(context.Background(), "cat "+capturePath, "", StreamConfig{}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewCommandDevice: %v", err)
	}
	defer d.Close()

	buf := make([]int16, chunkSamples)
	n, err := d.Capture(buf, 2*time.Second)
	if err != nil || n != chunkSamples {
		t.Fatalf("Capture: %d %v", n, err)
	}
	if buf[chunkSamples-1] != chunkSamples-1 {
		t.Errorf("Unexpected last sample %d", buf[chunkSamples-1])
	}
}

func TestNewCommandDevice_RequiresCommand(t *testing.T) {
	if _, err := NewCommandDevice(context.Background(), " ", "", StreamConfig{}, zap.NewNop()); err == nil {
		t.Error("Expected error without commands")
	}
	if _, err := NewCommandDevice(context.Background(), "/does/not/exist/arecord", "", StreamConfig{}, zap.NewNop()); err == nil {
		t.Error("Expected error for a missing binary")
	}
}
