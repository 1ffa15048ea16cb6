package audio

import (
	"sync"
	"time"

	"github.com/satriahrh/arunika/device/domain/repositories"
)

// MockCapture is one scripted Capture result
type MockCapture struct {
	Samples []int16
	Err     error
}

// MockDevice is an in-memory AudioDevice for tests and development.
// Captures are served from a script; once it runs out Capture times out.
type MockDevice struct {
	mu           sync.Mutex
	captures     []MockCapture
	captureCalls int
	plays        [][]int16
	playErr      error
	closed       bool
}

// Ensure MockDevice implements the AudioDevice interface
var _ repositories.AudioDevice = (*MockDevice)(nil)

// NewMockDevice creates an empty mock device
func NewMockDevice() *MockDevice {
	return &MockDevice{}
}

// QueueCapture appends a result for a later Capture call
func (m *MockDevice) QueueCapture(samples []int16, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captures = append(m.captures, MockCapture{Samples: samples, Err: err})
}

// FailPlay makes every following Play call return err. nil restores success.
func (m *MockDevice) FailPlay(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playErr = err
}

// Capture copies the next scripted samples into buf
func (m *MockDevice) Capture(buf []int16, timeout time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.captureCalls++
	if m.closed {
		return 0, repositories.ErrAudioClosed
	}
	if len(m.captures) == 0 {
		return 0, repositories.ErrAudioTimeout
	}

	next := m.captures[0]
	m.captures = m.captures[1:]
	if next.Err != nil {
		return 0, next.Err
	}
	return copy(buf, next.Samples), nil
}

// Play records a copy of buf
func (m *MockDevice) Play(buf []int16, timeout time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, repositories.ErrAudioClosed
	}
	if m.playErr != nil {
		return 0, m.playErr
	}
	m.plays = append(m.plays, append([]int16(nil), buf...))
	return len(buf), nil
}

// Close marks the device closed
func (m *MockDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Plays returns every frame passed to Play, in order
func (m *MockDevice) Plays() [][]int16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]int16, len(m.plays))
	copy(out, m.plays)
	return out
}

// CaptureCalls returns how many times Capture was called
func (m *MockDevice) CaptureCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.captureCalls
}

// PendingCaptures returns how many scripted captures are left
func (m *MockDevice) PendingCaptures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.captures)
}
