package repositories

import (
	"errors"
	"time"
)

var (
	// ErrAudioTimeout is returned when the device did not move a full frame within the timeout
	ErrAudioTimeout = errors.New("audio device timeout")
	// ErrAudioClosed is returned once the device has been closed or its stream ended
	ErrAudioClosed = errors.New("audio device closed")
)

// AudioDevice abstracts the capture and playback hardware.
// Capture and Play must return within timeout even when the hardware stalls.
type AudioDevice interface {
	// Capture fills buf with recorded samples and returns how many were read
	Capture(buf []int16, timeout time.Duration) (int, error)
	// Play queues buf for playback and returns how many samples were accepted
	Play(buf []int16, timeout time.Duration) (int, error)
	Close() error
}
