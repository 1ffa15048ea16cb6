package entities

import (
	"errors"
	"time"
)

// AudioParams declares the audio stream format announced in the handshake
type AudioParams struct {
	Format        string `json:"format" yaml:"format"`
	SampleRate    int    `json:"sample_rate" yaml:"sample_rate"`
	Channels      int    `json:"channels" yaml:"channels"`
	FrameDuration int    `json:"frame_duration" yaml:"frame_duration"`
}

// FrameDurationTime returns the frame duration as a time.Duration
func (p AudioParams) FrameDurationTime() time.Duration {
	return time.Duration(p.FrameDuration) * time.Millisecond
}

// FrameSamples returns the number of samples in one frame of this format,
// counting every channel
func (p AudioParams) FrameSamples() int {
	return int(int64(p.SampleRate*p.Channels) * int64(p.FrameDurationTime()) / int64(time.Second))
}

// PlaybackCapacity returns the playback buffer size in samples that holds one
// announced frame in a single piece. It is never below bufferSamples.
func (p AudioParams) PlaybackCapacity(bufferSamples int) int {
	return max(bufferSamples, p.FrameSamples())
}

// DeviceIdentity is the static identity of this endpoint
type DeviceIdentity struct {
	DeviceID        string      `json:"device_id"`
	ClientID        string      `json:"client_id"`
	Name            string      `json:"name"`
	Token           string      `json:"-"`
	FirmwareVersion string      `json:"firmware_version"`
	Audio           AudioParams `json:"audio_params"`
}

// Validate checks that the identity can be used for a handshake
func (d *DeviceIdentity) Validate() error {
	if d.DeviceID == "" {
		return errors.New("device id is required")
	}
	if d.ClientID == "" {
		return errors.New("client id is required")
	}
	if d.Audio.SampleRate <= 0 {
		return errors.New("audio sample rate must be positive")
	}
	if d.Audio.Channels <= 0 {
		return errors.New("audio channels must be positive")
	}
	if d.Audio.FrameDuration <= 0 {
		return errors.New("audio frame duration must be positive")
	}
	return nil
}
