package entities

import "encoding/binary"

// DefaultFrameCapacity is the number of samples in one capture or playback buffer
const DefaultFrameCapacity = 1024

// FrameDirection tags which pipeline an audio frame belongs to
type FrameDirection int

const (
	FrameCapture FrameDirection = iota
	FramePlayback
)

// String returns the direction label used in logs and metrics
func (d FrameDirection) String() string {
	if d == FramePlayback {
		return "playback"
	}
	return "capture"
}

// EncodePCM16 writes samples as little-endian 16-bit PCM into dst and returns
// the number of bytes written. dst must hold at least 2*len(samples) bytes.
func EncodePCM16(dst []byte, samples []int16) int {
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[2*i:], uint16(s))
	}
	return 2 * len(samples)
}

// DecodePCM16 reads little-endian 16-bit PCM from src into dst and returns the
// number of samples decoded, bounded by len(dst) and len(src)/2.
func DecodePCM16(dst []int16, src []byte) int {
	n := len(src) / 2
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = int16(binary.LittleEndian.Uint16(src[2*i:]))
	}
	return n
}
