// Package config loads the device configuration from YAML, a .env file and
// the environment, in that order of precedence (last wins).
package config

import (
	"time"

	"github.com/satriahrh/arunika/device/domain/entities"
)

// LogLevel is the minimum log level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid reports whether l is a known level
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	}
	return false
}

// Config is the complete device configuration
type Config struct {
	Device     DeviceConfig     `yaml:"device"`
	Server     ServerConfig     `yaml:"server"`
	Audio      AudioConfig      `yaml:"audio"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Network    NetworkConfig    `yaml:"network"`
	OTA        OTAConfig        `yaml:"ota"`
	Storage    StorageConfig    `yaml:"storage"`
	API        APIConfig        `yaml:"api"`
	Log        LogConfig        `yaml:"log"`
}

// DeviceConfig identifies this endpoint to the server
type DeviceConfig struct {
	// ID is the hardware identifier, usually the MAC address
	ID string `yaml:"id"`
	// ClientID is generated and persisted at first boot when empty
	ClientID        string `yaml:"client_id"`
	Name            string `yaml:"name"`
	FirmwareVersion string `yaml:"firmware_version"`
	// Token is sent verbatim in the handshake. When empty and JWTSecret is
	// set, a signed device token is minted at boot.
	Token     string        `yaml:"token"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// ServerConfig locates the session server
type ServerConfig struct {
	// URL is the ws:// or wss:// session endpoint without the identity query
	URL               string        `yaml:"url"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
}

// AudioConfig selects the audio backend and the declared stream format
type AudioConfig struct {
	entities.AudioParams `yaml:",inline"`

	Driver          string        `yaml:"driver"`
	CaptureCommand  string        `yaml:"capture_command"`
	PlaybackCommand string        `yaml:"playback_command"`
	CaptureFile     string        `yaml:"capture_file"`
	PlaybackFile    string        `yaml:"playback_file"`
	BufferSamples   int           `yaml:"buffer_samples"`
	RingFrames      int           `yaml:"ring_frames"`
	Timeout         time.Duration `yaml:"timeout"`
}

// SupervisorConfig tunes the reconnection supervisor
type SupervisorConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Backoff     bool          `yaml:"backoff"`
	MaxInterval time.Duration `yaml:"max_interval"`
}

// NetworkConfig tunes the wait for network association at boot
type NetworkConfig struct {
	// Interface restricts the wait to one interface; empty accepts any
	Interface    string        `yaml:"interface"`
	WaitTimeout  time.Duration `yaml:"wait_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// OTAConfig locates the firmware update service
type OTAConfig struct {
	// URL is the update check endpoint; empty disables the check
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	// CheckInterval repeats the check while running; zero checks at boot only
	CheckInterval time.Duration `yaml:"check_interval"`
}

// StorageConfig locates the persistent store
type StorageConfig struct {
	Path string `yaml:"path"`
}

// APIConfig configures the local status API
type APIConfig struct {
	// Addr is the listen address; empty disables the API
	Addr string `yaml:"addr"`
}

// LogConfig configures the logger
type LogConfig struct {
	Level  LogLevel `yaml:"level"`
	Format string   `yaml:"format"`
}

// Default returns the reference configuration
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Name:            "Arunika",
			FirmwareVersion: "1.0.0",
			TokenTTL:        24 * time.Hour,
		},
		Server: ServerConfig{
			URL:               "ws://192.168.1.100:8000/xiaozhi/v1/",
			ReconnectInterval: 5 * time.Second,
			HandshakeTimeout:  10 * time.Second,
		},
		Audio: AudioConfig{
			AudioParams: entities.AudioParams{
				Format:        "pcm",
				SampleRate:    24000,
				Channels:      1,
				FrameDuration: 60,
			},
			Driver:          "command",
			CaptureCommand:  "arecord -q -t raw -f S16_LE -r 24000 -c 1",
			PlaybackCommand: "aplay -q -t raw -f S16_LE -r 24000 -c 1",
			BufferSamples:   entities.DefaultFrameCapacity,
			RingFrames:      8,
			Timeout:         100 * time.Millisecond,
		},
		Supervisor: SupervisorConfig{
			Interval:    30 * time.Second,
			MaxInterval: 5 * time.Minute,
		},
		Network: NetworkConfig{
			WaitTimeout:  time.Minute,
			PollInterval: 500 * time.Millisecond,
		},
		OTA: OTAConfig{
			URL:     "http://192.168.1.100:8080/api/ota/",
			Timeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Path: "arunika-device.db",
		},
		API: APIConfig{
			Addr: "127.0.0.1:8081",
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: "json",
		},
	}
}

// Identity returns the device identity described by the configuration.
// ClientID may still be empty; boot resolves it.
func (c *Config) Identity() entities.DeviceIdentity {
	return entities.DeviceIdentity{
		DeviceID:        c.Device.ID,
		ClientID:        c.Device.ClientID,
		Name:            c.Device.Name,
		Token:           c.Device.Token,
		FirmwareVersion: c.Device.FirmwareVersion,
		Audio:           c.Audio.AudioParams,
	}
}
