package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the file configuration
const (
	EnvServerURL   = "ARUNIKA_SERVER_URL"
	EnvDeviceID    = "ARUNIKA_DEVICE_ID"
	EnvClientID    = "ARUNIKA_CLIENT_ID"
	EnvDeviceToken = "ARUNIKA_DEVICE_TOKEN"
	EnvJWTSecret   = "ARUNIKA_JWT_SECRET"
	EnvOTAURL      = "ARUNIKA_OTA_URL"
	EnvLogLevel    = "ARUNIKA_LOG_LEVEL"
	EnvAudioDriver = "ARUNIKA_AUDIO_DRIVER"
	EnvAPIAddr     = "ARUNIKA_API_ADDR"
)

// Load reads the YAML file at path (optional when empty), loads .env files
// into the environment, applies the environment overrides and validates.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	if path == "" {
		cfg := Default()
		ApplyEnv(cfg, os.LookupEnv)
		if err := Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	ApplyEnv(cfg, os.LookupEnv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over the defaults and validates the
// result. The environment is not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with the variables lookup finds
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	set(EnvServerURL, &cfg.Server.URL)
	set(EnvDeviceID, &cfg.Device.ID)
	set(EnvClientID, &cfg.Device.ClientID)
	set(EnvDeviceToken, &cfg.Device.Token)
	set(EnvJWTSecret, &cfg.Device.JWTSecret)
	set(EnvOTAURL, &cfg.OTA.URL)
	set(EnvAudioDriver, &cfg.Audio.Driver)
	set(EnvAPIAddr, &cfg.API.Addr)
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Log.Level = LogLevel(v)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Device
	if cfg.Device.ID == "" {
		errs = append(errs, fmt.Errorf("device.id is required (or set %s)", EnvDeviceID))
	}
	if cfg.Device.Token == "" && cfg.Device.JWTSecret != "" && cfg.Device.TokenTTL <= 0 {
		errs = append(errs, errors.New("device.token_ttl must be positive when minting tokens"))
	}

	// Server
	if cfg.Server.URL == "" {
		errs = append(errs, errors.New("server.url is required"))
	} else if u, err := url.Parse(cfg.Server.URL); err != nil {
		errs = append(errs, fmt.Errorf("server.url is invalid: %w", err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("server.url scheme %q is invalid; valid values: ws, wss", u.Scheme))
	}
	if cfg.Server.ReconnectInterval <= 0 {
		errs = append(errs, errors.New("server.reconnect_interval must be positive"))
	}

	// Audio
	switch cfg.Audio.Driver {
	case "command":
		if cfg.Audio.CaptureCommand == "" && cfg.Audio.PlaybackCommand == "" {
			errs = append(errs, errors.New("audio.capture_command or audio.playback_command is required for the command driver"))
		}
	case "file":
		if cfg.Audio.CaptureFile == "" && cfg.Audio.PlaybackFile == "" {
			errs = append(errs, errors.New("audio.capture_file or audio.playback_file is required for the file driver"))
		}
	case "stdio":
	default:
		errs = append(errs, fmt.Errorf("audio.driver %q is invalid; valid values: command, stdio, file", cfg.Audio.Driver))
	}
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, errors.New("audio.sample_rate must be positive"))
	}
	if cfg.Audio.Channels <= 0 {
		errs = append(errs, errors.New("audio.channels must be positive"))
	}
	if cfg.Audio.FrameDuration <= 0 {
		errs = append(errs, errors.New("audio.frame_duration must be positive"))
	}
	if cfg.Audio.BufferSamples <= 0 {
		errs = append(errs, errors.New("audio.buffer_samples must be positive"))
	}
	if cfg.Audio.Timeout <= 0 {
		errs = append(errs, errors.New("audio.timeout must be positive"))
	}

	// Supervisor
	if cfg.Supervisor.Interval <= 0 {
		errs = append(errs, errors.New("supervisor.interval must be positive"))
	}
	if cfg.Supervisor.Backoff && cfg.Supervisor.MaxInterval < cfg.Supervisor.Interval {
		errs = append(errs, errors.New("supervisor.max_interval must not be below supervisor.interval"))
	}

	// OTA
	if cfg.OTA.URL != "" {
		if u, err := url.Parse(cfg.OTA.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("ota.url %q must be an http or https URL", cfg.OTA.URL))
		}
	}

	// Storage
	if cfg.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}

	// Log
	if cfg.Log.Level != "" && !cfg.Log.Level.IsValid() {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}
	if cfg.Log.Format != "" && cfg.Log.Format != "json" && cfg.Log.Format != "console" {
		errs = append(errs, fmt.Errorf("log.format %q is invalid; valid values: json, console", cfg.Log.Format))
	}

	return errors.Join(errs...)
}
