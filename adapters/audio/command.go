package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/device/domain/repositories"
)

// Supported drivers
const (
	DriverCommand = "command"
	DriverStdio   = "stdio"
	DriverFile    = "file"
)

// Options selects and configures the audio backend
type Options struct {
	Driver string
	// CaptureCommand and PlaybackCommand are used by the command driver,
	// e.g. "arecord -q -t raw -f S16_LE -r 24000 -c 1"
	CaptureCommand  string
	PlaybackCommand string
	// CaptureFile and PlaybackFile are used by the file driver
	CaptureFile  string
	PlaybackFile string
	Stream       StreamConfig
}

// Open builds the audio device for opts.Driver
func Open(ctx context.Context, opts Options, logger *zap.Logger) (repositories.AudioDevice, error) {
	switch opts.Driver {
	case DriverCommand, "":
		return NewCommandDevice(ctx, opts.CaptureCommand, opts.PlaybackCommand, opts.Stream, logger)
	case DriverStdio:
		return NewStreamDevice(os.Stdin, os.Stdout, opts.Stream, logger), nil
	case DriverFile:
		return openFiles(opts, logger)
	default:
		return nil, fmt.Errorf("unsupported audio driver: %q", opts.Driver)
	}
}

func openFiles(opts Options, logger *zap.Logger) (repositories.AudioDevice, error) {
	var (
		src     io.Reader
		sink    io.Writer
		closers []io.Closer
	)

	if opts.CaptureFile != "" {
		f, err := os.Open(opts.CaptureFile)
		if err != nil {
			return nil, fmt.Errorf("open capture file: %w", err)
		}
		src = f
		closers = append(closers, f)
	}
	if opts.PlaybackFile != "" {
		f, err := os.OpenFile(opts.PlaybackFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			for _, c := range closers {
				c.Close()
			}
			return nil, fmt.Errorf("open playback file: %w", err)
		}
		sink = f
		closers = append(closers, f)
	}

	logger.Info("Audio files opened",
		zap.String("capture", opts.CaptureFile),
		zap.String("playback", opts.PlaybackFile))
	return NewStreamDevice(src, sink, opts.Stream, logger, closers...), nil
}

// processCloser stops a child process when the device closes
type processCloser struct {
	name   string
	cmd    *exec.Cmd
	stdin  io.Closer
	logger *zap.Logger
}

func (p *processCloser) Close() error {
	if p.stdin != nil {
		p.stdin.Close()
	}
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return fmt.Errorf("wait for %s: %w", p.name, err)
	}
	p.logger.Debug("Audio process stopped", zap.String("process", p.name))
	return nil
}

// NewCommandDevice spawns the capture and playback programs and streams raw
// PCM through their stdout and stdin. An empty command disables that direction.
func NewCommandDevice(ctx context.Context, captureCommand, playbackCommand string, cfg StreamConfig, logger *zap.Logger) (*StreamDevice, error) {
	if strings.TrimSpace(captureCommand) == "" && strings.TrimSpace(playbackCommand) == "" {
		return nil, errors.New("at least one of capture or playback command is required")
	}

	var (
		src     io.Reader
		sink    io.Writer
		closers []io.Closer
	)
	cleanup := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	if args := strings.Fields(captureCommand); len(args) > 0 {
		cmd := exec.CommandContext(ctx, args[0], args[1:]...)
		cmd.Stderr = os.Stderr
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("capture stdout: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start capture command %q: %w", args[0], err)
		}
		src = stdout
		closers = append(closers, &processCloser{name: args[0], cmd: cmd, logger: logger})
		logger.Info("Capture process started", zap.String("command", captureCommand), zap.Int("pid", cmd.Process.Pid))
	}

	if args := strings.Fields(playbackCommand); len(args) > 0 {
		cmd := exec.CommandContext(ctx, args[0], args[1:]...)
		cmd.Stderr = os.Stderr
		stdin, err := cmd.StdinPipe()
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("playback stdin: %w", err)
		}
		if err := cmd.Start(); err != nil {
			cleanup()
			return nil, fmt.Errorf("start playback command %q: %w", args[0], err)
		}
		sink = stdin
		closers = append(closers, &processCloser{name: args[0], cmd: cmd, stdin: stdin, logger: logger})
		logger.Info("Playback process started", zap.String("command", playbackCommand), zap.Int("pid", cmd.Process.Pid))
	}

	return NewStreamDevice(src, sink, cfg, logger, closers...), nil
}
