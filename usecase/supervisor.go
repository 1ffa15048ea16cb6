package usecase

import (
	"time"

	"go.uber.org/zap"
)

const (
	defaultSupervisorInterval = 30 * time.Second
	defaultMaxInterval        = 5 * time.Minute
)

// Reconnector is what the supervisor watches and restarts
type Reconnector interface {
	// Disconnected reports whether the session has no connection and none is in progress
	Disconnected() bool
	// Reconnect starts a new connection attempt
	Reconnect()
}

// SupervisorConfig tunes the reconnection supervisor. Zero values select the defaults.
type SupervisorConfig struct {
	// Interval is the time between liveness checks
	Interval time.Duration
	// Backoff doubles the interval after every attempt that found the session
	// disconnected, up to MaxInterval. Off by default: retries stay at Interval.
	Backoff bool
	// MaxInterval caps the backed-off interval
	MaxInterval time.Duration
}

// Supervisor periodically restarts the connection when the session is down.
// It has no goroutine of its own; the engine calls Tick every iteration.
type Supervisor struct {
	target Reconnector
	cfg    SupervisorConfig
	logger *zap.Logger

	current time.Duration
	next    time.Time
}

// NewSupervisor creates a supervisor for target
func NewSupervisor(target Reconnector, cfg SupervisorConfig, logger *zap.Logger) *Supervisor {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultSupervisorInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = defaultMaxInterval
	}
	if cfg.MaxInterval < cfg.Interval {
		cfg.MaxInterval = cfg.Interval
	}
	return &Supervisor{
		target:  target,
		cfg:     cfg,
		logger:  logger,
		current: cfg.Interval,
	}
}

// Tick runs a liveness check when one is due. The first call only schedules
// the first check one interval later.
func (s *Supervisor) Tick(now time.Time) {
	if s.next.IsZero() {
		s.next = now.Add(s.current)
		return
	}
	if now.Before(s.next) {
		return
	}

	if s.target.Disconnected() {
		s.logger.Info("Session disconnected, reconnecting",
			zap.Duration("interval", s.current))
		s.target.Reconnect()
		if s.cfg.Backoff {
			s.current *= 2
			if s.current > s.cfg.MaxInterval {
				s.current = s.cfg.MaxInterval
			}
		}
	} else {
		s.current = s.cfg.Interval
	}
	s.next = now.Add(s.current)
}

// Reset drops any accumulated backoff
func (s *Supervisor) Reset() {
	s.current = s.cfg.Interval
}

// Interval returns the wait before the next check
func (s *Supervisor) Interval() time.Duration {
	return s.current
}
