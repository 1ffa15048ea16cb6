package boot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/device/adapters/network"
	"github.com/satriahrh/arunika/device/adapters/ota"
	"github.com/satriahrh/arunika/device/domain/entities"
	"github.com/satriahrh/arunika/device/domain/repositories"
	"github.com/satriahrh/arunika/device/internal/auth"
)

// StorageStep mounts the key/value store
type StorageStep struct {
	Open func(ctx context.Context) (repositories.KeyValueStore, error)
}

func (s *StorageStep) ID() StepID { return StepStorage }

func (s *StorageStep) Execute(ctx context.Context, res *Resources) StepResult {
	store, err := s.Open(ctx)
	if err != nil {
		return StepResult{Error: fmt.Errorf("open storage: %w", err)}
	}
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return StepResult{Error: fmt.Errorf("ping storage: %w", err)}
	}
	res.Store = store
	return StepResult{Success: true}
}

func (s *StorageStep) Compensate(_ context.Context, res *Resources) error {
	if res.Store == nil {
		return nil
	}
	err := res.Store.Close()
	res.Store = nil
	return err
}

// IdentityStep resolves the client id and handshake token.
// A configured client id wins over a stored one; with neither, a new one is
// generated and stored so it survives restarts.
type IdentityStep struct {
	Identity  entities.DeviceIdentity
	JWTSecret string
	TokenTTL  time.Duration
	Logger    *zap.Logger
	// NewID defaults to uuid.NewString
	NewID func() string
}

func (s *IdentityStep) ID() StepID { return StepIdentity }

func (s *IdentityStep) Execute(ctx context.Context, res *Resources) StepResult {
	identity := s.Identity
	source := "config"

	if identity.ClientID == "" {
		stored, err := res.Store.Get(ctx, repositories.KeyClientID)
		switch {
		case err == nil:
			identity.ClientID = stored
			source = "storage"
		case errors.Is(err, repositories.ErrNotFound):
			newID := s.NewID
			if newID == nil {
				newID = uuid.NewString
			}
			identity.ClientID = newID()
			if err := res.Store.Put(ctx, repositories.KeyClientID, identity.ClientID); err != nil {
				return StepResult{Error: fmt.Errorf("store client id: %w", err)}
			}
			source = "generated"
		default:
			return StepResult{Error: fmt.Errorf("read client id: %w", err)}
		}
	}

	if identity.Token == "" && s.JWTSecret != "" {
		token, err := auth.GenerateDeviceToken([]byte(s.JWTSecret), identity.DeviceID, identity.ClientID, s.TokenTTL)
		if err != nil {
			return StepResult{Error: fmt.Errorf("mint device token: %w", err)}
		}
		identity.Token = token
	}

	if err := identity.Validate(); err != nil {
		return StepResult{Error: err}
	}

	res.Identity = identity
	if s.Logger != nil {
		s.Logger.Info("Device identity resolved",
			zap.String("deviceID", identity.DeviceID),
			zap.String("clientID", identity.ClientID),
			zap.String("source", source))
	}
	return StepResult{Success: true, Data: map[string]string{"client_id_source": source}}
}

func (s *IdentityStep) Compensate(context.Context, *Resources) error { return nil }

// AudioStep opens the capture and playback device
type AudioStep struct {
	Open func(ctx context.Context) (repositories.AudioDevice, error)
}

func (s *AudioStep) ID() StepID { return StepAudio }

func (s *AudioStep) Execute(ctx context.Context, res *Resources) StepResult {
	device, err := s.Open(ctx)
	if err != nil {
		return StepResult{Error: fmt.Errorf("open audio: %w", err)}
	}
	res.Audio = device
	return StepResult{Success: true}
}

func (s *AudioStep) Compensate(_ context.Context, res *Resources) error {
	if res.Audio == nil {
		return nil
	}
	err := res.Audio.Close()
	res.Audio = nil
	return err
}

// AddressWaiter blocks until the device has a usable address
type AddressWaiter interface {
	Wait(ctx context.Context) (network.Address, error)
}

// NetworkStep waits for the network to come up
type NetworkStep struct {
	Waiter  AddressWaiter
	Timeout time.Duration
}

func (s *NetworkStep) ID() StepID { return StepNetwork }

func (s *NetworkStep) Execute(ctx context.Context, res *Resources) StepResult {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	addr, err := s.Waiter.Wait(ctx)
	if err != nil {
		return StepResult{Error: fmt.Errorf("wait for network: %w", err)}
	}
	res.Address = addr
	return StepResult{Success: true, Data: addr}
}

func (s *NetworkStep) Compensate(context.Context, *Resources) error { return nil }

// UpdateCheckStep asks the update service for newer firmware.
// It never fails the boot; errors are logged and recorded in the result.
type UpdateCheckStep struct {
	// NewChecker builds the checker once the identity is resolved.
	// Nil disables the check.
	NewChecker func(identity entities.DeviceIdentity) (repositories.UpdateChecker, error)
	Logger     *zap.Logger

	checker repositories.UpdateChecker
}

func (s *UpdateCheckStep) ID() StepID { return StepUpdateCheck }

// Execute runs one check. It is also called on the periodic check schedule
// after boot, never concurrently.
func (s *UpdateCheckStep) Execute(ctx context.Context, res *Resources) StepResult {
	if s.NewChecker == nil {
		return StepResult{Success: true, Data: "disabled"}
	}
	if s.checker == nil {
		checker, err := s.NewChecker(res.Identity)
		if err != nil {
			s.Logger.Warn("Firmware update check unavailable", zap.Error(err))
			return StepResult{Success: true, Data: map[string]string{"error": err.Error()}}
		}
		s.checker = checker
	}

	current := res.Identity.FirmwareVersion
	info, err := s.checker.Check(ctx, current)
	if err != nil {
		s.Logger.Warn("Firmware update check failed", zap.Error(err))
		return StepResult{Success: true, Data: map[string]string{"error": err.Error()}}
	}
	res.Firmware = info

	if res.Store != nil {
		if err := res.Store.Put(ctx, repositories.KeyFirmwareVersion, info.Version); err != nil {
			s.Logger.Warn("Failed to record firmware version", zap.Error(err))
		}
		if err := res.Store.Put(ctx, repositories.KeyFirmwareURL, info.URL); err != nil {
			s.Logger.Warn("Failed to record firmware url", zap.Error(err))
		}
	}

	available := ota.UpdateAvailable(current, info)
	if available {
		s.Logger.Info("Firmware update available",
			zap.String("currentVersion", current),
			zap.String("latestVersion", info.Version),
			zap.String("url", info.URL))
	}
	return StepResult{Success: true, Data: map[string]any{
		"latest_version":   info.Version,
		"update_available": available,
	}}
}

func (s *UpdateCheckStep) Compensate(context.Context, *Resources) error { return nil }
