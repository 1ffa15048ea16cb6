package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/satriahrh/arunika/device/adapters/audio"
	"github.com/satriahrh/arunika/device/adapters/network"
	"github.com/satriahrh/arunika/device/adapters/ota"
	"github.com/satriahrh/arunika/device/adapters/storage"
	"github.com/satriahrh/arunika/device/domain/entities"
	"github.com/satriahrh/arunika/device/domain/repositories"
	"github.com/satriahrh/arunika/device/internal/api"
	"github.com/satriahrh/arunika/device/internal/boot"
	"github.com/satriahrh/arunika/device/internal/config"
	"github.com/satriahrh/arunika/device/internal/logger"
	"github.com/satriahrh/arunika/device/internal/observe"
	"github.com/satriahrh/arunika/device/internal/websocket"
	"github.com/satriahrh/arunika/device/usecase"
)

const shutdownTimeout = 10 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Boot the device and run the session engine until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx)
	},
}

// loadConfig loads the configuration and builds the logger from it
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(string(cfg.Log.Level), cfg.Log.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, nil
}

func run(ctx context.Context) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "arunika-device",
		ServiceVersion: cfg.Device.FirmwareVersion,
	})
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownMetrics(sctx); err != nil {
			log.Warn("Failed to shut down metrics", zap.Error(err))
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	res := &boot.Resources{}
	updateStep := &boot.UpdateCheckStep{NewChecker: updateCheckerFactory(cfg, log), Logger: log}
	sequence := boot.NewSequence(log, 0,
		&boot.StorageStep{Open: func(ctx context.Context) (repositories.KeyValueStore, error) {
			return storage.Open(ctx, cfg.Storage.Path, log)
		}},
		&boot.IdentityStep{
			Identity:  cfg.Identity(),
			JWTSecret: cfg.Device.JWTSecret,
			TokenTTL:  cfg.Device.TokenTTL,
			Logger:    log,
		},
		&boot.AudioStep{Open: func(ctx context.Context) (repositories.AudioDevice, error) {
			return audio.Open(ctx, audioOptions(cfg), log)
		}},
		&boot.NetworkStep{
			Waiter:  network.NewWaiter(cfg.Network.Interface, cfg.Network.PollInterval, log),
			Timeout: cfg.Network.WaitTimeout,
		},
		updateStep,
	)
	if err := sequence.Run(ctx, res); err != nil {
		return err
	}
	defer res.Store.Close()
	defer res.Audio.Close()

	endpoint, err := usecase.Endpoint(cfg.Server.URL, res.Identity)
	if err != nil {
		return err
	}
	transport := websocket.NewClient(transportConfig(cfg, res.Identity, metrics), log)
	engine := usecase.NewSessionEngine(transport, res.Audio, res.Identity, usecase.EngineConfig{
		Endpoint:      endpoint,
		FrameCapacity: cfg.Audio.BufferSamples,
		AudioTimeout:  cfg.Audio.Timeout,
		Supervisor: usecase.SupervisorConfig{
			Interval:    cfg.Supervisor.Interval,
			Backoff:     cfg.Supervisor.Backoff,
			MaxInterval: cfg.Supervisor.MaxInterval,
		},
	}, metrics, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return engine.Run(gctx)
	})

	if cfg.API.Addr != "" {
		e := api.NewServer()
		api.InitRoutes(e, engine, sequence, promhttp.Handler(), log)
		g.Go(func() error {
			log.Info("Local API listening", zap.String("addr", cfg.API.Addr))
			if err := e.Start(cfg.API.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("local api: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return shutdownServer(e, log)
		})
	}

	if updateStep.NewChecker != nil && cfg.OTA.CheckInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.OTA.CheckInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					updateStep.Execute(gctx, res)
				}
			}
		})
	}

	log.Info("Device running",
		zap.String("deviceID", res.Identity.DeviceID),
		zap.String("ip", res.Address.IP.String()))
	return g.Wait()
}

func shutdownServer(e *echo.Echo, log *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Error("Local API forced to shut down", zap.Error(err))
		return err
	}
	log.Info("Local API stopped")
	return nil
}

// updateCheckerFactory returns nil when no update URL is configured
func updateCheckerFactory(cfg *config.Config, log *zap.Logger) func(entities.DeviceIdentity) (repositories.UpdateChecker, error) {
	if cfg.OTA.URL == "" {
		return nil
	}
	return func(identity entities.DeviceIdentity) (repositories.UpdateChecker, error) {
		client, err := ota.NewClient(ota.Config{
			URL:      cfg.OTA.URL,
			DeviceID: identity.DeviceID,
			ClientID: identity.ClientID,
			Timeout:  cfg.OTA.Timeout,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("create update client: %w", err)
		}
		return client, nil
	}
}

func transportConfig(cfg *config.Config, identity entities.DeviceIdentity, metrics *observe.Metrics) websocket.Config {
	return websocket.Config{
		ReconnectInterval: cfg.Server.ReconnectInterval,
		HandshakeTimeout:  cfg.Server.HandshakeTimeout,
		Header:            usecase.HandshakeHeader(identity),
		OnDialAttempt: func() {
			metrics.Reconnects.Add(context.Background(), 1)
		},
	}
}

func audioOptions(cfg *config.Config) audio.Options {
	return audio.Options{
		Driver:          cfg.Audio.Driver,
		CaptureCommand:  cfg.Audio.CaptureCommand,
		PlaybackCommand: cfg.Audio.PlaybackCommand,
		CaptureFile:     cfg.Audio.CaptureFile,
		PlaybackFile:    cfg.Audio.PlaybackFile,
		Stream: audio.StreamConfig{
			FrameCapacity:    cfg.Audio.BufferSamples,
			PlaybackCapacity: cfg.Audio.PlaybackCapacity(cfg.Audio.BufferSamples),
			RingFrames:       cfg.Audio.RingFrames,
		},
	}
}
