package ota

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/device/domain/repositories"
)

const defaultTimeout = 10 * time.Second

// Config configures the update check client
type Config struct {
	// URL is the update check endpoint, e.g. "http://192.168.1.100:8080/api/ota/"
	URL      string
	DeviceID string
	ClientID string
	Timeout  time.Duration
}

// Client asks the update service for the latest firmware
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// Ensure Client implements the UpdateChecker interface
var _ repositories.UpdateChecker = (*Client)(nil)

type checkRequest struct {
	Application application `json:"application"`
}

type application struct {
	Version string `json:"version"`
}

type checkResponse struct {
	Firmware *repositories.FirmwareInfo `json:"firmware"`
}

// NewClient creates an update check client
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("ota url is required")
	}
	if cfg.DeviceID == "" {
		return nil, errors.New("device id is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

// Check posts the running firmware version and returns what the server offers
func (c *Client) Check(ctx context.Context, currentVersion string) (*repositories.FirmwareInfo, error) {
	requestBody, err := json.Marshal(checkRequest{Application: application{Version: currentVersion}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("device-id", c.cfg.DeviceID)
	if c.cfg.ClientID != "" {
		httpReq.Header.Set("client-id", c.cfg.ClientID)
	}

	c.logger.Debug("Checking for firmware update", zap.String("url", c.cfg.URL))

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("update service returned error %d: %s", resp.StatusCode, string(errorBody))
	}

	var body checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if body.Firmware == nil {
		return nil, errors.New("response has no firmware section")
	}

	c.logger.Info("Firmware update check completed",
		zap.String("currentVersion", currentVersion),
		zap.String("serverVersion", body.Firmware.Version),
		zap.String("firmwareURL", body.Firmware.URL))
	return body.Firmware, nil
}

// UpdateAvailable reports whether info offers a version other than current
func UpdateAvailable(current string, info *repositories.FirmwareInfo) bool {
	return info != nil && info.Version != "" && info.Version != current
}
