package repositories

import "context"

// FirmwareInfo is the server's answer to an update check
type FirmwareInfo struct {
	Version string `json:"version"`
	URL     string `json:"url"`
}

// UpdateChecker asks the update service for the latest firmware
type UpdateChecker interface {
	Check(ctx context.Context, currentVersion string) (*FirmwareInfo, error)
}
