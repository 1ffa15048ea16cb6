package repositories

import (
	"context"
	"errors"
)

// Keys written at boot
const (
	KeyClientID        = "device.client_id"
	KeyFirmwareVersion = "ota.latest_version"
	KeyFirmwareURL     = "ota.latest_url"
)

// ErrNotFound is returned when a key is absent from the store
var ErrNotFound = errors.New("not found")

// KeyValueStore is the persisted storage mounted at boot
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string) error
	Ping(ctx context.Context) error
	Close() error
}
