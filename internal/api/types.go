package api

import (
	"context"

	"github.com/satriahrh/arunika/device/domain/entities"
	"github.com/satriahrh/arunika/device/internal/boot"
	"github.com/satriahrh/arunika/device/internal/protocol"
)

// SessionController is the part of the session engine the local API drives
type SessionController interface {
	Snapshot() entities.SessionSnapshot
	Abort(ctx context.Context) error
	Listen(ctx context.Context, state protocol.ListenState) error
}

// BootReporter exposes the record of the last boot
type BootReporter interface {
	Report() boot.Report
}

// ListenRequest represents the request payload for a local listen command
type ListenRequest struct {
	State string `json:"state"`
}

// CommandResponse acknowledges a command handed to the session engine
type CommandResponse struct {
	Status  string                   `json:"status"`
	Session entities.SessionSnapshot `json:"session"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
