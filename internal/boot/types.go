package boot

import (
	"context"
	"time"

	"github.com/satriahrh/arunika/device/adapters/network"
	"github.com/satriahrh/arunika/device/domain/entities"
	"github.com/satriahrh/arunika/device/domain/repositories"
)

// State represents the current state of a boot run
type State string

const (
	StateStarted     State = "started"
	StateRunning     State = "running"
	StateCompleted   State = "completed"
	StateCompensated State = "compensated"
)

// StepState represents the state of an individual step
type StepState string

const (
	StepStatePending     StepState = "pending"
	StepStateRunning     StepState = "running"
	StepStateCompleted   StepState = "completed"
	StepStateFailed      StepState = "failed"
	StepStateCompensated StepState = "compensated"
)

// StepID uniquely identifies a step within the sequence
type StepID string

const (
	StepStorage     StepID = "storage"
	StepIdentity    StepID = "identity"
	StepAudio       StepID = "audio"
	StepNetwork     StepID = "network"
	StepUpdateCheck StepID = "update-check"
)

// Resources is filled in by the steps as the device comes up
type Resources struct {
	Store    repositories.KeyValueStore
	Identity entities.DeviceIdentity
	Audio    repositories.AudioDevice
	Address  network.Address
	Firmware *repositories.FirmwareInfo
}

// StepResult represents the result of a step execution
type StepResult struct {
	Success bool
	Data    any
	Error   error
}

// Step represents a single step of the boot sequence
type Step interface {
	ID() StepID
	Execute(ctx context.Context, res *Resources) StepResult
	Compensate(ctx context.Context, res *Resources) error
}

// Report is the record of one boot run
type Report struct {
	State       State           `json:"state"`
	Steps       []StepExecution `json:"steps"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// StepExecution represents the execution state of a step
type StepExecution struct {
	ID          StepID     `json:"id"`
	State       StepState  `json:"state"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Result      any        `json:"result,omitempty"`
}
