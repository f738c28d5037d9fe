package devservice

import (
	"errors"
	"fmt"
)

var (
	ErrEnvironmentUnavailable = errors.New("container engine unavailable")
	ErrConfigPublication      = errors.New("config publication failed")
	ErrDisabled               = errors.New("dev services disabled")
	// ErrBusy is returned by Start while a previous run is being torn down.
	ErrBusy = errors.New("dev service is stopping")
)

// Phase names the startup step that failed.
type Phase string

const (
	PhaseEnvironment Phase = "environment"
	PhaseTopology    Phase = "topology"
	PhaseDatabase    Phase = "database"
	PhaseCompanion   Phase = "companion"
	PhasePublish     Phase = "publish"
)

// StartupFailure is the single error Controller.Start returns for every
// fatal condition. Err carries the cause and stays reachable through
// errors.Is and errors.As.
type StartupFailure struct {
	Service string
	Phase   Phase
	Err     error
}

func (e *StartupFailure) Error() string {
	return fmt.Sprintf("dev service %s: %s: %v", e.Service, e.Phase, e.Err)
}

func (e *StartupFailure) Unwrap() error {
	return e.Err
}

// CleanupError reports one teardown step that failed. It is logged and
// kept by Cleanup, never returned to the caller.
type CleanupError struct {
	Step string
	Err  error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("cleanup %s: %v", e.Step, e.Err)
}

func (e *CleanupError) Unwrap() error {
	return e.Err
}
