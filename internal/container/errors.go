package container

import (
	"errors"
	"fmt"
)

var (
	ErrContainerStart   = errors.New("container start failed")
	ErrReadinessTimeout = errors.New("readiness timeout")
	ErrNotRunning       = errors.New("container not running")
)

// StartError reports that the engine could not create, launch or inspect a
// container.
type StartError struct {
	Name  string
	Image string
	Err   error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start %s (%s): %v", e.Name, e.Image, e.Err)
}

func (e *StartError) Unwrap() []error {
	return []error{ErrContainerStart, e.Err}
}
