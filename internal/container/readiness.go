package container

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go/wait"
)

const DefaultStartupTimeout = 2 * time.Minute

// Predicate decides when a started container is usable.
type Predicate interface {
	fmt.Stringer
	Strategy(port nat.Port, timeout time.Duration) wait.Strategy
}

// ListeningPort is satisfied once the internal port accepts connections.
type ListeningPort struct{}

func (ListeningPort) Strategy(port nat.Port, timeout time.Duration) wait.Strategy {
	return wait.ForListeningPort(port).WithStartupTimeout(timeout)
}

func (ListeningPort) String() string {
	return "listening port"
}

// LogPattern is satisfied once Pattern has matched Occurrence log lines.
type LogPattern struct {
	Pattern    *regexp.Regexp
	Occurrence int
}

func (p LogPattern) Strategy(_ nat.Port, timeout time.Duration) wait.Strategy {
	return wait.ForLog(p.Pattern.String()).
		AsRegexp().
		WithOccurrence(max(p.Occurrence, 1)).
		WithStartupTimeout(timeout)
}

func (p LogPattern) String() string {
	return fmt.Sprintf("log pattern %q", p.Pattern)
}

// AwaitReady blocks until p holds for the started container behind h or
// timeout elapses. A timeout yields ErrReadinessTimeout. Any other failure,
// such as the container exiting, yields a *StartError.
func AwaitReady(ctx context.Context, h *Handle, p Predicate, timeout time.Duration) error {
	inst := h.instance()
	if inst == nil {
		return &StartError{Name: h.spec.Name, Image: h.spec.Image, Err: ErrNotRunning}
	}
	if timeout <= 0 {
		timeout = DefaultStartupTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	h.log.Debug("Waiting for container", "container", h.spec.Name, "predicate", p.String(), "timeout", timeout)

	err := inst.WaitUntilReady(ctx, p.Strategy(h.spec.ContainerPort(), timeout))
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s did not satisfy %s within %s: %w", ErrReadinessTimeout, h.spec.Name, p, timeout, err)
	}
	return &StartError{Name: h.spec.Name, Image: h.spec.Image, Err: fmt.Errorf("wait for %s: %w", p, err)}
}
