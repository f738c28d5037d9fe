package devservice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const stepTimeout = 30 * time.Second

type cleanupStep struct {
	name string
	fn   func(context.Context) error
}

// Cleanup is a teardown stack. Each resource is pushed right after it was
// acquired and Close releases them in reverse order.
type Cleanup struct {
	log *slog.Logger
	// called with each failed step, used for metrics
	onError func(*CleanupError)

	mu     sync.Mutex
	steps  []cleanupStep
	errs   []*CleanupError
	closed bool
	once   sync.Once
}

func NewCleanup(log *slog.Logger) *Cleanup {
	if log == nil {
		log = slog.Default()
	}
	return &Cleanup{log: log}
}

// Push registers fn to run on Close. Pushing onto a closed Cleanup runs fn
// immediately, so a resource acquired during teardown is not leaked.
func (c *Cleanup) Push(name string, fn func(context.Context) error) {
	c.mu.Lock()
	if !c.closed {
		c.steps = append(c.steps, cleanupStep{name: name, fn: fn})
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.run(context.Background(), cleanupStep{name: name, fn: fn})
}

// Close runs every step, last pushed first. A failing step does not stop
// the rest. Only the first call does anything.
func (c *Cleanup) Close(ctx context.Context) {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		steps := c.steps
		c.steps = nil
		c.mu.Unlock()

		for i := len(steps) - 1; i >= 0; i-- {
			c.run(ctx, steps[i])
		}
	})
}

// Errors returns the steps that failed so far.
func (c *Cleanup) Errors() []*CleanupError {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*CleanupError, len(c.errs))
	copy(out, c.errs)
	return out
}

func (c *Cleanup) run(ctx context.Context, s cleanupStep) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stepTimeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return s.fn(ctx)
	}()
	if err == nil {
		c.log.Debug("Released", "step", s.name)
		return
	}

	ce := &CleanupError{Step: s.name, Err: err}
	c.log.Error("Cleanup step failed", "step", s.name, "err", err)
	c.mu.Lock()
	c.errs = append(c.errs, ce)
	onError := c.onError
	c.mu.Unlock()
	if onError != nil {
		onError(ce)
	}
}
