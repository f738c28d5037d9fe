package container

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/containerd/errdefs"
)

const discardTimeout = 30 * time.Second

type handleOptions struct {
	log       *slog.Logger
	dependsOn []*Handle
}

type HandleOption func(*handleOptions)

func WithLogger(log *slog.Logger) HandleOption {
	return func(o *handleOptions) {
		o.log = log
	}
}

// DependsOn makes Start refuse to launch until every dep is ready.
func DependsOn(deps ...*Handle) HandleOption {
	return func(o *handleOptions) {
		o.dependsOn = append(o.dependsOn, deps...)
	}
}

// Handle manages one container through its start and stop. Its runtime
// state is only changed by Start and Stop.
type Handle struct {
	engine    Engine
	spec      Spec
	log       *slog.Logger
	dependsOn []*Handle

	mu        sync.Mutex
	inst      Instance
	host      string
	mapped    int
	running   bool
	startedAt time.Time
	readyAt   time.Time
}

func NewHandle(engine Engine, spec Spec, opts ...HandleOption) *Handle {
	o := &handleOptions{log: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return &Handle{
		engine:    engine,
		spec:      spec.clone(),
		log:       o.log,
		dependsOn: o.dependsOn,
	}
}

// Start launches the container and returns once its readiness predicate
// holds. On failure the container is terminated before returning.
func (h *Handle) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.inst != nil {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	if err := h.spec.Validate(); err != nil {
		return h.startErr(fmt.Errorf("invalid spec: %w", err))
	}
	for _, dep := range h.dependsOn {
		if !dep.Ready() {
			return h.startErr(fmt.Errorf("dependency %s is not ready", dep.Name()))
		}
	}

	timeout := h.spec.StartupTimeout
	if timeout <= 0 {
		timeout = DefaultStartupTimeout
	}

	h.log.Info("Starting container", "container", h.spec.Name, "image", h.spec.Image, "port", h.spec.ExposedPort(), "network", h.spec.Network)

	startedAt := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	inst, err := h.engine.Run(runCtx, h.spec)
	cancel()
	if err != nil {
		return h.startErr(err)
	}

	h.mu.Lock()
	h.inst = inst
	h.startedAt = startedAt
	h.mu.Unlock()

	if h.spec.Readiness != nil {
		if err := AwaitReady(ctx, h, h.spec.Readiness, timeout); err != nil {
			h.discard(ctx)
			return err
		}
	}

	host, err := inst.Host(ctx)
	if err != nil {
		h.discard(ctx)
		return h.startErr(fmt.Errorf("resolve host: %w", err))
	}
	mapped, err := inst.MappedPort(ctx, h.spec.ContainerPort())
	if err != nil {
		h.discard(ctx)
		return h.startErr(fmt.Errorf("resolve mapped port %s: %w", h.spec.ContainerPort(), err))
	}
	if hp, ok := h.spec.HostPort.Get(); ok && hp != mapped {
		h.discard(ctx)
		return h.startErr(fmt.Errorf("engine mapped %s to %d, requested %d", h.spec.ContainerPort(), mapped, hp))
	}

	h.mu.Lock()
	h.host = host
	h.mapped = mapped
	h.running = true
	h.readyAt = time.Now()
	h.mu.Unlock()

	h.log.Info("Container ready", "container", h.spec.Name, "id", inst.ID(), "host", host, "port", mapped, "took", time.Since(startedAt).Round(time.Millisecond))
	return nil
}

// Stop terminates the container and discards its runtime state. Stopping a
// container that is not running, or that the engine no longer knows, is
// not an error.
func (h *Handle) Stop(ctx context.Context) error {
	h.mu.Lock()
	inst := h.inst
	h.mu.Unlock()
	if inst == nil {
		return nil
	}

	h.log.Info("Stopping container", "container", h.spec.Name, "id", inst.ID())
	if err := inst.Terminate(ctx); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("stop %s: %w", h.spec.Name, err)
	}
	h.reset()
	return nil
}

// MappedPort returns the host port the engine bound internal to.
func (h *Handle) MappedPort(internal int) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return 0, fmt.Errorf("%s: %w", h.spec.Name, ErrNotRunning)
	}
	if internal != h.spec.Port {
		return 0, fmt.Errorf("%s: port %d is not exposed", h.spec.Name, internal)
	}
	return h.mapped, nil
}

// ResolvedHost is the shared-network alias when the container joined one,
// else the host the engine publishes ports on.
func (h *Handle) ResolvedHost() string {
	if h.spec.SharedAlias != "" {
		return h.spec.SharedAlias
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.host
}

func (h *Handle) Name() string {
	return h.spec.Name
}

func (h *Handle) Spec() Spec {
	return h.spec.clone()
}

// ID is the engine container id, empty before Start.
func (h *Handle) ID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inst == nil {
		return ""
	}
	return h.inst.ID()
}

func (h *Handle) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

func (h *Handle) StartedAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.startedAt
}

func (h *Handle) ReadyAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.readyAt
}

func (h *Handle) instance() Instance {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inst
}

// discard terminates a container that failed to become ready.
func (h *Handle) discard(ctx context.Context) {
	inst := h.instance()
	if inst == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), discardTimeout)
	defer cancel()
	if err := inst.Terminate(ctx); err != nil && !errdefs.IsNotFound(err) {
		h.log.Error("Failed to terminate container after failed start", "container", h.spec.Name, "id", inst.ID(), "err", err)
	}
	h.reset()
}

func (h *Handle) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inst = nil
	h.host = ""
	h.mapped = 0
	h.running = false
	h.readyAt = time.Time{}
}

func (h *Handle) startErr(err error) error {
	return &StartError{Name: h.spec.Name, Image: h.spec.Image, Err: err}
}
