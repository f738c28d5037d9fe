package devservice

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/greatliontech/integresql-dev/internal/config"
	"github.com/greatliontech/integresql-dev/internal/container"
	"github.com/greatliontech/integresql-dev/internal/journal"
	"github.com/greatliontech/integresql-dev/internal/telemetry"
)

var tracer = otel.Tracer("github.com/greatliontech/integresql-dev/internal/devservice")

// Journal records run lifecycle changes.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Sink makes published config available outside the process.
type Sink interface {
	Publish(ctx context.Context, service string, values map[string]string) error
	Unpublish(ctx context.Context, service string) error
}

type Option func(*Controller)

func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) {
		c.log = log
	}
}

func WithJournal(j Journal) Option {
	return func(c *Controller) {
		c.journal = j
	}
}

func WithSink(s Sink) Option {
	return func(c *Controller) {
		c.sink = s
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// Controller starts the database and companion containers of a dev service
// and guarantees that a failed start leaves nothing behind.
type Controller struct {
	engine   container.Engine
	registry *Registry
	log      *slog.Logger
	journal  Journal
	sink     Sink
	metrics  *telemetry.Metrics
}

// NewController uses registry to guard against duplicate runs. Controllers
// sharing a registry never run two container sets at once. A nil registry
// gets a private one.
func NewController(engine container.Engine, registry *Registry, opts ...Option) (*Controller, error) {
	if registry == nil {
		registry = NewRegistry()
	}
	c := &Controller{
		engine:   engine,
		registry: registry,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		m, err := telemetry.NewMetrics()
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics: %w", err)
		}
		c.metrics = m
	}
	return c, nil
}

func (c *Controller) Registry() *Registry {
	return c.registry
}

// AlreadyRunning reports whether a run is up or on its way up.
func (c *Controller) AlreadyRunning() bool {
	s := c.registry.State()
	return s == Starting || s == Running
}

// Start brings up the dev service described by cfg, or returns the run
// that is already up. Concurrent callers share one start and observe the
// same run or the same error. A start that was attempted fails with a
// *StartupFailure, and by the time it is returned everything acquired for
// the run is released. Start that attempts nothing returns ErrDisabled,
// ErrBusy or, for a caller waiting on another start, the context error.
func (c *Controller) Start(ctx context.Context, cfg config.DevServices) (*Run, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if run := c.registry.Current(); run != nil {
		c.log.Debug("Dev service already running", "service", run.Service, "run", run.ID, "since", c.registry.ChangedAt())
		return run, nil
	}

	if c.registry.State() == Stopped {
		if err := c.engine.Ping(ctx); err != nil {
			c.countFailure(ctx, PhaseEnvironment)
			return nil, &StartupFailure{
				Service: cfg.ServiceName,
				Phase:   PhaseEnvironment,
				Err:     fmt.Errorf("%w: %w", ErrEnvironmentUnavailable, err),
			}
		}
	}

	f, lead, err := c.registry.acquire()
	if err != nil {
		return nil, err
	}
	if !lead {
		select {
		case <-f.done:
			return f.run, f.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	runID := uuid.NewString()
	log := c.log.With("service", cfg.ServiceName, "run", runID)
	cleanup := NewCleanup(log)
	cleanup.onError = func(*CleanupError) {
		c.metrics.CleanupErrors.Add(context.Background(), 1, metric.WithAttributes(attribute.String("service", cfg.ServiceName)))
	}
	entry := journal.Entry{ID: runID, Service: cfg.ServiceName, State: Starting.String()}
	c.record(ctx, log, &entry)

	startedAt := time.Now()
	run, err := c.start(ctx, cfg, runID, log, cleanup, &entry)
	if err != nil {
		c.registry.failed(err)
		log.Error("Dev service failed to start, rolling back", "err", err)
		entry.State = FailedStartup.String()
		entry.Failure = err.Error()
		c.record(ctx, log, &entry)

		cleanup.Close(ctx)

		entry.State = Stopped.String()
		c.record(ctx, log, &entry)
		c.registry.stopped(f, err)
		return nil, err
	}

	run.StartedAt = startedAt
	entry.State = Running.String()
	entry.Config = run.config.Map()
	entry.Containers = run.Containers()
	c.record(ctx, log, &entry)
	c.metrics.StartupDuration.Record(ctx, time.Since(startedAt).Seconds(), metric.WithAttributes(
		attribute.String("service", cfg.ServiceName),
		attribute.String("network", run.Mode.String()),
	))
	c.metrics.ActiveRuns.Add(ctx, 1)
	c.registry.succeed(f, run)

	log.Info("IntegreSQL dev service started", "api_url", run.config.BaseURL(), "db_host", run.config.DBHost(), "db_port", run.config.DBPort(), "took", time.Since(startedAt).Round(time.Millisecond))
	return run, nil
}

func (c *Controller) start(ctx context.Context, cfg config.DevServices, runID string, log *slog.Logger, cleanup *Cleanup, entry *journal.Entry) (run *Run, err error) {
	ctx, span := tracer.Start(ctx, "devservice.Start", trace.WithAttributes(
		attribute.String("service", cfg.ServiceName),
		attribute.String("run", runID),
		attribute.Bool("shared", cfg.Shared),
	))
	defer span.End()

	fail := func(phase Phase, err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(phase)+" failed")
		c.countFailure(ctx, phase)
		return &StartupFailure{Service: cfg.ServiceName, Phase: phase, Err: err}
	}

	// a panicking engine fails the start like any other error so the caller
	// rolls back what was pushed so far
	phase := PhaseTopology
	defer func() {
		if r := recover(); r != nil {
			run = nil
			err = fail(phase, fmt.Errorf("panic: %v", r))
		}
	}()

	labels := RunLabels(cfg.ServiceName, runID)

	topo, err := ResolveTopology(ctx, c.engine, TopologyRequest{
		Shared:        cfg.Shared,
		SharedNetwork: cfg.SharedNetwork,
		ServiceName:   cfg.ServiceName,
		Labels:        labels,
	})
	if err != nil {
		return nil, fail(PhaseTopology, err)
	}
	if topo.Owned() {
		cleanup.Push("network "+topo.Network, topo.Release)
	}
	log.Info("Network resolved", "mode", topo.Mode, "network", topo.Network)
	entry.Mode = topo.Mode.String()
	entry.Network = topo.Network

	handleOpts := []container.HandleOption{container.WithLogger(log)}

	phase = PhaseDatabase
	db := container.NewHandle(c.engine, DatabaseSpec(cfg, topo, labels), handleOpts...)
	if err := db.Start(ctx); err != nil {
		return nil, fail(PhaseDatabase, err)
	}
	cleanup.Push("container "+db.Name(), db.Stop)

	phase = PhaseCompanion
	companion := container.NewHandle(c.engine, CompanionSpec(cfg, topo, labels), append(handleOpts, container.DependsOn(db))...)
	if err := companion.Start(ctx); err != nil {
		return nil, fail(PhaseCompanion, err)
	}
	cleanup.Push("container "+companion.Name(), companion.Stop)

	phase = PhasePublish
	conf, err := Publish(db, companion, Facts{
		HostOverride: cfg.DB.Host,
		Credentials: Credentials{
			Username: cfg.DB.Username,
			Password: cfg.DB.Password,
			Database: cfg.DB.Database,
		},
	})
	if err != nil {
		return nil, fail(PhasePublish, err)
	}
	if c.sink != nil {
		if err := c.sink.Publish(ctx, cfg.ServiceName, conf.Map()); err != nil {
			return nil, fail(PhasePublish, fmt.Errorf("%w: %w", ErrConfigPublication, err))
		}
		cleanup.Push("config "+cfg.ServiceName, func(ctx context.Context) error {
			return c.sink.Unpublish(ctx, cfg.ServiceName)
		})
	}

	return &Run{
		ID:         runID,
		Service:    cfg.ServiceName,
		Mode:       topo.Mode,
		Network:    topo.Network,
		config:     conf,
		containers: []string{db.ID(), companion.ID()},
		registry:   c.registry,
		cleanup:    cleanup,
		onClose: func(ctx context.Context, r *Run) {
			c.metrics.ActiveRuns.Add(ctx, -1)
			entry.State = Stopped.String()
			if errs := r.CleanupErrors(); len(errs) > 0 {
				entry.Failure = errs[0].Error()
			}
			c.record(ctx, log, entry)
			log.Info("IntegreSQL dev service stopped")
		},
	}, nil
}

func (c *Controller) countFailure(ctx context.Context, phase Phase) {
	c.metrics.StartupFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", string(phase))))
}

// record writes entry to the journal. The journal is informational, a
// failed write only logs.
func (c *Controller) record(ctx context.Context, log *slog.Logger, entry *journal.Entry) {
	if c.journal == nil {
		return
	}
	if entry.CreateTime.IsZero() {
		entry.CreateTime = time.Now().UTC()
	}
	if err := c.journal.Record(context.WithoutCancel(ctx), *entry); err != nil {
		log.Warn("Failed to record run", "state", entry.State, "err", err)
	}
}
