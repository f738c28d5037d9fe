package e2e

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go/network"

	"github.com/greatliontech/integresql-dev/internal/config"
	"github.com/greatliontech/integresql-dev/internal/container"
	"github.com/greatliontech/integresql-dev/internal/devservice"
	"github.com/greatliontech/integresql-dev/internal/util"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func dockerEngine(t *testing.T) *container.DockerEngine {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}
	engine, err := container.NewDockerEngine(logger)
	if err != nil {
		t.Skipf("no docker client: %v", err)
	}
	t.Cleanup(func() { engine.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := engine.Ping(ctx); err != nil {
		t.Skipf("docker not available: %v", err)
	}
	return engine
}

func devServices(service string) config.DevServices {
	cfg := config.Default().DevServices
	cfg.ServiceName = service
	cfg.StartupTimeout = 3 * time.Minute
	return cfg
}

func dial(t *testing.T, host string, port int) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), 5*time.Second)
	if err != nil {
		t.Fatalf("failed to connect to %s:%d: %v", host, port, err)
	}
	conn.Close()
}

func assertClean(t *testing.T, engine *container.DockerEngine, service string) {
	t.Helper()
	inv, err := engine.Inventory(context.Background(), devservice.ServiceLabels(service))
	if err != nil {
		t.Fatalf("inventory failed: %v", err)
	}
	if !inv.Empty() {
		t.Errorf("resources left behind: %+v", inv)
	}
}

func TestPrivateRun(t *testing.T) {
	engine := dockerEngine(t)
	ctx := context.Background()
	const service = "e2e-private"

	ctrl, err := devservice.NewController(engine, devservice.NewRegistry(), devservice.WithLogger(logger))
	if err != nil {
		t.Fatal(err)
	}
	run, err := ctrl.Start(ctx, devServices(service))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { run.Close(context.Background()) })

	conf := run.Config()
	u, err := url.Parse(conf.BaseURL())
	if err != nil {
		t.Fatalf("invalid base-url %q: %v", conf.BaseURL(), err)
	}
	if u.Path != "/api" || conf.APIVersion() != "v1" {
		t.Errorf("unexpected config %v", conf.Map())
	}
	port, _ := strconv.Atoi(u.Port())
	dial(t, u.Hostname(), port)
	dial(t, conf.DBHost(), conf.DBPort())

	inv, err := engine.Inventory(ctx, devservice.RunLabels(service, run.ID))
	if err != nil {
		t.Fatalf("inventory failed: %v", err)
	}
	if len(inv.Containers) != 2 || len(inv.Networks) != 1 {
		t.Errorf("expected 2 containers and 1 network, got %+v", inv)
	}

	run.Close(ctx)
	if errs := run.CleanupErrors(); len(errs) > 0 {
		t.Errorf("cleanup errors: %v", errs)
	}
	assertClean(t, engine, service)
}

func TestExplicitPorts(t *testing.T) {
	engine := dockerEngine(t)
	ctx := context.Background()
	const service = "it"

	cfg := devServices(service)
	cfg.Port = util.Some(15000)
	cfg.DB.Port = util.Some(15432)

	ctrl, err := devservice.NewController(engine, devservice.NewRegistry(), devservice.WithLogger(logger))
	if err != nil {
		t.Fatal(err)
	}
	run, err := ctrl.Start(ctx, cfg)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer run.Close(ctx)

	if run.Config().DBPort() != 15432 {
		t.Errorf("expected db-port 15432, got %d", run.Config().DBPort())
	}
	u, _ := url.Parse(run.Config().BaseURL())
	if u.Port() != "15000" {
		t.Errorf("expected companion on 15000, got %s", run.Config().BaseURL())
	}
}

func TestSharedNetwork(t *testing.T) {
	engine := dockerEngine(t)
	ctx := context.Background()
	const service = "e2e-shared"

	nw, err := network.New(ctx)
	if err != nil {
		t.Fatalf("failed to create network: %v", err)
	}
	defer nw.Remove(ctx)

	cfg := devServices(service)
	cfg.Shared = true
	cfg.SharedNetwork = nw.Name

	ctrl, err := devservice.NewController(engine, devservice.NewRegistry(), devservice.WithLogger(logger))
	if err != nil {
		t.Fatal(err)
	}
	run, err := ctrl.Start(ctx, cfg)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	u, _ := url.Parse(run.Config().BaseURL())
	if u.Hostname() != service {
		t.Errorf("expected alias %q in base-url, got %s", service, run.Config().BaseURL())
	}
	run.Close(ctx)

	if err := engine.NetworkExists(ctx, nw.Name); err != nil {
		t.Errorf("shared network was removed: %v", err)
	}
	assertClean(t, engine, service)
}

func TestRollback(t *testing.T) {
	engine := dockerEngine(t)
	ctx := context.Background()
	const service = "e2e-rollback"

	cfg := devServices(service)
	cfg.ImageName = "ghcr.io/allaboutapps/integresql:does-not-exist"

	ctrl, err := devservice.NewController(engine, devservice.NewRegistry(), devservice.WithLogger(logger))
	if err != nil {
		t.Fatal(err)
	}
	_, err = ctrl.Start(ctx, cfg)
	var sf *devservice.StartupFailure
	if !errors.As(err, &sf) || sf.Phase != devservice.PhaseCompanion {
		t.Fatalf("expected companion startup failure, got %v", err)
	}
	assertClean(t, engine, service)
}

func TestPrune(t *testing.T) {
	engine := dockerEngine(t)
	ctx := context.Background()
	const service = "e2e-prune"

	ctrl, err := devservice.NewController(engine, devservice.NewRegistry(), devservice.WithLogger(logger))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ctrl.Start(ctx, devServices(service)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// the run is abandoned without Close, as after a crash
	removed, err := engine.Prune(ctx, devservice.ServiceLabels(service))
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if len(removed.Containers) != 2 || len(removed.Networks) != 1 {
		t.Errorf("unexpected removal %+v", removed)
	}
	assertClean(t, engine, service)
}
