package container_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/greatliontech/integresql-dev/internal/container"
	"github.com/greatliontech/integresql-dev/internal/container/containertest"
	"github.com/greatliontech/integresql-dev/internal/util"
)

var quiet = container.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

func postgresSpec() container.Spec {
	return container.Spec{
		Name:      "postgres",
		Image:     "postgres:17.4-alpine",
		Port:      5432,
		Env:       map[string]string{"POSTGRES_USER": "dbuser"},
		Readiness: container.ListeningPort{},
	}
}

func TestHandleStart(t *testing.T) {
	eng := containertest.New()
	h := container.NewHandle(eng, postgresSpec(), quiet)

	if h.Ready() {
		t.Fatal("handle ready before start")
	}
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !h.Ready() {
		t.Fatal("handle not ready after start")
	}
	port, err := h.MappedPort(5432)
	if err != nil {
		t.Fatalf("MappedPort failed: %v", err)
	}
	if port != 32768 {
		t.Errorf("expected mapped port 32768, got %d", port)
	}
	if h.ResolvedHost() != "localhost" {
		t.Errorf("expected host localhost, got %q", h.ResolvedHost())
	}
	if h.ID() == "" {
		t.Error("expected container id")
	}
	if h.ReadyAt().Before(h.StartedAt()) {
		t.Error("ready before started")
	}
	if _, err := h.MappedPort(5000); err == nil {
		t.Error("expected error for port that is not exposed")
	}
	if eng.Count(containertest.Ready, "postgres") != 1 {
		t.Errorf("expected readiness to be awaited once, events: %v", eng.Kinds())
	}
}

func TestHandleStartIdempotent(t *testing.T) {
	eng := containertest.New()
	h := container.NewHandle(eng, postgresSpec(), quiet)
	ctx := context.Background()

	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := h.Start(ctx); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	if n := eng.Count(containertest.Run, "postgres"); n != 1 {
		t.Errorf("expected 1 run, got %d", n)
	}
}

func TestHandleFixedHostPort(t *testing.T) {
	eng := containertest.New()
	spec := postgresSpec()
	spec.HostPort = util.Some(15432)
	h := container.NewHandle(eng, spec, quiet)

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	port, err := h.MappedPort(5432)
	if err != nil {
		t.Fatalf("MappedPort failed: %v", err)
	}
	if port != 15432 {
		t.Errorf("expected 15432, got %d", port)
	}
}

func TestHandleSharedAlias(t *testing.T) {
	eng := containertest.New()
	eng.SharedNetworks = []string{"devnet"}
	spec := postgresSpec()
	spec.Network = "devnet"
	spec.Aliases = []string{"integresql-db"}
	spec.SharedAlias = "integresql-db"
	h := container.NewHandle(eng, spec, quiet)

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if h.ResolvedHost() != "integresql-db" {
		t.Errorf("expected alias as host, got %q", h.ResolvedHost())
	}
}

func TestHandleReadinessTimeout(t *testing.T) {
	eng := containertest.New()
	eng.NotReady = map[string]bool{"postgres": true}
	spec := postgresSpec()
	spec.StartupTimeout = 50 * time.Millisecond
	h := container.NewHandle(eng, spec, quiet)

	err := h.Start(context.Background())
	if !errors.Is(err, container.ErrReadinessTimeout) {
		t.Fatalf("expected ErrReadinessTimeout, got %v", err)
	}
	if h.Ready() {
		t.Error("handle ready after timeout")
	}
	if c, _ := eng.Live(); c != 0 {
		t.Errorf("expected container to be removed, %d live", c)
	}
	if eng.Count(containertest.Terminate, "postgres") != 1 {
		t.Errorf("expected terminate, events: %v", eng.Kinds())
	}
}

func TestHandleReadinessFailure(t *testing.T) {
	eng := containertest.New()
	eng.ReadyErr = map[string]error{"postgres": errors.New("container exited (1)")}
	h := container.NewHandle(eng, postgresSpec(), quiet)

	err := h.Start(context.Background())
	if !errors.Is(err, container.ErrContainerStart) {
		t.Fatalf("expected ErrContainerStart, got %v", err)
	}
	if errors.Is(err, container.ErrReadinessTimeout) {
		t.Error("exit must not be reported as timeout")
	}
	if c, _ := eng.Live(); c != 0 {
		t.Errorf("expected container to be removed, %d live", c)
	}
}

func TestHandleRunFailure(t *testing.T) {
	eng := containertest.New()
	cause := errors.New("pull access denied")
	eng.RunErr = map[string]error{"postgres": cause}
	h := container.NewHandle(eng, postgresSpec(), quiet)

	err := h.Start(context.Background())
	var se *container.StartError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StartError, got %T: %v", err, err)
	}
	if se.Name != "postgres" || se.Image != "postgres:17.4-alpine" {
		t.Errorf("unexpected start error fields: %+v", se)
	}
	if !errors.Is(err, cause) {
		t.Error("cause not wrapped")
	}
	if !errors.Is(err, container.ErrContainerStart) {
		t.Error("ErrContainerStart not wrapped")
	}
}

func TestHandleDependency(t *testing.T) {
	eng := containertest.New()
	db := container.NewHandle(eng, postgresSpec(), quiet)
	api := container.NewHandle(eng, container.Spec{
		Name:  "integresql",
		Image: "ghcr.io/allaboutapps/integresql:latest",
		Port:  5000,
	}, quiet, container.DependsOn(db))

	ctx := context.Background()
	if err := api.Start(ctx); !errors.Is(err, container.ErrContainerStart) {
		t.Fatalf("expected start to be refused, got %v", err)
	}
	if eng.Count(containertest.Run, "integresql") != 0 {
		t.Fatal("dependent container was launched before its dependency")
	}

	if err := db.Start(ctx); err != nil {
		t.Fatalf("db Start failed: %v", err)
	}
	if err := api.Start(ctx); err != nil {
		t.Fatalf("api Start failed: %v", err)
	}
}

func TestHandleInvalidSpec(t *testing.T) {
	eng := containertest.New()
	h := container.NewHandle(eng, container.Spec{Name: "broken", Port: 70000}, quiet)

	if err := h.Start(context.Background()); !errors.Is(err, container.ErrContainerStart) {
		t.Fatalf("expected start error, got %v", err)
	}
	if len(eng.Events()) != 0 {
		t.Errorf("expected no engine calls, got %v", eng.Kinds())
	}
}

func TestHandleStop(t *testing.T) {
	eng := containertest.New()
	h := container.NewHandle(eng, postgresSpec(), quiet)
	ctx := context.Background()

	if err := h.Stop(ctx); err != nil {
		t.Fatalf("Stop before Start failed: %v", err)
	}
	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := h.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if h.Ready() || h.ID() != "" {
		t.Error("runtime state not cleared")
	}
	if _, err := h.MappedPort(5432); !errors.Is(err, container.ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
	if err := h.Stop(ctx); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
	if n := eng.Count(containertest.Terminate, "postgres"); n != 1 {
		t.Errorf("expected 1 terminate, got %d", n)
	}
}

func TestHandleStopVanished(t *testing.T) {
	eng := containertest.New()
	h := container.NewHandle(eng, postgresSpec(), quiet)
	ctx := context.Background()

	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	// removed behind the handle's back
	if err := eng.Instance("postgres").Terminate(ctx); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	if err := h.Stop(ctx); err != nil {
		t.Fatalf("Stop of vanished container failed: %v", err)
	}
}

func TestHandleCopiesSpec(t *testing.T) {
	eng := containertest.New()
	spec := postgresSpec()
	h := container.NewHandle(eng, spec, quiet)
	spec.Env["POSTGRES_USER"] = "changed"

	if got := h.Spec().Env["POSTGRES_USER"]; got != "dbuser" {
		t.Errorf("handle spec changed by caller: %q", got)
	}
}
