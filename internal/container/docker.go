package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/containerd/errdefs"
	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	dockernetwork "github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/greatliontech/integresql-dev/internal/util"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/network"
	"github.com/testcontainers/testcontainers-go/wait"
)

const pingInterval = 10 * time.Second

var _ Engine = &DockerEngine{}

// DockerEngine runs containers through testcontainers-go and talks to the
// daemon directly for health checks and inventory.
type DockerEngine struct {
	client    *client.Client
	available *util.TimeLock[time.Time]
	log       *slog.Logger
}

// NewDockerEngine connects using the DOCKER_HOST family of environment
// variables, like the docker CLI.
func NewDockerEngine(log *slog.Logger) (*DockerEngine, error) {
	if log == nil {
		log = slog.Default()
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	e := &DockerEngine{
		client: cli,
		log:    log,
	}
	e.available = util.NewTimeLock(pingInterval, e.ping)
	return e, nil
}

func (e *DockerEngine) Close() error {
	return e.client.Close()
}

// Ping answers from a short-lived cache so repeated starts do not hit the
// daemon every time. Failures are never cached.
func (e *DockerEngine) Ping(ctx context.Context) error {
	_, err := e.available.Get(ctx)
	return err
}

func (e *DockerEngine) ping(ctx context.Context, last time.Time) (time.Time, error) {
	p, err := e.client.Ping(ctx)
	if err != nil {
		return last, err
	}
	e.log.Debug("Container engine available", "api_version", p.APIVersion, "os", p.OSType)
	return time.Now(), nil
}

func (e *DockerEngine) CreateNetwork(ctx context.Context, labels map[string]string) (Network, error) {
	nw, err := network.New(ctx,
		network.WithDriver("bridge"),
		network.WithAttachable(),
		network.WithLabels(labels),
	)
	if err != nil {
		return nil, fmt.Errorf("create network: %w", err)
	}
	e.log.Debug("Network created", "network", nw.Name, "id", nw.ID)
	return &dockerNetwork{nw: nw}, nil
}

func (e *DockerEngine) NetworkExists(ctx context.Context, name string) error {
	if _, err := e.client.NetworkInspect(ctx, name, dockernetwork.InspectOptions{}); err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("network %q does not exist", name)
		}
		return fmt.Errorf("inspect network %q: %w", name, err)
	}
	return nil
}

func (e *DockerEngine) Run(ctx context.Context, spec Spec) (Instance, error) {
	req := testcontainers.ContainerRequest{
		Image:        spec.Image,
		ExposedPorts: []string{spec.ExposedPort()},
		Env:          spec.Env,
		Cmd:          spec.Cmd,
		Labels:       spec.Labels,
	}
	if spec.Network != "" {
		req.Networks = []string{spec.Network}
		if len(spec.Aliases) > 0 {
			req.NetworkAliases = map[string][]string{spec.Network: spec.Aliases}
		}
	}

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		// the daemon may be gone, check again on the next Ping
		e.available.Invalidate()
		// A container that was created but failed to launch is still returned.
		if dc, ok := c.(*testcontainers.DockerContainer); ok && dc != nil {
			if terr := dc.Terminate(context.WithoutCancel(ctx)); terr != nil && !errdefs.IsNotFound(terr) {
				err = errors.Join(err, fmt.Errorf("terminate: %w", terr))
			}
		}
		return nil, err
	}
	return &dockerInstance{c: c}, nil
}

func (e *DockerEngine) Inventory(ctx context.Context, labels map[string]string) (Inventory, error) {
	args := labelFilter(labels)
	inv := Inventory{}

	containers, err := e.client.ContainerList(ctx, dockercontainer.ListOptions{All: true, Filters: args})
	if err != nil {
		return inv, fmt.Errorf("list containers: %w", err)
	}
	for _, c := range containers {
		inv.Containers = append(inv.Containers, c.ID)
	}

	networks, err := e.client.NetworkList(ctx, dockernetwork.ListOptions{Filters: args})
	if err != nil {
		return inv, fmt.Errorf("list networks: %w", err)
	}
	for _, n := range networks {
		inv.Networks = append(inv.Networks, n.Name)
	}
	return inv, nil
}

// Prune force-removes every container and network carrying all of labels
// and returns what it removed. Resources that vanish meanwhile are skipped.
func (e *DockerEngine) Prune(ctx context.Context, labels map[string]string) (Inventory, error) {
	inv, err := e.Inventory(ctx, labels)
	if err != nil {
		return Inventory{}, err
	}

	removed := Inventory{}
	var errs []error
	for _, id := range inv.Containers {
		err := e.client.ContainerRemove(ctx, id, dockercontainer.RemoveOptions{Force: true, RemoveVolumes: true})
		if err != nil && !errdefs.IsNotFound(err) {
			errs = append(errs, fmt.Errorf("remove container %s: %w", id, err))
			continue
		}
		removed.Containers = append(removed.Containers, id)
	}
	// networks last, they cannot be removed while containers are attached
	for _, name := range inv.Networks {
		if err := e.client.NetworkRemove(ctx, name); err != nil && !errdefs.IsNotFound(err) {
			errs = append(errs, fmt.Errorf("remove network %s: %w", name, err))
			continue
		}
		removed.Networks = append(removed.Networks, name)
	}
	return removed, errors.Join(errs...)
}

// labelFilter matches resources carrying every label. An empty value
// matches any value.
func labelFilter(labels map[string]string) filters.Args {
	args := filters.NewArgs()
	for k, v := range labels {
		if v == "" {
			args.Add("label", k)
			continue
		}
		args.Add("label", k+"="+v)
	}
	return args
}

type dockerNetwork struct {
	nw *testcontainers.DockerNetwork
}

func (n *dockerNetwork) Name() string {
	return n.nw.Name
}

func (n *dockerNetwork) Remove(ctx context.Context) error {
	if err := n.nw.Remove(ctx); err != nil && !errdefs.IsNotFound(err) {
		return err
	}
	return nil
}

type dockerInstance struct {
	c testcontainers.Container
}

func (i *dockerInstance) ID() string {
	return i.c.GetContainerID()
}

func (i *dockerInstance) Host(ctx context.Context) (string, error) {
	return i.c.Host(ctx)
}

func (i *dockerInstance) MappedPort(ctx context.Context, port nat.Port) (int, error) {
	p, err := i.c.MappedPort(ctx, port)
	if err != nil {
		return 0, err
	}
	return p.Int(), nil
}

func (i *dockerInstance) WaitUntilReady(ctx context.Context, strategy wait.Strategy) error {
	return strategy.WaitUntilReady(ctx, i.c)
}

func (i *dockerInstance) Terminate(ctx context.Context) error {
	return i.c.Terminate(ctx)
}
