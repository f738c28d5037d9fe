package container

import (
	"context"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Engine is the container runtime the handles run on.
type Engine interface {
	// Ping reports whether the engine is reachable.
	Ping(ctx context.Context) error
	// CreateNetwork creates a network owned by the caller.
	CreateNetwork(ctx context.Context, labels map[string]string) (Network, error)
	// NetworkExists checks that an externally managed network is present.
	NetworkExists(ctx context.Context, name string) error
	// Run creates and launches a container. It does not wait for readiness.
	// On error nothing is left behind.
	Run(ctx context.Context, spec Spec) (Instance, error)
	// Inventory lists the containers and networks carrying all of labels.
	// An empty label value matches any value.
	Inventory(ctx context.Context, labels map[string]string) (Inventory, error)
}

type Network interface {
	Name() string
	Remove(ctx context.Context) error
}

// Instance is a launched container.
type Instance interface {
	ID() string
	Host(ctx context.Context) (string, error)
	MappedPort(ctx context.Context, port nat.Port) (int, error)
	WaitUntilReady(ctx context.Context, strategy wait.Strategy) error
	Terminate(ctx context.Context) error
}

// Inventory is a snapshot of engine resources, by container id and network
// name.
type Inventory struct {
	Containers []string
	Networks   []string
}

func (i Inventory) Empty() bool {
	return len(i.Containers) == 0 && len(i.Networks) == 0
}
