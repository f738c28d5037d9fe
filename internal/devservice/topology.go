package devservice

import (
	"context"
	"fmt"
	"sync"

	"github.com/greatliontech/integresql-dev/internal/container"
)

type NetworkMode int

const (
	Private NetworkMode = iota
	Shared
)

func (m NetworkMode) String() string {
	if m == Shared {
		return "shared"
	}
	return "private"
}

type TopologyRequest struct {
	Shared        bool
	SharedNetwork string
	ServiceName   string
	// Labels applied to a private network.
	Labels map[string]string
}

// Topology is the network both containers of a run join and the aliases
// they are reachable under on it.
type Topology struct {
	Mode           NetworkMode
	Network        string
	CompanionAlias string
	DatabaseAlias  string

	// set only for a network this run created
	owned       container.Network
	releaseOnce sync.Once
	releaseErr  error
}

func CompanionAlias(service string) string {
	return service
}

func DatabaseAlias(service string) string {
	return service + "-db"
}

// ResolveTopology joins the shared network, which must already exist, or
// creates a private one owned by the caller.
func ResolveTopology(ctx context.Context, engine container.Engine, req TopologyRequest) (*Topology, error) {
	if req.ServiceName == "" {
		return nil, fmt.Errorf("service name is required")
	}
	t := &Topology{
		CompanionAlias: CompanionAlias(req.ServiceName),
		DatabaseAlias:  DatabaseAlias(req.ServiceName),
	}

	if req.Shared {
		if req.SharedNetwork == "" {
			return nil, fmt.Errorf("shared network name is required")
		}
		if err := engine.NetworkExists(ctx, req.SharedNetwork); err != nil {
			return nil, fmt.Errorf("join shared network: %w", err)
		}
		t.Mode = Shared
		t.Network = req.SharedNetwork
		return t, nil
	}

	nw, err := engine.CreateNetwork(ctx, req.Labels)
	if err != nil {
		return nil, fmt.Errorf("create private network: %w", err)
	}
	t.Mode = Private
	t.Network = nw.Name()
	t.owned = nw
	return t, nil
}

// Owned reports whether the run created the network and must release it.
func (t *Topology) Owned() bool {
	return t.owned != nil
}

// Release removes a private network. It never touches a shared one and
// only acts once.
func (t *Topology) Release(ctx context.Context) error {
	if t.owned == nil {
		return nil
	}
	t.releaseOnce.Do(func() {
		t.releaseErr = t.owned.Remove(ctx)
	})
	return t.releaseErr
}

// SharedAlias is the alias a container is reported under on a shared
// network, empty in private mode.
func (t *Topology) SharedAlias(alias string) string {
	if t.Mode != Shared {
		return ""
	}
	return alias
}
