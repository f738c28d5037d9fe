// Package containertest provides an in-memory container.Engine for tests.
package containertest

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/go-connections/nat"
	"github.com/greatliontech/integresql-dev/internal/container"
	"github.com/testcontainers/testcontainers-go/wait"
)

const firstDynamicPort = 32768

// Event kinds recorded by Engine.
const (
	NetworkCreate = "network-create"
	NetworkRemove = "network-remove"
	Run           = "run"
	Ready         = "ready"
	Terminate     = "terminate"
)

type Event struct {
	Kind string
	// Spec name for container events, network name otherwise.
	Name string
	At   time.Time
}

// Engine fakes a container engine. Failures are injected through the
// exported fields, keyed by spec name where they apply to one container.
// Configure it before handing it out.
type Engine struct {
	PingErr          error
	CreateNetworkErr error
	NetworkRemoveErr error
	RunErr           map[string]error
	// RunPanic makes Run panic with the value instead of returning.
	RunPanic map[string]any
	ReadyErr map[string]error
	// NotReady containers block in WaitUntilReady until the context ends.
	NotReady map[string]bool
	// ReadyDelay holds WaitUntilReady back for a while.
	ReadyDelay   map[string]time.Duration
	TerminateErr map[string]error
	// Networks that exist outside of this engine's control.
	SharedNetworks []string
	HostName       string

	mu       sync.Mutex
	events   []Event
	nextPort int
	seq      int
	live     map[string]*Instance
	networks map[string]map[string]string
}

var _ container.Engine = &Engine{}

func New() *Engine {
	return &Engine{}
}

func (e *Engine) init() {
	if e.live == nil {
		e.live = map[string]*Instance{}
		e.networks = map[string]map[string]string{}
		e.nextPort = firstDynamicPort
	}
}

func (e *Engine) record(kind, name string) {
	e.events = append(e.events, Event{Kind: kind, Name: name, At: time.Now()})
}

func (e *Engine) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.PingErr
}

func (e *Engine) CreateNetwork(ctx context.Context, labels map[string]string) (container.Network, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.init()
	if e.CreateNetworkErr != nil {
		return nil, e.CreateNetworkErr
	}
	e.seq++
	name := fmt.Sprintf("testnet-%d", e.seq)
	e.networks[name] = maps.Clone(labels)
	e.record(NetworkCreate, name)
	return &network{engine: e, name: name}, nil
}

func (e *Engine) NetworkExists(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.init()
	if slices.Contains(e.SharedNetworks, name) {
		return nil
	}
	if _, ok := e.networks[name]; ok {
		return nil
	}
	return fmt.Errorf("network %q does not exist", name)
}

func (e *Engine) Run(ctx context.Context, spec container.Spec) (container.Instance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.init()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if v, ok := e.RunPanic[spec.Name]; ok {
		panic(v)
	}
	if err := e.RunErr[spec.Name]; err != nil {
		return nil, err
	}
	if spec.Network != "" {
		if _, ok := e.networks[spec.Network]; !ok && !slices.Contains(e.SharedNetworks, spec.Network) {
			return nil, fmt.Errorf("network %q not found", spec.Network)
		}
	}

	port, ok := spec.HostPort.Get()
	if !ok {
		port = e.nextPort
		e.nextPort++
	}
	for _, inst := range e.live {
		if inst.port == port {
			return nil, fmt.Errorf("port %d is already allocated", port)
		}
	}

	e.seq++
	inst := &Instance{
		engine: e,
		id:     fmt.Sprintf("container-%d", e.seq),
		spec:   spec,
		port:   port,
	}
	e.live[inst.id] = inst
	e.record(Run, spec.Name)
	return inst, nil
}

func (e *Engine) Inventory(ctx context.Context, labels map[string]string) (container.Inventory, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.init()
	inv := container.Inventory{}
	for id, inst := range e.live {
		if matches(inst.spec.Labels, labels) {
			inv.Containers = append(inv.Containers, id)
		}
	}
	for name, l := range e.networks {
		if matches(l, labels) {
			inv.Networks = append(inv.Networks, name)
		}
	}
	return inv, nil
}

// Events returns a copy of everything recorded so far, oldest first.
func (e *Engine) Events() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Event, len(e.events))
	copy(out, e.events)
	return out
}

// Kinds is Events reduced to "kind:name" strings.
func (e *Engine) Kinds() []string {
	var out []string
	for _, ev := range e.Events() {
		out = append(out, ev.Kind+":"+ev.Name)
	}
	return out
}

// Count returns how many events of kind were recorded for name.
func (e *Engine) Count(kind, name string) int {
	n := 0
	for _, ev := range e.Events() {
		if ev.Kind == kind && ev.Name == name {
			n++
		}
	}
	return n
}

// Live is the number of containers and networks not yet removed.
func (e *Engine) Live() (containers, networks int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.live), len(e.networks)
}

// Instance returns the live container started from the spec called name.
func (e *Engine) Instance(name string) *Instance {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, inst := range e.live {
		if inst.spec.Name == name {
			return inst
		}
	}
	return nil
}

type network struct {
	engine *Engine
	name   string
}

func (n *network) Name() string {
	return n.name
}

func (n *network) Remove(ctx context.Context) error {
	e := n.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.NetworkRemoveErr != nil {
		return e.NetworkRemoveErr
	}
	for _, inst := range e.live {
		if inst.spec.Network == n.name {
			return fmt.Errorf("network %s has active endpoints", n.name)
		}
	}
	delete(e.networks, n.name)
	e.record(NetworkRemove, n.name)
	return nil
}

// Instance is a fake running container.
type Instance struct {
	engine *Engine
	id     string
	spec   container.Spec
	port   int
}

var _ container.Instance = &Instance{}

func (i *Instance) ID() string {
	return i.id
}

// Spec is the spec the container was started from.
func (i *Instance) Spec() container.Spec {
	return i.spec
}

func (i *Instance) Host(ctx context.Context) (string, error) {
	if i.engine.HostName != "" {
		return i.engine.HostName, nil
	}
	return "localhost", nil
}

func (i *Instance) MappedPort(ctx context.Context, port nat.Port) (int, error) {
	if port.Int() != i.spec.Port {
		return 0, fmt.Errorf("port %s is not exposed", port)
	}
	return i.port, nil
}

func (i *Instance) WaitUntilReady(ctx context.Context, _ wait.Strategy) error {
	e := i.engine
	e.mu.Lock()
	notReady := e.NotReady[i.spec.Name]
	delay := e.ReadyDelay[i.spec.Name]
	err := e.ReadyErr[i.spec.Name]
	e.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if notReady {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.record(Ready, i.spec.Name)
	e.mu.Unlock()
	return nil
}

func (i *Instance) Terminate(ctx context.Context) error {
	e := i.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.TerminateErr[i.spec.Name]; err != nil {
		return err
	}
	if _, ok := e.live[i.id]; !ok {
		return fmt.Errorf("no such container %s: %w", i.id, errdefs.ErrNotFound)
	}
	delete(e.live, i.id)
	e.record(Terminate, i.spec.Name)
	return nil
}

func matches(have, want map[string]string) bool {
	for k, v := range want {
		got, ok := have[k]
		if !ok || (v != "" && got != v) {
			return false
		}
	}
	return true
}
