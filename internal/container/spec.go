package container

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/greatliontech/integresql-dev/internal/util"
)

// Spec describes one container to run. A Handle copies the spec it is given,
// so later changes by the caller have no effect.
type Spec struct {
	// Logical name used in logs and errors, e.g. "postgres".
	Name  string
	Image string

	// Internal port the service listens on.
	Port int
	// Fixed host port. Unset asks the engine for a free one.
	HostPort util.Optional[int]

	Env    map[string]string
	Cmd    []string
	Labels map[string]string

	// Network to join and the aliases to register on it.
	Network string
	Aliases []string
	// When set the container joined a shared network and is reported
	// under this alias instead of the engine host.
	SharedAlias string

	// Readiness is enforced by Handle.Start. Nil means running is ready.
	Readiness      Predicate
	StartupTimeout time.Duration
}

func (s Spec) ContainerPort() nat.Port {
	return nat.Port(fmt.Sprintf("%d/tcp", s.Port))
}

// ExposedPort is the port spec handed to the engine: "host:internal/tcp"
// for a fixed binding, "internal/tcp" otherwise.
func (s Spec) ExposedPort() string {
	if hp, ok := s.HostPort.Get(); ok {
		return fmt.Sprintf("%d:%d/tcp", hp, s.Port)
	}
	return string(s.ContainerPort())
}

func (s Spec) Validate() error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if s.Image == "" {
		errs = append(errs, errors.New("image is required"))
	}
	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", s.Port))
	}
	if hp, ok := s.HostPort.Get(); ok && (hp < 1 || hp > 65535) {
		errs = append(errs, fmt.Errorf("host port %d out of range", hp))
	}
	if s.SharedAlias != "" && s.Network == "" {
		errs = append(errs, errors.New("shared alias without network"))
	}
	return errors.Join(errs...)
}

func (s Spec) clone() Spec {
	s.Env = maps.Clone(s.Env)
	s.Labels = maps.Clone(s.Labels)
	s.Cmd = slices.Clone(s.Cmd)
	s.Aliases = slices.Clone(s.Aliases)
	return s
}
