package devservice

import (
	"maps"
	"regexp"

	"github.com/greatliontech/integresql-dev/internal/config"
	"github.com/greatliontech/integresql-dev/internal/container"
)

const (
	PostgresPort   = 5432
	IntegreSQLPort = 5000

	LabelService = "integresql-dev.service"
	LabelRun     = "integresql-dev.run"
)

// The companion logs this once its listener is bound. It is written as
// JSON, so the newline shows up escaped.
var companionReady = regexp.MustCompile(`http server started on \[::\]:5000`)

var postgresCmd = []string{
	"postgres",
	"-c", "shared_buffers=128MB",
	"-c", "fsync=off",
	"-c", "synchronous_commit=off",
	"-c", "full_page_writes=off",
	"-c", "max_connections=100",
	"-c", "client_min_messages=warning",
}

// ServiceLabels select every resource ever started for service.
func ServiceLabels(service string) map[string]string {
	return map[string]string{LabelService: service}
}

// RunLabels select the resources of one run.
func RunLabels(service, runID string) map[string]string {
	l := ServiceLabels(service)
	l[LabelRun] = runID
	return l
}

func DatabaseSpec(cfg config.DevServices, topo *Topology, labels map[string]string) container.Spec {
	env := map[string]string{}
	maps.Copy(env, cfg.DB.ContainerEnv)
	env["POSTGRES_USER"] = cfg.DB.Username
	env["POSTGRES_PASSWORD"] = cfg.DB.Password
	env["POSTGRES_DB"] = cfg.DB.Database

	return container.Spec{
		Name:           "postgres",
		Image:          cfg.DB.ImageName,
		Port:           PostgresPort,
		HostPort:       cfg.DB.Port,
		Env:            env,
		Cmd:            postgresCmd,
		Labels:         labels,
		Network:        topo.Network,
		Aliases:        []string{topo.DatabaseAlias},
		Readiness:      container.ListeningPort{},
		StartupTimeout: cfg.StartupTimeout,
	}
}

// CompanionSpec wires the companion to the database by network alias,
// never by the port mapped on the host.
func CompanionSpec(cfg config.DevServices, topo *Topology, labels map[string]string) container.Spec {
	env := map[string]string{}
	maps.Copy(env, cfg.ContainerEnv)
	env["PGHOST"] = topo.DatabaseAlias
	env["PGUSER"] = cfg.DB.Username
	env["PGPASSWORD"] = cfg.DB.Password

	return container.Spec{
		Name:           "integresql",
		Image:          cfg.ImageName,
		Port:           IntegreSQLPort,
		HostPort:       cfg.Port,
		Env:            env,
		Labels:         labels,
		Network:        topo.Network,
		Aliases:        []string{topo.CompanionAlias},
		SharedAlias:    topo.SharedAlias(topo.CompanionAlias),
		Readiness:      container.LogPattern{Pattern: companionReady, Occurrence: 1},
		StartupTimeout: cfg.StartupTimeout,
	}
}
