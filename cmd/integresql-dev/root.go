package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	slogotel "github.com/remychantenay/slog-otel"
	"github.com/spf13/cobra"

	"github.com/greatliontech/integresql-dev/internal/config"
	"github.com/greatliontech/integresql-dev/internal/container"
	"github.com/greatliontech/integresql-dev/internal/journal"
	"github.com/greatliontech/integresql-dev/internal/telemetry"
)

const defaultConfigFile = "integresql-dev.yaml"

type app struct {
	configFile string
	cfg        *config.Config
	log        *slog.Logger
	shutdown   func(context.Context) error
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "integresql-dev",
		Short: "Run IntegreSQL and PostgreSQL containers for local development",
		Long: `integresql-dev starts a PostgreSQL container and an IntegreSQL container
wired to it, publishes the connection settings and removes everything again
on exit.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	rootCmd.SetVersionTemplate(`{{printf "integresql-dev version %s\n" .Version}}`)
	rootCmd.PersistentFlags().StringVar(&a.configFile, "config-file", defaultConfigFile, "path to config file")

	rootCmd.AddCommand(newUpCmd(a))
	rootCmd.AddCommand(newStatusCmd(a))
	rootCmd.AddCommand(newPruneCmd(a))
	return rootCmd
}

func (a *app) init(cmd *cobra.Command) error {
	c, err := config.FromFile(a.configFile)
	switch {
	case errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config-file"):
		c = config.Default()
	case err != nil:
		return fmt.Errorf("failed to load config: %w", err)
	}
	a.cfg = c

	logLevel := new(slog.Level)
	*logLevel = slog.LevelInfo
	if c.LogLevel != "" {
		if err := logLevel.UnmarshalText([]byte(c.LogLevel)); err != nil {
			return fmt.Errorf("failed to parse log level: %w", err)
		}
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	a.log = slog.New(slogotel.OtelHandler{
		Next: handler,
	})
	slog.SetDefault(a.log)

	a.shutdown = func(context.Context) error { return nil }
	if c.Telemetry {
		shutdown, err := setupTelemetry(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to set up telemetry: %w", err)
		}
		a.shutdown = shutdown
	}
	return nil
}

func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), gracePeriod())
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		a.log.Error("Failed to shutdown telemetry", "err", err)
	}
	return nil
}

func (a *app) engine() (*container.DockerEngine, error) {
	return container.NewDockerEngine(a.log)
}

// journal opens the run journal. A mem:// journal without a directory is
// kept in the user cache dir so separate invocations see each other's runs.
func (a *app) journal(ctx context.Context) (*journal.Journal, error) {
	jc := a.cfg.Journal
	if jc.URL == config.DefaultJournalURL && jc.Dir == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			return nil, err
		}
		jc.Dir = filepath.Join(dir, "integresql-dev")
	}
	return journal.Open(ctx, jc.URL, jc.Dir)
}

func gracePeriod() time.Duration {
	shutdownPeriod := 30
	if sdp, ok := os.LookupEnv("TERMINATION_GRACE_PERIOD"); ok {
		sdpi, err := strconv.Atoi(sdp)
		if err == nil {
			shutdownPeriod = sdpi
		}
	}
	return time.Duration(shutdownPeriod) * time.Second
}

func setupTelemetry(ctx context.Context) (func(context.Context) error, error) {
	instanceId := os.Getenv("SERVICE_INSTANCE_ID")
	ns := os.Getenv("SERVICE_NAMESPACE")

	return telemetry.Setup(ctx,
		telemetry.WithVersion(version),
		telemetry.WithInstanceId(instanceId),
		telemetry.WithNamespace(ns),
	)
}
