package main

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/greatliontech/integresql-dev/internal/devservice"
	"github.com/greatliontech/integresql-dev/internal/output"
)

func newUpCmd(a *app) *cobra.Command {
	var printEnv bool

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start the dev services and keep them running until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			engine, err := a.engine()
			if err != nil {
				return err
			}
			defer engine.Close()

			j, err := a.journal(ctx)
			if err != nil {
				return fmt.Errorf("failed to open journal: %w", err)
			}
			defer func() {
				if err := j.Close(); err != nil {
					a.log.Error("Failed to close journal", "err", err)
				}
			}()

			opts := []devservice.Option{
				devservice.WithLogger(a.log),
				devservice.WithJournal(j),
			}
			if a.cfg.Output.URL != "" {
				sink, err := output.Open(ctx, a.cfg.Output)
				if err != nil {
					return err
				}
				defer sink.Close()
				opts = append(opts, devservice.WithSink(sink))
			}

			ctrl, err := devservice.NewController(engine, devservice.NewRegistry(), opts...)
			if err != nil {
				return err
			}
			run, err := ctrl.Start(ctx, a.cfg.DevServices)
			if err != nil {
				return err
			}

			printConfig(run.Config().Map(), printEnv)

			<-ctx.Done()
			a.log.Info("Shutdown signal received")

			closeCtx, cancel := context.WithTimeout(context.Background(), gracePeriod())
			defer cancel()
			run.Close(closeCtx)
			if errs := run.CleanupErrors(); len(errs) > 0 {
				color.Yellow("%d resources could not be removed, run prune to retry", len(errs))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&printEnv, "print-env", false, "print the config as environment variables")
	return cmd
}

func printConfig(values map[string]string, asEnv bool) {
	keys := slices.Sorted(maps.Keys(values))
	if asEnv {
		for _, k := range keys {
			fmt.Fprintf(os.Stdout, "%s=%s\n", output.EnvKey(k), values[k])
		}
		return
	}
	color.Green("IntegreSQL dev service is up")
	for _, k := range keys {
		fmt.Fprintf(os.Stdout, "  %s %s\n", color.CyanString("%-12s", k), values[k])
	}
}
