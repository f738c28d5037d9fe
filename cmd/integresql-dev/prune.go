package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/greatliontech/integresql-dev/internal/devservice"
)

func newPruneCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove containers and networks left behind by earlier runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, err := a.engine()
			if err != nil {
				return err
			}
			defer engine.Close()

			if err := engine.Ping(ctx); err != nil {
				return fmt.Errorf("%w: %w", devservice.ErrEnvironmentUnavailable, err)
			}
			removed, err := engine.Prune(ctx, devservice.ServiceLabels(a.cfg.DevServices.ServiceName))
			if len(removed.Containers) > 0 || len(removed.Networks) > 0 {
				color.Green("Removed %d containers and %d networks", len(removed.Containers), len(removed.Networks))
			} else if err == nil {
				fmt.Println("Nothing to remove")
			}
			return err
		},
	}
}
