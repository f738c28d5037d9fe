package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/greatliontech/integresql-dev/internal/devservice"
	"github.com/greatliontech/integresql-dev/internal/output"
)

func newStatusCmd(a *app) *cobra.Command {
	var all bool
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recorded runs and the containers still present",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			service := a.cfg.DevServices.ServiceName
			if all {
				service = ""
			}

			j, err := a.journal(ctx)
			if err != nil {
				return fmt.Errorf("failed to open journal: %w", err)
			}
			defer j.Close()

			entries, err := j.List(ctx, service)
			if err != nil {
				return err
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tSERVICE\tSTATE\tNETWORK\tSTARTED\tDETAIL")
			for _, e := range entries {
				detail := e.Config[devservice.KeyBaseURL]
				if e.Failure != "" {
					detail = e.Failure
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					shortID(e.ID), e.Service, stateColor(e.State), e.Network,
					e.CreateTime.Local().Format(time.DateTime), detail)
			}
			w.Flush()

			if a.cfg.Output.URL != "" {
				sink, err := output.Open(ctx, a.cfg.Output)
				if err != nil {
					return err
				}
				defer sink.Close()
				if err := printPublished(ctx, os.Stdout, sink); err != nil {
					return err
				}
			}

			engine, err := a.engine()
			if err != nil {
				return err
			}
			defer engine.Close()
			if err := engine.Ping(ctx); err != nil {
				color.Yellow("Container engine unavailable: %v", err)
				return nil
			}
			// an empty service matches any value of the label
			inv, err := engine.Inventory(ctx, devservice.ServiceLabels(service))
			if err != nil {
				return err
			}
			if inv.Empty() {
				color.Green("No dev service containers or networks present")
				return nil
			}
			fmt.Printf("%d containers, %d networks present\n", len(inv.Containers), len(inv.Networks))
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include every service, not only the configured one")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to show")
	return cmd
}

func stateColor(state string) string {
	switch state {
	case devservice.Running.String():
		return color.GreenString(state)
	case devservice.FailedStartup.String():
		return color.RedString(state)
	case devservice.Starting.String(), devservice.Stopping.String():
		return color.YellowString(state)
	default:
		return state
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// printPublished shows the configuration other processes currently read
// from the sink.
func printPublished(ctx context.Context, w io.Writer, sink *output.Sink) error {
	values, err := sink.Read(ctx)
	if errors.Is(err, output.ErrNotPublished) {
		fmt.Fprintf(w, "Nothing published at %s\n", sink.Key())
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read published config: %w", err)
	}
	fmt.Fprintf(w, "Published at %s:\n", sink.Key())
	for _, k := range slices.Sorted(maps.Keys(values)) {
		fmt.Fprintf(w, "  %s=%s\n", k, values[k])
	}
	return nil
}
