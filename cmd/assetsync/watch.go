package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ligustah/assetsync/internal/repair"
	"github.com/ligustah/assetsync/internal/watch"
)

func (a *app) watchCommand() *cobra.Command {
	var applied string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the source and apply new manifest versions until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWatch(cmd.Context(), applied)
		},
	}
	cmd.Flags().StringVar(&applied, "installed-version", "", "Version already present in the target directory")
	return cmd
}

func (a *app) runWatch(ctx context.Context, installed string) error {
	s, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	opts := s.cfg.WatchOptions()
	opts.OnApplied = func(version string, report *repair.Report) {
		fmt.Fprintf(a.stdout, "[assetsync] Applied version %s (%s, %d repaired)\n",
			version, report.State, len(report.Repaired))
	}

	w := watch.New(s.src, s.repairer, s.cfg.Target, s.log, opts)
	w.SetApplied(installed)

	err = w.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
