package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) repairCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Verify the target directory and re-download files that do not match",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRepair(cmd.Context())
		},
	}
}

func (a *app) runRepair(ctx context.Context) error {
	s, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	m, err := s.fetchManifest(ctx)
	if err != nil {
		return err
	}

	opts := s.cfg.Repair()
	if r := s.reporter(a.stdout, m); r != nil {
		opts.Download.Progress = r
		r.Start()
		defer r.Stop()
	}

	report, err := s.repairer.Run(ctx, m, s.cfg.Target, opts)
	if err != nil {
		return repairExit(err)
	}

	fmt.Fprintf(a.stdout, "Status: %s\n", report.State)
	fmt.Fprintf(a.stdout, "Repair passes: %d\n", report.Attempts)
	for _, name := range report.Repaired {
		fmt.Fprintf(a.stdout, "  repaired %s\n", name)
	}
	return nil
}
