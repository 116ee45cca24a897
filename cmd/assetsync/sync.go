package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ligustah/assetsync/internal/downloader"
)

func (a *app) syncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Download every manifest file, then repair any that failed",
		Long: `Fetch the manifest, synchronize every listed file into the target
directory and, if any file failed, run repair passes until the directory
verifies or the repair attempts are used up.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSync(cmd.Context())
		},
	}
}

func (a *app) runSync(ctx context.Context) error {
	s, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	m, err := s.fetchManifest(ctx)
	if err != nil {
		return err
	}

	opts := s.cfg.Downloader()
	if r := s.reporter(a.stdout, m); r != nil {
		opts.Progress = r
		r.Start()
		defer r.Stop()
	}

	res, err := s.dl.Synchronize(ctx, m, s.cfg.Target, opts)
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, downloader.ErrNotDirectory), errors.Is(err, downloader.ErrNoTarget):
		return &exitError{code: ExitInvalidArgs, err: err}
	case err != nil:
		return &exitError{code: ExitStorageError, err: err}
	}

	if res.OK() {
		fmt.Fprintf(a.stdout, "[assetsync] Synchronized %d files into %s\n", len(res.Succeeded), s.cfg.Target)
		return nil
	}

	s.log.WithField("count", len(res.Failed)).Warn("some files failed, repairing")
	repairOpts := s.cfg.Repair()
	repairOpts.Download.Progress = opts.Progress

	report, err := s.repairer.Run(ctx, m, s.cfg.Target, repairOpts)
	if err != nil {
		return repairExit(err)
	}
	fmt.Fprintf(a.stdout, "[assetsync] Synchronized %d files into %s (%d repaired)\n",
		m.Len(), s.cfg.Target, len(report.Repaired))
	return nil
}
