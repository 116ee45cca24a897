package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// verifyCommand checks every manifest file without modifying anything.
func (a *app) verifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check every manifest file against its checksum without downloading",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runVerify(cmd.Context())
		},
	}
}

func (a *app) runVerify(ctx context.Context) error {
	s, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	m, err := s.fetchManifest(ctx)
	if err != nil {
		return err
	}

	bad, err := s.repairer.Verify(ctx, m, s.cfg.Target, s.cfg.Concurrency)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "Manifest version: %s\n", m.Version)
	fmt.Fprintf(a.stdout, "Files: %d\n", m.Len())

	if len(bad) == 0 {
		fmt.Fprintln(a.stdout, "Status: VALID")
		return nil
	}

	fmt.Fprintln(a.stdout, "Status: INVALID")
	fmt.Fprintf(a.stdout, "Invalid files (%d):\n", len(bad))
	for _, name := range bad {
		fmt.Fprintf(a.stdout, "  - %s\n", name)
	}
	fmt.Fprintln(a.stdout, "\nRun 'assetsync repair' to re-download them.")
	return &exitError{code: ExitValidationFailed, err: fmt.Errorf("%d file(s) failed verification", len(bad))}
}
