package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

// Exit codes
const (
	ExitSuccess          = 0
	ExitGeneralError     = 1
	ExitInvalidArgs      = 2
	ExitSourceNotAccess  = 3
	ExitRepairFailed     = 4
	ExitStorageError     = 5
	ExitValidationFailed = 7
	ExitInterrupted      = 130
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\n[assetsync] Received interrupt, shutting down...")
		cancel()
	}()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// exitError carries the process exit code for a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	fmt.Fprintf(stderr, "Error: %v\n", err)

	var ee *exitError
	switch {
	case errors.As(err, &ee):
		return ee.code
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	default:
		// Flag parsing and unknown commands.
		return ExitInvalidArgs
	}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "assetsync",
		Short: "Synchronize a directory with a remote manifest of zstd-compressed assets",
		Long: `assetsync downloads missing or stale assets listed in a remote manifest,
decompresses them in place, verifies SHA-256 checksums and repairs files that
do not match.

Sources are HTTP(S) base URLs or bucket URLs (file://, s3://, gs://, mem://).
Every object is stored as "<name>.zst" next to the manifest.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Usage()
			return &exitError{code: ExitInvalidArgs, err: errors.New("a command is required")}
		},
	}

	a.bindFlags(root)
	root.AddCommand(
		a.syncCommand(),
		a.repairCommand(),
		a.verifyCommand(),
		a.watchCommand(),
	)
	return root
}
