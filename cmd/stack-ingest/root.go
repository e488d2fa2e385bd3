package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/stackvity/stack-ingest/internal/cli"
	"github.com/stackvity/stack-ingest/internal/cli/config"
	"github.com/stackvity/stack-ingest/pkg/ingest"
)

var (
	// These are set during build time using -ldflags
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// newRootCmd builds the stack-ingest command with its persistent and local flags.
func newRootCmd() *cobra.Command {
	var (
		cfgFile     string
		profileName string
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "stack-ingest -i <rootDir>",
		Short: "Walks a directory tree and publishes a record for every retained file.",
		Long: `stack-ingest walks a directory tree, classifies every file by extension
and publishes a record with filesystem metadata and a content digest for each
retained file (Text, Archive, Email).

Records are written as JSON lines or msgpack to stdout or a file. Progress is
shown in an interactive Terminal UI when running in a terminal. A digest cache,
a Prometheus metrics endpoint and a watch mode are available.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			opts, logger, err := config.LoadAndValidate(cfgFile, profileName, version, verbose, cmd.Flags())
			if err != nil {
				return err
			}
			if opts.TuiEnabled && !interactive(opts) {
				logger.Debug("No terminal available for the TUI, disabling it")
				opts.TuiEnabled = false
			}

			return cli.RunWithStreams(ctx, opts, logger, cli.Streams{Out: cmd.OutOrStdout(), Err: cmd.ErrOrStderr()})
		},
	}

	cmd.SetVersionTemplate(`{{.Use}} version {{.Version}}` + "\n")
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Configuration file path (default is search standard locations like ., $HOME/.config/stack-ingest/)")
	cmd.PersistentFlags().StringVar(&profileName, "profile", "", "Name of configuration profile to use")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose (debug) logging output (disables TUI)")

	config.RegisterFlags(cmd.Flags())
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

// interactive reports whether the TUI can draw on stderr without records
// being interleaved on the same terminal.
func interactive(opts ingest.Options) bool {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return false
	}
	if opts.Output.Path == ingest.DefaultRecordOutputPath && term.IsTerminal(int(os.Stdout.Fd())) {
		return false
	}
	return true
}

// Execute runs the root command and exits non-zero on error. Cobra prints the error.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
