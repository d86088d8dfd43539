// Package cli is the fitsync driver: command parsing, wiring of the
// catalog, governor, cache and adapters, and the process exit contract
// (0 ok, 1 operational failure, 2 usage, 3 rate-limited stop).
package cli

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const (
	databaseFile = "sync_database.db"
	cacheDir     = "activity_cache"
	logFile      = "sync_logs.log"
	legacyState  = "sync_database.json"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Debug bool
	// Root is the project directory holding config, catalog and cache.
	Root string
}

// NewRootCommand creates the fitsync root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "fitsync",
		Short:         "Multi-platform athletic activity synchronization",
		Long:          "FitSync reconciles activity catalogs across Strava, Garmin Connect,\nIGPSport, OneDrive and Intervals.icu so every workout lands on every\nconfigured destination exactly once.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Root == "" {
				wd, err := os.Getwd()
				if err != nil {
					return WrapExitError(ExitFailure, "resolving working directory", err)
				}
				opts.Root = wd
			}
			return setupLogging(opts)
		},
	}

	cmd.PersistentFlags().BoolVar(&opts.Debug, "debug", false, "verbose logging")
	cmd.PersistentFlags().StringVar(&opts.Root, "root", "", "project directory (default: working directory)")

	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewConvertCommand(opts))

	return cmd
}

// setupLogging sends slog output to stderr and sync_logs.log.
func setupLogging(opts *RootOptions) error {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	out := io.Writer(os.Stderr)
	logPath := filepath.Join(opts.Root, logFile)
	if f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
		out = io.MultiWriter(os.Stderr, f)
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
	return nil
}
