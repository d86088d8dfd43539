package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"fitsync/internal/governor"
	"fitsync/internal/platform"
	syncengine "fitsync/internal/sync"
	"fitsync/internal/tui"
)

// SyncOptions holds the sync command's flags.
type SyncOptions struct {
	*RootOptions
	Auto          bool
	Directions    []string
	BatchSize     int
	MigrationMode bool
	CleanupCache  bool
	Status        bool
	ClearSession  string
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run the directional sync engine",
		Long: `Reconcile activities across the configured platforms.

Each direction src_to_dst lists new source activities, resolves them
against the catalog, converts file formats as needed and uploads with
replay-safe semantics. Exit code 3 means an API budget ran out with
partial progress committed; re-run later to resume from the cursor.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Auto, "auto", false, "run without the interactive direction picker")
	cmd.Flags().StringSliceVar(&opts.Directions, "directions", nil,
		"directions to sync, e.g. strava_to_garmin (default: enabled rules)")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "activities per direction per run (default from catalog, 10)")
	cmd.Flags().BoolVar(&opts.MigrationMode, "migration-mode", false, "lift the 30-day first-sync window for history migration")
	cmd.Flags().BoolVar(&opts.CleanupCache, "cleanup-cache", false, "purge expired cache files and exit")
	cmd.Flags().BoolVar(&opts.Status, "status", false, "print sync statistics and exit")
	cmd.Flags().StringVar(&opts.ClearSession, "clear-session", "",
		"clear a platform's stored session (strava, garmin, garmin_cn, igpsport) and exit")

	return cmd
}

func runSync(ctx context.Context, opts *SyncOptions) error {
	a, err := newApp(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	switch {
	case opts.ClearSession != "":
		return clearSession(a, opts.ClearSession)
	case opts.CleanupCache:
		return cleanupCache(ctx, a)
	case opts.Status:
		return printStatus(ctx, a)
	}

	directions, err := resolveDirections(ctx, a, opts)
	if err != nil {
		return err
	}
	if len(directions) == 0 {
		fmt.Println("No directions selected.")
		return nil
	}

	runOpts := syncengine.Options{
		BatchSize:        opts.BatchSize,
		MigrationMode:    opts.MigrationMode,
		FormatPreference: syncengine.DefaultFormatPreferences(directions),
	}

	summaries, err := a.exec.Run(ctx, directions, runOpts)
	printSummaries(summaries)
	if err != nil {
		return WrapExitError(ExitFailure, "sync aborted", err)
	}
	return exitFromSummaries(summaries)
}

// resolveDirections turns flags (or the picker) into validated directions.
func resolveDirections(ctx context.Context, a *app, opts *SyncOptions) ([]platform.Direction, error) {
	requested := opts.Directions
	if len(requested) == 0 {
		enabled, err := enabledDirections(ctx, a)
		if err != nil {
			return nil, err
		}
		if opts.Auto || !isatty.IsTerminal(os.Stdout.Fd()) {
			requested = enabled
		} else {
			picked, err := tui.PickDirections(knownDirections, enabled)
			if err != nil {
				return nil, WrapExitError(ExitFailure, "direction picker", err)
			}
			requested = picked
		}
	}

	directions := make([]platform.Direction, 0, len(requested))
	for _, raw := range requested {
		dir, err := platform.ParseDirection(a.registry, raw)
		if err != nil {
			return nil, WrapExitError(ExitUsage, "invalid direction", err)
		}
		if !a.cfg.PlatformConfigured(dir.Source) {
			return nil, NewExitError(ExitUsage,
				fmt.Sprintf("direction %s: platform %s is not configured", raw, dir.Source))
		}
		directions = append(directions, dir)
	}
	return directions, nil
}

// enabledDirections filters the known set by the catalog's rule rows and
// configured credentials.
func enabledDirections(ctx context.Context, a *app) ([]string, error) {
	var out []string
	for _, raw := range knownDirections {
		dir, err := platform.ParseDirection(a.registry, raw)
		if err != nil {
			continue
		}
		if !a.cfg.PlatformConfigured(dir.Source) || !a.cfg.PlatformConfigured(dir.Target) {
			continue
		}
		enabled, err := a.store.DirectionEnabled(ctx, dir.Source, dir.Target)
		if err != nil {
			return nil, WrapExitError(ExitFailure, "reading sync rules", err)
		}
		if enabled {
			out = append(out, raw)
		}
	}
	return out, nil
}

func printSummaries(summaries []syncengine.Summary) {
	if len(summaries) == 0 {
		return
	}
	fmt.Println()
	for _, s := range summaries {
		fmt.Println(tui.SummaryTitle.Render(strings.ReplaceAll(s.Direction.String(), "_to_", " -> ")))
		fmt.Printf("  %s  %s  %s  %s  %s\n",
			tui.SummaryGood.Render(fmt.Sprintf("synced %d", s.Synced)),
			tui.SummaryGood.Render(fmt.Sprintf("duplicate %d", s.Duplicate)),
			tui.SummaryWarn.Render(fmt.Sprintf("skipped %d", s.Skipped)),
			tui.SummaryBad.Render(fmt.Sprintf("failed %d", s.Failed)),
			tui.SummaryWarn.Render(fmt.Sprintf("pending %d", s.Pending)),
		)
		if s.Halt != nil {
			fmt.Printf("  %s\n", tui.SummaryBad.Render("stopped: "+s.Halt.Error()))
		}
	}
}

// exitFromSummaries maps direction halts onto the process exit contract.
func exitFromSummaries(summaries []syncengine.Summary) error {
	rateLimited := false
	var operational error
	for _, s := range summaries {
		if s.Halt == nil {
			continue
		}
		var denied *governor.DeniedError
		switch {
		case errors.As(s.Halt, &denied), errors.Is(s.Halt, platform.ErrRateLimited):
			rateLimited = true
		case errors.Is(s.Halt, context.Canceled):
			// A clean cancel with committed progress is not a failure.
		default:
			operational = s.Halt
		}
	}
	if operational != nil {
		return WrapExitError(ExitFailure, "direction halted", operational)
	}
	if rateLimited {
		return NewExitError(ExitRateLimited, "stopped on API budget; partial progress committed")
	}
	return nil
}

func clearSession(a *app, platformName string) error {
	switch platformName {
	case "strava":
		a.cfg.Strava.Cookie = ""
		a.cfg.Strava.AccessToken = ""
		if err := a.cfg.Save(); err != nil {
			return WrapExitError(ExitFailure, "clearing strava session", err)
		}
	case "garmin":
		if err := a.garmin.ClearSession(); err != nil {
			return WrapExitError(ExitFailure, "clearing garmin session", err)
		}
	case "garmin_cn":
		if err := a.garminCN.ClearSession(); err != nil {
			return WrapExitError(ExitFailure, "clearing garmin_cn session", err)
		}
	case "igpsport":
		a.cfg.IGPSport.LoginToken = ""
		if err := a.cfg.Save(); err != nil {
			return WrapExitError(ExitFailure, "clearing igpsport session", err)
		}
	default:
		return NewExitError(ExitUsage,
			fmt.Sprintf("unknown platform %q (sessions: strava, garmin, garmin_cn, igpsport)", platformName))
	}
	fmt.Printf("Cleared %s session; the next sync will need fresh credentials.\n", platformName)
	return nil
}

func cleanupCache(ctx context.Context, a *app) error {
	ttl := time.Duration(a.store.ConfigInt(ctx, "cache_ttl_days", 30)) * 24 * time.Hour
	removed, err := a.files.Sweep(ctx, ttl)
	if err != nil {
		return WrapExitError(ExitFailure, "sweeping cache", err)
	}
	fmt.Printf("Removed %d expired or dangling cache entries (TTL %s).\n", removed, ttl)
	return nil
}
