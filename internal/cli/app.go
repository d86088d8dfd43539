package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"fitsync/internal/cache"
	"fitsync/internal/catalog"
	"fitsync/internal/config"
	"fitsync/internal/convert"
	"fitsync/internal/governor"
	"fitsync/internal/matcher"
	"fitsync/internal/platform"
	"fitsync/internal/platform/garmin"
	"fitsync/internal/platform/igpsport"
	"fitsync/internal/platform/intervalsicu"
	"fitsync/internal/platform/onedrive"
	"fitsync/internal/platform/strava"
	"fitsync/internal/sport"
	syncengine "fitsync/internal/sync"
)

// knownDirections is the closed direction vocabulary, in run order.
var knownDirections = []string{
	"strava_to_garmin",
	"garmin_to_strava",
	"strava_to_onedrive",
	"garmin_to_onedrive",
	"strava_to_igpsport",
	"igpsport_to_intervals_icu",
	"garmin_cn_to_garmin",
	"garmin_to_garmin_cn",
	"garmin_cn_to_strava",
}

// app wires one invocation's collaborators together.
type app struct {
	cfg      *config.Config
	store    *catalog.Catalog
	registry *platform.Registry
	gov      *governor.Governor
	files    *cache.Cache
	exec     *syncengine.Executor

	garmin   *garmin.Adapter
	garminCN *garmin.Adapter
}

func newApp(ctx context.Context, opts *RootOptions) (*app, error) {
	cfg, err := config.Load(opts.Root)
	if errors.Is(err, config.ErrNoConfig) {
		path, cerr := config.CreateExample(opts.Root)
		if cerr != nil {
			return nil, WrapExitError(ExitFailure, "creating example config", cerr)
		}
		return nil, NewExitError(ExitUsage,
			fmt.Sprintf("no configuration found; an example was written to %s; fill in your platform credentials", path))
	}
	if err != nil {
		return nil, WrapExitError(ExitFailure, "loading configuration", err)
	}
	cfg.General.DebugMode = cfg.General.DebugMode || opts.Debug

	store, err := catalog.Open(filepath.Join(opts.Root, databaseFile))
	if err != nil {
		return nil, WrapExitError(ExitFailure, "opening catalog", err)
	}

	// One-shot upgrade from the legacy JSON state file.
	if migrated, err := store.MigrateLegacyState(ctx, filepath.Join(opts.Root, legacyState)); err != nil {
		store.Close()
		return nil, WrapExitError(ExitFailure, "migrating legacy state", err)
	} else if migrated {
		slog.Info("migrated legacy JSON state into the catalog")
	}

	gov := governor.New(store, budgets())

	registry := platform.NewRegistry()
	stravaAdapter := strava.New(cfg, func(window, day int) {
		if err := gov.ObserveUsage(context.Background(), strava.Platform, window, day); err != nil {
			slog.Debug("recording strava usage", "error", err)
		}
	})
	registry.Register(stravaAdapter)

	a := &app{cfg: cfg, store: store, registry: registry, gov: gov}
	a.garmin = garmin.New(cfg)
	a.garminCN = garmin.NewCN(cfg)
	registry.Register(a.garmin)
	registry.Register(a.garminCN)
	registry.Register(igpsport.New(cfg))
	registry.Register(onedrive.New(cfg))
	registry.Register(intervalsicu.New(cfg))

	sports := sport.Default()
	if cfg.General.SportTablePath != "" {
		sports, err = sport.LoadFile(cfg.General.SportTablePath)
		if err != nil {
			store.Close()
			return nil, WrapExitError(ExitUsage, "loading sport table", err)
		}
	}

	files, err := cache.New(filepath.Join(opts.Root, cacheDir), store, convert.New(), registry, gov)
	if err != nil {
		store.Close()
		return nil, WrapExitError(ExitFailure, "opening file cache", err)
	}

	// Startup validation sweep drops dangling entries cheaply.
	ttl := time.Duration(store.ConfigInt(ctx, "cache_ttl_days", 30)) * 24 * time.Hour
	if removed, err := files.Sweep(ctx, ttl); err != nil {
		slog.Warn("cache sweep", "error", err)
	} else if removed > 0 {
		slog.Info("cache sweep removed entries", "count", removed)
	}

	thresholds := matcher.Thresholds{
		MatchScore:     store.ConfigFloat(ctx, "matcher_threshold_match", 0.80),
		AmbiguousScore: store.ConfigFloat(ctx, "matcher_threshold_ambiguous", 0.60),
		TimeTolerance:  5 * time.Minute,
	}
	match := matcher.New(sports, thresholds)

	a.files = files
	a.exec = syncengine.New(store, registry, gov, files, match, sports, slog.Default())
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// budgets returns the per-platform API caps minus safety margins. Strava
// publishes 200/day and 100 per quarter hour; running at 180/90 leaves
// headroom for the operator's other tools.
func budgets() map[string]governor.Budget {
	return map[string]governor.Budget{
		strava.Platform: {
			DailyLimit:       180,
			QuarterHourLimit: 90,
			MinInterval:      150 * time.Millisecond,
		},
	}
}
