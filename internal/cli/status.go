package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"fitsync/internal/catalog"
	"fitsync/internal/platform"
	"fitsync/internal/tui"
)

// printStatus renders the catalog's view of the world: per-direction
// outcome tallies, cursors, cache and API budget state.
func printStatus(ctx context.Context, a *app) error {
	fmt.Println(tui.SummaryTitle.Render("Sync status"))

	sawAny := false
	for _, raw := range knownDirections {
		dir, err := platform.ParseDirection(a.registry, raw)
		if err != nil {
			continue
		}
		counts, err := a.store.CountStatuses(ctx, dir.Source, dir.Target)
		if err != nil {
			return WrapExitError(ExitFailure, "reading sync statuses", err)
		}
		if len(counts) == 0 {
			continue
		}
		sawAny = true
		fmt.Printf("\n%s\n", tui.SummaryTitle.Render(strings.ReplaceAll(raw, "_to_", " -> ")))
		fmt.Printf("  %s  %s  %s  %s  %s\n",
			tui.SummaryGood.Render(fmt.Sprintf("synced %d", counts[catalog.StatusSynced])),
			tui.SummaryGood.Render(fmt.Sprintf("duplicate %d", counts[catalog.StatusDuplicate])),
			tui.SummaryWarn.Render(fmt.Sprintf("skipped %d", counts[catalog.StatusSkipped])),
			tui.SummaryBad.Render(fmt.Sprintf("failed %d", counts[catalog.StatusFailed])),
			tui.SummaryWarn.Render(fmt.Sprintf("pending %d", counts[catalog.StatusPending])),
		)
	}
	if !sawAny {
		fmt.Println("\nNo sync history yet.")
	}

	fmt.Printf("\n%s\n", tui.SummaryTitle.Render("Cursors"))
	for _, name := range a.registry.Names() {
		cursor, ok, err := a.store.Cursor(ctx, name)
		if err != nil {
			return WrapExitError(ExitFailure, "reading cursors", err)
		}
		if !ok {
			continue
		}
		fmt.Printf("  %-14s %s (%s)\n", name, cursor.Format("2006-01-02 15:04"), humanize.Time(cursor))
	}

	entries, err := a.store.ListCache(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "reading cache entries", err)
	}
	var totalBytes int64
	for _, e := range entries {
		totalBytes += e.Size
	}
	fmt.Printf("\n%s\n  %d files, %s\n", tui.SummaryTitle.Render("File cache"),
		len(entries), humanize.Bytes(uint64(totalBytes)))

	fmt.Printf("\n%s\n", tui.SummaryTitle.Render("API budgets"))
	for _, name := range a.registry.Names() {
		window, day, err := a.gov.Remaining(ctx, name)
		if err != nil {
			return WrapExitError(ExitFailure, "reading api budgets", err)
		}
		if window < 0 {
			continue // unlimited platform
		}
		fmt.Printf("  %-14s %d left this quarter hour, %d left today\n", name, window, day)
	}

	fmt.Printf("\n%s\n", tui.SummaryTitle.Render("Adapter health"))
	for _, name := range a.registry.Names() {
		adapter, err := a.registry.Get(name)
		if err != nil {
			continue
		}
		health := adapter.HealthCheck(ctx)
		style := tui.SummaryGood
		switch health {
		case platform.HealthDegraded:
			style = tui.SummaryWarn
		case platform.HealthDown:
			style = tui.SummaryBad
		}
		fmt.Printf("  %-14s %s\n", name, style.Render(health.String()))
	}

	return nil
}
