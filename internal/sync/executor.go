// Package sync drives the directional reconcile loop: enumerate a source
// platform, resolve each activity against the catalog, move files, record
// outcomes. One direction runs at a time; within a direction activities
// are processed in ascending start-time order so the cursor can advance
// safely after partial progress.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"fitsync/internal/cache"
	"fitsync/internal/catalog"
	"fitsync/internal/fingerprint"
	"fitsync/internal/governor"
	"fitsync/internal/matcher"
	"fitsync/internal/platform"
	"fitsync/internal/sport"
)

const (
	// defaultWindow bounds a first sync; migration mode lifts it.
	defaultWindow = 30 * 24 * time.Hour
	// cursorOverlap re-lists a slice of already-seen time to catch
	// late-arriving activities and clock skew.
	cursorOverlap = time.Hour

	defaultBatchSize  = 10
	defaultMaxRetries = 3

	listPageSize = 100
)

// Options tune one invocation of the executor.
type Options struct {
	BatchSize     int
	MigrationMode bool
	MaxRetries    int
	// FormatPreference overrides the FIT > TCX > GPX default per
	// direction string (strava_to_onedrive wants GPX first).
	FormatPreference map[string][]platform.Format
}

// Summary is the per-direction outcome report.
type Summary struct {
	Direction platform.Direction
	Synced    int
	Duplicate int
	Skipped   int
	Failed    int
	Pending   int
	// Halt is set when the direction stopped early (unauthorized, rate
	// limited, cancelled); nil means the batch ran to completion.
	Halt error
}

// Processed is the number of activities that reached any outcome.
func (s Summary) Processed() int {
	return s.Synced + s.Duplicate + s.Skipped + s.Failed + s.Pending
}

// Executor owns one run's collaborators.
type Executor struct {
	store    *catalog.Catalog
	registry *platform.Registry
	gov      *governor.Governor
	files    *cache.Cache
	match    *matcher.Matcher
	sports   *sport.Table
	log      *slog.Logger

	// now is swappable in tests.
	now func() time.Time
}

func New(store *catalog.Catalog, registry *platform.Registry, gov *governor.Governor,
	files *cache.Cache, match *matcher.Matcher, sports *sport.Table, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		store:    store,
		registry: registry,
		gov:      gov,
		files:    files,
		match:    match,
		sports:   sports,
		log:      log,
		now:      time.Now,
	}
}

// Run executes each enabled direction in order. Direction-fatal errors
// halt only their direction; catalog corruption aborts the run.
func (e *Executor) Run(ctx context.Context, directions []platform.Direction, opts Options) ([]Summary, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = e.store.ConfigInt(ctx, "batch_size", defaultBatchSize)
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = e.store.ConfigInt(ctx, "max_retries", defaultMaxRetries)
	}

	summaries := make([]Summary, 0, len(directions))
	for _, dir := range directions {
		enabled, err := e.store.DirectionEnabled(ctx, dir.Source, dir.Target)
		if err != nil {
			return summaries, storeErr(err)
		}
		if !enabled {
			e.log.Info("direction disabled, skipping", "direction", dir.String())
			continue
		}

		summary := e.runDirection(ctx, dir, opts)
		summaries = append(summaries, summary)

		if errors.Is(summary.Halt, catalog.ErrCorrupt) {
			return summaries, summary.Halt
		}
		if errors.Is(summary.Halt, context.Canceled) {
			// A cancelled run stops cleanly; the remaining directions
			// would only fail the same way.
			break
		}
	}
	return summaries, nil
}

// storeErr classifies a failed catalog or governor call: a cancelled
// context is a clean halt the caller propagates verbatim, anything else
// is catalog corruption and aborts the run.
func storeErr(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", catalog.ErrCorrupt, err)
}

func (e *Executor) runDirection(ctx context.Context, dir platform.Direction, opts Options) Summary {
	summary := Summary{Direction: dir}
	log := e.log.With("direction", dir.String())

	source, err := e.registry.Get(dir.Source)
	if err != nil {
		summary.Halt = err
		return summary
	}
	target, err := e.registry.Get(dir.Target)
	if err != nil {
		summary.Halt = err
		return summary
	}

	windowStart, hadCursor, err := e.window(ctx, dir.Source, opts.MigrationMode)
	if err != nil {
		summary.Halt = storeErr(err)
		return summary
	}
	log.Debug("sync window", "start", windowStart, "resumed", hadCursor)

	// Listing is an API call like any other.
	if cost := source.Info().CostPerList; cost > 0 {
		decision, err := e.gov.Reserve(ctx, dir.Source, cost)
		if err != nil {
			summary.Halt = storeErr(err)
			return summary
		}
		if !decision.Granted {
			summary.Halt = &governor.DeniedError{Platform: dir.Source, RetryAfter: decision.RetryAfter}
			return summary
		}
	}

	remotes, err := source.ListActivities(ctx, windowStart, listPageSize)
	if err != nil {
		summary.Halt = err
		return summary
	}

	if len(remotes) == 0 {
		// Nothing new and nothing failed: the whole window is covered.
		if err := e.store.SetCursor(context.WithoutCancel(ctx), dir.Source, e.now()); err != nil {
			summary.Halt = storeErr(err)
		}
		return summary
	}

	sort.Slice(remotes, func(i, j int) bool {
		return remotes[i].StartTime.Before(remotes[j].StartTime)
	})

	var (
		cursor    time.Time
		advancing = true // stops at the first non-terminal outcome
	)

	for _, remote := range remotes {
		if summary.Processed() >= opts.BatchSize {
			break
		}
		if err := ctx.Err(); err != nil {
			summary.Halt = err
			break
		}

		outcome, err := e.processActivity(ctx, dir, source, target, remote, opts)
		if err != nil {
			summary.Halt = err
			break
		}

		switch outcome {
		case catalog.StatusSynced:
			summary.Synced++
		case catalog.StatusDuplicate:
			summary.Duplicate++
		case catalog.StatusSkipped:
			summary.Skipped++
		case catalog.StatusFailed:
			summary.Failed++
		case catalog.StatusPending:
			summary.Pending++
		}

		if advancing && outcome.Terminal() {
			if remote.StartTime.After(cursor) {
				cursor = remote.StartTime
			}
		} else {
			advancing = false
		}
	}

	if !cursor.IsZero() {
		// The cursor records committed terminal work; its write must land
		// even when the halt above was a cancellation.
		if err := e.store.SetCursor(context.WithoutCancel(ctx), dir.Source, cursor); err != nil {
			summary.Halt = storeErr(err)
		}
	}

	return summary
}

// window computes the enumeration start per the cursor rules.
func (e *Executor) window(ctx context.Context, sourceName string, migration bool) (time.Time, bool, error) {
	cursor, ok, err := e.store.Cursor(ctx, sourceName)
	if err != nil {
		return time.Time{}, false, err
	}
	if ok {
		return cursor.Add(-cursorOverlap), true, nil
	}
	if migration {
		// Migration mode walks the full history.
		return time.Time{}, false, nil
	}
	return e.now().Add(-defaultWindow), false, nil
}

// processActivity runs steps identify -> decide -> transfer for one remote
// activity and returns the status it landed on. A returned error is
// direction-fatal.
func (e *Executor) processActivity(ctx context.Context, dir platform.Direction,
	source, target platform.Adapter, remote platform.Remote, opts Options) (catalog.Status, error) {

	log := e.log.With("direction", dir.String(), "activity", remote.ID, "name", remote.Name)

	canonical := e.sports.Normalize(remote.SportType)
	fp := fingerprint.Compute(canonical, remote.StartTime, remote.Distance, remote.Duration)

	// A platform can report metadata drifted far enough to change the
	// fingerprint. The matcher resolves those against records already in
	// the catalog before a new identity is minted.
	fp, err := e.resolveFingerprint(ctx, fp, canonical, remote, log)
	if err != nil {
		return "", storeErr(err)
	}

	rec := catalog.ActivityRecord{
		Fingerprint:   fp,
		Name:          remote.Name,
		SportType:     canonical,
		StartTime:     remote.StartTime.UTC(),
		Distance:      remote.Distance,
		Duration:      remote.Duration,
		ElevationGain: remote.ElevationGain,
	}
	if err := e.store.ObserveActivity(ctx, rec, dir.Source, remote.ID); err != nil {
		return "", storeErr(err)
	}

	// Decide.
	existing, err := e.store.GetStatus(ctx, fp, dir.Source, dir.Target)
	if err != nil {
		return "", storeErr(err)
	}
	if existing != nil && existing.Status.Terminal() {
		return existing.Status, nil
	}

	if remote.Manual {
		if err := e.setStatus(ctx, fp, dir, catalog.StatusSkipped, "no_source_file"); err != nil {
			return "", err
		}
		log.Info("manual activity, nothing to transfer")
		return catalog.StatusSkipped, nil
	}

	if _, err := e.store.GetMapping(ctx, fp, dir.Target); err == nil {
		// The destination already holds this activity under a known id.
		if err := e.setStatus(ctx, fp, dir, catalog.StatusSynced, "already_mapped"); err != nil {
			return "", err
		}
		return catalog.StatusSynced, nil
	} else if !errors.Is(err, catalog.ErrMappingNotFound) {
		return "", storeErr(err)
	}

	format, err := e.chooseFormat(dir, remote, target, opts)
	if err != nil {
		if serr := e.setStatus(ctx, fp, dir, catalog.StatusFailed, "no_common_format"); serr != nil {
			return "", serr
		}
		log.Warn("no transfer format", "error", err)
		return catalog.StatusFailed, nil
	}

	if err := e.setStatus(ctx, fp, dir, catalog.StatusPending, ""); err != nil {
		return "", err
	}

	// Fetch.
	path, err := e.files.EnsureFile(ctx, fp, format)
	if err != nil {
		return e.classifyActivityError(ctx, fp, dir, "fetch", err, opts, log)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return e.classifyActivityError(ctx, fp, dir, "fetch", platform.Transport("reading cache", err), opts, log)
	}

	// Upload.
	if cost := target.Info().CostPerUpload; cost > 0 {
		decision, err := e.gov.Reserve(ctx, dir.Target, cost)
		if err != nil {
			return "", storeErr(err)
		}
		if !decision.Granted {
			return "", &governor.DeniedError{Platform: dir.Target, RetryAfter: decision.RetryAfter}
		}
	}

	result, err := target.Upload(ctx, data, format, platform.UploadMeta{
		Name:      remote.Name,
		SportType: canonical,
		StartTime: remote.StartTime,
	})
	if err != nil {
		return e.classifyActivityError(ctx, fp, dir, "upload", err, opts, log)
	}

	// The upload reached the destination; its outcome must land in the
	// catalog even if a cancellation arrived mid-flight. The loop's
	// between-activity check is the clean stop point.
	wctx := context.WithoutCancel(ctx)

	switch result.Status {
	case platform.UploadAccepted:
		if result.RemoteID != "" {
			if err := e.store.RecordMapping(wctx, fp, dir.Target, result.RemoteID); err != nil {
				return "", storeErr(err)
			}
		}
		if err := e.setStatus(wctx, fp, dir, catalog.StatusSynced, ""); err != nil {
			return "", err
		}
		log.Info("synced", "format", format)
		return catalog.StatusSynced, nil

	case platform.UploadDuplicate:
		if err := e.setStatus(wctx, fp, dir, catalog.StatusDuplicate, ""); err != nil {
			return "", err
		}
		log.Info("destination already has the activity")
		return catalog.StatusDuplicate, nil

	case platform.UploadRejected:
		if err := e.setStatus(wctx, fp, dir, catalog.StatusFailed, result.Reason); err != nil {
			return "", err
		}
		log.Warn("upload rejected", "reason", result.Reason)
		return catalog.StatusFailed, nil

	default: // transient
		return e.markTransient(wctx, fp, dir, result.Reason, opts, log)
	}
}

// resolveFingerprint checks whether a record in the same time window
// already represents this activity under a different fingerprint. A
// confident match adopts the existing identity; an ambiguous one is only
// logged, never auto-linked.
func (e *Executor) resolveFingerprint(ctx context.Context, fp, canonical string,
	remote platform.Remote, log *slog.Logger) (string, error) {

	if _, err := e.store.GetActivity(ctx, fp); err == nil {
		return fp, nil // identity already known
	} else if !errors.Is(err, catalog.ErrActivityNotFound) {
		return "", err
	}

	candidates, err := e.store.FindSimilar(ctx, canonical,
		remote.StartTime.Add(-time.Hour), remote.StartTime.Add(time.Hour))
	if err != nil {
		return "", err
	}

	subject := matcher.Activity{
		SportType: canonical,
		StartTime: remote.StartTime,
		Distance:  remote.Distance,
		Duration:  remote.Duration,
	}
	for _, cand := range candidates {
		if cand.Fingerprint == fp {
			continue
		}
		result := e.match.Score(subject, matcher.Activity{
			SportType: cand.SportType,
			StartTime: cand.StartTime,
			Distance:  cand.Distance,
			Duration:  cand.Duration,
		})
		switch result.Verdict {
		case matcher.Match:
			log.Info("matched existing record", "fingerprint", cand.Fingerprint, "score", result.Score)
			return cand.Fingerprint, nil
		case matcher.Ambiguous:
			log.Warn("ambiguous activity match, not linking",
				"candidate", cand.Fingerprint, "score", result.Score)
		}
	}
	return fp, nil
}

// chooseFormat picks the transfer format: the first entry of the
// per-direction preference (or FIT > TCX > GPX) that the destination accepts
// and that the source exports directly or the transcoder can produce from
// what it exports.
func (e *Executor) chooseFormat(dir platform.Direction, remote platform.Remote, target platform.Adapter, opts Options) (platform.Format, error) {
	preference := platform.PreferredOrder
	if override, ok := opts.FormatPreference[dir.String()]; ok && len(override) > 0 {
		preference = override
	}

	accepts := make(map[platform.Format]bool)
	for _, f := range target.SupportedUploadFormats() {
		accepts[f] = true
	}
	has := make(map[platform.Format]bool)
	for _, f := range remote.Formats {
		has[f] = true
	}

	// Preference order dominates: a preferred format reachable through the
	// transcoder beats a less-preferred one the source exports directly.
	for _, f := range preference {
		if !accepts[f] {
			continue
		}
		if has[f] {
			return f, nil
		}
		for src := range has {
			if transcodable(src, f) {
				return f, nil
			}
		}
	}
	return "", fmt.Errorf("no format in common between %s and %s", dir.Source, dir.Target)
}

// transcodable mirrors the converter's table without needing the instance.
func transcodable(from, to platform.Format) bool {
	if from == to {
		return true
	}
	switch from {
	case platform.FormatFIT:
		return to == platform.FormatGPX || to == platform.FormatTCX
	case platform.FormatTCX:
		return to == platform.FormatGPX
	}
	return false
}

func (e *Executor) setStatus(ctx context.Context, fp string, dir platform.Direction, status catalog.Status, reason string) error {
	if err := e.store.SetStatus(ctx, fp, dir.Source, dir.Target, status, reason); err != nil {
		return storeErr(err)
	}
	return nil
}

// classifyActivityError applies §7's policy table to an adapter error.
// Returned errors are direction-fatal; activity-local outcomes come back
// as statuses.
func (e *Executor) classifyActivityError(ctx context.Context, fp string, dir platform.Direction,
	op string, err error, opts Options, log *slog.Logger) (catalog.Status, error) {

	var denied *governor.DeniedError
	switch {
	case errors.Is(err, context.Canceled):
		// Cancellation is a clean halt, never an activity failure.
		return "", err
	case errors.As(err, &denied):
		return "", err
	case errors.Is(err, platform.ErrUnauthorized):
		return "", err
	case errors.Is(err, platform.ErrRateLimited):
		return "", err
	case errors.Is(err, platform.ErrNoOriginalFile):
		if serr := e.setStatus(ctx, fp, dir, catalog.StatusSkipped, "no_source_file"); serr != nil {
			return "", serr
		}
		log.Info("no original file", "op", op)
		return catalog.StatusSkipped, nil
	case errors.Is(err, platform.ErrNotFound):
		if serr := e.setStatus(ctx, fp, dir, catalog.StatusFailed, "not_found"); serr != nil {
			return "", serr
		}
		log.Warn("activity vanished", "op", op)
		return catalog.StatusFailed, nil
	case platform.IsTransient(err) || errors.Is(err, cache.ErrNoSource):
		return e.markTransient(ctx, fp, dir, err.Error(), opts, log)
	default:
		if serr := e.setStatus(ctx, fp, dir, catalog.StatusFailed, "validation"); serr != nil {
			return "", serr
		}
		log.Error("activity failed", "op", op, "error", err)
		return catalog.StatusFailed, nil
	}
}

// markTransient keeps an activity pending until max retries, then fails it.
func (e *Executor) markTransient(ctx context.Context, fp string, dir platform.Direction,
	reason string, opts Options, log *slog.Logger) (catalog.Status, error) {

	if err := e.setStatus(ctx, fp, dir, catalog.StatusPending, reason); err != nil {
		return "", err
	}
	attempts, err := e.store.BumpAttempts(ctx, fp, dir.Source, dir.Target)
	if err != nil {
		return "", storeErr(err)
	}
	if attempts >= opts.MaxRetries {
		if err := e.setStatus(ctx, fp, dir, catalog.StatusFailed, "transport"); err != nil {
			return "", err
		}
		log.Warn("retries exhausted", "attempts", attempts)
		return catalog.StatusFailed, nil
	}
	log.Info("transient failure, will retry", "attempt", attempts, "reason", reason)
	return catalog.StatusPending, nil
}
