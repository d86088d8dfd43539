package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testRecord(fp string, start time.Time) ActivityRecord {
	return ActivityRecord{
		Fingerprint: fp,
		Name:        "Morning Ride",
		SportType:   "ride",
		StartTime:   start,
		Distance:    20034,
		Duration:    3612,
	}
}

func TestUpsertActivityIdempotent(t *testing.T) {
	c := OpenTest(t)
	ctx := context.Background()
	start := time.Date(2025, 1, 10, 6, 0, 0, 0, time.UTC)

	rec := testRecord("fp1", start)
	if err := c.UpsertActivity(ctx, rec); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	first, err := c.GetActivity(ctx, "fp1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if err := c.UpsertActivity(ctx, rec); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	second, err := c.GetActivity(ctx, "fp1")
	if err != nil {
		t.Fatalf("get after second upsert: %v", err)
	}

	if !first.CreatedAt.Equal(second.CreatedAt) {
		t.Errorf("created_at changed on re-upsert: %v -> %v", first.CreatedAt, second.CreatedAt)
	}
	if second.Name != "Morning Ride" || second.Distance != 20034 {
		t.Errorf("record fields corrupted: %+v", second)
	}
}

func TestUpsertActivityUpdatesMetadata(t *testing.T) {
	c := OpenTest(t)
	ctx := context.Background()
	start := time.Date(2025, 1, 10, 6, 0, 0, 0, time.UTC)

	if err := c.UpsertActivity(ctx, testRecord("fp1", start)); err != nil {
		t.Fatal(err)
	}

	updated := testRecord("fp1", start)
	updated.Name = "Renamed Ride"
	if err := c.UpsertActivity(ctx, updated); err != nil {
		t.Fatal(err)
	}

	got, err := c.GetActivity(ctx, "fp1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Renamed Ride" {
		t.Errorf("Name = %q, want updated name", got.Name)
	}
}

func TestMappingRoundTrip(t *testing.T) {
	c := OpenTest(t)
	ctx := context.Background()
	start := time.Date(2025, 1, 10, 6, 0, 0, 0, time.UTC)

	if err := c.ObserveActivity(ctx, testRecord("fp1", start), "strava", "S1"); err != nil {
		t.Fatalf("observe: %v", err)
	}

	id, err := c.GetMapping(ctx, "fp1", "strava")
	if err != nil {
		t.Fatalf("get mapping: %v", err)
	}
	if id != "S1" {
		t.Errorf("mapping id = %q, want S1", id)
	}

	fp, err := c.GetMappingByPlatformID(ctx, "strava", "S1")
	if err != nil {
		t.Fatalf("reverse lookup: %v", err)
	}
	if fp != "fp1" {
		t.Errorf("reverse lookup = %q, want fp1", fp)
	}

	if _, err := c.GetMapping(ctx, "fp1", "garmin"); err != ErrMappingNotFound {
		t.Errorf("missing mapping error = %v, want ErrMappingNotFound", err)
	}
}

func TestMappingUniquePerPlatform(t *testing.T) {
	c := OpenTest(t)
	ctx := context.Background()
	start := time.Date(2025, 1, 10, 6, 0, 0, 0, time.UTC)

	// Observing the same activity twice on a platform keeps one row.
	if err := c.ObserveActivity(ctx, testRecord("fp1", start), "strava", "S1"); err != nil {
		t.Fatal(err)
	}
	if err := c.ObserveActivity(ctx, testRecord("fp1", start), "strava", "S1"); err != nil {
		t.Fatal(err)
	}

	var n int
	if err := c.db.QueryRow(
		`SELECT COUNT(*) FROM platform_mappings WHERE fingerprint = 'fp1' AND platform = 'strava'`,
	).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("mapping rows = %d, want 1", n)
	}
}

func TestSetStatusNeverRegressesFromTerminalSuccess(t *testing.T) {
	c := OpenTest(t)
	ctx := context.Background()
	start := time.Date(2025, 1, 10, 6, 0, 0, 0, time.UTC)

	if err := c.UpsertActivity(ctx, testRecord("fp1", start)); err != nil {
		t.Fatal(err)
	}

	if err := c.SetStatus(ctx, "fp1", "strava", "garmin", StatusSynced, ""); err != nil {
		t.Fatal(err)
	}
	// Marking synced twice is a no-op, and pending may not overwrite it.
	if err := c.SetStatus(ctx, "fp1", "strava", "garmin", StatusSynced, ""); err != nil {
		t.Fatal(err)
	}
	if err := c.SetStatus(ctx, "fp1", "strava", "garmin", StatusPending, ""); err != nil {
		t.Fatal(err)
	}

	row, err := c.GetStatus(ctx, "fp1", "strava", "garmin")
	if err != nil {
		t.Fatal(err)
	}
	if row.Status != StatusSynced {
		t.Errorf("status = %s, want synced", row.Status)
	}

	// The administrative clear is the only way back.
	if err := c.ClearStatus(ctx, "fp1", "strava", "garmin"); err != nil {
		t.Fatal(err)
	}
	row, err = c.GetStatus(ctx, "fp1", "strava", "garmin")
	if err != nil {
		t.Fatal(err)
	}
	if row != nil {
		t.Errorf("status row survived clear: %+v", row)
	}
}

func TestStatusTransitionsBeforeTerminal(t *testing.T) {
	c := OpenTest(t)
	ctx := context.Background()
	start := time.Date(2025, 1, 10, 6, 0, 0, 0, time.UTC)

	if err := c.UpsertActivity(ctx, testRecord("fp1", start)); err != nil {
		t.Fatal(err)
	}

	if err := c.SetStatus(ctx, "fp1", "strava", "garmin", StatusPending, ""); err != nil {
		t.Fatal(err)
	}
	if err := c.SetStatus(ctx, "fp1", "strava", "garmin", StatusFailed, "transport"); err != nil {
		t.Fatal(err)
	}

	row, err := c.GetStatus(ctx, "fp1", "strava", "garmin")
	if err != nil {
		t.Fatal(err)
	}
	if row.Status != StatusFailed || row.Reason != "transport" {
		t.Errorf("row = %+v, want failed/transport", row)
	}
}

func TestListPendingOrdersByStartTime(t *testing.T) {
	c := OpenTest(t)
	ctx := context.Background()

	late := time.Date(2025, 1, 12, 6, 0, 0, 0, time.UTC)
	early := time.Date(2025, 1, 10, 6, 0, 0, 0, time.UTC)

	for fp, start := range map[string]time.Time{"fpLate": late, "fpEarly": early} {
		if err := c.UpsertActivity(ctx, testRecord(fp, start)); err != nil {
			t.Fatal(err)
		}
		if err := c.SetStatus(ctx, fp, "strava", "garmin", StatusPending, ""); err != nil {
			t.Fatal(err)
		}
	}

	fps, err := c.ListPending(ctx, "strava", "garmin", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(fps) != 2 || fps[0] != "fpEarly" || fps[1] != "fpLate" {
		t.Errorf("pending order = %v, want [fpEarly fpLate]", fps)
	}
}

func TestBumpAttempts(t *testing.T) {
	c := OpenTest(t)
	ctx := context.Background()
	start := time.Date(2025, 1, 10, 6, 0, 0, 0, time.UTC)

	if err := c.UpsertActivity(ctx, testRecord("fp1", start)); err != nil {
		t.Fatal(err)
	}
	if err := c.SetStatus(ctx, "fp1", "strava", "garmin", StatusPending, ""); err != nil {
		t.Fatal(err)
	}

	for want := 1; want <= 3; want++ {
		got, err := c.BumpAttempts(ctx, "fp1", "strava", "garmin")
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("attempts = %d, want %d", got, want)
		}
	}
}

func TestCacheRoundTripAndPurge(t *testing.T) {
	c := OpenTest(t)
	ctx := context.Background()
	start := time.Date(2025, 1, 10, 6, 0, 0, 0, time.UTC)

	if err := c.UpsertActivity(ctx, testRecord("fp1", start)); err != nil {
		t.Fatal(err)
	}

	if err := c.RecordCache(ctx, "fp1", "fit", "/tmp/fp1.fit", 1024); err != nil {
		t.Fatal(err)
	}

	entry, err := c.GetCache(ctx, "fp1", "fit")
	if err != nil {
		t.Fatalf("get cache: %v", err)
	}
	if entry.Path != "/tmp/fp1.fit" || entry.Size != 1024 {
		t.Errorf("entry = %+v", entry)
	}

	// purge_cache(0): everything is older than a future cutoff.
	removed, err := c.PurgeCache(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 1 {
		t.Errorf("removed = %d entries, want 1", len(removed))
	}
	if _, err := c.GetCache(ctx, "fp1", "fit"); err != ErrCacheMiss {
		t.Errorf("after purge err = %v, want ErrCacheMiss", err)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	c := OpenTest(t)
	ctx := context.Background()

	if _, ok, err := c.Cursor(ctx, "strava"); err != nil || ok {
		t.Fatalf("fresh cursor ok=%v err=%v, want absent", ok, err)
	}

	at := time.Date(2025, 1, 10, 6, 0, 0, 0, time.UTC)
	if err := c.SetCursor(ctx, "strava", at); err != nil {
		t.Fatal(err)
	}

	got, ok, err := c.Cursor(ctx, "strava")
	if err != nil || !ok {
		t.Fatalf("cursor ok=%v err=%v", ok, err)
	}
	if !got.Equal(at) {
		t.Errorf("cursor = %v, want %v", got, at)
	}
}

func TestAPICountersUpdate(t *testing.T) {
	c := OpenTest(t)
	ctx := context.Background()

	init := Counters{
		DailyLimit:       180,
		QuarterHourLimit: 90,
		DayResetAt:       time.Now().Add(24 * time.Hour),
		WindowResetAt:    time.Now().Add(15 * time.Minute),
	}

	got, err := c.UpdateAPICounters(ctx, "strava", init, func(ct *Counters) error {
		ct.DailyCalls++
		ct.QuarterHourCalls++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.DailyCalls != 1 || got.QuarterHourCalls != 1 {
		t.Errorf("counters = %+v", got)
	}

	// Second update sees the persisted state.
	got, err = c.UpdateAPICounters(ctx, "strava", init, func(ct *Counters) error {
		ct.DailyCalls++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.DailyCalls != 2 {
		t.Errorf("DailyCalls = %d, want 2", got.DailyCalls)
	}
}

func TestFindSimilarWindow(t *testing.T) {
	c := OpenTest(t)
	ctx := context.Background()
	at := time.Date(2025, 1, 10, 6, 0, 0, 0, time.UTC)

	if err := c.UpsertActivity(ctx, testRecord("fpIn", at)); err != nil {
		t.Fatal(err)
	}
	if err := c.UpsertActivity(ctx, testRecord("fpOut", at.Add(3*time.Hour))); err != nil {
		t.Fatal(err)
	}
	other := testRecord("fpRun", at)
	other.SportType = "run"
	if err := c.UpsertActivity(ctx, other); err != nil {
		t.Fatal(err)
	}

	recs, err := c.FindSimilar(ctx, "ride", at.Add(-time.Hour), at.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Fingerprint != "fpIn" {
		t.Errorf("FindSimilar = %+v, want only fpIn", recs)
	}
}

func TestOpenPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sync_database.db")
	ctx := context.Background()

	c, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	start := time.Date(2025, 1, 10, 6, 0, 0, 0, time.UTC)
	if err := c.ObserveActivity(ctx, testRecord("fp1", start), "strava", "S1"); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	c, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	id, err := c.GetMapping(ctx, "fp1", "strava")
	if err != nil || id != "S1" {
		t.Errorf("after reopen mapping = %q err=%v", id, err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file missing: %v", err)
	}
}
