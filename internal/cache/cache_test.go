package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fitsync/internal/catalog"
	"fitsync/internal/governor"
	"fitsync/internal/platform"
)

// fakeConverter upper-cases content and tracks calls; good enough to see
// the transcode path fire.
type fakeConverter struct {
	converted int
}

func (f *fakeConverter) Supports(from, to platform.Format) bool {
	return from == to || (from == platform.FormatFIT && to == platform.FormatGPX)
}

func (f *fakeConverter) Convert(data []byte, from, to platform.Format) ([]byte, error) {
	if from == to {
		return data, nil
	}
	f.converted++
	return append([]byte("gpx:"), data...), nil
}

// fakeSource serves downloads for one remote id.
type fakeSource struct {
	name      string
	data      []byte
	format    platform.Format
	err       error
	downloads int
}

func (f *fakeSource) Info() platform.Info {
	return platform.Info{Name: f.name, CostPerDownload: 1}
}
func (f *fakeSource) ListActivities(context.Context, time.Time, int) ([]platform.Remote, error) {
	return nil, nil
}
func (f *fakeSource) Download(context.Context, string, platform.Format) ([]byte, platform.Format, error) {
	f.downloads++
	if f.err != nil {
		return nil, "", f.err
	}
	return f.data, f.format, nil
}
func (f *fakeSource) Upload(context.Context, []byte, platform.Format, platform.UploadMeta) (platform.UploadResult, error) {
	return platform.UploadResult{}, platform.ErrUnsupported
}
func (f *fakeSource) SupportedUploadFormats() []platform.Format   { return nil }
func (f *fakeSource) HealthCheck(context.Context) platform.Health { return platform.HealthOK }

func setup(t *testing.T, src *fakeSource, budget governor.Budget) (*Cache, *catalog.Catalog, *fakeConverter) {
	t.Helper()
	store := catalog.OpenTest(t)
	conv := &fakeConverter{}
	registry := platform.NewRegistry()
	if src != nil {
		registry.Register(src)
	}
	gov := governor.New(store, map[string]governor.Budget{"strava": budget})

	c, err := New(t.TempDir(), store, conv, registry, gov)
	if err != nil {
		t.Fatal(err)
	}
	return c, store, conv
}

func seedActivity(t *testing.T, store *catalog.Catalog, fp, platformName, id string) {
	t.Helper()
	rec := catalog.ActivityRecord{
		Fingerprint: fp,
		Name:        "Ride",
		SportType:   "ride",
		StartTime:   time.Date(2025, 1, 10, 6, 0, 0, 0, time.UTC),
		Distance:    20000,
		Duration:    3600,
	}
	if err := store.ObserveActivity(context.Background(), rec, platformName, id); err != nil {
		t.Fatal(err)
	}
}

func TestEnsureFileCacheHit(t *testing.T) {
	src := &fakeSource{name: "strava", data: []byte("fit-bytes"), format: platform.FormatFIT}
	c, store, _ := setup(t, src, governor.Budget{DailyLimit: 100, QuarterHourLimit: 100})
	ctx := context.Background()
	seedActivity(t, store, "fp1", "strava", "S1")

	path := c.Path("fp1", platform.FormatFIT)
	if err := os.WriteFile(path, []byte("fit-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordCache(ctx, "fp1", "fit", path, 9); err != nil {
		t.Fatal(err)
	}

	got, err := c.EnsureFile(ctx, "fp1", platform.FormatFIT)
	if err != nil {
		t.Fatalf("EnsureFile: %v", err)
	}
	if got != path {
		t.Errorf("path = %s, want %s", got, path)
	}
	if src.downloads != 0 {
		t.Errorf("cache hit should not download, got %d downloads", src.downloads)
	}
}

func TestEnsureFileTranscodesCachedFormat(t *testing.T) {
	src := &fakeSource{name: "strava", data: []byte("fit-bytes"), format: platform.FormatFIT}
	c, store, conv := setup(t, src, governor.Budget{DailyLimit: 100, QuarterHourLimit: 100})
	ctx := context.Background()
	seedActivity(t, store, "fp1", "strava", "S1")

	fitPath := c.Path("fp1", platform.FormatFIT)
	if err := os.WriteFile(fitPath, []byte("fit-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordCache(ctx, "fp1", "fit", fitPath, 9); err != nil {
		t.Fatal(err)
	}

	gpxPath, err := c.EnsureFile(ctx, "fp1", platform.FormatGPX)
	if err != nil {
		t.Fatalf("EnsureFile: %v", err)
	}
	if conv.converted != 1 {
		t.Errorf("conversions = %d, want 1", conv.converted)
	}
	if src.downloads != 0 {
		t.Error("transcode path should not download")
	}
	data, err := os.ReadFile(gpxPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "gpx:fit-bytes" {
		t.Errorf("converted content = %q", data)
	}
	// The new format is registered.
	if _, err := store.GetCache(ctx, "fp1", "gpx"); err != nil {
		t.Errorf("gpx entry not recorded: %v", err)
	}
}

func TestEnsureFileDownloadsFromMappedSource(t *testing.T) {
	src := &fakeSource{name: "strava", data: []byte("fit-bytes"), format: platform.FormatFIT}
	c, store, _ := setup(t, src, governor.Budget{DailyLimit: 100, QuarterHourLimit: 100})
	ctx := context.Background()
	seedActivity(t, store, "fp1", "strava", "S1")

	path, err := c.EnsureFile(ctx, "fp1", platform.FormatFIT)
	if err != nil {
		t.Fatalf("EnsureFile: %v", err)
	}
	if src.downloads != 1 {
		t.Errorf("downloads = %d, want 1", src.downloads)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "fit-bytes" {
		t.Errorf("content = %q", data)
	}
}

func TestEnsureFileEmptyCacheDirRedownloads(t *testing.T) {
	src := &fakeSource{name: "strava", data: []byte("fit-bytes"), format: platform.FormatFIT}
	c, store, _ := setup(t, src, governor.Budget{DailyLimit: 100, QuarterHourLimit: 100})
	ctx := context.Background()
	seedActivity(t, store, "fp1", "strava", "S1")

	// A row exists but the operator deleted the cache directory contents.
	if err := store.RecordCache(ctx, "fp1", "fit", c.Path("fp1", platform.FormatFIT), 9); err != nil {
		t.Fatal(err)
	}

	path, err := c.EnsureFile(ctx, "fp1", platform.FormatFIT)
	if err != nil {
		t.Fatalf("EnsureFile after cache wipe: %v", err)
	}
	if src.downloads != 1 {
		t.Errorf("downloads = %d, want 1", src.downloads)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("file not re-created: %v", err)
	}
}

func TestEnsureFileGovernorDenial(t *testing.T) {
	src := &fakeSource{name: "strava", data: []byte("fit-bytes"), format: platform.FormatFIT}
	c, store, _ := setup(t, src, governor.Budget{DailyLimit: 100, QuarterHourLimit: 1})
	ctx := context.Background()
	seedActivity(t, store, "fp1", "strava", "S1")
	seedActivity(t, store, "fp2", "strava", "S2")

	if _, err := c.EnsureFile(ctx, "fp1", platform.FormatFIT); err != nil {
		t.Fatal(err)
	}

	_, err := c.EnsureFile(ctx, "fp2", platform.FormatFIT)
	var denied *governor.DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("err = %v, want DeniedError", err)
	}
	if src.downloads != 1 {
		t.Errorf("denied download still ran: %d", src.downloads)
	}
}

func TestEnsureFileNoSource(t *testing.T) {
	c, store, _ := setup(t, nil, governor.Budget{})
	ctx := context.Background()

	rec := catalog.ActivityRecord{
		Fingerprint: "fp1", Name: "Ride", SportType: "ride",
		StartTime: time.Now(), Distance: 1, Duration: 1,
	}
	if err := store.UpsertActivity(ctx, rec); err != nil {
		t.Fatal(err)
	}

	_, err := c.EnsureFile(ctx, "fp1", platform.FormatFIT)
	if !errors.Is(err, ErrNoSource) {
		t.Errorf("err = %v, want ErrNoSource", err)
	}
}

func TestSweepRemovesExpiredAndDangling(t *testing.T) {
	c, store, _ := setup(t, nil, governor.Budget{})
	ctx := context.Background()
	seedActivity(t, store, "fp1", "strava", "S1")
	seedActivity(t, store, "fp2", "strava", "S2")

	// fp1: live file, fresh row -> survives.
	livePath := c.Path("fp1", platform.FormatFIT)
	if err := os.WriteFile(livePath, []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordCache(ctx, "fp1", "fit", livePath, 4); err != nil {
		t.Fatal(err)
	}

	// fp2: row whose file is gone -> swept.
	if err := store.RecordCache(ctx, "fp2", "fit", filepath.Join(c.dir, "gone.fit"), 4); err != nil {
		t.Fatal(err)
	}

	removed, err := c.Sweep(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := store.GetCache(ctx, "fp1", "fit"); err != nil {
		t.Errorf("live entry swept: %v", err)
	}
	if _, err := store.GetCache(ctx, "fp2", "fit"); !errors.Is(err, catalog.ErrCacheMiss) {
		t.Errorf("dangling entry survived: %v", err)
	}
}
