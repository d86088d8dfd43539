package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const legacyFixture = `{
	"sync_records": {
		"a1b2c3d4e5f60718": {
			"metadata": {
				"name": "Evening Ride",
				"sport_type": "ride",
				"start_time": "2024-11-02T18:30:00Z",
				"distance": 31250,
				"duration": 4100
			},
			"platforms": {"strava": "S9", "garmin": "G4"},
			"files": {},
			"sync_status": {"strava_to_garmin": "synced"},
			"created_at": "2024-11-02T20:00:00Z"
		}
	},
	"sync_config": {
		"last_sync": {"strava": "2024-11-03T08:00:00Z"},
		"sync_rules": {"strava_to_garmin": true, "garmin_to_strava": false}
	}
}`

func TestMigrateLegacyState(t *testing.T) {
	c := OpenTest(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "sync_database.json")
	if err := os.WriteFile(path, []byte(legacyFixture), 0o644); err != nil {
		t.Fatal(err)
	}

	migrated, err := c.MigrateLegacyState(ctx, path)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !migrated {
		t.Fatal("expected migration to run")
	}

	rec, err := c.GetActivity(ctx, "a1b2c3d4e5f60718")
	if err != nil {
		t.Fatalf("record not migrated: %v", err)
	}
	if rec.Name != "Evening Ride" || rec.Distance != 31250 {
		t.Errorf("record = %+v", rec)
	}

	if id, err := c.GetMapping(ctx, "a1b2c3d4e5f60718", "garmin"); err != nil || id != "G4" {
		t.Errorf("garmin mapping = %q err=%v", id, err)
	}

	row, err := c.GetStatus(ctx, "a1b2c3d4e5f60718", "strava", "garmin")
	if err != nil || row == nil || row.Status != StatusSynced {
		t.Errorf("status = %+v err=%v, want synced", row, err)
	}

	cursor, ok, err := c.Cursor(ctx, "strava")
	if err != nil || !ok {
		t.Fatalf("cursor ok=%v err=%v", ok, err)
	}
	if cursor.Format("2006-01-02") != "2024-11-03" {
		t.Errorf("cursor = %v", cursor)
	}

	enabled, err := c.DirectionEnabled(ctx, "garmin", "strava")
	if err != nil || enabled {
		t.Errorf("garmin_to_strava enabled=%v err=%v, want disabled", enabled, err)
	}

	// The legacy file is renamed out of the way.
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("legacy file still present: %v", err)
	}
	if _, err := os.Stat(path + ".backup"); err != nil {
		t.Errorf("backup missing: %v", err)
	}
}

func TestMigrateLegacyStateMissingFile(t *testing.T) {
	c := OpenTest(t)

	migrated, err := c.MigrateLegacyState(context.Background(), filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if migrated {
		t.Error("no migration should have run")
	}
}

func TestSplitDirection(t *testing.T) {
	tests := []struct {
		in       string
		src, dst string
		ok       bool
	}{
		{"strava_to_garmin", "strava", "garmin", true},
		{"igpsport_to_intervals_icu", "igpsport", "intervals_icu", true},
		{"garmin_cn_to_garmin", "garmin_cn", "garmin", true},
		{"nonsense", "", "", false},
		{"_to_", "", "", false},
	}
	for _, tt := range tests {
		src, dst, err := splitDirection(tt.in)
		if tt.ok && (err != nil || src != tt.src || dst != tt.dst) {
			t.Errorf("splitDirection(%q) = (%q, %q, %v)", tt.in, src, dst, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("splitDirection(%q) should fail", tt.in)
		}
	}
}
