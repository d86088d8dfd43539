package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(t.TempDir())
	if !errors.Is(err, ErrNoConfig) {
		t.Errorf("Load on empty dir = %v, want ErrNoConfig", err)
	}
}

func TestCreateExampleThenLoad(t *testing.T) {
	dir := t.TempDir()

	path, err := CreateExample(dir)
	if err != nil {
		t.Fatalf("CreateExample: %v", err)
	}
	if filepath.Base(path) != FileName {
		t.Errorf("example path = %s", path)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Strava.ClientID != "YOUR_CLIENT_ID" {
		t.Errorf("Strava.ClientID = %q", cfg.Strava.ClientID)
	}
	if cfg.Garmin.AuthDomain != "GLOBAL" || cfg.GarminCN.AuthDomain != "CN" {
		t.Errorf("auth domains = %q / %q", cfg.Garmin.AuthDomain, cfg.GarminCN.AuthDomain)
	}
	if cfg.PlatformConfigured("strava") {
		t.Error("placeholder credentials should not count as configured")
	}
}

func TestLoadLayersFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	doc := `{
		"strava": {
			"client_id": "12345",
			"client_secret": "s3cret",
			"refresh_token": "rt"
		},
		"intervals_icu": {"user_id": "i77", "api_key": "k"}
	}`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !cfg.PlatformConfigured("strava") {
		t.Error("strava should be configured")
	}
	if !cfg.PlatformConfigured("intervals_icu") {
		t.Error("intervals_icu should be configured")
	}
	if cfg.PlatformConfigured("garmin") {
		t.Error("garmin should not be configured")
	}
	// Defaults fill blocks the file omitted.
	if cfg.OneDrive.TenantID != "common" || cfg.OneDrive.Folder != "FitSync" {
		t.Errorf("onedrive defaults missing: %+v", cfg.OneDrive)
	}
}

func TestSaveRoundTripsSessionFields(t *testing.T) {
	dir := t.TempDir()
	if _, err := CreateExample(dir); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	// An adapter refreshes its session and persists it.
	cfg.Strava.AccessToken = "fresh-token"
	cfg.Strava.Cookie = "session=abc"
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	again, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if again.Strava.AccessToken != "fresh-token" || again.Strava.Cookie != "session=abc" {
		t.Errorf("session fields lost: %+v", again.Strava)
	}
}
