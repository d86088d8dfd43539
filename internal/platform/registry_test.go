package platform

import (
	"context"
	"testing"
	"time"
)

type stubAdapter struct{ name string }

func (s *stubAdapter) Info() Info { return Info{Name: s.name, CostPerList: 1} }
func (s *stubAdapter) ListActivities(context.Context, time.Time, int) ([]Remote, error) {
	return nil, nil
}
func (s *stubAdapter) Download(context.Context, string, Format) ([]byte, Format, error) {
	return nil, "", ErrUnsupported
}
func (s *stubAdapter) Upload(context.Context, []byte, Format, UploadMeta) (UploadResult, error) {
	return UploadResult{}, ErrUnsupported
}
func (s *stubAdapter) SupportedUploadFormats() []Format   { return nil }
func (s *stubAdapter) HealthCheck(context.Context) Health { return HealthOK }

func testRegistry(names ...string) *Registry {
	r := NewRegistry()
	for _, n := range names {
		r.Register(&stubAdapter{name: n})
	}
	return r
}

func TestParseDirection(t *testing.T) {
	r := testRegistry("strava", "garmin", "garmin_cn", "igpsport", "intervals_icu", "onedrive")

	tests := []struct {
		in       string
		src, dst string
		ok       bool
	}{
		{"strava_to_garmin", "strava", "garmin", true},
		{"garmin_to_strava", "garmin", "strava", true},
		{"strava_to_onedrive", "strava", "onedrive", true},
		{"igpsport_to_intervals_icu", "igpsport", "intervals_icu", true},
		{"garmin_cn_to_garmin", "garmin_cn", "garmin", true},
		{"garmin_to_garmin_cn", "garmin", "garmin_cn", true},
		{"strava_to_strava", "", "", false},
		{"strava_garmin", "", "", false},
		{"strava_to_polar", "", "", false},
		{"", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := ParseDirection(r, tt.in)
			if tt.ok {
				if err != nil {
					t.Fatalf("ParseDirection(%q): %v", tt.in, err)
				}
				if d.Source != tt.src || d.Target != tt.dst {
					t.Errorf("ParseDirection(%q) = %+v", tt.in, d)
				}
				if d.String() != tt.in {
					t.Errorf("round trip = %q, want %q", d.String(), tt.in)
				}
			} else if err == nil {
				t.Errorf("ParseDirection(%q) should fail, got %+v", tt.in, d)
			}
		})
	}
}

func TestRegistryGet(t *testing.T) {
	r := testRegistry("strava")

	if _, err := r.Get("strava"); err != nil {
		t.Errorf("Get(strava): %v", err)
	}
	if _, err := r.Get("polar"); err == nil {
		t.Error("Get(polar) should fail")
	}
	if names := r.Names(); len(names) != 1 || names[0] != "strava" {
		t.Errorf("Names() = %v", names)
	}
}
