// Package config reads and writes the application's .app_config.json.
// Credential fields are operator-supplied and stable; session fields
// (access tokens, cookies) are rewritten by adapters whenever a platform
// refreshes them, so Save must round-trip the whole document.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// FileName is the config file at the project root.
const FileName = ".app_config.json"

// ErrNoConfig is returned when the config file doesn't exist yet.
var ErrNoConfig = errors.New("config file not found")

// Config is the full application configuration.
type Config struct {
	Strava       StravaConfig       `json:"strava" koanf:"strava"`
	Garmin       GarminConfig       `json:"garmin" koanf:"garmin"`
	GarminCN     GarminConfig       `json:"garmin_cn" koanf:"garmin_cn"`
	IGPSport     IGPSportConfig     `json:"igpsport" koanf:"igpsport"`
	OneDrive     OneDriveConfig     `json:"onedrive" koanf:"onedrive"`
	IntervalsICU IntervalsICUConfig `json:"intervals_icu" koanf:"intervals_icu"`
	General      GeneralConfig      `json:"general" koanf:"general"`

	path string
}

// StravaConfig holds Strava API credentials plus the session cookie used
// for original-file export.
type StravaConfig struct {
	ClientID     string `json:"client_id" koanf:"client_id"`
	ClientSecret string `json:"client_secret" koanf:"client_secret"`
	RefreshToken string `json:"refresh_token" koanf:"refresh_token"`
	AccessToken  string `json:"access_token" koanf:"access_token"`
	Cookie       string `json:"cookie" koanf:"cookie"`
}

// GarminConfig holds Garmin Connect credentials and the renewable session.
type GarminConfig struct {
	Username       string `json:"username" koanf:"username"`
	Password       string `json:"password" koanf:"password"`
	AuthDomain     string `json:"auth_domain" koanf:"auth_domain"`
	SessionCookies string `json:"session_cookies" koanf:"session_cookies"`
}

// IGPSportConfig holds IGPSport credentials.
type IGPSportConfig struct {
	Username   string `json:"username" koanf:"username"`
	Password   string `json:"password" koanf:"password"`
	LoginToken string `json:"login_token" koanf:"login_token"`
}

// OneDriveConfig holds the OneDrive OAuth application and tokens.
type OneDriveConfig struct {
	ClientID     string `json:"client_id" koanf:"client_id"`
	ClientSecret string `json:"client_secret" koanf:"client_secret"`
	RedirectURI  string `json:"redirect_uri" koanf:"redirect_uri"`
	RefreshToken string `json:"refresh_token" koanf:"refresh_token"`
	AccessToken  string `json:"access_token" koanf:"access_token"`
	TenantID     string `json:"tenant_id" koanf:"tenant_id"`
	// Folder is the drive path activity files land in.
	Folder string `json:"folder" koanf:"folder"`
}

// IntervalsICUConfig holds the Intervals.icu API key pair.
type IntervalsICUConfig struct {
	UserID string `json:"user_id" koanf:"user_id"`
	APIKey string `json:"api_key" koanf:"api_key"`
}

// GeneralConfig holds cross-platform settings.
type GeneralConfig struct {
	DebugMode bool `json:"debug_mode" koanf:"debug_mode"`
	// SportTablePath optionally overrides the embedded sport table.
	SportTablePath string `json:"sport_table_path" koanf:"sport_table_path"`
}

// DefaultConfig returns the skeleton written on first run.
func DefaultConfig() Config {
	return Config{
		Strava: StravaConfig{
			ClientID:     "YOUR_CLIENT_ID",
			ClientSecret: "YOUR_CLIENT_SECRET",
		},
		Garmin:   GarminConfig{AuthDomain: "GLOBAL"},
		GarminCN: GarminConfig{AuthDomain: "CN"},
		OneDrive: OneDriveConfig{
			RedirectURI: "http://localhost",
			TenantID:    "common",
			Folder:      "FitSync",
		},
	}
}

// Load reads the config file at dir/.app_config.json, layering it over the
// defaults.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, ErrNoConfig
	}

	k := koanf.New(".")
	defaults := DefaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading config defaults: %w", err)
	}
	if err := k.Load(file.Provider(path), kjson.Parser()); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.path = path
	return &cfg, nil
}

// CreateExample writes the default skeleton if no config exists yet.
func CreateExample(dir string) (string, error) {
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	cfg := DefaultConfig()
	cfg.path = path
	return path, cfg.Save()
}

// Save writes the configuration back to disk. Adapters call this after a
// token refresh so sessions survive the process.
func (c *Config) Save() error {
	if c.path == "" {
		return errors.New("config has no backing file")
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Path returns the file this config was loaded from.
func (c *Config) Path() string { return c.path }

// PlatformConfigured reports whether a platform block carries usable
// credentials.
func (c *Config) PlatformConfigured(platform string) bool {
	switch platform {
	case "strava":
		return c.Strava.ClientID != "" && c.Strava.ClientID != "YOUR_CLIENT_ID" &&
			c.Strava.ClientSecret != "" && c.Strava.ClientSecret != "YOUR_CLIENT_SECRET" &&
			c.Strava.RefreshToken != ""
	case "garmin":
		return c.Garmin.Username != "" && c.Garmin.Password != ""
	case "garmin_cn":
		return c.GarminCN.Username != "" && c.GarminCN.Password != ""
	case "igpsport":
		return c.IGPSport.LoginToken != "" || (c.IGPSport.Username != "" && c.IGPSport.Password != "")
	case "onedrive":
		return c.OneDrive.ClientID != "" && c.OneDrive.ClientID != "YOUR_CLIENT_ID" &&
			c.OneDrive.RefreshToken != ""
	case "intervals_icu":
		return c.IntervalsICU.UserID != "" && c.IntervalsICU.APIKey != ""
	}
	return false
}
