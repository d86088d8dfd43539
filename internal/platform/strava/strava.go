// Package strava adapts the Strava API (and its browser export endpoint)
// to the platform contract. Listing and uploading go through the v3 API
// under OAuth; original-file downloads use the operator's session cookie
// because Strava does not expose original files over the API.
package strava

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"

	"fitsync/internal/config"
	"fitsync/internal/platform"
)

const (
	baseURL   = "https://www.strava.com/api/v3"
	exportURL = "https://www.strava.com"

	// Platform is the registry name.
	Platform = "strava"
)

// UsageObserver receives the quarter-hour and daily usage Strava reports
// in its rate-limit headers.
type UsageObserver func(windowUsed, dayUsed int)

// Adapter implements platform.Adapter for Strava.
type Adapter struct {
	cfg     *config.Config
	client  *platform.Client
	tokens  *tokenSource
	observe UsageObserver
}

// New builds the adapter from the strava config block. Token refreshes are
// persisted back through cfg.Save.
func New(cfg *config.Config, observe UsageObserver) *Adapter {
	a := &Adapter{
		cfg:     cfg,
		client:  platform.NewClient(Platform, &http.Client{}),
		observe: observe,
	}
	a.tokens = newTokenSource(
		cfg.Strava.ClientID, cfg.Strava.ClientSecret,
		cfg.Strava.RefreshToken, cfg.Strava.AccessToken,
		func(tok *oauth2.Token) error {
			cfg.Strava.AccessToken = tok.AccessToken
			cfg.Strava.RefreshToken = tok.RefreshToken
			return cfg.Save()
		},
	)
	return a
}

func (a *Adapter) Info() platform.Info {
	return platform.Info{
		Name:        Platform,
		CostPerList: 1,
		// Downloads ride the session cookie, not the API budget.
		CostPerDownload: 0,
		CostPerUpload:   1,
	}
}

// apiActivity is the slice of Strava's SummaryActivity we consume.
type apiActivity struct {
	ID                 int64    `json:"id"`
	Name               string   `json:"name"`
	SportType          string   `json:"sport_type"`
	Type               string   `json:"type"`
	StartDate          string   `json:"start_date"`
	Distance           float64  `json:"distance"`
	ElapsedTime        int      `json:"elapsed_time"`
	TotalElevationGain *float64 `json:"total_elevation_gain"`
	DeviceName         string   `json:"device_name"`
	UploadID           *int64   `json:"upload_id"`
	ExternalID         string   `json:"external_id"`
}

func (a *Adapter) ListActivities(ctx context.Context, since time.Time, limit int) ([]platform.Remote, error) {
	params := url.Values{}
	if !since.IsZero() {
		params.Set("after", strconv.FormatInt(since.Unix(), 10))
	}
	params.Set("page", "1")
	params.Set("per_page", strconv.Itoa(limit))

	req, err := a.apiRequest(ctx, http.MethodGet, "/athlete/activities?"+params.Encode(), nil, "")
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req, platform.ListTimeout)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	a.observeHeaders(resp.Header)

	if err := classifyStatus(resp, "listing activities"); err != nil {
		return nil, err
	}

	var raw []apiActivity
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding activities: %w", err)
	}

	remotes := make([]platform.Remote, 0, len(raw))
	for _, act := range raw {
		start, err := time.Parse(time.RFC3339, act.StartDate)
		if err != nil {
			continue // skip records with unparseable timestamps
		}
		sportType := act.SportType
		if sportType == "" {
			sportType = act.Type
		}
		remotes = append(remotes, platform.Remote{
			ID:            strconv.FormatInt(act.ID, 10),
			Name:          act.Name,
			SportType:     sportType,
			StartTime:     start,
			Distance:      act.Distance,
			Duration:      act.ElapsedTime,
			ElevationGain: act.TotalElevationGain,
			Formats:       []platform.Format{platform.FormatFIT, platform.FormatTCX, platform.FormatGPX},
			Manual:        isManual(act),
		})
	}
	return remotes, nil
}

// isManual detects activities created in the Strava UI: they carry no
// device name, no upload id and no external id, and have no original file
// to download.
func isManual(act apiActivity) bool {
	return strings.TrimSpace(act.DeviceName) == "" &&
		act.UploadID == nil &&
		strings.TrimSpace(act.ExternalID) == ""
}

// Download fetches the original file through the browser export endpoint.
// Strava answers HTML in two very different situations: the activity is
// manual (no original file) or the session cookie expired. Status codes
// don't distinguish them, so the body is inspected for landmarks.
func (a *Adapter) Download(ctx context.Context, id string, preferred platform.Format) ([]byte, platform.Format, error) {
	if a.cfg.Strava.Cookie == "" {
		return nil, "", fmt.Errorf("downloading %s: session cookie not configured: %w", id, platform.ErrUnauthorized)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/activities/%s/export_original", exportURL, id), nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Cookie", a.cfg.Strava.Cookie)
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := a.client.Do(req, platform.DownloadTimeout)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, "", platform.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", platform.Transport("download", fmt.Errorf("status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", platform.Transport("download", err)
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if strings.Contains(contentType, "text/html") {
		return nil, "", classifyHTML(data)
	}

	format := formatFromResponse(resp, data)
	return data, format, nil
}

// classifyHTML tells a no-original-file page apart from a login redirect.
// A normal Strava activity page means the activity simply has no file; a
// page asking for login means the cookie died.
func classifyHTML(body []byte) error {
	page := strings.ToLower(string(body))
	if strings.Contains(page, "log in") || strings.Contains(page, "login") ||
		strings.Contains(page, "session has expired") {
		return fmt.Errorf("session cookie rejected: %w", platform.ErrUnauthorized)
	}
	for _, landmark := range []string{"strava", "activity", "manual", "no file", "not available"} {
		if strings.Contains(page, landmark) {
			return platform.ErrNoOriginalFile
		}
	}
	return fmt.Errorf("unrecognized html response: %w", platform.ErrUnauthorized)
}

func formatFromResponse(resp *http.Response, data []byte) platform.Format {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		lower := strings.ToLower(cd)
		for _, f := range []platform.Format{platform.FormatFIT, platform.FormatTCX, platform.FormatGPX} {
			if strings.Contains(lower, "."+string(f)) {
				return f
			}
		}
	}
	switch {
	case bytes.Contains(data[:min(len(data), 256)], []byte("<gpx")):
		return platform.FormatGPX
	case bytes.Contains(data[:min(len(data), 256)], []byte("TrainingCenterDatabase")):
		return platform.FormatTCX
	default:
		return platform.FormatFIT
	}
}

type uploadResponse struct {
	ID     int64  `json:"id"`
	Error  string `json:"error"`
	Status string `json:"status"`
}

func (a *Adapter) Upload(ctx context.Context, data []byte, format platform.Format, meta platform.UploadMeta) (platform.UploadResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "activity."+string(format))
	if err != nil {
		return platform.UploadResult{}, err
	}
	if _, err := part.Write(data); err != nil {
		return platform.UploadResult{}, err
	}
	writer.WriteField("data_type", string(format))
	if meta.Name != "" {
		writer.WriteField("name", meta.Name)
	}
	if err := writer.Close(); err != nil {
		return platform.UploadResult{}, err
	}

	req, err := a.apiRequest(ctx, http.MethodPost, "/uploads", &body, writer.FormDataContentType())
	if err != nil {
		return platform.UploadResult{}, err
	}
	resp, err := a.client.Do(req, platform.UploadTimeout)
	if err != nil {
		return platform.UploadResult{Status: platform.UploadTransient, Reason: err.Error()}, nil
	}
	defer resp.Body.Close()
	a.observeHeaders(resp.Header)

	if err := classifyStatus(resp, "uploading"); err != nil {
		return platform.UploadResult{}, err
	}

	var ur uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		return platform.UploadResult{Status: platform.UploadTransient, Reason: "undecodable upload response"}, nil
	}

	switch {
	case strings.Contains(strings.ToLower(ur.Error), "duplicate"):
		return platform.UploadResult{Status: platform.UploadDuplicate}, nil
	case ur.Error != "":
		return platform.UploadResult{Status: platform.UploadRejected, Reason: ur.Error}, nil
	default:
		return platform.UploadResult{
			Status:   platform.UploadAccepted,
			RemoteID: strconv.FormatInt(ur.ID, 10),
		}, nil
	}
}

func (a *Adapter) SupportedUploadFormats() []platform.Format {
	return []platform.Format{platform.FormatFIT, platform.FormatTCX, platform.FormatGPX}
}

func (a *Adapter) HealthCheck(ctx context.Context) platform.Health {
	return a.client.Health()
}

func (a *Adapter) apiRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	tok, err := a.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing strava token: %w: %v", platform.ErrUnauthorized, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

func (a *Adapter) observeHeaders(h http.Header) {
	if a.observe == nil {
		return
	}
	// X-RateLimit-Usage: "34,512" (quarter-hour, day)
	usage := h.Get("X-RateLimit-Usage")
	parts := strings.Split(usage, ",")
	if len(parts) < 2 {
		return
	}
	window, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	day, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 == nil && err2 == nil {
		a.observe(window, day)
	}
}

func classifyStatus(resp *http.Response, op string) error {
	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w", op, platform.ErrUnauthorized)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", op, platform.ErrRateLimited)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, platform.ErrNotFound)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return platform.Transport(op, fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}
}
