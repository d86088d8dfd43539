// Package intervalsicu adapts Intervals.icu, an upload-mostly analytics
// destination. Authentication is HTTP basic with the literal username
// API_KEY, per the platform's API convention.
package intervalsicu

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

	"fitsync/internal/config"
	"fitsync/internal/platform"
)

const (
	// Platform is the registry name.
	Platform = "intervals_icu"

	baseURL = "https://intervals.icu/api/v1"
)

// Adapter implements platform.Adapter for Intervals.icu.
type Adapter struct {
	cfg    *config.IntervalsICUConfig
	client *platform.Client
}

func New(cfg *config.Config) *Adapter {
	return &Adapter{
		cfg:    &cfg.IntervalsICU,
		client: platform.NewClient(Platform, &http.Client{}),
	}
}

func (a *Adapter) Info() platform.Info {
	return platform.Info{Name: Platform, CostPerList: 1, CostPerDownload: 1, CostPerUpload: 1}
}

type apiActivity struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	StartDate     string   `json:"start_date_local"`
	Distance      float64  `json:"distance"`
	MovingTime    int      `json:"moving_time"`
	ElapsedTime   int      `json:"elapsed_time"`
	TotalElevGain *float64 `json:"total_elevation_gain"`
}

func (a *Adapter) ListActivities(ctx context.Context, since time.Time, limit int) ([]platform.Remote, error) {
	params := url.Values{}
	if !since.IsZero() {
		params.Set("oldest", since.UTC().Format("2006-01-02T15:04:05"))
	}
	params.Set("limit", strconv.Itoa(limit))

	req, err := a.request(ctx, http.MethodGet,
		fmt.Sprintf("%s/athlete/%s/activities?%s", baseURL, a.athleteID(), params.Encode()), nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req, platform.ListTimeout)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := classify(resp, "listing activities"); err != nil {
		return nil, err
	}

	var raw []apiActivity
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding intervals.icu activities: %w", err)
	}

	remotes := make([]platform.Remote, 0, len(raw))
	for _, act := range raw {
		start, err := time.Parse("2006-01-02T15:04:05", act.StartDate)
		if err != nil {
			continue
		}
		duration := act.MovingTime
		if duration == 0 {
			duration = act.ElapsedTime
		}
		remotes = append(remotes, platform.Remote{
			ID:            act.ID,
			Name:          act.Name,
			SportType:     act.Type,
			StartTime:     start.UTC(),
			Distance:      act.Distance,
			Duration:      duration,
			ElevationGain: act.TotalElevGain,
			Formats:       []platform.Format{platform.FormatFIT},
		})
	}
	return remotes, nil
}

func (a *Adapter) Download(ctx context.Context, id string, preferred platform.Format) ([]byte, platform.Format, error) {
	req, err := a.request(ctx, http.MethodGet,
		fmt.Sprintf("%s/activity/%s/fit-file", baseURL, id), nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := a.client.Do(req, platform.DownloadTimeout)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, "", platform.ErrNoOriginalFile
	}
	if err := classify(resp, "downloading"); err != nil {
		return nil, "", err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", platform.Transport("download", err)
	}
	return data, platform.FormatFIT, nil
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
	if meta.Name != "" {
		writer.WriteField("name", meta.Name)
	}
	if err := writer.Close(); err != nil {
		return platform.UploadResult{}, err
	}

	req, err := a.request(ctx, http.MethodPost,
		fmt.Sprintf("%s/athlete/%s/activities", baseURL, a.athleteID()), &body)
	if err != nil {
		return platform.UploadResult{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := a.client.Do(req, platform.UploadTimeout)
	if err != nil {
		return platform.UploadResult{Status: platform.UploadTransient, Reason: err.Error()}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusConflict {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if strings.Contains(strings.ToLower(string(body)), "duplicate") {
			return platform.UploadResult{Status: platform.UploadDuplicate}, nil
		}
		return platform.UploadResult{Status: platform.UploadRejected, Reason: string(body)}, nil
	}
	if err := classify(resp, "uploading"); err != nil {
		return platform.UploadResult{}, err
	}

	var ack struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return platform.UploadResult{Status: platform.UploadAccepted}, nil
	}
	return platform.UploadResult{Status: platform.UploadAccepted, RemoteID: ack.ID}, nil
}

func (a *Adapter) SupportedUploadFormats() []platform.Format {
	return []platform.Format{platform.FormatFIT, platform.FormatTCX, platform.FormatGPX}
}

func (a *Adapter) HealthCheck(ctx context.Context) platform.Health {
	return a.client.Health()
}

// athleteID "0" aliases the key's own athlete.
func (a *Adapter) athleteID() string {
	if a.cfg.UserID != "" {
		return a.cfg.UserID
	}
	return "0"
}

func (a *Adapter) request(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	if a.cfg.APIKey == "" {
		return nil, fmt.Errorf("intervals.icu api key not configured: %w", platform.ErrUnauthorized)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth("API_KEY", a.cfg.APIKey)
	return req, nil
}

func classify(resp *http.Response, op string) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
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
