// Package garmin adapts Garmin Connect. Authentication rides a stored
// session cookie jar: Garmin's SSO handshake happens outside this process
// (the operator signs in once; the session is kept in .app_config.json and
// renewed by Garmin on use). An expired session surfaces as Unauthorized,
// which halts the direction and appears in the driver's run summary.
//
// The same adapter serves garmin.com and garmin.cn; the two registry
// entries differ only in config block and domain.
package garmin

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
	// Platform and PlatformCN are the registry names.
	Platform   = "garmin"
	PlatformCN = "garmin_cn"
)

// Adapter implements platform.Adapter for Garmin Connect.
type Adapter struct {
	name   string
	cfg    *config.GarminConfig
	save   func() error
	client *platform.Client
	base   string
}

// New builds the global-domain adapter.
func New(cfg *config.Config) *Adapter {
	return newAdapter(Platform, &cfg.Garmin, cfg.Save, "https://connectapi.garmin.com")
}

// NewCN builds the China-domain adapter.
func NewCN(cfg *config.Config) *Adapter {
	return newAdapter(PlatformCN, &cfg.GarminCN, cfg.Save, "https://connectapi.garmin.cn")
}

func newAdapter(name string, cfg *config.GarminConfig, save func() error, base string) *Adapter {
	return &Adapter{
		name:   name,
		cfg:    cfg,
		save:   save,
		client: platform.NewClient(name, &http.Client{}),
		base:   base,
	}
}

func (a *Adapter) Info() platform.Info {
	// Garmin publishes no API budget; the governor leaves it unlimited.
	return platform.Info{Name: a.name, CostPerList: 1, CostPerDownload: 1, CostPerUpload: 1}
}

type apiActivity struct {
	ActivityID    int64    `json:"activityId"`
	ActivityName  string   `json:"activityName"`
	StartTimeGMT  string   `json:"startTimeGMT"` // "2006-01-02 15:04:05"
	Distance      float64  `json:"distance"`
	Duration      float64  `json:"duration"`
	ElevationGain *float64 `json:"elevationGain"`
	ActivityType  struct {
		TypeKey string `json:"typeKey"`
	} `json:"activityType"`
	Manual bool `json:"manualActivity"`
}

func (a *Adapter) ListActivities(ctx context.Context, since time.Time, limit int) ([]platform.Remote, error) {
	params := url.Values{}
	params.Set("start", "0")
	params.Set("limit", strconv.Itoa(limit))
	if !since.IsZero() {
		params.Set("startDate", since.UTC().Format("2006-01-02"))
	}

	req, err := a.request(ctx, http.MethodGet,
		"/activitylist-service/activities/search/activities?"+params.Encode(), nil, "")
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req, platform.ListTimeout)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := a.classify(resp, "listing activities"); err != nil {
		return nil, err
	}

	var raw []apiActivity
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding garmin activities: %w", err)
	}

	remotes := make([]platform.Remote, 0, len(raw))
	for _, act := range raw {
		start, err := time.Parse("2006-01-02 15:04:05", act.StartTimeGMT)
		if err != nil {
			continue
		}
		start = start.UTC()
		if !since.IsZero() && start.Before(since) {
			continue
		}
		remotes = append(remotes, platform.Remote{
			ID:            strconv.FormatInt(act.ActivityID, 10),
			Name:          act.ActivityName,
			SportType:     act.ActivityType.TypeKey,
			StartTime:     start,
			Distance:      act.Distance,
			Duration:      int(act.Duration),
			ElevationGain: act.ElevationGain,
			Formats:       []platform.Format{platform.FormatFIT, platform.FormatTCX, platform.FormatGPX},
			Manual:        act.Manual,
		})
	}
	return remotes, nil
}

func (a *Adapter) Download(ctx context.Context, id string, preferred platform.Format) ([]byte, platform.Format, error) {
	path := "/download-service/files/activity/" + id // original FIT
	format := platform.FormatFIT
	switch preferred {
	case platform.FormatTCX:
		path = "/download-service/export/tcx/activity/" + id
		format = platform.FormatTCX
	case platform.FormatGPX:
		path = "/download-service/export/gpx/activity/" + id
		format = platform.FormatGPX
	}

	req, err := a.request(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, "", err
	}
	resp, err := a.client.Do(req, platform.DownloadTimeout)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, "", platform.ErrNotFound
	}
	if err := a.classify(resp, "downloading"); err != nil {
		return nil, "", err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", platform.Transport("download", err)
	}
	if len(data) == 0 {
		return nil, "", platform.ErrNoOriginalFile
	}
	return data, format, nil
}

type uploadResponse struct {
	DetailedImportResult struct {
		UploadID  int64 `json:"uploadId"`
		Successes []struct {
			InternalID int64 `json:"internalId"`
		} `json:"successes"`
		Failures []struct {
			Messages []struct {
				Code    int    `json:"code"`
				Content string `json:"content"`
			} `json:"messages"`
		} `json:"failures"`
	} `json:"detailedImportResult"`
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
	if err := writer.Close(); err != nil {
		return platform.UploadResult{}, err
	}

	req, err := a.request(ctx, http.MethodPost,
		"/upload-service/upload/."+string(format), &body, writer.FormDataContentType())
	if err != nil {
		return platform.UploadResult{}, err
	}
	resp, err := a.client.Do(req, platform.UploadTimeout)
	if err != nil {
		return platform.UploadResult{Status: platform.UploadTransient, Reason: err.Error()}, nil
	}
	defer resp.Body.Close()

	// Garmin answers 409 for files it already ingested.
	if resp.StatusCode == http.StatusConflict {
		return platform.UploadResult{Status: platform.UploadDuplicate}, nil
	}
	if err := a.classify(resp, "uploading"); err != nil {
		return platform.UploadResult{}, err
	}

	var ur uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		return platform.UploadResult{Status: platform.UploadTransient, Reason: "undecodable upload response"}, nil
	}

	result := ur.DetailedImportResult
	if len(result.Successes) > 0 {
		return platform.UploadResult{
			Status:   platform.UploadAccepted,
			RemoteID: strconv.FormatInt(result.Successes[0].InternalID, 10),
		}, nil
	}
	for _, f := range result.Failures {
		for _, m := range f.Messages {
			if strings.Contains(strings.ToLower(m.Content), "duplicate") {
				return platform.UploadResult{Status: platform.UploadDuplicate}, nil
			}
			return platform.UploadResult{Status: platform.UploadRejected, Reason: m.Content}, nil
		}
	}
	return platform.UploadResult{
		Status:   platform.UploadAccepted,
		RemoteID: strconv.FormatInt(result.UploadID, 10),
	}, nil
}

func (a *Adapter) SupportedUploadFormats() []platform.Format {
	return []platform.Format{platform.FormatFIT, platform.FormatTCX, platform.FormatGPX}
}

func (a *Adapter) HealthCheck(ctx context.Context) platform.Health {
	return a.client.Health()
}

func (a *Adapter) request(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	if a.cfg.SessionCookies == "" {
		return nil, fmt.Errorf("%s session not established: %w", a.name, platform.ErrUnauthorized)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cookie", a.cfg.SessionCookies)
	req.Header.Set("NK", "NT") // Connect rejects requests without it
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

func (a *Adapter) classify(resp *http.Response, op string) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w", op, platform.ErrUnauthorized)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", op, platform.ErrRateLimited)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return platform.Transport(op, fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}
}

// ClearSession drops the stored cookies so the next run forces a fresh
// sign-in.
func (a *Adapter) ClearSession() error {
	a.cfg.SessionCookies = ""
	return a.save()
}
