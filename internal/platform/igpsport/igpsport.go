// Package igpsport adapts IGPSport. Uploads go through the platform's
// OSS staging flow: fetch a staging grant, PUT the file to the granted
// object URL, then notify the analyze service to ingest it.
package igpsport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"fitsync/internal/config"
	"fitsync/internal/platform"
)

const (
	// Platform is the registry name.
	Platform = "igpsport"

	serviceBase = "https://prod.zh.igpsport.com"
)

// Adapter implements platform.Adapter for IGPSport.
type Adapter struct {
	cfg    *config.IGPSportConfig
	save   func() error
	client *platform.Client
}

func New(cfg *config.Config) *Adapter {
	return &Adapter{
		cfg:    &cfg.IGPSport,
		save:   cfg.Save,
		client: platform.NewClient(Platform, &http.Client{}),
	}
}

func (a *Adapter) Info() platform.Info {
	return platform.Info{Name: Platform, CostPerList: 1, CostPerDownload: 1, CostPerUpload: 3}
}

type rideRow struct {
	RideID          int64   `json:"rideId"`
	Title           string  `json:"title"`
	StartTime       string  `json:"startTime"` // RFC3339
	RideDistance    float64 `json:"rideDistance"`
	TotalMovingTime int     `json:"totalMovingTime"`
	FitURL          string  `json:"fitUrl"`
}

type listResponse struct {
	Code int `json:"code"`
	Data struct {
		Rows []rideRow `json:"rows"`
	} `json:"data"`
}

func (a *Adapter) ListActivities(ctx context.Context, since time.Time, limit int) ([]platform.Remote, error) {
	params := url.Values{}
	params.Set("pageNo", "1")
	params.Set("pageSize", strconv.Itoa(limit))
	params.Set("reqType", "0")
	params.Set("sort", "1")

	req, err := a.request(ctx, http.MethodGet,
		serviceBase+"/service/web-gateway/web-analyze/activity/queryMyActivity?"+params.Encode(), nil)
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

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("decoding igpsport activities: %w", err)
	}

	remotes := make([]platform.Remote, 0, len(lr.Data.Rows))
	for _, row := range lr.Data.Rows {
		start, err := time.Parse(time.RFC3339, row.StartTime)
		if err != nil {
			continue
		}
		if !since.IsZero() && start.Before(since) {
			continue
		}
		remotes = append(remotes, platform.Remote{
			ID:        strconv.FormatInt(row.RideID, 10),
			Name:      row.Title,
			SportType: "ride", // IGPSport is a cycling computer
			StartTime: start,
			Distance:  row.RideDistance,
			Duration:  row.TotalMovingTime,
			Formats:   []platform.Format{platform.FormatFIT},
			Manual:    row.FitURL == "",
		})
	}
	return remotes, nil
}

func (a *Adapter) Download(ctx context.Context, id string, preferred platform.Format) ([]byte, platform.Format, error) {
	req, err := a.request(ctx, http.MethodGet,
		serviceBase+"/service/web-gateway/web-analyze/activity/queryActivityFit/"+id, nil)
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
	if err := classify(resp, "downloading"); err != nil {
		return nil, "", err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", platform.Transport("download", err)
	}
	if len(data) == 0 {
		return nil, "", platform.ErrNoOriginalFile
	}
	return data, platform.FormatFIT, nil
}

type ossGrant struct {
	Code int `json:"code"`
	Data struct {
		Endpoint   string `json:"endpoint"`
		Bucket     string `json:"bucket"`
		ObjectName string `json:"objectName"`
		UploadURL  string `json:"uploadUrl"`
	} `json:"data"`
}

func (a *Adapter) Upload(ctx context.Context, data []byte, format platform.Format, meta platform.UploadMeta) (platform.UploadResult, error) {
	grant, err := a.fetchOSSGrant(ctx)
	if err != nil {
		return platform.UploadResult{}, err
	}

	objectName := grant.Data.ObjectName
	if objectName == "" {
		objectName = uuid.NewString() + "." + string(format)
	}
	uploadURL := grant.Data.UploadURL
	if uploadURL == "" {
		uploadURL = fmt.Sprintf("https://%s/%s/%s", grant.Data.Endpoint, grant.Data.Bucket, objectName)
	}

	putReq, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return platform.UploadResult{}, err
	}
	putReq.Header.Set("Content-Type", "application/octet-stream")
	putResp, err := a.client.Do(putReq, platform.UploadTimeout)
	if err != nil {
		return platform.UploadResult{Status: platform.UploadTransient, Reason: err.Error()}, nil
	}
	putResp.Body.Close()
	if putResp.StatusCode >= 300 {
		return platform.UploadResult{Status: platform.UploadTransient,
			Reason: fmt.Sprintf("oss staging status %d", putResp.StatusCode)}, nil
	}

	fileName := meta.Name
	if fileName == "" {
		fileName = objectName
	}
	payload, err := json.Marshal(map[string]string{
		"fileName": fileName + "." + string(format),
		"ossName":  objectName,
	})
	if err != nil {
		return platform.UploadResult{}, err
	}
	notifyReq, err := a.request(ctx, http.MethodPost,
		serviceBase+"/service/web-gateway/web-analyze/activity/uploadByOss", bytes.NewReader(payload))
	if err != nil {
		return platform.UploadResult{}, err
	}
	notifyReq.Header.Set("Content-Type", "application/json")

	notifyResp, err := a.client.Do(notifyReq, platform.UploadTimeout)
	if err != nil {
		return platform.UploadResult{Status: platform.UploadTransient, Reason: err.Error()}, nil
	}
	defer notifyResp.Body.Close()
	if err := classify(notifyResp, "upload notify"); err != nil {
		return platform.UploadResult{}, err
	}

	var ack struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(notifyResp.Body).Decode(&ack); err == nil && ack.Code != 0 {
		return platform.UploadResult{Status: platform.UploadRejected, Reason: ack.Message}, nil
	}

	// IGPSport assigns the ride id asynchronously; the mapping is picked
	// up on the next enumeration of the platform.
	return platform.UploadResult{Status: platform.UploadAccepted, RemoteID: objectName}, nil
}

func (a *Adapter) fetchOSSGrant(ctx context.Context) (*ossGrant, error) {
	req, err := a.request(ctx, http.MethodGet,
		serviceBase+"/service/mobile/api/AliyunService/GetOssTokenForApp", nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req, platform.ListTimeout)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := classify(resp, "fetching oss grant"); err != nil {
		return nil, err
	}

	var grant ossGrant
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return nil, fmt.Errorf("decoding oss grant: %w", err)
	}
	return &grant, nil
}

func (a *Adapter) SupportedUploadFormats() []platform.Format {
	return []platform.Format{platform.FormatFIT}
}

func (a *Adapter) HealthCheck(ctx context.Context) platform.Health {
	return a.client.Health()
}

func (a *Adapter) request(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	if a.cfg.LoginToken == "" {
		return nil, fmt.Errorf("igpsport login token not configured: %w", platform.ErrUnauthorized)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.LoginToken)
	req.Header.Set("Referer", "https://app.zh.igpsport.com/")
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
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return platform.Transport(op, fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}
}
