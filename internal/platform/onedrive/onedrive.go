// Package onedrive adapts OneDrive as an upload-only destination: activity
// files are archived into a drive folder through the Microsoft Graph API.
// Fog-of-World style consumers read GPX from that folder, which is why the
// adapter prefers GPX uploads.
package onedrive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"

	"fitsync/internal/config"
	"fitsync/internal/platform"
)

const (
	// Platform is the registry name.
	Platform = "onedrive"

	graphBase = "https://graph.microsoft.com/v1.0"

	// Graph requires an upload session above this size; below it a single
	// PUT is enough.
	simpleUploadLimit = 4 << 20
	chunkSize         = 10 << 20
)

// Adapter implements platform.Adapter for OneDrive.
type Adapter struct {
	cfg    *config.OneDriveConfig
	save   func() error
	client *platform.Client
	tokens oauth2.TokenSource
}

func New(cfg *config.Config) *Adapter {
	od := &cfg.OneDrive
	oc := &oauth2.Config{
		ClientID:     od.ClientID,
		ClientSecret: od.ClientSecret,
		RedirectURL:  od.RedirectURI,
		Scopes:       []string{"Files.ReadWrite", "offline_access"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/authorize", od.TenantID),
			TokenURL: fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", od.TenantID),
		},
	}
	seed := &oauth2.Token{
		AccessToken:  od.AccessToken,
		RefreshToken: od.RefreshToken,
		Expiry:       time.Now().Add(-time.Minute),
	}

	a := &Adapter{
		cfg:    od,
		save:   cfg.Save,
		client: platform.NewClient(Platform, &http.Client{}),
	}
	a.tokens = oauth2.ReuseTokenSource(seed, &persistingSource{
		inner: oc.TokenSource(context.Background(), seed),
		adapter: a,
	})
	return a
}

// persistingSource writes refreshed tokens back to the config file.
type persistingSource struct {
	inner   oauth2.TokenSource
	adapter *Adapter
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.inner.Token()
	if err != nil {
		return nil, err
	}
	p.adapter.cfg.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		p.adapter.cfg.RefreshToken = tok.RefreshToken
	}
	if err := p.adapter.save(); err != nil {
		return nil, err
	}
	return tok, nil
}

func (a *Adapter) Info() platform.Info {
	return platform.Info{Name: Platform, CostPerList: 1, CostPerDownload: 1, CostPerUpload: 1}
}

// ListActivities: OneDrive holds files, not activity records, so it is
// never a sync source.
func (a *Adapter) ListActivities(ctx context.Context, since time.Time, limit int) ([]platform.Remote, error) {
	return nil, fmt.Errorf("onedrive cannot enumerate activities: %w", platform.ErrUnsupported)
}

func (a *Adapter) Download(ctx context.Context, id string, preferred platform.Format) ([]byte, platform.Format, error) {
	return nil, "", fmt.Errorf("onedrive download: %w", platform.ErrUnsupported)
}

func (a *Adapter) Upload(ctx context.Context, data []byte, format platform.Format, meta platform.UploadMeta) (platform.UploadResult, error) {
	name := remoteFileName(meta, format)
	itemPath := fmt.Sprintf("/me/drive/root:/%s/%s", url.PathEscape(a.cfg.Folder), url.PathEscape(name))

	if len(data) <= simpleUploadLimit {
		return a.uploadSmall(ctx, itemPath, data)
	}
	return a.uploadLarge(ctx, itemPath, data)
}

func (a *Adapter) uploadSmall(ctx context.Context, itemPath string, data []byte) (platform.UploadResult, error) {
	req, err := a.request(ctx, http.MethodPut, itemPath+":/content", bytes.NewReader(data))
	if err != nil {
		return platform.UploadResult{}, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := a.client.Do(req, platform.UploadTimeout)
	if err != nil {
		return platform.UploadResult{Status: platform.UploadTransient, Reason: err.Error()}, nil
	}
	defer resp.Body.Close()
	return a.finishUpload(resp)
}

func (a *Adapter) uploadLarge(ctx context.Context, itemPath string, data []byte) (platform.UploadResult, error) {
	req, err := a.request(ctx, http.MethodPost, itemPath+":/createUploadSession",
		strings.NewReader(`{"item":{"@microsoft.graph.conflictBehavior":"replace"}}`))
	if err != nil {
		return platform.UploadResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req, platform.UploadTimeout)
	if err != nil {
		return platform.UploadResult{Status: platform.UploadTransient, Reason: err.Error()}, nil
	}
	var session struct {
		UploadURL string `json:"uploadUrl"`
	}
	err = json.NewDecoder(resp.Body).Decode(&session)
	resp.Body.Close()
	if err != nil || session.UploadURL == "" {
		return platform.UploadResult{Status: platform.UploadTransient, Reason: "no upload session"}, nil
	}

	total := len(data)
	for offset := 0; offset < total; offset += chunkSize {
		end := min(offset+chunkSize, total)
		chunk := data[offset:end]

		chunkReq, err := http.NewRequestWithContext(ctx, http.MethodPut, session.UploadURL, bytes.NewReader(chunk))
		if err != nil {
			return platform.UploadResult{}, err
		}
		chunkReq.Header.Set("Content-Length", fmt.Sprintf("%d", len(chunk)))
		chunkReq.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, end-1, total))

		chunkResp, err := a.client.Do(chunkReq, platform.UploadTimeout)
		if err != nil {
			return platform.UploadResult{Status: platform.UploadTransient, Reason: err.Error()}, nil
		}
		if end == total {
			defer chunkResp.Body.Close()
			return a.finishUpload(chunkResp)
		}
		chunkResp.Body.Close()
		if chunkResp.StatusCode != http.StatusAccepted {
			return platform.UploadResult{Status: platform.UploadTransient,
				Reason: fmt.Sprintf("chunk status %d", chunkResp.StatusCode)}, nil
		}
	}
	return platform.UploadResult{Status: platform.UploadTransient, Reason: "empty upload"}, nil
}

func (a *Adapter) finishUpload(resp *http.Response) (platform.UploadResult, error) {
	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var item struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
			return platform.UploadResult{Status: platform.UploadAccepted}, nil
		}
		return platform.UploadResult{Status: platform.UploadAccepted, RemoteID: item.ID}, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return platform.UploadResult{}, fmt.Errorf("uploading: %w", platform.ErrUnauthorized)
	case resp.StatusCode == http.StatusConflict:
		// conflictBehavior replace makes this rare; treat as already-there.
		return platform.UploadResult{Status: platform.UploadDuplicate}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return platform.UploadResult{}, fmt.Errorf("uploading: %w", platform.ErrRateLimited)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return platform.UploadResult{Status: platform.UploadTransient,
			Reason: fmt.Sprintf("status %d: %s", resp.StatusCode, body)}, nil
	}
}

func (a *Adapter) SupportedUploadFormats() []platform.Format {
	// GPX leads: the drive folder feeds GPX consumers.
	return []platform.Format{platform.FormatGPX, platform.FormatFIT, platform.FormatTCX}
}

func (a *Adapter) HealthCheck(ctx context.Context) platform.Health {
	return a.client.Health()
}

func (a *Adapter) request(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	tok, err := a.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing onedrive token: %w: %v", platform.ErrUnauthorized, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, graphBase+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	return req, nil
}

// remoteFileName builds "<date> <name>.<ext>" so the drive folder sorts
// chronologically.
func remoteFileName(meta platform.UploadMeta, format platform.Format) string {
	name := strings.TrimSpace(meta.Name)
	if name == "" {
		name = "activity"
	}
	// Drive item names reject a handful of characters.
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '-'
		}
		return r
	}, name)
	return fmt.Sprintf("%s %s.%s", meta.StartTime.UTC().Format("2006-01-02"), name, format)
}
