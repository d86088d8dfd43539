package platform

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Default per-operation timeouts. Timeouts surface as TransportError.
const (
	ListTimeout     = 30 * time.Second
	DownloadTimeout = 120 * time.Second
	UploadTimeout   = 180 * time.Second
)

// Client wraps an http.Client with a circuit breaker so a flapping platform
// degrades its adapter's health instead of burning the whole run's budget
// on timeouts.
type Client struct {
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
}

// NewClient builds a breaker-wrapped client for one platform.
func NewClient(name string, base *http.Client) *Client {
	if base == nil {
		base = &http.Client{}
	}
	settings := gobreaker.Settings{
		Name: name,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		Timeout: 60 * time.Second,
	}
	return &Client{
		http:    base,
		breaker: gobreaker.NewCircuitBreaker[*http.Response](settings),
	}
}

// Do executes the request through the breaker with the given timeout.
// Non-2xx responses are returned to the caller for classification; only
// transport-level failures count against the breaker.
func (c *Client) Do(req *http.Request, timeout time.Duration) (*http.Response, error) {
	ctx := req.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		// The cancel is tied to the response body: callers own Close.
		req = req.WithContext(ctx)
		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			return c.http.Do(req)
		})
		if err != nil {
			cancel()
			return nil, Transport(req.URL.Host, err)
		}
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		return c.http.Do(req)
	})
	if err != nil {
		return nil, Transport(req.URL.Host, err)
	}
	return resp, nil
}

// Health maps breaker state to adapter health.
func (c *Client) Health() Health {
	switch c.breaker.State() {
	case gobreaker.StateOpen:
		return HealthDown
	case gobreaker.StateHalfOpen:
		return HealthDegraded
	default:
		return HealthOK
	}
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	c.cancel()
	return c.ReadCloser.Close()
}
