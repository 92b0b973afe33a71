package fallback

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-devicehub/internal/hdp"
)

const (
	// devicesPath is the full-list endpoint served by the device hub REST API.
	devicesPath = "/api/hdp/devices"

	// defaultTimeout bounds one fetch.
	defaultTimeout = 10 * time.Second

	// maxBodySize caps the list response (8MB).
	maxBodySize = 8 << 20
)

// TokenFunc returns the bearer token for the next request. An empty token
// sends no Authorization header.
type TokenFunc func() (string, error)

// StaticToken returns a TokenFunc for a fixed token.
func StaticToken(token string) TokenFunc {
	return func() (string, error) { return token, nil }
}

// Fetcher retrieves the full device list.
type Fetcher interface {
	FetchDevices(ctx context.Context) ([]hdp.DeviceSnapshot, error)
}

// Client fetches the device list over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	token   TokenFunc
}

// NewClient creates a client for baseURL (e.g. "http://device-hub:8090").
// A nil token sends unauthenticated requests.
func NewClient(baseURL string, timeout time.Duration, token TokenFunc) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		token:   token,
	}
}

// FetchDevices performs GET <base>/api/hdp/devices.
//
// Parameters:
//   - ctx: Cancels the in-flight request
//
// Returns:
//   - []hdp.DeviceSnapshot: Decoded rows
//   - error: Wrapped ErrFetchFailed on transport, status or decode failures
func (c *Client) FetchDevices(ctx context.Context) ([]hdp.DeviceSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+devicesPath, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", ErrFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	if c.token != nil {
		token, err := c.token()
		if err != nil {
			return nil, fmt.Errorf("%w: obtaining token: %w", ErrFetchFailed, err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrFetchFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", ErrFetchFailed, err)
	}

	rows, err := hdp.DecodeSnapshots(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	return rows, nil
}
