// Package rclone talks to the rclone remote-control API of the mount that
// exposes the content tree.
package rclone

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"blackhole/internal/services"
)

const defaultHTTPTimeout = 15 * time.Second

// Client invalidates rclone VFS directory caches.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient returns a client for the rc endpoint at baseURL.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type refreshResponse struct {
	Result map[string]string `json:"result"`
	Error  string            `json:"error"`
}

// Refresh asks rclone to re-read dir, a path relative to the remote root such
// as "/Import/sonarr/completed". rclone answers 200 even when a directory is
// unknown, so per-directory results are checked as well.
func (c *Client) Refresh(ctx context.Context, dir string) error {
	if c == nil || c.baseURL == "" {
		return services.Wrap(services.ErrConfiguration, "rclone", "vfs/refresh", "rclone url not configured", nil)
	}
	query := url.Values{}
	query.Set("dir", dir)
	endpoint := c.baseURL + "/vfs/refresh?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return services.Wrap(services.ErrRemoteCall, "rclone", "vfs/refresh", "build request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrRemoteCall, "rclone", "vfs/refresh", dir, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return services.Wrap(services.ErrRemoteCall, "rclone", "vfs/refresh", "read response", err)
	}
	var payload refreshResponse
	_ = json.Unmarshal(body, &payload)

	if resp.StatusCode >= http.StatusMultipleChoices {
		msg := strings.TrimSpace(payload.Error)
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return services.Wrap(services.ErrRemoteCall, "rclone", "vfs/refresh", fmt.Sprintf("http %d: %s", resp.StatusCode, msg), nil)
	}

	var failed []string
	for key, value := range payload.Result {
		if !strings.EqualFold(value, "OK") {
			failed = append(failed, fmt.Sprintf("%s: %s", key, value))
		}
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		return services.Wrap(services.ErrRemoteCall, "rclone", "vfs/refresh", strings.Join(failed, "; "), nil)
	}
	return nil
}

// Version calls core/version, which every rc server answers. It is used to
// check that the remote-control API is enabled.
func (c *Client) Version(ctx context.Context) (string, error) {
	if c == nil || c.baseURL == "" {
		return "", services.Wrap(services.ErrConfiguration, "rclone", "core/version", "rclone url not configured", nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/core/version", nil)
	if err != nil {
		return "", services.Wrap(services.ErrRemoteCall, "rclone", "core/version", "build request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrRemoteCall, "rclone", "core/version", "request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", services.Wrap(services.ErrRemoteCall, "rclone", "core/version", fmt.Sprintf("http %d", resp.StatusCode), nil)
	}
	var payload struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return "", services.Wrap(services.ErrRemoteCall, "rclone", "core/version", "decode response", err)
	}
	return payload.Version, nil
}
