// Package sabnzbd submits descriptors to a SABnzbd download queue.
package sabnzbd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"blackhole/internal/services"
)

const defaultHTTPTimeout = 15 * time.Second

// Client wraps the SABnzbd HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
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

// WithRateLimit caps outgoing requests per second. Zero or negative disables
// limiting.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		c.limiter = newLimiter(perSecond)
	}
}

// NewClient returns a SABnzbd client.
func NewClient(baseURL, apiKey string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    newLimiter(0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

// Submission is SABnzbd's answer to addlocalfile.
type Submission struct {
	Status bool     `json:"status"`
	IDs    []string `json:"nzo_ids"`
	Error  string   `json:"error"`
}

// AddLocalFile asks SABnzbd to pick up the descriptor at path, which must be
// readable by the SABnzbd process, and file it under category. A response
// without status true is reported as ErrRemoteCall.
func (c *Client) AddLocalFile(ctx context.Context, path, category string) (Submission, error) {
	params := url.Values{}
	params.Set("mode", "addlocalfile")
	params.Set("name", path)
	if category != "" {
		params.Set("cat", category)
	}

	var sub Submission
	if err := c.get(ctx, "addlocalfile", params, &sub); err != nil {
		return Submission{}, err
	}
	if !sub.Status {
		msg := strings.TrimSpace(sub.Error)
		if msg == "" {
			msg = "status false"
		}
		return sub, services.Wrap(services.ErrRemoteCall, "sabnzbd", "addlocalfile", msg, nil)
	}
	return sub, nil
}

// Version returns the SABnzbd version string. It is used as a reachability
// and credentials check.
func (c *Client) Version(ctx context.Context) (string, error) {
	params := url.Values{}
	params.Set("mode", "version")
	var payload struct {
		Version string `json:"version"`
		Error   string `json:"error"`
	}
	if err := c.get(ctx, "version", params, &payload); err != nil {
		return "", err
	}
	if payload.Error != "" {
		return "", services.Wrap(services.ErrRemoteCall, "sabnzbd", "version", payload.Error, nil)
	}
	return payload.Version, nil
}

func (c *Client) get(ctx context.Context, operation string, params url.Values, out any) error {
	if c == nil || c.baseURL == "" {
		return services.Wrap(services.ErrConfiguration, "sabnzbd", operation, "sabnzbd url not configured", nil)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return services.Wrap(services.ErrRemoteCall, "sabnzbd", operation, "rate limit wait", err)
	}
	params.Set("apikey", c.apiKey)
	params.Set("output", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api?"+params.Encode(), nil)
	if err != nil {
		return services.Wrap(services.ErrRemoteCall, "sabnzbd", operation, "build request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrRemoteCall, "sabnzbd", operation, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return services.Wrap(services.ErrRemoteCall, "sabnzbd", operation, "read response", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return services.Wrap(services.ErrRemoteCall, "sabnzbd", operation,
			fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return services.Wrap(services.ErrRemoteCall, "sabnzbd", operation, "decode response", err)
	}
	return nil
}
