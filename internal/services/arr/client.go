// Package arr talks to Sonarr/Radarr style library managers through their v3
// API: title lookup to find the library folder for a release, and a rescan
// command once the release has been placed there.
package arr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"blackhole/internal/services"
)

const (
	defaultHTTPTimeout       = 15 * time.Second
	defaultRequestsPerSecond = 5
)

// Kind selects the resource family of the library service.
type Kind string

const (
	KindSeries Kind = "series"
	KindMovie  Kind = "movie"
)

// ParseKind converts a configuration value into a Kind.
func ParseKind(value string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(value))); k {
	case KindSeries, KindMovie:
		return k, nil
	default:
		return "", fmt.Errorf("unknown library kind %q", value)
	}
}

func (k Kind) rescanCommand() (name, idField string) {
	if k == KindMovie {
		return "RescanMovie", "movieId"
	}
	return "RescanSeries", "seriesId"
}

// Candidate is one lookup result.
type Candidate struct {
	ID         int    `json:"id"`
	Title      string `json:"title"`
	Year       int    `json:"year"`
	Folder     string `json:"folder"`
	FolderName string `json:"folderName"`
	Path       string `json:"path"`
}

// LibraryFolder returns the library folder for the candidate. Sonarr reports it
// as folder, Radarr as folderName; both fall back to the last element of path.
func (c Candidate) LibraryFolder() string {
	for _, value := range []string{c.Folder, c.FolderName} {
		if v := strings.TrimSpace(value); v != "" {
			return path.Base(strings.ReplaceAll(v, `\`, "/"))
		}
	}
	if p := strings.TrimSpace(c.Path); p != "" {
		return path.Base(strings.ReplaceAll(p, `\`, "/"))
	}
	return ""
}

// Client wraps a library manager API.
type Client struct {
	kind       Kind
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
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// NewClient returns a client for the library service at baseURL.
func NewClient(kind Kind, baseURL, apiKey string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	c := &Client{
		kind:       kind,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(defaultRequestsPerSecond), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Kind reports the resource family the client was built for.
func (c *Client) Kind() Kind { return c.kind }

// Lookup searches the library service for term.
func (c *Client) Lookup(ctx context.Context, term string) ([]Candidate, error) {
	query := url.Values{}
	query.Set("term", term)
	endpoint := fmt.Sprintf("%s/api/v3/%s/lookup?%s", c.baseURL, c.kind, query.Encode())

	var candidates []Candidate
	if err := c.do(ctx, "lookup", http.MethodGet, endpoint, nil, &candidates); err != nil {
		return nil, err
	}
	return candidates, nil
}

// Rescan asks the library service to rescan the series or movie with id.
func (c *Client) Rescan(ctx context.Context, id int) error {
	name, field := c.kind.rescanCommand()
	payload, err := json.Marshal(map[string]any{"name": name, field: id})
	if err != nil {
		return services.Wrap(services.ErrRemoteCall, "arr", "command", "encode payload", err)
	}
	return c.do(ctx, "command", http.MethodPost, c.baseURL+"/api/v3/command", payload, nil)
}

// SystemStatus returns the service version. It doubles as an API key check.
func (c *Client) SystemStatus(ctx context.Context) (string, error) {
	var status struct {
		AppName string `json:"appName"`
		Version string `json:"version"`
	}
	if err := c.do(ctx, "system/status", http.MethodGet, c.baseURL+"/api/v3/system/status", nil, &status); err != nil {
		return "", err
	}
	return strings.TrimSpace(status.AppName + " " + status.Version), nil
}

func (c *Client) do(ctx context.Context, operation, method, endpoint string, body []byte, out any) error {
	if c == nil || c.baseURL == "" {
		return services.Wrap(services.ErrConfiguration, "arr", operation, "library url not configured", nil)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return services.Wrap(services.ErrRemoteCall, "arr", operation, "rate limit wait", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return services.Wrap(services.ErrRemoteCall, "arr", operation, "build request", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrRemoteCall, "arr", operation, "request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return services.Wrap(services.ErrRemoteCall, "arr", operation, "read response", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		snippet := strings.TrimSpace(string(data))
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return services.Wrap(services.ErrRemoteCall, "arr", operation,
			fmt.Sprintf("http %d: %s", resp.StatusCode, snippet), nil)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return services.Wrap(services.ErrRemoteCall, "arr", operation, "decode response", err)
	}
	return nil
}
