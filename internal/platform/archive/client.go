// Package archive is a client for the Orthanc REST API of the imaging archive.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/radiweb/pacs-gateway/internal/platform/metrics"
)

const DefaultTimeout = 10 * time.Second

var ErrNotFound = errors.New("archive: resource not found")

// StatusError is returned for any non-2xx archive response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("archive: %s %s returned status %d", e.Method, e.Path, e.StatusCode)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

type Config struct {
	BaseURL  string
	Username string
	Password string
	// Timeout bounds every single call, independently of the caller's context.
	Timeout time.Duration
}

type Client struct {
	baseURL    string
	username   string
	password   string
	timeout    time.Duration
	httpClient *http.Client
	metrics    *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		timeout:    cfg.Timeout,
		httpClient: &http.Client{},
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

// GetStudy fetches /studies/{id}.
func (c *Client) GetStudy(ctx context.Context, id string) (*Study, error) {
	var s Study
	if err := c.getJSON(ctx, "/studies/"+url.PathEscape(id), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// System fetches /system. It doubles as the archive health probe.
func (c *Client) System(ctx context.Context) (*SystemInfo, error) {
	var s SystemInfo
	if err := c.getJSON(ctx, "/system", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) (err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		c.metrics.ArchiveRequest(outcome(err), time.Since(start))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("archive: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "pacs-gateway/1.0")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("archive: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{
			Method:     http.MethodGet,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("archive: decode %s: %w", path, err)
	}
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrNotFound):
		return metrics.OutcomeNotFound
	default:
		return metrics.OutcomeError
	}
}
