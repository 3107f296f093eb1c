// Package enrich talks to the link-metadata service that extracts article
// bodies and lead images from web pages.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds a single call to the service.
const DefaultTimeout = 30 * time.Second

// ErrNotConfigured is returned when no service endpoint was configured.
var ErrNotConfigured = errors.New("enrichment endpoint not configured")

// ParseRequest is the payload of the parse endpoint.
type ParseRequest struct {
	URL         string `json:"url"`
	IgnoreCache bool   `json:"ignore_cache"`
}

// Result is what the service knows about a page. Both fields are optional.
type Result struct {
	Title        string `json:"title,omitempty"`
	Content      string `json:"content,omitempty"`
	LeadImageURL string `json:"lead_image_url,omitempty"`
	Excerpt      string `json:"excerpt,omitempty"`
}

// Client calls the link-metadata service over HTTP.
type Client struct {
	BaseURL string
	Client  *http.Client
	logger  *slog.Logger
}

// NewClient constructs a client. An empty baseURL yields a client whose
// calls fail with ErrNotConfigured.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
		logger:  logger.With("component", "enrich"),
	}
}

// Configured reports whether an endpoint is set.
func (c *Client) Configured() bool {
	return c != nil && c.BaseURL != ""
}

// Ping checks the service health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health/check", nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

// Fetch asks the service to parse pageURL.
func (c *Client) Fetch(ctx context.Context, pageURL string) (Result, error) {
	if !c.Configured() {
		return Result{}, ErrNotConfigured
	}
	payload, err := json.Marshal(ParseRequest{URL: pageURL, IgnoreCache: true})
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal parse request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/parse", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create parse request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("failed to call parse endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Debug("parse endpoint error", "url", pageURL, "status", resp.StatusCode)
		return Result{}, fmt.Errorf("parse endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Result{}, fmt.Errorf("failed to decode parse response: %w", err)
	}
	return res, nil
}
