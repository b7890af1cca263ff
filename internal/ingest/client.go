package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/afroash/parking-monitor/internal/models"
)

const maxBodyBytes = 32 << 20

// StatusError is returned when the upstream API answers with a non-2xx status
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// ClientConfig holds configuration for the upstream API client
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client fetches sensor data from the upstream parking API.
// Each Fetch is a single attempt: no retries, no pagination.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a new upstream API client
func NewClient(config ClientConfig) *Client {
	return &Client{
		baseURL: config.BaseURL,
		apiKey:  config.APIKey,
		http:    &http.Client{Timeout: config.Timeout},
	}
}

// Fetch requests every record observed since the given instant and parses the answer.
// Transport failures, error statuses and undecodable bodies are returned to the caller.
func (c *Client) Fetch(ctx context.Context, since time.Time) (models.ReadingTable, ParseStats, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, ParseStats{}, fmt.Errorf("invalid base url: %w", err)
	}
	q := u.Query()
	q.Set("startDate", strconv.FormatInt(since.Unix(), 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, ParseStats{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, ParseStats{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, ParseStats{}, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(body)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, ParseStats{}, &StatusError{StatusCode: resp.StatusCode, Body: snippet}
	}

	return ParseResponse(body)
}
