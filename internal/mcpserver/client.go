package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the guard API.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
}

// GuardClient is a pure HTTP client for the guard API.
type GuardClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewGuardClient creates a new client for the guard API.
func NewGuardClient(cfg Config) *GuardClient {
	return &GuardClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *GuardClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// CheckAddress runs a guardian check for an address.
func (c *GuardClient) CheckAddress(ctx context.Context, address string) (json.RawMessage, error) {
	body := map[string]string{"address": address}
	return c.doRequest(ctx, http.MethodPost, "/api/v1/guardian/check", nil, body)
}

// RiskIntel returns the full intelligence report for an address.
func (c *GuardClient) RiskIntel(ctx context.Context, address string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/v1/intel/"+address, nil, nil)
}

// Watchlist returns the sentinel's current watchlist.
func (c *GuardClient) Watchlist(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/v1/sentinel/watchlist", nil, nil)
}

// WatchAddress places an address on the sentinel watchlist.
func (c *GuardClient) WatchAddress(ctx context.Context, address string) (json.RawMessage, error) {
	body := map[string]string{"address": address}
	return c.doRequest(ctx, http.MethodPost, "/api/v1/sentinel/watchlist", nil, body)
}

// UnwatchAddress removes an address from the sentinel watchlist.
func (c *GuardClient) UnwatchAddress(ctx context.Context, address string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodDelete, "/api/v1/sentinel/watchlist/"+address, nil, nil)
}

// Alerts returns the sentinel's active alerts.
func (c *GuardClient) Alerts(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/v1/sentinel/alerts", nil, nil)
}

// AgentStatus returns the status of both agents.
func (c *GuardClient) AgentStatus(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/v1/agents/status", nil, nil)
}

// CheckHistory returns recorded guardian checks for an address.
func (c *GuardClient) CheckHistory(ctx context.Context, address string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/api/v1/guardian/checks/"+address, q, nil)
}
