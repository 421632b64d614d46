// Package reposearch looks up public project repositories for the
// transparency analyzer. It speaks the GitHub REST API but only needs
// search, contributors, and README; any compatible host works.
package reposearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mbd888/chainguard/internal/circuitbreaker"
	"github.com/mbd888/chainguard/internal/retry"
)

var (
	// ErrCircuitOpen is returned when the repo-search breaker is tripped.
	ErrCircuitOpen = errors.New("reposearch: circuit open")
	// ErrNoRepo is returned when no repository matches the query.
	ErrNoRepo = errors.New("reposearch: no repository found")
)

const (
	breakerKey  = "repo_search"
	maxAttempts = 2
	baseDelay   = 250 * time.Millisecond
)

// Repo summarizes a project repository for transparency scoring.
type Repo struct {
	FullName     string
	Stars        int
	Contributors int
	PushedAt     time.Time
	ReadmeBytes  int
}

// Client queries a GitHub-compatible API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	breaker *circuitbreaker.Breaker
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithBreaker sets a shared circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// New creates a repo-search client.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
		breaker: circuitbreaker.New(5, 60*time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search finds the best-matching repository for a project name or token
// symbol and enriches it with contributor count and README size.
func (c *Client) Search(ctx context.Context, query string) (*Repo, error) {
	if query == "" {
		return nil, ErrNoRepo
	}

	var result struct {
		TotalCount int `json:"total_count"`
		Items      []struct {
			FullName        string    `json:"full_name"`
			StargazersCount int       `json:"stargazers_count"`
			PushedAt        time.Time `json:"pushed_at"`
		} `json:"items"`
	}

	q := url.Values{
		"q":        {query},
		"sort":     {"stars"},
		"order":    {"desc"},
		"per_page": {"1"},
	}
	if err := c.get(ctx, "/search/repositories?"+q.Encode(), &result); err != nil {
		return nil, err
	}
	if result.TotalCount == 0 || len(result.Items) == 0 {
		return nil, ErrNoRepo
	}

	top := result.Items[0]
	repo := &Repo{
		FullName: top.FullName,
		Stars:    top.StargazersCount,
		PushedAt: top.PushedAt,
	}

	// Contributor count and README are best-effort enrichment.
	var contributors []struct {
		Login string `json:"login"`
	}
	if err := c.get(ctx, "/repos/"+top.FullName+"/contributors?per_page=30", &contributors); err == nil {
		repo.Contributors = len(contributors)
	}

	var readme struct {
		Size int `json:"size"`
	}
	if err := c.get(ctx, "/repos/"+top.FullName+"/readme", &readme); err == nil {
		repo.ReadmeBytes = readme.Size
	}

	return repo, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	if !c.breaker.Allow(breakerKey) {
		return ErrCircuitOpen
	}

	err := retry.Do(ctx, maxAttempts, baseDelay, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("reposearch: status %d", resp.StatusCode)
		}
		if resp.StatusCode == http.StatusNotFound {
			return retry.Permanent(ErrNoRepo)
		}
		if resp.StatusCode != http.StatusOK {
			return retry.Permanent(fmt.Errorf("reposearch: status %d", resp.StatusCode))
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, out); err != nil {
			return retry.Permanent(fmt.Errorf("reposearch: decode: %w", err))
		}
		return nil
	})

	if err != nil && !errors.Is(err, ErrNoRepo) {
		c.breaker.RecordFailure(breakerKey)
		return err
	}
	c.breaker.RecordSuccess(breakerKey)
	return err
}
