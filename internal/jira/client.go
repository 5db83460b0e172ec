// Package jira is the issue source adapter: a read-only client for the JIRA
// Cloud REST API v3. It pages through a project's issues, attaches comment
// threads, and flattens everything into [Issue] snapshots for indexing.
// Requests are rate-limited client-side and retried with bounded backoff;
// rejected credentials fail immediately.
package jira

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/KixPanganiban/jiraiya-go/internal/retry"
)

// ErrUnavailable is returned when the tracker cannot be reached or rejects
// the configured credentials after the retry budget is exhausted.
var ErrUnavailable = errors.New("jira: source unavailable")

const (
	// defaultPageSize is the number of issues requested per search page.
	defaultPageSize = 100

	// defaultRequestsPerSecond is the client-side rate limit applied to all
	// API calls. JIRA Cloud throttles around 10 rps per user; staying below
	// that avoids 429 churn during large project fetches.
	defaultRequestsPerSecond = 5

	// commentWorkers is the number of concurrent comment-thread fetches.
	// Matches the small worker pool the fetch was originally tuned with —
	// enough to hide latency without tripping the tracker's rate limits.
	commentWorkers = 3
)

// Config holds the settings for constructing a Client.
type Config struct {
	// Domain is the JIRA Cloud domain (e.g. "example.atlassian.net").
	Domain string

	// Email and APIToken form the basic-auth credential pair.
	Email    string
	APIToken string

	// PageSize overrides the search page size (default 100).
	PageSize int

	// RequestsPerSecond overrides the client-side rate limit (default 5).
	RequestsPerSecond float64

	// MaxAttempts is the retry budget per API call (default retry.DefaultMaxAttempts).
	MaxAttempts int

	// BaseURL overrides the API base URL; used by tests to point at a fake
	// server. When empty it is derived from Domain as "https://<domain>".
	BaseURL string

	// HTTPClient overrides the HTTP client (default: 30s timeout).
	HTTPClient *http.Client

	// Logger receives per-page progress logs. Defaults to slog.Default.
	Logger *slog.Logger
}

// Client fetches issues from one JIRA Cloud site. It is safe for concurrent
// use; all calls share one rate limiter.
type Client struct {
	baseURL     string
	email       string
	apiToken    string
	pageSize    int
	maxAttempts int
	limiter     *rate.Limiter
	client      *http.Client
	log         *slog.Logger
}

// NewClient validates cfg and constructs a Client. Domain, Email, and
// APIToken are required; missing values are a configuration error reported
// before any network call.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.Domain == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("jira: JIRA_DOMAIN is required")
	}
	if cfg.Email == "" {
		return nil, fmt.Errorf("jira: JIRA_EMAIL is required")
	}
	if cfg.APIToken == "" {
		return nil, fmt.Errorf("jira: JIRA_API_TOKEN is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://" + cfg.Domain
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = retry.DefaultMaxAttempts
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		email:       cfg.Email,
		apiToken:    cfg.APIToken,
		pageSize:    pageSize,
		maxAttempts: maxAttempts,
		limiter:     rate.NewLimiter(rate.Limit(rps), 1),
		client:      httpClient,
		log:         log,
	}, nil
}

// FetchAll pages through every issue of the given project and returns them
// in the API's native order with comment threads attached. Comment fetches
// run on a small worker pool; the returned slice order is independent of how
// those requests interleave.
func (c *Client) FetchAll(ctx context.Context, projectKey string) ([]Issue, error) {
	if projectKey == "" {
		return nil, fmt.Errorf("jira: project key must not be empty")
	}

	var raw []apiIssue
	startAt := 0
	for {
		page, err := c.searchPage(ctx, projectKey, startAt)
		if err != nil {
			return nil, err
		}
		if len(page.Issues) == 0 {
			break
		}
		raw = append(raw, page.Issues...)
		startAt += len(page.Issues)

		c.log.Info("jira: fetched issue page",
			slog.String("project", projectKey),
			slog.Int("fetched", len(raw)),
			slog.Int("total", page.Total),
		)

		if page.Total > 0 && startAt >= page.Total {
			break
		}
	}

	issues := make([]Issue, len(raw))
	for i := range raw {
		issues[i] = raw[i].toIssue()
	}

	if err := c.attachComments(ctx, issues); err != nil {
		return nil, err
	}

	return issues, nil
}

// searchPage fetches one page of /rest/api/3/search for the project.
func (c *Client) searchPage(ctx context.Context, projectKey string, startAt int) (*searchResponse, error) {
	params := url.Values{}
	params.Set("jql", "project="+projectKey)
	params.Set("maxResults", strconv.Itoa(c.pageSize))
	params.Set("startAt", strconv.Itoa(startAt))

	var page searchResponse
	if err := c.getJSON(ctx, "/rest/api/3/search?"+params.Encode(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// attachComments fetches the comment thread of every issue using a bounded
// worker pool. Results land in the issue slice by index, so the observable
// ordering is deterministic regardless of request interleaving.
func (c *Client) attachComments(ctx context.Context, issues []Issue) error {
	if len(issues) == 0 {
		return nil
	}

	sem := make(chan struct{}, commentWorkers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i := range issues {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			mu.Lock()
			failed := firstErr != nil
			mu.Unlock()
			if failed {
				return
			}

			comments, err := c.fetchComments(ctx, issues[i].Key)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			issues[i].Comments = comments
		}(i)
	}
	wg.Wait()

	return firstErr
}

// fetchComments retrieves one issue's comment thread.
func (c *Client) fetchComments(ctx context.Context, key string) ([]Comment, error) {
	var resp commentsResponse
	if err := c.getJSON(ctx, "/rest/api/3/issue/"+url.PathEscape(key)+"/comment", &resp); err != nil {
		return nil, err
	}

	comments := make([]Comment, 0, len(resp.Comments))
	for _, ac := range resp.Comments {
		cm := Comment{Body: adfText(ac.Body)}
		if ac.Author != nil {
			cm.Author = ac.Author.DisplayName
		}
		comments = append(comments, cm)
	}
	return comments, nil
}

// getJSON performs a rate-limited, retried GET against the API and decodes
// the JSON response into out. Auth rejections are permanent; network errors,
// 429s, and 5xx responses are retried until the attempt budget runs out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("jira: create request: %w", err))
		}
		req.SetBasicAuth(c.email, c.apiToken)
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("jira: request failed: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return retry.Permanent(fmt.Errorf("%w: authentication rejected (HTTP %d)", ErrUnavailable, resp.StatusCode))
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			// Drain so the connection can be reused across retries.
			_, _ = io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("jira: HTTP %d from %s", resp.StatusCode, path)
		case resp.StatusCode != http.StatusOK:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return retry.Permanent(fmt.Errorf("jira: HTTP %d from %s: %s", resp.StatusCode, path, strings.TrimSpace(string(body))))
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return retry.Permanent(fmt.Errorf("jira: decode response: %w", err))
		}
		return nil
	}

	if err := retry.Do(ctx, c.maxAttempts, op); err != nil {
		if errors.Is(err, ErrUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
