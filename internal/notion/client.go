// Package notion mirrors task state into a Notion-style tracker database.
// Everything here is best-effort from the pipeline's point of view: the
// orchestrator fires pushes and forgets them, so this package can afford to
// retry politely without ever blocking generation work.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/docuforge/docuforge/internal/observability"
)

const (
	apiVersion = "2022-06-28"

	// defaultMinInterval keeps us inside the tracker's ~3 req/s limit even
	// when several workers push at once.
	defaultMinInterval = 350 * time.Millisecond
	defaultMaxAttempts = 4
)

// Client is a minimal rate-limited Notion API client. All requests flow
// through a single pacing gate shared across goroutines.
type Client struct {
	baseURL     string
	token       string
	http        *http.Client
	maxAttempts int
	logger      *observability.Logger

	mu       sync.Mutex
	lastCall time.Time
	interval time.Duration
}

// Options tune the client. Zero values select the defaults.
type Options struct {
	BaseURL     string
	MinInterval time.Duration
	MaxAttempts int
	HTTPClient  *http.Client
}

// NewClient creates an API client for the given integration token.
func NewClient(token string, opts Options, logger *observability.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.notion.com"
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = defaultMinInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:     opts.BaseURL,
		token:       token,
		http:        opts.HTTPClient,
		maxAttempts: opts.MaxAttempts,
		interval:    opts.MinInterval,
		logger:      logger,
	}
}

// pace blocks until at least the minimum interval has passed since the last
// request left this client.
func (c *Client) pace(ctx context.Context) error {
	c.mu.Lock()
	wait := c.interval - time.Since(c.lastCall)
	if wait < 0 {
		wait = 0
	}
	c.lastCall = time.Now().Add(wait)
	c.mu.Unlock()

	if wait == 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

// do sends one API request with pacing and retry. Rate-limit responses honor
// Retry-After; server errors back off exponentially; client errors are final.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.pace(ctx); err != nil {
			return err
		}

		retryAfter, err := c.doOnce(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if retryAfter < 0 {
			// Permanent: a 4xx other than 429, or a decode failure.
			return err
		}
		if retryAfter == 0 {
			retryAfter = time.Duration(1<<uint(attempt-1)) * time.Second
		}
		c.logger.Warn("tracker request failed, backing off",
			"path", path, "attempt", attempt, "retry_after_sec", retryAfter.Seconds(), "error", err.Error())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryAfter):
		}
	}
	return fmt.Errorf("tracker request failed after %d attempts: %w", c.maxAttempts, lastErr)
}

// doOnce performs a single request. The returned duration is the retry hint:
// negative means do not retry, zero means retry with default backoff.
func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte, out any) (time.Duration, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return -1, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", apiVersion)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Network failures are worth retrying.
		return 0, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		if out == nil {
			return 0, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return -1, fmt.Errorf("decode response: %w", err)
		}
		return 0, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		wait := time.Duration(0)
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.ParseFloat(s, 64); err == nil {
				wait = time.Duration(secs * float64(time.Second))
			}
		}
		return wait, fmt.Errorf("rate limited (429)")
	case resp.StatusCode >= 500:
		return 0, fmt.Errorf("server error (%d)", resp.StatusCode)
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return -1, fmt.Errorf("request rejected (%d): %s", resp.StatusCode, string(msg))
	}
}
