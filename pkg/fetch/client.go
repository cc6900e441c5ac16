// Package fetch is the outbound HTTP client used by the market and weather
// sources and the notification webhooks. Every client is rate limited and reports failures as *Error so
// callers can tell upstream rejections from transport problems.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/logger"
)

const maxErrorBody = 512

// Options tunes a Client.
type Options struct {
	// RatePerSecond bounds outbound requests; zero disables limiting
	RatePerSecond float64
	// Burst is the limiter bucket size (default: 1)
	Burst int
	// Timeout bounds one request including the body read (default: 10s)
	Timeout time.Duration
	// Headers are sent with every request
	Headers map[string]string
}

// Client performs rate-limited JSON requests against one upstream source.
type Client struct {
	source     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	headers    map[string]string
	log        *slog.Logger
}

// NewClient creates a client for source rooted at baseURL.
func NewClient(source, baseURL string, opts Options, log *slog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	return &Client{
		source:     source,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(limit, opts.Burst),
		headers:    opts.Headers,
		log:        log.With(logger.Scope("fetch"), slog.String("source", source)),
	}
}

// Source returns the name the client reports in errors.
func (c *Client) Source() string { return c.source }

// GetJSON requests path with query and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

// PostJSON sends body as JSON to path and decodes the response into out
// when out is non-nil.
func (c *Client) PostJSON(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return &Error{Source: c.source, Op: "encode", Err: err}
	}
	return c.do(ctx, http.MethodPost, path, nil, raw, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &Error{Source: c.source, Op: "rate limit", Err: err}
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return &Error{Source: c.source, Op: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Source: c.source, Op: "request", Err: err}
	}
	defer resp.Body.Close()

	c.log.Debug("upstream response",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &Error{
			Source: c.source,
			Op:     "request",
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Source: c.source, Op: "decode", Status: resp.StatusCode, Err: err}
	}
	return nil
}
