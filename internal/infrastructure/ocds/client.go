package ocds

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
	"time"

	"TenderSync/internal/config"
	"TenderSync/internal/domain"
	"TenderSync/internal/infrastructure/metrics"
	"TenderSync/internal/ports"
)

const (
	defaultPageSize   = 100
	defaultRetryAfter = 60 * time.Second

	// maxResponseSize caps a decoded page body.
	maxResponseSize = 10 * 1024 * 1024
	// maxErrorBody caps the body kept on an UpstreamError.
	maxErrorBody = 4096
	// maxRetryAfterSeconds keeps a huge Retry-After from overflowing time.Duration.
	maxRetryAfterSeconds = 24 * 60 * 60
)

// ErrSourceUnavailable is returned once the configured retry ceiling is exhausted.
var ErrSourceUnavailable = errors.New("tender source unavailable")

// UpstreamError is a non-retryable non-2xx response.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("tender source returned %d", e.StatusCode)
	}
	return fmt.Sprintf("tender source returned %d: %s", e.StatusCode, e.Body)
}

// SleepFunc suspends for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Client reads release pages from an OCDS endpoint such as Find a Tender.
type Client struct {
	baseURL           string
	pageSize          int
	userAgent         string
	defaultRetryAfter time.Duration
	maxAttempts       int
	http              *http.Client
	logger            *slog.Logger
	sleep             SleepFunc
}

var _ ports.TenderSource = (*Client)(nil)

// NewClient builds a source client; a nil http.Client gets the configured timeout.
func NewClient(cfg config.SourceConfig, client *http.Client, logger *slog.Logger) *Client {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	retryAfter := cfg.DefaultRetryAfter
	if retryAfter <= 0 {
		retryAfter = defaultRetryAfter
	}
	return &Client{
		baseURL:           cfg.BaseURL,
		pageSize:          pageSize,
		userAgent:         cfg.UserAgent,
		defaultRetryAfter: retryAfter,
		maxAttempts:       cfg.MaxAttempts,
		http:              client,
		logger:            logger,
		sleep:             Sleep,
	}
}

// WithSleep replaces the suspend function, mostly for tests.
func (c *Client) WithSleep(fn SleepFunc) *Client {
	c.sleep = fn
	return c
}

// Normalize implements ports.TenderSource.
func (c *Client) Normalize(raw json.RawMessage) (domain.TenderRecord, error) {
	return normalize(raw, c.logger)
}

// FetchPage requests one page. A non-empty cursor is used as-is; otherwise
// the query is built from updatedFrom and the page size. 429 and 503 are
// retried after the server's Retry-After delay.
func (c *Client) FetchPage(ctx context.Context, cursor string, updatedFrom *time.Time) (domain.SourcePage, error) {
	pageURL := cursor
	if pageURL == "" {
		var err error
		pageURL, err = buildPageURL(c.baseURL, c.pageSize, updatedFrom)
		if err != nil {
			return domain.SourcePage{}, err
		}
	}

	for attempt := 1; ; attempt++ {
		resp, err := c.get(ctx, pageURL)
		if err != nil {
			return domain.SourcePage{}, err
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
			resp.Body.Close()
			if c.maxAttempts > 0 && attempt >= c.maxAttempts {
				return domain.SourcePage{}, fmt.Errorf("%w: status %d after %d attempts", ErrSourceUnavailable, resp.StatusCode, attempt)
			}

			delay := c.retryDelay(resp.Header.Get("Retry-After"))
			metrics.SourceRetries.Inc()
			c.logger.Warn("tender source throttled, retrying",
				"status", resp.StatusCode,
				"retry_after", delay,
				"attempt", attempt,
				"url", pageURL)

			if err := c.sleep(ctx, delay); err != nil {
				return domain.SourcePage{}, fmt.Errorf("wait for retry: %w", err)
			}
			continue
		}

		page, err := c.readPage(resp, pageURL)
		resp.Body.Close()
		return page, err
	}
}

func (c *Client) get(ctx context.Context, pageURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.SourceRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("request page: %w", err)
	}
	metrics.SourceRequests.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	metrics.SourceRequestDuration.Observe(time.Since(start).Seconds())

	c.logger.Debug("fetched page", "url", pageURL, "status", resp.StatusCode, "duration", time.Since(start))
	return resp, nil
}

func (c *Client) readPage(resp *http.Response, pageURL string) (domain.SourcePage, error) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return domain.SourcePage{}, &UpstreamError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return domain.SourcePage{}, fmt.Errorf("read page: %w", err)
	}
	if len(body) > maxResponseSize {
		return domain.SourcePage{}, fmt.Errorf("page body exceeds %d bytes", maxResponseSize)
	}

	var pkg releasePackage
	if err := json.Unmarshal(body, &pkg); err != nil {
		return domain.SourcePage{}, fmt.Errorf("decode page: %w", err)
	}

	page := domain.SourcePage{Records: pkg.Releases}
	if page.Records == nil {
		page.Records = []json.RawMessage{}
	}
	if pkg.Links != nil && strings.TrimSpace(pkg.Links.Next) != "" {
		next, err := resolveNext(pageURL, pkg.Links.Next)
		if err != nil {
			return domain.SourcePage{}, err
		}
		page.NextPageToken = next
	}
	return page, nil
}

func (c *Client) retryDelay(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return c.defaultRetryAfter
	}
	d, err := ParseRetryAfter(header)
	if err != nil {
		return c.defaultRetryAfter
	}
	return d
}

// ParseRetryAfter accepts delay-seconds or an HTTP date. Dates in the past yield zero.
func ParseRetryAfter(value string) (time.Duration, error) {
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		if seconds < 0 {
			return 0, fmt.Errorf("negative Retry-After %q", value)
		}
		if seconds > maxRetryAfterSeconds {
			seconds = maxRetryAfterSeconds
		}
		return time.Duration(seconds) * time.Second, nil
	}

	if t, err := http.ParseTime(value); err == nil {
		return min(max(time.Until(t), 0), maxRetryAfterSeconds*time.Second), nil
	}

	return 0, fmt.Errorf("invalid Retry-After value: %s", value)
}

// Sleep waits for d unless ctx is cancelled first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func buildPageURL(base string, pageSize int, updatedFrom *time.Time) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid source url %s: %w", base, err)
	}

	query := parsed.Query()
	query.Set("limit", strconv.Itoa(pageSize))
	if updatedFrom != nil {
		query.Set("updatedFrom", updatedFrom.UTC().Format(time.RFC3339))
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func resolveNext(current, next string) (string, error) {
	ref, err := url.Parse(next)
	if err != nil {
		return "", fmt.Errorf("invalid next link %q: %w", next, err)
	}
	if ref.IsAbs() {
		return next, nil
	}
	base, err := url.Parse(current)
	if err != nil {
		return "", fmt.Errorf("invalid page url %q: %w", current, err)
	}
	return base.ResolveReference(ref).String(), nil
}
