// Package httpclient provides the shared outbound HTTP client used by all
// fetchers. It owns the connection pool, global and per-host rate limits,
// retry policy for transient failures, and browser-like header rotation.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/lueurxax/news-aggregator/internal/platform/observability"
)

// ErrTooManyRedirects indicates too many HTTP redirects.
var ErrTooManyRedirects = errors.New("too many redirects")

// ErrTransient marks failures worth retrying (network errors, 5xx).
var ErrTransient = errors.New("transient HTTP failure")

// ErrRateLimited indicates the remote side returned 429.
var ErrRateLimited = errors.New("rate limited by remote")

// StatusError is returned for non-2xx responses that are not retryable.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d", e.Code)
}

const (
	defaultTimeout    = 30 * time.Second
	dialTimeout       = 10 * time.Second
	maxConnsPerHost   = 5
	maxIdleConns      = 20
	idleConnTimeout   = 90 * time.Second
	maxRedirects      = 5
	maxBodySizeMB     = 5
	maxBodySizeBytes  = maxBodySizeMB * 1024 * 1024
	maxAttempts       = 3
	retryBaseDelay    = 4 * time.Second
	retryMaxDelay     = 10 * time.Second
	retryJitter       = time.Second
	retryAfterCap     = 30 * time.Second
	globalBurst       = 5
	hostLimiterRate   = 1
	hostLimiterBurst  = 2
	logFieldURL       = "url"
	logFieldAttempt   = "attempt"
	metricStatusOK    = "ok"
	metricStatusError = "error"
)

// Client is a pooled HTTP client shared by every outbound fetcher.
// A single global limiter paces POSTs; per-host limiters pace scraping GETs.
type Client struct {
	http          *http.Client
	globalLimiter *rate.Limiter
	hostLimiters  map[string]*rate.Limiter
	mu            sync.RWMutex
	userAgent     string
	logger        *zerolog.Logger
}

// New creates a client with the shared transport pool.
// rps paces the global limiter; timeout bounds a whole request.
func New(rps float64, timeout time.Duration, logger *zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: dialTimeout,
		}).DialContext,
		MaxConnsPerHost:     maxConnsPerHost,
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxConnsPerHost,
		IdleConnTimeout:     idleConnTimeout,
		TLSHandshakeTimeout: dialTimeout,
	}

	return &Client{
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return ErrTooManyRedirects
				}

				return nil
			},
		},
		globalLimiter: rate.NewLimiter(rate.Limit(rps), globalBurst),
		hostLimiters:  make(map[string]*rate.Limiter),
		userAgent:     "NewsAggregator/1.0 (+https://github.com/lueurxax/news-aggregator)",
		logger:        logger,
	}
}

// Get fetches rawURL with retries. Extra headers override the defaults;
// retry attempts add anti-cache headers.
func (c *Client) Get(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	host := extractHost(rawURL)
	if err := c.hostLimiter(host).Wait(ctx); err != nil {
		return nil, fmt.Errorf("host rate limiter wait: %w", err)
	}

	return c.withRetries(ctx, rawURL, func(attempt int) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}

		c.applyHeaders(req, headers, attempt)

		return c.roundTrip(req)
	})
}

// Post sends body to rawURL after waiting on the global limiter.
func (c *Client) Post(ctx context.Context, rawURL, contentType string, body []byte, headers map[string]string) ([]byte, error) {
	if err := c.globalLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("global rate limiter wait: %w", err)
	}

	return c.withRetries(ctx, rawURL, func(attempt int) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", contentType)
		c.applyHeaders(req, headers, attempt)

		return c.roundTrip(req)
	})
}

// FetchText fetches rawURL and returns the body as a string.
func (c *Client) FetchText(ctx context.Context, rawURL string) (string, error) {
	body, err := c.Get(ctx, rawURL, nil)
	if err != nil {
		return "", err
	}

	return string(body), nil
}

// FetchJSON fetches rawURL and decodes the body into v.
func (c *Client) FetchJSON(ctx context.Context, rawURL string, v any) error {
	body, err := c.Get(ctx, rawURL, nil)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode JSON from %s: %w", rawURL, err)
	}

	return nil
}

// Do executes a single caller-built request through the shared pool with the
// per-host limiter but no retries. Fetchers with their own retry policy
// (Telegram preview scraping) use this.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := c.hostLimiter(strings.ToLower(req.URL.Host)).Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("host rate limiter wait: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		observability.HTTPRequests.WithLabelValues(metricStatusError).Inc()

		return nil, fmt.Errorf("execute request: %w", err)
	}

	observability.HTTPRequests.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	return resp, nil
}

// ReadBody drains a response body with the shared size cap applied.
func ReadBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySizeBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return body, nil
}

func (c *Client) withRetries(ctx context.Context, rawURL string, do func(attempt int) ([]byte, error)) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			observability.HTTPRetries.Inc()

			if err := c.sleepBeforeRetry(ctx, attempt, lastErr); err != nil {
				return nil, err
			}

			c.logger.Debug().
				Str(logFieldURL, rawURL).
				Int(logFieldAttempt, attempt).
				Err(lastErr).
				Msg("retrying HTTP request")
		}

		body, err := do(attempt)
		if err == nil {
			return body, nil
		}

		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}

	return nil, lastErr
}

func (c *Client) sleepBeforeRetry(ctx context.Context, attempt int, lastErr error) error {
	delay := retryBaseDelay << (attempt - 2)
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}

	delay += time.Duration(rand.Int64N(int64(retryJitter)))

	// A 429 with Retry-After overrides the computed backoff.
	var retryAfter *retryAfterError
	if errors.As(lastErr, &retryAfter) && retryAfter.wait > delay {
		delay = min(retryAfter.wait, retryAfterCap)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("retry interrupted: %w", ctx.Err())
	case <-time.After(delay):
		return nil
	}
}

func (c *Client) roundTrip(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		observability.HTTPRequests.WithLabelValues(metricStatusError).Inc()

		return nil, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	defer resp.Body.Close()

	observability.HTTPRequests.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if err := classifyStatus(resp); err != nil {
		return nil, err
	}

	return ReadBody(resp)
}

func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &retryAfterError{wait: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %w", ErrTransient, &StatusError{Code: resp.StatusCode})
	default:
		return &StatusError{Code: resp.StatusCode}
	}
}

// retryAfterError carries the server-requested wait for a 429.
type retryAfterError struct {
	wait time.Duration
}

func (e *retryAfterError) Error() string {
	return fmt.Sprintf("rate limited by remote (retry after %s)", e.wait)
}

func (e *retryAfterError) Unwrap() error { return ErrRateLimited }

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}

	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}

	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}

	return 0
}

func isRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}

func (c *Client) applyHeaders(req *http.Request, headers map[string]string, attempt int) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	if attempt > 1 {
		for k, v := range AntiCacheHeaders() {
			req.Header.Set(k, v)
		}
	}
}

func (c *Client) hostLimiter(host string) *rate.Limiter {
	c.mu.RLock()
	limiter, exists := c.hostLimiters[host]
	c.mu.RUnlock()

	if exists {
		return limiter
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double check
	if limiter, exists := c.hostLimiters[host]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(hostLimiterRate, hostLimiterBurst) // 1 req/sec per host
	c.hostLimiters[host] = limiter

	return limiter
}

func extractHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	return strings.ToLower(u.Host)
}
