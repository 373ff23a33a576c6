package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lysyi3m/disclosure-comb/app/metrics"
)

const maxRetryBackoff = 30 * time.Second

type ClientOptions struct {
	UserAgent     string
	Timeout       time.Duration
	RequestDelay  time.Duration
	RetryAttempts int
	RetryBackoff  time.Duration
}

// StatusError is returned for a non-2xx response that was not retried away.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error: %d %s (%s)", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

// Client is the shared HTTP transport for every provider. Requests are
// throttled per host and retried on transport errors and 5xx responses.
type Client struct {
	httpClient *http.Client
	throttle   *Throttle
	userAgent  string
	attempts   int
	backoff    time.Duration
}

func NewClient(opts ClientOptions) *Client {
	attempts := opts.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		throttle:   NewThrottle(opts.RequestDelay),
		userAgent:  opts.UserAgent,
		attempts:   attempts,
		backoff:    opts.RetryBackoff,
	}
}

func (c *Client) Get(ctx context.Context, provider, rawURL string) ([]byte, error) {
	resp, err := c.do(ctx, provider, http.MethodGet, rawURL, "", "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}

func (c *Client) PostForm(ctx context.Context, provider, rawURL string, form url.Values) ([]byte, error) {
	var body string
	if form != nil {
		body = form.Encode()
	}

	resp, err := c.do(ctx, provider, http.MethodPost, rawURL, body, "application/x-www-form-urlencoded; charset=UTF-8")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}

// Open performs a GET and hands the successful response to the caller, who
// must close its body. Used for streaming document downloads.
func (c *Client) Open(ctx context.Context, provider, rawURL string) (*http.Response, error) {
	return c.do(ctx, provider, http.MethodGet, rawURL, "", "")
}

func (c *Client) do(ctx context.Context, provider, method, rawURL, body, contentType string) (*http.Response, error) {
	var lastErr error

	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			if err := sleepContext(ctx, c.retryDelay(attempt-1)); err != nil {
				return nil, err
			}
		}

		if err := c.throttle.Wait(ctx, rawURL); err != nil {
			return nil, err
		}

		var reader io.Reader
		if body != "" {
			reader = strings.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("User-Agent", c.userAgent)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			metrics.ProviderRequests.WithLabelValues(provider, metrics.OutcomeRetry).Inc()
			slog.Debug("Provider request failed", "provider", provider, "url", rawURL, "attempt", attempt, "error", err)
			continue
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = &StatusError{StatusCode: resp.StatusCode, URL: rawURL}
			metrics.ProviderRequests.WithLabelValues(provider, metrics.OutcomeRetry).Inc()
			slog.Debug("Provider server error", "provider", provider, "url", rawURL, "attempt", attempt, "status", resp.StatusCode)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			resp.Body.Close()
			metrics.ProviderRequests.WithLabelValues(provider, metrics.OutcomeClientError).Inc()
			return nil, &StatusError{StatusCode: resp.StatusCode, URL: rawURL}
		}

		metrics.ProviderRequests.WithLabelValues(provider, metrics.OutcomeSuccess).Inc()
		return resp, nil
	}

	metrics.ProviderRequests.WithLabelValues(provider, metrics.OutcomeFailure).Inc()
	return nil, fmt.Errorf("request failed after %d attempts: %w", c.attempts, lastErr)
}

func (c *Client) retryDelay(retry int) time.Duration {
	delay := c.backoff << uint(retry-1)
	if delay > maxRetryBackoff || delay < 0 {
		delay = maxRetryBackoff
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
