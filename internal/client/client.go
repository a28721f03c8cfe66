// Package client fetches raw responses from the YQL weather endpoint.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kjstillabower/yahooweather-binding/internal/observability"
)

// DefaultAPIURL is the public YQL endpoint.
const DefaultAPIURL = "https://query.yahooapis.com/v1/public/yql"

// Fetcher returns the raw response body for a query.
type Fetcher interface {
	Fetch(ctx context.Context, query string) (string, error)
}

var (
	ErrInvalidAPIURL   = errors.New("invalid API URL")
	ErrBadQuery        = errors.New("query rejected")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
	ErrCircuitOpen     = errors.New("circuit breaker open")
)

// YQLClient issues YQL queries over HTTP with retry and optional circuit
// breaking. It is safe for concurrent use.
type YQLClient struct {
	apiURL         *url.URL
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *gobreaker.CircuitBreaker
}

func NewYQLClient(apiURL string, timeout time.Duration) (*YQLClient, error) {
	return NewYQLClientWithRetry(apiURL, timeout, 3, 100*time.Millisecond, 2*time.Second)
}

func NewYQLClientWithRetry(apiURL string, timeout time.Duration, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration) (*YQLClient, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAPIURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAPIURL, apiURL)
	}
	if retryAttempts < 1 {
		retryAttempts = 1
	}

	return &YQLClient{
		apiURL:         u,
		timeout:        timeout,
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		retryMaxDelay:  retryMaxDelay,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// WithBreaker routes every attempt through cb. While cb is open, Fetch fails
// fast with ErrCircuitOpen and does not retry.
func (c *YQLClient) WithBreaker(cb *gobreaker.CircuitBreaker) *YQLClient {
	c.breaker = cb
	return c
}

// Fetch runs query and returns the response body verbatim.
func (c *YQLClient) Fetch(ctx context.Context, query string) (string, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.WeatherAPIRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		body, err := c.attempt(ctx, query)
		if err == nil {
			return body, nil
		}

		lastErr = err
		if !c.isRetryable(err) {
			observability.WeatherAPIErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
			return "", err
		}
	}

	observability.WeatherAPIErrorsTotal.WithLabelValues(string(CategorizeError(lastErr))).Inc()
	return "", fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *YQLClient) attempt(ctx context.Context, query string) (string, error) {
	if c.breaker == nil {
		return c.callAPI(ctx, query)
	}
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.callAPI(ctx, query)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *YQLClient) callAPI(ctx context.Context, query string) (string, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, query)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("build request: %w", err)
	}

	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", fmt.Errorf("request timeout: %w", err)
		}
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(duration)

	if err := c.handleErrorResponse(resp); err != nil {
		return "", err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}
	return string(body), nil
}

func (c *YQLClient) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrBadQuery) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "context deadline exceeded") ||
		strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "connection reset") {
		return true
	}
	return false
}

func (c *YQLClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func (c *YQLClient) buildRequest(ctx context.Context, query string) (*http.Request, error) {
	u := *c.apiURL
	params := u.Query()
	params.Set("q", query)
	params.Set("format", "json")
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *YQLClient) handleErrorResponse(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: HTTP %d", ErrBadQuery, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	return nil
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
