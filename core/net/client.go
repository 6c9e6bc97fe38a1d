// Package net provides an HTTP client with retry, timeout and circuit breaker
// behavior for talking to lstd servers.
//
// Example usage:
//
//	client := net.NewClient(
//	    net.WithTimeout(20*time.Second),
//	    net.WithMaxRetries(5),
//	    net.WithRetryBackoff(2*time.Second),
//	)
//	resp, err := client.Get(ctx, "http://localhost:8080/status")
package net

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/marwen-abid/liquidstake-go/errors"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxRetries   = 3
	defaultBackoff      = 1 * time.Second
	defaultFailureLimit = 5
	defaultResetTimeout = 60 * time.Second
)

// Client is an HTTP client with retry, timeout, and circuit breaker capabilities.
// Only transport errors and 5xx responses are retried; 4xx responses are
// returned to the caller unchanged.
type Client struct {
	httpClient     *http.Client
	maxRetries     int
	retryBackoff   time.Duration
	circuitBreaker *circuitBreaker
}

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the per-attempt HTTP timeout (default: 30s).
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithMaxRetries sets the maximum number of retry attempts (default: 3).
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryBackoff sets the base duration for exponential backoff (default: 1s).
func WithRetryBackoff(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryBackoff = d
	}
}

// WithCircuitBreaker opens the circuit after failureLimit consecutive failed
// requests and lets a probe through after resetTimeout.
func WithCircuitBreaker(failureLimit int, resetTimeout time.Duration) ClientOption {
	return func(c *Client) {
		c.circuitBreaker.failureLimit = failureLimit
		c.circuitBreaker.resetTimeout = resetTimeout
	}
}

// WithTransport sets the underlying round tripper.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *Client) {
		c.httpClient.Transport = rt
	}
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts ...ClientOption) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		maxRetries:   defaultMaxRetries,
		retryBackoff: defaultBackoff,
		circuitBreaker: &circuitBreaker{
			failureLimit: defaultFailureLimit,
			resetTimeout: defaultResetTimeout,
		},
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Response wraps an HTTP response.
type Response struct {
	*http.Response
}

// Get performs an HTTP GET request with retry and circuit breaker logic.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.NewClientError(errors.NETWORK_ERROR, "failed to create GET request", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

// Post performs a JSON HTTP POST request with retry and circuit breaker logic.
// Callers must only post requests that are safe to repeat.
func (c *Client) Post(ctx context.Context, url string, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewClientError(errors.NETWORK_ERROR, "failed to create POST request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*Response, error) {
	if !c.circuitBreaker.allowRequest() {
		return nil, errors.NewClientError(errors.NETWORK_ERROR, "circuit breaker is open", nil)
	}

	// Buffer the body so it can be replayed on retries.
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, errors.NewClientError(errors.NETWORK_ERROR, "failed to read request body", err)
		}
		req.Body.Close()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.backoff(req.Context(), attempt-1); err != nil {
				return nil, errors.NewClientError(errors.NETWORK_ERROR, "request cancelled", err)
			}
		}
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			req.ContentLength = int64(len(bodyBytes))
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, errors.NewClientError(errors.NETWORK_ERROR, "request cancelled", req.Context().Err())
			}
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %s", resp.Status)
			continue
		}

		c.circuitBreaker.recordSuccess()
		return &Response{resp}, nil
	}

	c.circuitBreaker.recordFailure()
	return nil, errors.NewClientError(errors.NETWORK_ERROR,
		fmt.Sprintf("%s %s failed after %d attempts", req.Method, req.URL.Path, c.maxRetries+1), lastErr)
}

// backoff waits retryBackoff * 2^attempt or until ctx is done.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	t := time.NewTimer(c.retryBackoff * (1 << uint(attempt)))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type circuitBreaker struct {
	mu           sync.RWMutex
	failures     int
	lastFailTime time.Time
	failureLimit int
	resetTimeout time.Duration
	state        circuitState
}

type circuitState int

const (
	stateClosed circuitState = iota
	stateOpen
)

func (cb *circuitBreaker) allowRequest() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if cb.state == stateClosed {
		return true
	}
	return time.Since(cb.lastFailTime) > cb.resetTimeout
}

func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.state = stateClosed
}

func (cb *circuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailTime = time.Now()
	if cb.failureLimit > 0 && cb.failures >= cb.failureLimit {
		cb.state = stateOpen
	}
}
