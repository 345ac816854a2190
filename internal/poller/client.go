package poller

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const maxResponseBodySize = 1 << 20 // 1MB

// connection pooling limits; many upload sessions usually target the same host
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 10
	defaultIdleConnTimeout     = 60 * time.Second
)

// Response holds the result of one status check made by [Client].
type Response struct {
	// Body contains the HTTP response body, limited to 1MB.
	Body []byte

	// StatusCode is the HTTP status code (e.g., 202, 409, 500).
	// Zero if the request failed before receiving a response.
	StatusCode int

	// Latency is the total time taken for the request, including any
	// time spent waiting on the rate limiter.
	Latency time.Duration

	// Error contains any transport-level error that occurred.
	// nil means a response was received, whatever its status code.
	Error error
}

// Client issues status-check GET requests.
//
// Client uses per-request timeouts via context rather than a global timeout.
// An optional token-bucket limiter is shared by every caller of the same
// Client, which bounds the request rate of all sessions together.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
}

// ClientOption configures a [Client].
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
// A nil client is ignored.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRateLimit limits outbound requests to rps requests per second with the
// given burst. Non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient creates a new status-check [Client].
//
// The default transport is configured with connection pooling limits:
//   - MaxIdleConns: 100 total idle connections
//   - MaxIdleConnsPerHost: 10 idle connections per host
//   - MaxConnsPerHost: 10 concurrent connections per host
//   - IdleConnTimeout: 60 seconds before closing idle connections
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{
			// no default timeout - we use per-request timeouts via context
			Transport: &http.Transport{
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				MaxConnsPerHost:     defaultMaxConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch performs one GET against url and returns a structured [Response].
//
// The timeout bounds the request itself; cancelling ctx aborts both the
// rate-limiter wait and the request. A limiter wait longer than the ctx
// deadline is not refused up front: Fetch sleeps until the token is due or
// ctx ends. Fetch always returns a Response;
// errors are captured in the Error field rather than returned separately.
func (c *Client) Fetch(ctx context.Context, url string, headers map[string]string, timeout time.Duration) Response {
	start := time.Now()

	if err := c.waitForToken(ctx); err != nil {
		return Response{
			Latency: time.Since(start),
			Error:   err,
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Response{
			Latency: time.Since(start),
			Error:   fmt.Errorf("failed to create request: %w", err),
		}
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{
			Latency: time.Since(start),
			Error:   fmt.Errorf("request failed: %w", err),
		}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return Response{
			StatusCode: resp.StatusCode,
			Latency:    time.Since(start),
			Error:      fmt.Errorf("failed to read response body: %w", err),
		}
	}

	return Response{
		Body:       body,
		StatusCode: resp.StatusCode,
		Latency:    time.Since(start),
	}
}

// waitForToken blocks until the limiter admits one request. It fails only
// when ctx ends first, so a caller's deadline surfaces as ctx.Err() rather
// than as an early limiter refusal.
func (c *Client) waitForToken(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	r := c.limiter.Reserve()
	if !r.OK() {
		return fmt.Errorf("rate limiter: request exceeds burst")
	}
	if !Sleep(ctx, r.Delay()) {
		r.Cancel()
		return fmt.Errorf("rate limiter: %w", context.Cause(ctx))
	}
	return nil
}

// Close closes all idle connections in the client's connection pool.
//
// Safe to call multiple times. After Close, the client remains usable but
// new connections will be established as needed.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	c.httpClient.CloseIdleConnections()
}
