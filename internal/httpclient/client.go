// Package httpclient provides the API HTTP client: a transport stack with a greedy
// response cache on top of a retry policy, and a cache-hit marker readable after each call.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config configures the client.
type Config struct {
	// Timeout bounds each attempt, including reading the response body.
	Timeout time.Duration
	Retry   RetryConfig
	Cache   CacheConfig
}

// RetryConfig configures the retry policy.
type RetryConfig struct {
	Enabled bool
	// MaxRetryAttempts counts retries after the first attempt.
	MaxRetryAttempts int
	RetryOnTimeout   bool
	RetryOnStatus    []int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
}

// CacheConfig configures the greedy response cache.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
	// VaryHeaders are request headers that take part in the cache key when present.
	VaryHeaders []string
}

// Options carries the collaborators of a Client.
type Options struct {
	// Base performs the actual exchange. Defaults to http.DefaultTransport.
	Base http.RoundTripper
	// Storage backs the cache. Required when caching is enabled.
	Storage Storage
	Logger  *zap.Logger
	Metrics *Metrics
	// Sleep is injected for testability.
	Sleep func(time.Duration)
}

// Error is the single error type surfaced for transport faults and unsuccessful
// statuses that survive the retry policy.
type Error struct {
	Method     string
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("HTTP request failed: %s %s: %v", e.Method, e.URL, e.Err)
	}
	return fmt.Sprintf("HTTP request failed: %s %s: status %d", e.Method, e.URL, e.StatusCode)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Client sends requests through the cache and retry layers and remembers whether
// the last response was served from cache.
type Client struct {
	transport http.RoundTripper
	http      *http.Client
	metrics   *Metrics

	mu         sync.Mutex
	fromCache  bool
	lastHeader http.Header
}

// New builds a Client. Layers, outermost first: cache, retry, base.
func New(cfg Config, opts Options) (*Client, error) {
	base := opts.Base
	if base == nil {
		base = http.DefaultTransport
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var transport http.RoundTripper = &retryTransport{
		next:    base,
		cfg:     cfg.Retry,
		timeout: cfg.Timeout,
		sleep:   sleep,
		logger:  logger,
		metrics: opts.Metrics,
	}
	if cfg.Cache.Enabled {
		if opts.Storage == nil {
			return nil, fmt.Errorf("cache is enabled but no storage was provided")
		}
		transport = &cacheTransport{
			next:    transport,
			storage: opts.Storage,
			ttl:     cfg.Cache.TTL,
			vary:    cfg.Cache.VaryHeaders,
			logger:  logger,
		}
	}

	c := &Client{
		transport: transport,
		metrics:   opts.Metrics,
	}
	c.http = &http.Client{Transport: c}
	return c, nil
}

// RoundTrip implements http.RoundTripper.
func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := c.transport.RoundTrip(req)
	if err != nil {
		c.record(false, nil)
		c.metrics.failure()
		return nil, &Error{Method: req.Method, URL: req.URL.Redacted(), Err: err}
	}
	fromCache := FromCache(resp)
	c.metrics.request(fromCache)
	c.record(fromCache, resp.Header)
	return resp, nil
}

// Send issues one request. Statuses of 400 and above are returned as *Error.
func (c *Client) Send(ctx context.Context, method, uri string, header http.Header, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, uri, reader)
	if err != nil {
		return nil, &Error{Method: method, URL: uri, Err: err}
	}
	for name, values := range header {
		for _, value := range values {
			req.Header.Add(name, value)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var clientErr *Error
		if errors.As(err, &clientErr) {
			return nil, clientErr
		}
		return nil, &Error{Method: method, URL: uri, Err: err}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return nil, &Error{Method: method, URL: uri, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// LastResponseFromCache reports whether the most recent response was a cache hit.
func (c *Client) LastResponseFromCache() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fromCache
}

// LastResponseHeader returns the headers of the most recent response, or nil after a failure.
func (c *Client) LastResponseHeader() http.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeader
}

func (c *Client) record(fromCache bool, header http.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fromCache = fromCache
	c.lastHeader = header
}
