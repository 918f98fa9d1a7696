// Package httpclient provides the outbound HTTP client used by the imagery
// providers, with per-request timeouts, credential injection and a response
// hook for logging.
package httpclient

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	// DefaultTimeout is applied to requests whose context has no deadline.
	DefaultTimeout = 10 * time.Second

	defaultMaxIdleConnsPerHost   = 8
	defaultIdleConnTimeout       = 90 * time.Second
	defaultTLSHandshakeTimeout   = 10 * time.Second
	defaultResponseHeaderTimeout = 10 * time.Second
	defaultDialTimeout           = 10 * time.Second

	defaultUserAgent = "forestwatch"
)

// Config holds configuration for creating a Client.
type Config struct {
	// DefaultTimeout is used when the request context has no deadline.
	DefaultTimeout time.Duration
	// UserAgent is set on requests that carry none.
	UserAgent string
	// BearerToken, when set, is sent as "Authorization: Bearer <token>".
	BearerToken string
	// Transport replaces the pooled default transport, e.g. for mocks.
	Transport http.RoundTripper
}

// Client is safe for concurrent use.
type Client struct {
	client         *http.Client
	defaultTimeout time.Duration
	userAgent      string
	bearerToken    string

	hookMu        sync.RWMutex
	afterResponse func(*http.Request, *http.Response, time.Duration, error)
}

func defaultTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   defaultDialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: defaultResponseHeaderTimeout,
	}
}

// New creates a Client. Zero fields take their defaults.
func New(cfg Config) *Client {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	transport := cfg.Transport
	if transport == nil {
		transport = defaultTransport()
	}

	return &Client{
		// no client-level timeout, Do applies it per request through the context
		client:         &http.Client{Transport: transport},
		defaultTimeout: cfg.DefaultTimeout,
		userAgent:      cfg.UserAgent,
		bearerToken:    cfg.BearerToken,
	}
}

// Timeout returns the per-request default timeout.
func (c *Client) Timeout() time.Duration { return c.defaultTimeout }

// Do sends req bound to ctx. When ctx has no deadline the default timeout
// applies; its cancel runs when the response body is closed.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}

	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeout(ctx, c.defaultTimeout)
	}
	req = req.WithContext(ctx)

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.bearerToken != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	start := time.Now()
	resp, err := c.client.Do(req)

	c.hookMu.RLock()
	hook := c.afterResponse
	c.hookMu.RUnlock()
	if hook != nil {
		hook(req, resp, time.Since(start), err)
	}

	if cancel != nil {
		if err != nil {
			cancel()
		} else {
			resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		}
	}
	return resp, err
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create GET request: %w", err)
	}
	return c.Do(ctx, req)
}

// SetAfterResponseHook sets a function called after every request with the
// elapsed round-trip time. resp is nil when err is set.
func (c *Client) SetAfterResponseHook(fn func(req *http.Request, resp *http.Response, elapsed time.Duration, err error)) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.afterResponse = fn
}

// Close closes idle pooled connections.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}
