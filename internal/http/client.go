package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ligustah/assetsync/internal/retry"
)

// Common errors.
var (
	ErrNotFound     = errors.New("http: resource not found")
	ErrForbidden    = errors.New("http: access forbidden")
	ErrUnauthorized = errors.New("http: unauthorized")
	ErrServerError  = errors.New("http: server error")
	ErrBadStatus    = errors.New("http: unexpected status")
)

// Options configures the HTTP client.
type Options struct {
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 100
	MaxIdleConnsPerHost int

	// HeaderTimeout bounds the wait for response headers. Body reads are
	// not bounded here; callers detect stalls themselves.
	// Default: 30s
	HeaderTimeout time.Duration

	// UserAgent is sent with every request.
	UserAgent string
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost: 100,
		HeaderTimeout:       30 * time.Second,
		UserAgent:           "assetsync",
	}
}

// Response is a streamed response body.
type Response struct {
	Body          io.ReadCloser
	ContentLength int64
}

// Client is an HTTP client optimized for concurrent file downloads.
type Client struct {
	client *http.Client
	opts   Options
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) *Client {
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = 100
	}
	if opts.HeaderTimeout <= 0 {
		opts.HeaderTimeout = 30 * time.Second
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		MaxIdleConns:          opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: opts.HeaderTimeout,
		DisableCompression:    true, // Objects are already compressed
	}

	return &Client{
		client: &http.Client{Transport: transport},
		opts:   opts,
	}
}

// Get starts a GET request and returns the streamed body. The caller must
// close Body.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, retry.Mark(retry.Network, err)
	}

	if err := checkStatusCode(resp.StatusCode); err != nil {
		resp.Body.Close()
		return nil, err
	}

	return &Response{
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
	}, nil
}

// checkStatusCode returns an appropriate error for non-success status codes.
// Server errors, throttling and unexpected codes are retryable.
func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code >= 500:
		return retry.Mark(retry.Network, fmt.Errorf("%w: %d", ErrServerError, code))
	default:
		return retry.Mark(retry.Network, fmt.Errorf("%w: %d", ErrBadStatus, code))
	}
}
