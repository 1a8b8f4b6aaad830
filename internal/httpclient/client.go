// Package httpclient provides the rate-limited HTTP transport shared by the
// gateway. Transport failures are classified into typed errors so callers can
// distinguish "nothing is listening" from "the server answered with an error".
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"golang.org/x/time/rate"
)

// Client wraps http.Client with optional rate limiting. The zero timeout on
// the underlying client is deliberate: per-call deadlines come from the
// caller's context, and streaming responses must outlive any fixed timeout.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
}

// Option configures the Client.
type Option func(*Client)

// WithRateLimit sets requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithLimiter shares an existing limiter between clients.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithHTTPClient replaces the underlying http.Client, e.g. with an
// oauth2-authenticated one.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a new HTTP client.
func New(opts ...Option) *Client {
	c := &Client{
		http: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Response wraps a fully read HTTP response.
type Response struct {
	StatusCode int
	Status     string
	Body       []byte
}

// OK reports whether the response carries a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// StatusErr returns a *StatusError for non-2xx responses, nil otherwise.
func (r *Response) StatusErr() error {
	if r.OK() {
		return nil
	}
	return &StatusError{StatusCode: r.StatusCode, Status: r.Status}
}

// StatusError reports a reachable server answering with a non-2xx status.
type StatusError struct {
	StatusCode int
	Status     string // e.g. "404 Not Found"
}

func (e *StatusError) Error() string {
	return e.Status
}

// ConnectError reports a failure to establish a connection at all.
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connecting to %s: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Get performs an HTTP GET and reads the full body.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.do(req)
}

// PostJSON marshals payload as JSON, performs an HTTP POST, and reads the
// full body.
func (c *Client) PostJSON(ctx context.Context, url string, headers map[string]string, payload any) (*Response, error) {
	req, err := c.jsonRequest(ctx, url, headers, payload)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// Stream performs an HTTP POST and hands the open response to the caller,
// who owns closing the body. Transport failures are classified the same way
// as for the buffered methods.
func (c *Client) Stream(ctx context.Context, url string, headers map[string]string, payload any) (*http.Response, error) {
	req, err := c.jsonRequest(ctx, url, headers, payload)
	if err != nil {
		return nil, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(url, err)
	}
	return resp, nil
}

func (c *Client) jsonRequest(ctx context.Context, url string, headers map[string]string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(req.URL.String(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       body,
	}, nil
}

// classifyTransport wraps dial-level failures as *ConnectError and leaves
// everything else (deadline exceeded, mid-body read errors) untouched.
func classifyTransport(url string, err error) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return &ConnectError{URL: url, Err: err}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &ConnectError{URL: url, Err: err}
	}
	return err
}
