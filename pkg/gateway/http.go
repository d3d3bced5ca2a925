package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/provisor/provisor/pkg/telemetry"
)

// Client is the HTTP implementation of Gateway.
//
// Retries are transport-level only: a request is retried when the
// network layer failed before any response was delivered, and only for
// idempotent methods. A delivered response, whatever its status code,
// is returned to the caller exactly once.
type Client struct {
	httpClient  *http.Client
	signer      Signer
	logger      zerolog.Logger
	maxInterval time.Duration
	maxRetries  uint64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithSigner installs the request signer used on every call.
func WithSigner(s Signer) ClientOption {
	return func(c *Client) { c.signer = s }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithMaxRetries bounds the number of transport retries per call.
func WithMaxRetries(n uint64) ClientOption {
	return func(c *Client) { c.maxRetries = n }
}

// NewClient creates a gateway client.
func NewClient(logger zerolog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		httpClient:  &http.Client{},
		logger:      logger.With().Str("component", "gateway").Logger(),
		maxInterval: 5 * time.Second,
		maxRetries:  3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request implements Gateway.
func (c *Client) Request(ctx context.Context, method, url string, opts Options) (*Response, error) {
	timeout := DefaultTimeout
	if opts.TimeoutSeconds > 0 {
		timeout = time.Duration(opts.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	policy := backoff.WithContext(c.newBackoff(), ctx)

	var resp *Response
	attempt := 0
	op := func() error {
		attempt++
		var r *Response
		err := telemetry.RecordGatewayOperation(ctx, method, url, func() error {
			var derr error
			r, derr = c.do(ctx, method, url, opts)
			return derr
		})
		if err != nil {
			if !retryable(method, err) {
				return backoff.Permanent(err)
			}
			c.logger.Debug().
				Str("method", method).
				Str("url", url).
				Int("attempt", attempt).
				Err(err).
				Msg("Retrying request after transport failure")
			return err
		}
		resp = r
		return nil
	}

	if err := backoff.Retry(op, backoff.WithMaxRetries(policy, c.maxRetries)); err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	return resp, nil
}

// do performs a single HTTP exchange.
func (c *Client) do(ctx context.Context, method, url string, opts Options) (*Response, error) {
	var body io.Reader
	if len(opts.Body) > 0 {
		body = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Content-Type") == "" && len(opts.Body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.signer != nil {
		if err := c.signer.Sign(req); err != nil {
			return nil, fmt.Errorf("failed to sign request: %w", err)
		}
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("url", url).
		Int("status", httpResp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Request completed")

	return &Response{
		StatusCode: httpResp.StatusCode,
		Status:     httpResp.Status,
		Headers:    httpResp.Header,
		Body:       respBody,
	}, nil
}

// newBackoff returns the exponential policy used between retries.
func (c *Client) newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = c.maxInterval
	return b
}

// retryable reports whether a transport error on the given method may
// be retried. Non-idempotent methods are never retried: the remote side
// may have processed the request before the connection failed.
func retryable(method string, err error) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete:
	default:
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// http.Client.Do wraps connection-level failures in *url.Error;
	// anything that produced no response is safe to retry here.
	return true
}
