package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DefaultTimeout is applied when a request does not specify its own
// timeout.
const DefaultTimeout = 30 * time.Second

// Options carries per-call request options.
type Options struct {
	// Headers are additional request headers.
	Headers map[string]string

	// Body is the raw request body, nil for body-less methods.
	Body []byte

	// TimeoutSeconds bounds the whole call including retries.
	// Zero means DefaultTimeout.
	TimeoutSeconds int
}

// Response is the uniform result of an outbound call.
type Response struct {
	// StatusCode is the HTTP status code of the final response.
	StatusCode int

	// Status is the HTTP status line, e.g. "200 OK".
	Status string

	// Headers are the response headers.
	Headers http.Header

	// Body is the fully read response body.
	Body []byte
}

// Success reports whether the response carries a 2xx status.
func (r *Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// NotFound reports whether the response carries a 404 status.
func (r *Response) NotFound() bool {
	return r.StatusCode == http.StatusNotFound
}

// JSON decodes the response body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}

// Gateway performs signed outbound calls against a provider API.
//
// A nil error means the transport delivered a response; the response
// may still carry a non-2xx status, which the caller classifies.
type Gateway interface {
	Request(ctx context.Context, method, url string, opts Options) (*Response, error)
}

// Signer adds provider credentials to an outgoing request.
// Implementations must not read or buffer the request body.
type Signer interface {
	Sign(req *http.Request) error
}

// SignerFunc adapts a function to the Signer interface.
type SignerFunc func(req *http.Request) error

// Sign implements Signer.
func (f SignerFunc) Sign(req *http.Request) error {
	return f(req)
}

// BearerToken returns a Signer that sets an Authorization bearer header.
func BearerToken(token string) Signer {
	return SignerFunc(func(req *http.Request) error {
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	})
}
