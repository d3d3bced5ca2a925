package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// Call records one request made through a Fake.
type Call struct {
	Method string
	URL    string
	Opts   Options
}

// Mutating reports whether the call uses a state-changing method.
func (c Call) Mutating() bool {
	switch c.Method {
	case http.MethodGet, http.MethodHead:
		return false
	}
	return true
}

// Fake is an in-memory Gateway for tests. Responses are scripted per
// "METHOD url-substring" key; unmatched requests yield a 404.
type Fake struct {
	mu        sync.Mutex
	calls     []Call
	responses map[string]*Response
	errs      map[string]error
}

// NewFake creates an empty fake gateway.
func NewFake() *Fake {
	return &Fake{
		responses: make(map[string]*Response),
		errs:      make(map[string]error),
	}
}

// Respond scripts a response for requests whose "METHOD url" contains key.
func (f *Fake) Respond(key string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[key] = &Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Headers:    http.Header{},
		Body:       []byte(body),
	}
}

// Fail scripts a transport error for requests matching key.
func (f *Fake) Fail(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[key] = err
}

// Request implements Gateway.
func (f *Fake) Request(ctx context.Context, method, url string, opts Options) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: method, URL: url, Opts: opts})

	probe := method + " " + url
	for key, err := range f.errs {
		if strings.Contains(probe, key) {
			return nil, err
		}
	}
	for key, resp := range f.responses {
		if strings.Contains(probe, key) {
			return resp, nil
		}
	}
	return &Response{
		StatusCode: http.StatusNotFound,
		Status:     "404 Not Found",
		Headers:    http.Header{},
		Body:       []byte(`{"error":"not found"}`),
	}, nil
}

// Calls returns a copy of all recorded calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// MutatingCalls returns the recorded calls that used mutating methods.
func (f *Fake) MutatingCalls() []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Mutating() {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears recorded calls but keeps scripted responses.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}
