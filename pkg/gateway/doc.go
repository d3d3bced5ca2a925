// Package gateway provides the outbound HTTP transport used by entity
// implementations to call provider APIs.
//
// Every call goes through the Gateway interface and returns a uniform
// Response carrying the status code, headers and body. Transport-level
// concerns (request signing, per-call timeouts, retry with backoff on
// transient network failures) live here; interpretation of non-2xx
// responses is left to the caller, which wraps them with the failed
// operation's name per the provider error convention.
//
// The Fake implementation records every call and serves scripted
// responses, so provider tests can assert exact remote call counts.
package gateway
