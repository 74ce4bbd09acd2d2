// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package transport

import (
	"net/http"
	"time"
)

// Preset timeouts for range requests. A range body may carry a whole entry
// and is bounded by the read timeout of the fetcher only.
const (
	// DefaultResponseHeaderTimeout bounds the wait for the response headers.
	DefaultResponseHeaderTimeout = 30 * time.Second

	// DefaultReadTimeout bounds the wait for the next chunk of a body.
	DefaultReadTimeout = time.Minute

	// DefaultIdleConnections is the number of idle connections kept per host,
	// large enough for one connection per extraction worker.
	DefaultIdleConnections = 64
)

// ClientOptions configures an HTTP client.
type ClientOptions struct {
	Timeout               time.Duration
	ResponseHeaderTimeout time.Duration
	IdleConnections       int
	Transport             *http.Transport
}

// ClientOption is a functional option for configuring HTTP clients.
type ClientOption func(*ClientOptions)

// WithTimeout sets an overall client timeout, which includes reading the
// body. No overall timeout is set by default.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *ClientOptions) {
		o.Timeout = d
	}
}

// WithResponseHeaderTimeout sets how long to wait for response headers.
func WithResponseHeaderTimeout(d time.Duration) ClientOption {
	return func(o *ClientOptions) {
		o.ResponseHeaderTimeout = d
	}
}

// WithIdleConnections sets the number of idle connections per host.
func WithIdleConnections(n int) ClientOption {
	return func(o *ClientOptions) {
		o.IdleConnections = n
	}
}

// WithTransport sets a custom transport. WithIdleConnections has no effect
// on a custom transport.
func WithTransport(t *http.Transport) ClientOption {
	return func(o *ClientOptions) {
		o.Transport = t
	}
}

// NewClient creates an HTTP client suited for many concurrent range
// requests against the same host.
func NewClient(opts ...ClientOption) *http.Client {
	cfg := &ClientOptions{
		ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
		IdleConnections:       DefaultIdleConnections,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport.(*http.Transport).Clone()
		transport.MaxIdleConnsPerHost = cfg.IdleConnections
		transport.MaxIdleConns = cfg.IdleConnections
		transport.ResponseHeaderTimeout = cfg.ResponseHeaderTimeout

		// range responses are consumed as they are, transparent
		// decompression would break the byte offsets
		transport.DisableCompression = true
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}
}
