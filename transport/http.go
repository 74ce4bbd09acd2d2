// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

// Package transport provides range fetchers for remote zip archives.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
)

// ErrRangesNotSupported is returned if the server does not serve byte ranges.
var ErrRangesNotSupported = errors.New("server does not support range requests")

// ErrReadTimeout is returned by a range body that received no data within
// the read timeout.
var ErrReadTimeout = errors.New("read timeout")

// logger is the logging interface used by the fetchers.
type logger interface {
	Debug(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

const (
	defaultAttempts = 5
	defaultDelay    = 200 * time.Millisecond
	defaultMaxDelay = 5 * time.Second
)

// StatusError is returned for unexpected HTTP status codes.
type StatusError struct {
	URL        string
	StatusCode int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s for %s", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

// Temporary reports whether the request may succeed when retried.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

// HTTPFetcher fetches byte ranges of a resource served over HTTP(S).
// It is safe for concurrent use.
type HTTPFetcher struct {
	url      string
	client   *http.Client
	header   http.Header
	attempts uint
	delay    time.Duration
	maxDelay time.Duration
	timeout  time.Duration
	logger   logger
}

// HTTPOption configures an [HTTPFetcher].
type HTTPOption func(*HTTPFetcher)

// WithHTTPClient sets the client used for all requests.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(f *HTTPFetcher) {
		f.client = c
	}
}

// WithHeader adds a header to every request, e.g. for authorization.
func WithHeader(key, value string) HTTPOption {
	return func(f *HTTPFetcher) {
		f.header.Add(key, value)
	}
}

// WithRetry sets the number of attempts and the initial backoff delay.
func WithRetry(attempts uint, delay time.Duration) HTTPOption {
	return func(f *HTTPFetcher) {
		f.attempts = max(attempts, 1)
		f.delay = delay
	}
}

// WithReadTimeout sets how long a range body may stall before the request
// is aborted with [ErrReadTimeout]. Zero disables the timeout.
func WithReadTimeout(d time.Duration) HTTPOption {
	return func(f *HTTPFetcher) {
		f.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l logger) HTTPOption {
	return func(f *HTTPFetcher) {
		f.logger = l
	}
}

// NewHTTPFetcher creates a fetcher for url.
func NewHTTPFetcher(url string, opts ...HTTPOption) *HTTPFetcher {
	f := &HTTPFetcher{
		url:      url,
		header:   make(http.Header),
		attempts: defaultAttempts,
		delay:    defaultDelay,
		maxDelay: defaultMaxDelay,
		timeout:  DefaultReadTimeout,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = NewClient()
	}
	return f
}

// URL returns the url of the resource.
func (f *HTTPFetcher) URL() string {
	return f.url
}

// Size determines the length of the resource with a HEAD request and
// verifies that the server accepts byte ranges. Servers that reject HEAD
// requests are probed with a one byte range request.
func (f *HTTPFetcher) Size(ctx context.Context) (int64, error) {
	var size int64
	err := f.do(ctx, "size", func() error {
		resp, err := f.send(ctx, http.MethodHead, "")
		if err != nil {
			return err
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented:
			size, err = f.probeSize(ctx)
			return err
		case resp.StatusCode != http.StatusOK:
			return statusError(f.url, resp.StatusCode)
		case !acceptsRanges(resp.Header):
			return retry.Unrecoverable(ErrRangesNotSupported)
		case resp.ContentLength < 0:
			return retry.Unrecoverable(errors.Errorf("unknown content length of %s", f.url))
		}
		size = resp.ContentLength
		return nil
	})
	return size, err
}

// probeSize requests the first byte and reads the size from the
// Content-Range header.
func (f *HTTPFetcher) probeSize(ctx context.Context) (int64, error) {
	resp, err := f.send(ctx, http.MethodGet, "bytes=0-0")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return 0, retry.Unrecoverable(ErrRangesNotSupported)
	}
	if resp.StatusCode != http.StatusPartialContent {
		return 0, statusError(f.url, resp.StatusCode)
	}
	_, _, total, err := parseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		return 0, retry.Unrecoverable(err)
	}
	if total < 0 {
		return 0, retry.Unrecoverable(errors.Errorf("unknown content length of %s", f.url))
	}
	return total, nil
}

// FetchRange issues a single GET request for [start, end). Requests are
// retried until the response headers arrived; the body is streamed to the
// caller and aborted once it stalls for longer than the read timeout.
func (f *HTTPFetcher) FetchRange(ctx context.Context, start, end int64) (io.ReadCloser, error) {
	if end <= start {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}

	var body io.ReadCloser
	err := f.do(ctx, "fetch range", func() error {
		rctx, cancel := context.WithCancel(ctx)
		resp, err := f.send(rctx, http.MethodGet, fmt.Sprintf("bytes=%d-%d", start, end-1))
		if err != nil {
			cancel()
			return err
		}
		switch resp.StatusCode {
		case http.StatusPartialContent:
		case http.StatusOK:
			resp.Body.Close()
			cancel()
			return retry.Unrecoverable(ErrRangesNotSupported)
		default:
			resp.Body.Close()
			cancel()
			return statusError(f.url, resp.StatusCode)
		}

		first, last, _, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil || first != start || last != end-1 {
			resp.Body.Close()
			cancel()
			return retry.Unrecoverable(errors.Errorf("server returned range %q for bytes=%d-%d",
				resp.Header.Get("Content-Range"), start, end-1))
		}
		body = newStallBody(resp.Body, f.timeout, cancel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// stallBody cancels its request when no Read returns within timeout.
type stallBody struct {
	rc      io.ReadCloser
	timeout time.Duration
	cancel  context.CancelFunc
	timer   *time.Timer
	expired atomic.Bool
}

func newStallBody(rc io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) *stallBody {
	b := &stallBody{rc: rc, timeout: timeout, cancel: cancel}
	if timeout > 0 {
		b.timer = time.AfterFunc(timeout, func() {
			b.expired.Store(true)
			cancel()
		})
	}
	return b
}

func (b *stallBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if b.timer == nil {
		return n, err
	}
	if err != nil && b.expired.Load() {
		return n, errors.Wrapf(ErrReadTimeout, "no data for %s", b.timeout)
	}
	b.timer.Reset(b.timeout)
	return n, err
}

func (b *stallBody) Close() error {
	if b.timer != nil {
		b.timer.Stop()
	}
	err := b.rc.Close()
	b.cancel()
	return err
}

// do runs fn with the retry policy of the fetcher.
func (f *HTTPFetcher) do(ctx context.Context, op string, fn func() error) error {
	err := retry.Do(fn,
		retry.Attempts(f.attempts),
		retry.Delay(f.delay),
		retry.MaxDelay(f.maxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			f.logger.Debug("retrying request", "op", op, "url", f.url, "attempt", n+1, "error", err)
		}),
		retry.Context(ctx),
	)
	if err != nil {
		return errors.Wrapf(err, "%s %s", op, f.url)
	}
	return nil
}

func (f *HTTPFetcher) send(ctx context.Context, method string, byteRange string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, f.url, nil)
	if err != nil {
		return nil, retry.Unrecoverable(errors.Wrap(err, "create request"))
	}
	for k, v := range f.header {
		req.Header[k] = v
	}
	if byteRange != "" {
		req.Header.Set("Range", byteRange)
	}
	return f.client.Do(req)
}

func statusError(url string, code int) error {
	err := &StatusError{URL: url, StatusCode: code}
	if err.Temporary() {
		return err
	}
	return retry.Unrecoverable(err)
}

// isRetryable reports whether err is worth another attempt.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

func acceptsRanges(h http.Header) bool {
	for _, v := range h.Values("Accept-Ranges") {
		for _, unit := range strings.Split(v, ",") {
			if strings.TrimSpace(unit) == "bytes" {
				return true
			}
		}
	}
	return false
}

// parseContentRange parses "bytes first-last/total". total is -1 for "*".
func parseContentRange(v string) (first, last, total int64, err error) {
	rest, ok := strings.CutPrefix(v, "bytes ")
	if !ok {
		return 0, 0, 0, errors.Errorf("invalid content range %q", v)
	}
	span, size, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, 0, 0, errors.Errorf("invalid content range %q", v)
	}
	a, b, ok := strings.Cut(span, "-")
	if !ok {
		return 0, 0, 0, errors.Errorf("invalid content range %q", v)
	}
	if first, err = strconv.ParseInt(a, 10, 64); err != nil {
		return 0, 0, 0, errors.Wrapf(err, "invalid content range %q", v)
	}
	if last, err = strconv.ParseInt(b, 10, 64); err != nil {
		return 0, 0, 0, errors.Wrapf(err, "invalid content range %q", v)
	}
	total = -1
	if size != "*" {
		if total, err = strconv.ParseInt(size, 10, 64); err != nil {
			return 0, 0, 0, errors.Wrapf(err, "invalid content range %q", v)
		}
	}
	return first, last, total, nil
}
