// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package unzip

import (
	"context"
	"fmt"
	"io"
)

//go:generate mockgen -source=source_remote.go -destination=internal/mocks/mock_range_fetcher.go -package=mocks

// RangeFetcher is implemented by transports that can fetch byte ranges of a
// remote resource. See the transport package for HTTP and S3 implementations.
type RangeFetcher interface {
	// Size returns the total length of the remote resource.
	Size(ctx context.Context) (int64, error)

	// FetchRange issues one request for the bytes in [start, end).
	FetchRange(ctx context.Context, start, end int64) (io.ReadCloser, error)
}

// RemoteSource is a [Source] that reads a remote archive exclusively through
// byte range requests. Each OpenRange call results in exactly one fetch.
type RemoteSource struct {
	locator string
	fetcher RangeFetcher
	size    int64
}

// NewRemoteSource queries the size of the resource identified by locator and
// returns a [RemoteSource] for it. locator is only used in error messages.
func NewRemoteSource(ctx context.Context, locator string, fetcher RangeFetcher) (*RemoteSource, error) {
	size, err := fetcher.Size(ctx)
	if err != nil {
		return nil, transportError("size", locator, err)
	}
	if size < 0 {
		return nil, transportError("size", locator, fmt.Errorf("unknown content length"))
	}
	return &RemoteSource{locator: locator, fetcher: fetcher, size: size}, nil
}

// Size returns the length of the remote resource.
func (s *RemoteSource) Size() int64 {
	return s.size
}

// Locator returns the locator the source was created with.
func (s *RemoteSource) Locator() string {
	return s.locator
}

// OpenRange fetches [start, end) from the remote resource. Failures to
// fetch or to read the full range are reported as transport errors.
func (s *RemoteSource) OpenRange(ctx context.Context, start, end int64) (io.ReadCloser, error) {
	if err := checkRange(start, end, s.size); err != nil {
		return nil, formatError("open range", s.locator, err)
	}
	rc, err := s.fetcher.FetchRange(ctx, start, end)
	if err != nil {
		return nil, transportError("fetch range", s.locator, err)
	}
	return &rangeReader{rc: rc, remaining: end - start, locator: s.locator}, nil
}

// rangeReader makes sure a fetched range delivers exactly the requested
// number of bytes.
type rangeReader struct {
	rc        io.ReadCloser
	remaining int64
	locator   string
}

func (r *rangeReader) Read(p []byte) (int, error) {
	if r.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}
	n, err := r.rc.Read(p)
	r.remaining -= int64(n)
	switch {
	case err == io.EOF && r.remaining > 0:
		return n, transportError("read range", r.locator, io.ErrUnexpectedEOF)
	case err == io.EOF:
		return n, io.EOF
	case err != nil:
		return n, transportError("read range", r.locator, err)
	}
	return n, nil
}

func (r *rangeReader) Close() error {
	return r.rc.Close()
}
