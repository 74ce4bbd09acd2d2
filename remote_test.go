// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package unzip_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/hashicorp/go-unzip"
	"github.com/hashicorp/go-unzip/internal/mocks"
	"github.com/hashicorp/go-unzip/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rangeRecorder serves data and records every requested range.
type rangeRecorder struct {
	mu     sync.Mutex
	data   []byte
	heads  int
	ranges []string
}

func (r *rangeRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	if req.Method == http.MethodHead {
		r.heads++
	} else {
		r.ranges = append(r.ranges, req.Header.Get("Range"))
	}
	r.mu.Unlock()
	http.ServeContent(w, req, "archive.zip", time.Time{}, bytes.NewReader(r.data))
}

func (r *rangeRecorder) reset() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ranges := r.ranges
	r.ranges = nil
	return ranges
}

func byteRange(start, end int64) string {
	return fmt.Sprintf("bytes=%d-%d", start, end-1)
}

func TestRemoteExtractRanges(t *testing.T) {
	data := createZip(t,
		file("a.txt", strings.Repeat("a", 10000)),
		dir("dir/"),
		file("dir/b.txt", "bbb"),
		testEntry{name: "dir/c.txt", body: "stored", method: zip.Store},
	)
	size := int64(len(data))

	rec := &rangeRecorder{data: data}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	ctx := context.Background()
	src, err := unzip.NewRemoteSource(ctx, srv.URL, transport.NewHTTPFetcher(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, size, src.Size())
	assert.Equal(t, 1, rec.heads)

	var td *unzip.TelemetryData
	target := unzip.NewTargetMemory()
	a, err := unzip.Open(ctx, src,
		unzip.WithTarget(target),
		unzip.WithCreateDestination(true),
		unzip.WithTelemetryHook(func(ctx context.Context, d *unzip.TelemetryData) { td = d }),
	)
	require.NoError(t, err)

	// directory discovery reads the tail window and the central directory
	eocd := data[len(data)-22:]
	cdSize := int64(binary.LittleEndian.Uint32(eocd[12:]))
	cdOffset := int64(binary.LittleEndian.Uint32(eocd[16:]))
	window := min(size, 22+0xffff)
	assert.Equal(t, []string{
		byteRange(size-window, size),
		byteRange(cdOffset, cdOffset+cdSize),
	}, rec.reset())

	res, err := a.Extract(ctx, "/out")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Files)
	assert.Equal(t, strings.Repeat("a", 10000), readFile(t, target.Fs(), "/out/a.txt"))
	assert.Equal(t, "stored", readFile(t, target.Fs(), "/out/dir/c.txt"))

	// every file entry is read with its local header and exactly its data,
	// directory entries are not fetched at all
	zr, err := zip.NewReader(bytes.NewReader(data), size)
	require.NoError(t, err)
	var expected []string
	var expectedBytes int64
	for i, e := range a.Entries() {
		if e.IsDir() {
			continue
		}
		dataOffset, err := zr.File[i].DataOffset()
		require.NoError(t, err)
		end := dataOffset + e.CompressedSize
		lho := e.LocalHeaderOffset
		expected = append(expected, byteRange(lho, lho+30), byteRange(lho+30, end))
		expectedBytes += end - lho
	}
	assert.ElementsMatch(t, expected, rec.reset())

	require.NotNil(t, td)
	assert.Equal(t, int64(6), td.Fetches)
	assert.Equal(t, expectedBytes, td.FetchedBytes)
}

func TestRemoteExtractPartial(t *testing.T) {
	big := strings.Repeat("0123456789abcdef", 1<<14)
	data := createZip(t,
		testEntry{name: "first.bin", body: big, method: zip.Store},
		testEntry{name: "small.txt", body: "hello", method: zip.Store},
		testEntry{name: "last.bin", body: big, method: zip.Store},
	)
	size := int64(len(data))
	window := int64(22 + 0xffff)
	require.Greater(t, size, 2*window)

	rec := &rangeRecorder{data: data}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	ctx := context.Background()
	src, err := unzip.NewRemoteSource(ctx, srv.URL, transport.NewHTTPFetcher(srv.URL))
	require.NoError(t, err)

	var td *unzip.TelemetryData
	target := unzip.NewTargetMemory()
	a, err := unzip.Open(ctx, src,
		unzip.WithTarget(target),
		unzip.WithCreateDestination(true),
		unzip.WithFilter(unzip.SuffixFilter(".txt")),
		unzip.WithTelemetryHook(func(ctx context.Context, d *unzip.TelemetryData) { td = d }),
	)
	require.NoError(t, err)

	eocd := data[len(data)-22:]
	cdSize := int64(binary.LittleEndian.Uint32(eocd[12:]))
	cdOffset := int64(binary.LittleEndian.Uint32(eocd[16:]))
	discovery := rec.reset()
	assert.Equal(t, []string{
		byteRange(size-window, size),
		byteRange(cdOffset, cdOffset+cdSize),
	}, discovery)

	res, err := a.Extract(ctx, "/out")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Files)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, "hello", readFile(t, target.Fs(), "/out/small.txt"))

	zr, err := zip.NewReader(bytes.NewReader(data), size)
	require.NoError(t, err)
	require.Equal(t, "small.txt", zr.File[1].Name)
	dataOffset, err := zr.File[1].DataOffset()
	require.NoError(t, err)
	e := a.Entries()[1]
	lho := e.LocalHeaderOffset
	end := dataOffset + e.CompressedSize
	assert.Equal(t, []string{byteRange(lho, lho+30), byteRange(lho+30, end)}, rec.reset())

	// only the tail window, the central directory and one entry were read
	require.NotNil(t, td)
	assert.Equal(t, int64(2), td.Fetches)
	assert.Equal(t, end-lho, td.FetchedBytes)
	total := window + cdSize + end - lho
	assert.Less(t, total, size)
	assert.Less(t, total, 2*window)
}

func TestRemoteRangesNotSupported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
	}))
	defer srv.Close()

	_, err := unzip.NewRemoteSource(context.Background(), srv.URL,
		transport.NewHTTPFetcher(srv.URL, transport.WithRetry(1, time.Millisecond)))
	require.Error(t, err)
	assert.True(t, unzip.IsTransport(err))
	assert.ErrorIs(t, err, transport.ErrRangesNotSupported)
}

func TestRemoteSizeFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	fetcher := mocks.NewMockRangeFetcher(ctrl)
	fetcher.EXPECT().Size(gomock.Any()).Return(int64(0), errors.New("connection refused"))

	_, err := unzip.NewRemoteSource(context.Background(), "mock://archive.zip", fetcher)
	require.Error(t, err)
	assert.True(t, unzip.IsTransport(err))
	assert.Contains(t, err.Error(), "connection refused")
}

// serveFrom returns a FetchRange implementation over data that calls fail
// for every request first. A non-nil result of fail replaces the response.
func serveFrom(data []byte, fail func(start, end int64) (io.ReadCloser, error)) func(context.Context, int64, int64) (io.ReadCloser, error) {
	return func(_ context.Context, start, end int64) (io.ReadCloser, error) {
		if fail != nil {
			if rc, err := fail(start, end); rc != nil || err != nil {
				return rc, err
			}
		}
		return io.NopCloser(bytes.NewReader(data[start:end])), nil
	}
}

func TestRemoteTransportFailure(t *testing.T) {
	data := createZip(t, file("a.txt", "hello"), file("b.txt", "world"), file("c.txt", "again"))

	cases := []struct {
		name string
		fail func(lho int64) func(start, end int64) (io.ReadCloser, error)
		err  error
	}{
		{
			name: "fetch error",
			fail: func(lho int64) func(start, end int64) (io.ReadCloser, error) {
				return func(start, end int64) (io.ReadCloser, error) {
					if start == lho {
						return nil, errors.New("connection reset by peer")
					}
					return nil, nil
				}
			},
		},
		{
			name: "short local header",
			fail: func(lho int64) func(start, end int64) (io.ReadCloser, error) {
				return func(start, end int64) (io.ReadCloser, error) {
					if start == lho {
						return io.NopCloser(bytes.NewReader(data[start : start+10])), nil
					}
					return nil, nil
				}
			},
			err: io.ErrUnexpectedEOF,
		},
		{
			name: "short data",
			fail: func(lho int64) func(start, end int64) (io.ReadCloser, error) {
				return func(start, end int64) (io.ReadCloser, error) {
					if start == lho+30 {
						return io.NopCloser(bytes.NewReader(data[start : end-2])), nil
					}
					return nil, nil
				}
			},
			err: io.ErrUnexpectedEOF,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			var failing int64 = -1
			fetcher := mocks.NewMockRangeFetcher(ctrl)
			fetcher.EXPECT().Size(gomock.Any()).Return(int64(len(data)), nil)
			fetcher.EXPECT().FetchRange(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
				func(ctx context.Context, start, end int64) (io.ReadCloser, error) {
					var fail func(start, end int64) (io.ReadCloser, error)
					if failing >= 0 {
						fail = tc.fail(failing)
					}
					return serveFrom(data, fail)(ctx, start, end)
				}).AnyTimes()

			ctx := context.Background()
			src, err := unzip.NewRemoteSource(ctx, "mock://archive.zip", fetcher)
			require.NoError(t, err)

			target := unzip.NewTargetMemory()
			a, err := unzip.Open(ctx, src, unzip.WithTarget(target), unzip.WithCreateDestination(true), unzip.WithConcurrency(1))
			require.NoError(t, err)
			for _, e := range a.Entries() {
				if e.Name == "b.txt" {
					failing = e.LocalHeaderOffset
				}
			}
			require.GreaterOrEqual(t, failing, int64(0))

			res, err := a.Extract(ctx, "/out")
			require.Error(t, err)
			assert.Equal(t, unzip.StatusPartial, res.Status)
			assert.Equal(t, 2, res.Files)
			require.Len(t, res.Failures, 1)

			f := res.Failures[0]
			assert.Equal(t, "b.txt", f.Path)
			assert.True(t, unzip.IsTransport(f.Err), f.Err.Error())
			if tc.err != nil {
				assert.ErrorIs(t, f.Err, tc.err)
			}
			assert.Equal(t, "hello", readFile(t, target.Fs(), "/out/a.txt"))
			assert.Equal(t, "again", readFile(t, target.Fs(), "/out/c.txt"))
		})
	}
}
