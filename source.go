// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package unzip

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
)

// Source is a random access provider of the archive bytes. Implementations
// must be safe for concurrent use; every call to OpenRange yields an
// independent reader with its own cursor.
type Source interface {
	// Size returns the total length of the archive in bytes.
	Size() int64

	// OpenRange returns a reader for the bytes in [start, end). The caller
	// closes the reader.
	OpenRange(ctx context.Context, start, end int64) (io.ReadCloser, error)
}

// FileSource is a [Source] backed by an [io.ReaderAt], typically an [*os.File].
// Concurrent readers use positional reads and never share a seek offset.
type FileSource struct {
	r      io.ReaderAt
	size   int64
	closer io.Closer
}

// NewFileSource creates a [FileSource] reading size bytes from r.
func NewFileSource(r io.ReaderAt, size int64) *FileSource {
	return &FileSource{r: r, size: size}
}

// OpenFile opens the file at path as a [FileSource]. The returned source must be closed.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ioError("open", path, err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ioError("stat", path, err)
	}
	if stat.IsDir() {
		f.Close()
		return nil, ioError("open", path, fmt.Errorf("is a directory"))
	}
	return &FileSource{r: f, size: stat.Size(), closer: f}, nil
}

// Size returns the length of the file.
func (s *FileSource) Size() int64 {
	return s.size
}

// OpenRange returns a section reader for [start, end).
func (s *FileSource) OpenRange(ctx context.Context, start, end int64) (io.ReadCloser, error) {
	if err := checkRange(start, end, s.size); err != nil {
		return nil, formatError("open range", "", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, newError(KindCanceled, "open range", "", err)
	}
	return io.NopCloser(&ioErrorReader{r: io.NewSectionReader(s.r, start, end-start)}), nil
}

// Close closes the underlying file, if the source was created by [OpenFile].
func (s *FileSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// checkRange validates [start, end) against size.
func checkRange(start, end, size int64) error {
	if start < 0 || end < start || end > size {
		return fmt.Errorf("%w: range [%d, %d) outside of archive with size %d", ErrFormat, start, end, size)
	}
	return nil
}

// ioErrorReader classifies read failures of a local source as I/O errors.
type ioErrorReader struct {
	r io.Reader
}

func (r *ioErrorReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if err != nil && err != io.EOF {
		err = ioError("read", "", err)
	}
	return n, err
}

// countingSource wraps a [Source] and tracks the number of range requests
// and the bytes that were requested.
type countingSource struct {
	Source
	fetches atomic.Int64
	bytes   atomic.Int64
}

func (c *countingSource) OpenRange(ctx context.Context, start, end int64) (io.ReadCloser, error) {
	c.fetches.Add(1)
	c.bytes.Add(end - start)
	return c.Source.OpenRange(ctx, start, end)
}
