// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package unzip

import (
	"io"
	"sync/atomic"
)

// limitErrorWriter is a wrapper around an io.Writer that returns
// [ErrMaxExtractionSizeExceeded] when the limit is reached.
type limitErrorWriter struct {
	W io.Writer // underlying writer
	L int64     // limit
	N int64     // number of bytes written
}

// Write writes up to len(p) bytes from p to the underlying writer. The
// limit is enforced by writing up to the limit and returning
// [ErrMaxExtractionSizeExceeded].
func (l *limitErrorWriter) Write(p []byte) (n int, err error) {
	// check if we reached the limit
	if l.N >= l.L {
		return 0, ErrMaxExtractionSizeExceeded
	}

	// write until we reach the limit
	if int64(len(p)) > l.L-l.N {
		p = p[0 : l.L-l.N]
		n, err = l.W.Write(p)
		if err == nil {
			err = ErrMaxExtractionSizeExceeded
		}
		l.N += int64(n)
		return n, err
	}

	// write normally
	n, err = l.W.Write(p)
	l.N += int64(n)
	return n, err
}

// newLimitErrorWriter returns a new limitErrorWriter that wraps the given writer
// and limit.
func newLimitErrorWriter(w io.Writer, l int64) *limitErrorWriter {
	return &limitErrorWriter{W: w, L: l}
}

// limitWriter returns a new writer that wraps the given writer and limits the
// written bytes to maxSize. If maxSize is negative, w is returned.
func limitWriter(w io.Writer, maxSize int64) io.Writer {
	if maxSize < 0 {
		return w
	}
	return newLimitErrorWriter(w, maxSize)
}

// sizeBudget is the extraction size shared by all workers of a run.
type sizeBudget struct {
	max  int64
	used atomic.Int64
}

// remaining returns the bytes left for the next entry, or -1 if the
// budget is unlimited.
func (b *sizeBudget) remaining() int64 {
	if b.max < 0 {
		return -1
	}
	return max(b.max-b.used.Load(), 0)
}

// charge records n extracted bytes. Concurrent entries may together
// overdraw the budget, which is reported to the entry that crosses it.
func (b *sizeBudget) charge(n int64) error {
	if b.max < 0 {
		return nil
	}
	if b.used.Add(n) > b.max {
		return ErrMaxExtractionSizeExceeded
	}
	return nil
}
