// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package unzip

import (
	"fmt"
	"io"
)

// limitErrorReader is a reader that returns [ErrSizeMismatch] if the
// underlying reader yields more than L bytes. If the limit is -1, all data
// from the original reader is read.
type limitErrorReader struct {
	R io.Reader // underlying reader
	L int64     // limit
	N int64     // number of bytes read
}

// Read reads from the underlying reader and fills up p. Once the limit is
// reached, a single byte is probed to distinguish the end of the data from
// excess data.
func (l *limitErrorReader) Read(p []byte) (int, error) {
	if l.L == -1 {
		n, err := l.R.Read(p)
		l.N += int64(n)
		return n, err
	}

	// check if limit is reached
	m := l.L - l.N
	if m <= 0 {
		var probe [1]byte
		n, err := io.ReadFull(l.R, probe[:])
		if n > 0 {
			return 0, fmt.Errorf("%w: more than %d bytes", ErrSizeMismatch, l.L)
		}
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return 0, err
	}
	if m < int64(len(p)) {
		p = p[:m]
	}

	// read from underlying reader and preserve error type
	n, err := l.R.Read(p)
	l.N += int64(n)
	return n, err
}

// newLimitErrorReader returns a new limitErrorReader that reads from r
func newLimitErrorReader(r io.Reader, limit int64) *limitErrorReader {
	return &limitErrorReader{R: r, L: limit, N: 0}
}
