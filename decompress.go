// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package unzip

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// lzmaDictCap is the largest dictionary accepted for LZMA entries.
const lzmaDictCap = 1 << 30

// newDecompressor returns a reader that decompresses the data of e read
// from r. Every call yields a private decompressor. Unknown methods are
// reported as [ErrUnsupportedMethod].
func newDecompressor(e *Entry, r io.Reader) (io.ReadCloser, error) {
	switch e.Method {
	case Store:
		return io.NopCloser(r), nil

	case Deflate:
		return flate.NewReader(r), nil

	case BZIP2:
		br, err := bzip2.NewReader(r, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFormat, err)
		}
		return br, nil

	case LZMA:
		return newLZMAReader(e, r)

	case Zstd:
		d, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFormat, err)
		}
		return d.IOReadCloser(), nil

	case XZ:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFormat, err)
		}
		return io.NopCloser(xr), nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, e.Method)
}

// newLZMAReader converts the zip flavored lzma header into the classic
// header understood by the lzma package. A zip entry starts with a two byte
// version, the size of the properties and the properties themselves.
func newLZMAReader(e *Entry, r io.Reader) (io.ReadCloser, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: lzma header: %w", ErrFormat, err)
	}
	propsLen := int(binary.LittleEndian.Uint16(hdr[2:]))
	if propsLen != 5 {
		return nil, fmt.Errorf("%w: unexpected lzma properties size %d", ErrFormat, propsLen)
	}

	classic := make([]byte, lzma.HeaderLen)
	if _, err := io.ReadFull(r, classic[:5]); err != nil {
		return nil, fmt.Errorf("%w: lzma properties: %w", ErrFormat, err)
	}
	// without an end marker the stream ends after the central directory size
	size := uint64(e.UncompressedSize)
	if e.Flags&flagLZMAEOS != 0 {
		size = ^uint64(0)
	}
	binary.LittleEndian.PutUint64(classic[5:], size)

	cfg := lzma.ReaderConfig{DictCap: lzmaDictCap}
	lr, err := cfg.NewReader(io.MultiReader(bytes.NewReader(classic), r))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	return io.NopCloser(lr), nil
}
