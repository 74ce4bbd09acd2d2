// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package unzip

import (
	"context"
	"fmt"
	"io"
)

// openEntryData re-reads the local file header of e and returns a reader
// for exactly the compressed (and possibly encrypted) data of the entry.
//
// Two range reads are issued: the fixed part of the local header, and the
// span from the variable part of the header up to the end of the data.
// The central directory stays authoritative for sizes, the local header is
// only checked for consistency.
func openEntryData(ctx context.Context, src Source, e *Entry) (io.ReadCloser, error) {
	lho := e.LocalHeaderOffset
	if lho > src.Size()-fileHeaderLen {
		return nil, formatError("read local header", e.Name, fmt.Errorf("%w: local header offset %d out of range", ErrFormat, lho))
	}
	hdr, err := readRange(ctx, src, lho, lho+fileHeaderLen)
	if err != nil {
		return nil, err
	}

	b := readBuf(hdr)
	if b.uint32() != fileHeaderSignature {
		return nil, formatError("read local header", e.Name, fmt.Errorf("%w: invalid local header signature", ErrFormat))
	}
	b.skip(2) // version needed
	flags := b.uint16()
	method := Method(b.uint16())
	b.skip(8) // time, date, crc32
	compressed := b.uint32()
	uncompressed := b.uint32()
	nameLen := int64(b.uint16())
	extraLen := int64(b.uint16())

	if err := checkLocalHeader(e, flags, method, compressed, uncompressed); err != nil {
		return nil, formatError("read local header", e.Name, err)
	}

	varStart := lho + fileHeaderLen
	dataStart := varStart + nameLen + extraLen
	dataEnd := dataStart + e.CompressedSize
	if dataEnd > src.Size() || dataEnd < dataStart {
		return nil, formatError("read local header", e.Name, fmt.Errorf("%w: entry data [%d, %d) exceeds archive", ErrFormat, dataStart, dataEnd))
	}

	rc, err := src.OpenRange(ctx, varStart, dataEnd)
	if err != nil {
		return nil, err
	}
	if _, err := io.CopyN(io.Discard, rc, nameLen+extraLen); err != nil {
		rc.Close()
		if KindOf(err) != 0 {
			return nil, err
		}
		return nil, ioError("read local header", e.Name, err)
	}
	return rc, nil
}

// checkLocalHeader compares the local header fields with the central
// directory record.
func checkLocalHeader(e *Entry, flags uint16, method Method, compressed, uncompressed uint32) error {
	if method == AES {
		if e.aes == nil {
			return fmt.Errorf("%w: method %s, central directory %s", ErrHeaderMismatch, method, e.Method)
		}
	} else if method != e.Method {
		return fmt.Errorf("%w: method %s, central directory %s", ErrHeaderMismatch, method, e.Method)
	}

	if flags&flagEncrypted != e.Flags&flagEncrypted {
		return fmt.Errorf("%w: encryption flag", ErrHeaderMismatch)
	}

	// sizes are in the data descriptor or in the zip64 extra field
	if flags&flagDataDescr != 0 || e.SizeDeferred() {
		return nil
	}
	if compressed == uint32max || uncompressed == uint32max {
		return nil
	}
	if int64(compressed) != e.CompressedSize || int64(uncompressed) != e.UncompressedSize {
		return fmt.Errorf("%w: sizes %d/%d, central directory %d/%d",
			ErrHeaderMismatch, compressed, uncompressed, e.CompressedSize, e.UncompressedSize)
	}
	return nil
}
