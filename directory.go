// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package unzip

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	fileHeaderSignature      = 0x04034b50
	directoryHeaderSignature = 0x02014b50
	directoryEndSignature    = 0x06054b50
	directory64LocSignature  = 0x07064b50
	directory64EndSignature  = 0x06064b50

	fileHeaderLen      = 30
	directoryHeaderLen = 46
	directoryEndLen    = 22
	directory64LocLen  = 20
	directory64EndLen  = 56

	maxCommentLen = 0xffff

	uint16max = 0xffff
	uint32max = 0xffffffff
)

// directory is the result of parsing the end of central directory record and
// the central directory.
type directory struct {
	entries  []*Entry
	comment  string
	cdOffset int64
	cdSize   int64
	zip64    bool

	// tailWindow is the number of bytes read from the end of the archive to
	// locate the end of central directory record.
	tailWindow int64
}

// readRange reads [start, end) of src into memory.
func readRange(ctx context.Context, src Source, start, end int64) ([]byte, error) {
	rc, err := src.OpenRange(ctx, start, end)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	buf := make([]byte, end-start)
	if _, err := io.ReadFull(rc, buf); err != nil {
		if KindOf(err) != 0 {
			return nil, err
		}
		return nil, ioError("read", "", err)
	}
	return buf, nil
}

// readDirectory locates the end of central directory record within the last
// bytes of src, follows a zip64 locator if present, and parses the central
// directory with a single range read.
func readDirectory(ctx context.Context, src Source) (*directory, error) {
	size := src.Size()
	if size < directoryEndLen {
		return nil, formatError("read directory", "", fmt.Errorf("%w: archive too small (%d bytes)", ErrFormat, size))
	}

	window := min(size, int64(directoryEndLen+maxCommentLen))
	tailStart := size - window
	tail, err := readRange(ctx, src, tailStart, size)
	if err != nil {
		return nil, err
	}

	pos := findDirectoryEnd(tail)
	if pos < 0 {
		return nil, formatError("read directory", "", fmt.Errorf("%w: end of central directory record not found", ErrFormat))
	}

	d := &directory{tailWindow: window}
	b := readBuf(tail[pos+4:])
	diskNumber := uint32(b.uint16())
	cdDisk := uint32(b.uint16())
	entriesOnDisk := uint64(b.uint16())
	totalEntries := uint64(b.uint16())
	cdSize := uint64(b.uint32())
	cdOffset := uint64(b.uint32())
	commentLen := int(b.uint16())
	d.comment = string(tail[pos+directoryEndLen : pos+directoryEndLen+commentLen])

	// the end of the directory is the start of the zip64 end record, or the
	// end record itself
	dirEnd := tailStart + int64(pos)

	loc, locOffset, err := findDirectory64Loc(ctx, src, tail, tailStart, pos, totalEntries == uint16max || cdSize == uint32max || cdOffset == uint32max)
	if err != nil {
		return nil, err
	}
	if loc != nil {
		rec, recOffset, err := readDirectory64End(ctx, src, tail, tailStart, loc, locOffset)
		if err != nil {
			return nil, err
		}
		d.zip64 = true
		b := readBuf(rec[16:])
		diskNumber = b.uint32()
		cdDisk = b.uint32()
		entriesOnDisk = b.uint64()
		totalEntries = b.uint64()
		cdSize = b.uint64()
		cdOffset = b.uint64()
		dirEnd = recOffset
	}

	if diskNumber != 0 || cdDisk != 0 || entriesOnDisk != totalEntries {
		return nil, formatError("read directory", "", fmt.Errorf("%w: multi-volume archives are not supported", ErrFormat))
	}
	if cdOffset > uint64(dirEnd) || cdSize > uint64(dirEnd)-cdOffset {
		return nil, formatError("read directory", "", fmt.Errorf("%w: central directory [%d, +%d) exceeds archive bounds", ErrFormat, cdOffset, cdSize))
	}
	if totalEntries > cdSize/directoryHeaderLen {
		return nil, formatError("read directory", "", fmt.Errorf("%w: %d entries cannot fit into central directory of %d bytes", ErrFormat, totalEntries, cdSize))
	}
	d.cdOffset = int64(cdOffset)
	d.cdSize = int64(cdSize)

	cd, err := readRange(ctx, src, d.cdOffset, d.cdOffset+d.cdSize)
	if err != nil {
		return nil, err
	}

	d.entries = make([]*Entry, 0, totalEntries)
	for i := uint64(0); i < totalEntries; i++ {
		e, n, err := parseDirectoryHeader(cd)
		if err != nil {
			return nil, formatError("read directory", "", fmt.Errorf("entry %d: %w", i, err))
		}
		cd = cd[n:]
		d.entries = append(d.entries, e)
	}

	return d, nil
}

// findDirectoryEnd scans buf backwards for the end of central directory
// signature and returns its position or -1.
func findDirectoryEnd(buf []byte) int {
	for i := len(buf) - directoryEndLen; i >= 0; i-- {
		if binary.LittleEndian.Uint32(buf[i:]) != directoryEndSignature {
			continue
		}
		commentLen := int(binary.LittleEndian.Uint16(buf[i+20:]))
		if i+directoryEndLen+commentLen <= len(buf) {
			return i
		}
	}
	return -1
}

// findDirectory64Loc returns the zip64 locator preceding the end record at
// pos and its offset, or nil if there is none. A locator outside of the tail
// buffer is only fetched if the end record carries saturated values.
func findDirectory64Loc(ctx context.Context, src Source, tail []byte, tailStart int64, pos int, saturated bool) ([]byte, int64, error) {
	locOffset := tailStart + int64(pos) - directory64LocLen
	var loc []byte
	switch {
	case pos >= directory64LocLen:
		loc = tail[pos-directory64LocLen : pos]
	case saturated && locOffset >= 0:
		var err error
		if loc, err = readRange(ctx, src, locOffset, locOffset+directory64LocLen); err != nil {
			return nil, 0, err
		}
	default:
		return nil, 0, nil
	}
	if binary.LittleEndian.Uint32(loc) != directory64LocSignature {
		return nil, 0, nil
	}
	return loc, locOffset, nil
}

// readDirectory64End returns the zip64 end of central directory record the
// locator points to. The record is taken from the tail buffer if it lies
// within it, otherwise it is fetched.
func readDirectory64End(ctx context.Context, src Source, tail []byte, tailStart int64, loc []byte, locOffset int64) ([]byte, int64, error) {
	b := readBuf(loc[4:])
	if b.uint32() != 0 {
		return nil, 0, formatError("read zip64 directory", "", fmt.Errorf("%w: multi-volume archives are not supported", ErrFormat))
	}
	offset := b.uint64()
	if offset > uint64(locOffset) || uint64(locOffset)-offset < directory64EndLen {
		return nil, 0, formatError("read zip64 directory", "", fmt.Errorf("%w: invalid zip64 end record offset %d", ErrFormat, offset))
	}

	var rec []byte
	if int64(offset) >= tailStart {
		rel := int64(offset) - tailStart
		rec = tail[rel : rel+directory64EndLen]
	} else {
		var err error
		if rec, err = readRange(ctx, src, int64(offset), int64(offset)+directory64EndLen); err != nil {
			return nil, 0, err
		}
	}

	if binary.LittleEndian.Uint32(rec) != directory64EndSignature {
		return nil, 0, formatError("read zip64 directory", "", fmt.Errorf("%w: zip64 end record signature not found", ErrFormat))
	}
	return rec, int64(offset), nil
}

// parseDirectoryHeader parses one central directory file header at the
// beginning of buf and returns the entry and the number of consumed bytes.
func parseDirectoryHeader(buf []byte) (*Entry, int, error) {
	if len(buf) < directoryHeaderLen {
		return nil, 0, fmt.Errorf("%w: truncated central directory", ErrFormat)
	}
	b := readBuf(buf)
	if b.uint32() != directoryHeaderSignature {
		return nil, 0, fmt.Errorf("%w: invalid central directory header signature", ErrFormat)
	}

	e := &Entry{}
	e.CreatorVersion = b.uint16()
	e.ReaderVersion = b.uint16()
	e.Flags = b.uint16()
	e.Method = Method(b.uint16())
	e.modTime = b.uint16()
	modDate := b.uint16()
	e.CRC32 = b.uint32()
	compressed := uint64(b.uint32())
	uncompressed := uint64(b.uint32())
	nameLen := int(b.uint16())
	extraLen := int(b.uint16())
	commentLen := int(b.uint16())
	b.skip(4) // disk number start, internal attributes
	e.ExternalAttrs = b.uint32()
	offset := uint64(b.uint32())

	total := directoryHeaderLen + nameLen + extraLen + commentLen
	if len(buf) < total {
		return nil, 0, fmt.Errorf("%w: truncated central directory", ErrFormat)
	}
	raw := buf[directoryHeaderLen : directoryHeaderLen+nameLen]
	extra := buf[directoryHeaderLen+nameLen : directoryHeaderLen+nameLen+extraLen]
	e.rawName = raw
	e.Name = decodeName(raw, e.Flags, extra)
	e.Comment = string(buf[directoryHeaderLen+nameLen+extraLen : total])

	needUncompressed := uncompressed == uint32max
	needCompressed := compressed == uint32max
	needOffset := offset == uint32max

	var extraErr error
	walkExtra(extra, func(id uint16, data []byte) bool {
		switch id {
		case zip64ExtraID:
			fb := readBuf(data)
			if needUncompressed {
				if len(fb) < 8 {
					extraErr = fmt.Errorf("%w: truncated zip64 extra field", ErrFormat)
					return false
				}
				needUncompressed = false
				uncompressed = fb.uint64()
			}
			if needCompressed {
				if len(fb) < 8 {
					extraErr = fmt.Errorf("%w: truncated zip64 extra field", ErrFormat)
					return false
				}
				needCompressed = false
				compressed = fb.uint64()
			}
			if needOffset {
				if len(fb) < 8 {
					extraErr = fmt.Errorf("%w: truncated zip64 extra field", ErrFormat)
					return false
				}
				needOffset = false
				offset = fb.uint64()
			}
		case aesExtraID:
			if len(data) < 7 {
				extraErr = fmt.Errorf("%w: truncated aes extra field", ErrFormat)
				return false
			}
			fb := readBuf(data)
			e.aes = &aesExtra{vendorVersion: fb.uint16()}
			fb.skip(2) // vendor id "AE"
			e.aes.strength = fb.uint8()
			e.aes.method = Method(fb.uint16())
		}
		return true
	})
	if extraErr != nil {
		return nil, 0, extraErr
	}
	if needUncompressed || needCompressed || needOffset {
		return nil, 0, fmt.Errorf("%w: missing zip64 extra field", ErrFormat)
	}
	if compressed > 1<<62 || uncompressed > 1<<62 || offset > 1<<62 {
		return nil, 0, fmt.Errorf("%w: entry size out of range", ErrFormat)
	}
	e.CompressedSize = int64(compressed)
	e.UncompressedSize = int64(uncompressed)
	e.LocalHeaderOffset = int64(offset)

	if e.Method == AES {
		if e.aes == nil {
			return nil, 0, fmt.Errorf("%w: aes encrypted entry without aes extra field", ErrFormat)
		}
		e.Method = e.aes.method
	}

	if mod, ok := extendedModTime(extra); ok {
		e.Modified = mod
	} else {
		e.Modified = msDosTimeToTime(modDate, e.modTime)
	}

	return e, total, nil
}

// readBuf is a little endian cursor over a byte slice.
type readBuf []byte

func (b *readBuf) uint8() uint8 {
	v := (*b)[0]
	*b = (*b)[1:]
	return v
}

func (b *readBuf) uint16() uint16 {
	v := binary.LittleEndian.Uint16(*b)
	*b = (*b)[2:]
	return v
}

func (b *readBuf) uint32() uint32 {
	v := binary.LittleEndian.Uint32(*b)
	*b = (*b)[4:]
	return v
}

func (b *readBuf) uint64() uint64 {
	v := binary.LittleEndian.Uint64(*b)
	*b = (*b)[8:]
	return v
}

func (b *readBuf) skip(n int) {
	*b = (*b)[n:]
}
