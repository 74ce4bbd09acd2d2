// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package unzip

import (
	"encoding/binary"
	"hash/crc32"
	"io/fs"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Method is the compression method of an entry.
type Method uint16

// Compression methods understood by the extraction engine.
const (
	Store   Method = 0
	Deflate Method = 8
	BZIP2   Method = 12
	LZMA    Method = 14
	Zstd    Method = 93
	XZ      Method = 95

	// AES marks entries encrypted with WinZip AES. The actual compression
	// method is stored in the AES extra field.
	AES Method = 99
)

// String returns the name of the method.
func (m Method) String() string {
	switch m {
	case Store:
		return "store"
	case Deflate:
		return "deflate"
	case BZIP2:
		return "bzip2"
	case LZMA:
		return "lzma"
	case Zstd:
		return "zstd"
	case XZ:
		return "xz"
	case AES:
		return "aes"
	}
	return "method(" + strconv.Itoa(int(m)) + ")"
}

// general purpose bit flags
const (
	flagEncrypted    = 0x1
	flagLZMAEOS      = 0x2
	flagDataDescr    = 0x8
	flagStrongCrypto = 0x40
	flagUTF8         = 0x800
)

// extra field header ids
const (
	zip64ExtraID       = 0x0001
	extTimeExtraID     = 0x5455
	unicodePathExtraID = 0x7075
	aesExtraID         = 0x9901
)

// creator host systems
const (
	creatorFAT    = 0
	creatorUnix   = 3
	creatorNTFS   = 11
	creatorVFAT   = 14
	creatorMacOSX = 19
)

// Entry describes one file, directory or symlink of the archive as recorded
// in the central directory. Entries are immutable after [Open] returned.
type Entry struct {
	// Name is the decoded path of the entry with forward slashes.
	Name string

	// Comment is the entry comment.
	Comment string

	// Method is the compression method. For AES encrypted entries this is the
	// method of the data inside the encryption envelope.
	Method Method

	// Flags holds the general purpose bit flags.
	Flags uint16

	CreatorVersion uint16
	ReaderVersion  uint16

	// CRC32 is the checksum of the uncompressed data.
	CRC32 uint32

	CompressedSize   int64
	UncompressedSize int64

	// LocalHeaderOffset is the offset of the local file header in the archive.
	LocalHeaderOffset int64

	// Modified is the last modification time.
	Modified time.Time

	ExternalAttrs uint32

	rawName []byte
	aes     *aesExtra
	modTime uint16
}

// aesExtra holds the content of the WinZip AES extra field.
type aesExtra struct {
	vendorVersion uint16
	strength      byte
	method        Method
}

// IsDir reports whether the entry describes a directory.
func (e *Entry) IsDir() bool {
	return strings.HasSuffix(e.Name, "/") || e.Mode().IsDir()
}

// IsSymlink reports whether the entry describes a symbolic link.
func (e *Entry) IsSymlink() bool {
	return e.Mode()&fs.ModeSymlink != 0
}

// IsEncrypted reports whether the entry data is encrypted.
func (e *Entry) IsEncrypted() bool {
	return e.Flags&flagEncrypted != 0
}

// SizeDeferred reports whether the sizes were deferred to a data descriptor
// when the archive was written.
func (e *Entry) SizeDeferred() bool {
	return e.Flags&flagDataDescr != 0
}

// Mode returns the file mode derived from the external attributes.
func (e *Entry) Mode() fs.FileMode {
	var mode fs.FileMode
	switch e.CreatorVersion >> 8 {
	case creatorUnix, creatorMacOSX:
		mode = unixModeToFileMode(e.ExternalAttrs >> 16)
	case creatorNTFS, creatorVFAT, creatorFAT:
		mode = msdosModeToFileMode(e.ExternalAttrs)
	}
	if strings.HasSuffix(e.Name, "/") {
		mode |= fs.ModeDir
	}
	return mode
}

// checksumVerifiable reports whether the CRC-32 can be verified. WinZip AE-2
// entries do not store a checksum and are protected by the authentication code.
func (e *Entry) checksumVerifiable() bool {
	return e.aes == nil || e.aes.vendorVersion != 2
}

const (
	sIFMT   = 0xf000
	sIFSOCK = 0xc000
	sIFLNK  = 0xa000
	sIFREG  = 0x8000
	sIFBLK  = 0x6000
	sIFDIR  = 0x4000
	sIFCHR  = 0x2000
	sIFIFO  = 0x1000
	sISUID  = 0x800
	sISGID  = 0x400
	sISVTX  = 0x200

	msdosDir      = 0x10
	msdosReadOnly = 0x01
)

func unixModeToFileMode(m uint32) fs.FileMode {
	mode := fs.FileMode(m & 0777)
	switch m & sIFMT {
	case sIFBLK:
		mode |= fs.ModeDevice
	case sIFCHR:
		mode |= fs.ModeDevice | fs.ModeCharDevice
	case sIFDIR:
		mode |= fs.ModeDir
	case sIFIFO:
		mode |= fs.ModeNamedPipe
	case sIFLNK:
		mode |= fs.ModeSymlink
	case sIFSOCK:
		mode |= fs.ModeSocket
	}
	if m&sISGID != 0 {
		mode |= fs.ModeSetgid
	}
	if m&sISUID != 0 {
		mode |= fs.ModeSetuid
	}
	if m&sISVTX != 0 {
		mode |= fs.ModeSticky
	}
	return mode
}

func msdosModeToFileMode(m uint32) fs.FileMode {
	var mode fs.FileMode
	if m&msdosDir != 0 {
		mode = fs.ModeDir | 0777
	} else {
		mode = 0666
	}
	if m&msdosReadOnly != 0 {
		mode &^= 0222
	}
	return mode
}

// decodeName returns the path of an entry. Names flagged as UTF-8 are used as
// they are, otherwise an Info-ZIP unicode path field is preferred and CP437
// is assumed as legacy encoding.
func decodeName(raw []byte, flags uint16, extra []byte) string {
	var name string
	switch {
	case flags&flagUTF8 != 0:
		name = string(raw)
	case unicodePath(raw, extra) != "":
		name = unicodePath(raw, extra)
	case isASCII(raw):
		name = string(raw)
	default:
		decoded, err := charmap.CodePage437.NewDecoder().Bytes(raw)
		if err != nil || !utf8.Valid(decoded) {
			name = string(raw)
		} else {
			name = string(decoded)
		}
	}
	return strings.ReplaceAll(name, `\`, "/")
}

// unicodePath returns the name stored in the Info-ZIP unicode path extra
// field, if the field is present and belongs to raw.
func unicodePath(raw []byte, extra []byte) string {
	var found string
	walkExtra(extra, func(id uint16, data []byte) bool {
		if id != unicodePathExtraID || len(data) < 5 || data[0] != 1 {
			return true
		}
		if binary.LittleEndian.Uint32(data[1:5]) != crc32.ChecksumIEEE(raw) {
			return true
		}
		if utf8.Valid(data[5:]) {
			found = string(data[5:])
		}
		return false
	})
	return found
}

// walkExtra calls fn for each field of an extra block until fn returns false.
// Truncated trailing fields are ignored.
func walkExtra(extra []byte, fn func(id uint16, data []byte) bool) {
	for len(extra) >= 4 {
		id := binary.LittleEndian.Uint16(extra[0:2])
		size := int(binary.LittleEndian.Uint16(extra[2:4]))
		extra = extra[4:]
		if size > len(extra) {
			return
		}
		if !fn(id, extra[:size]) {
			return
		}
		extra = extra[size:]
	}
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// msDosTimeToTime converts an MS-DOS date and time into a time.Time.
// The resolution is 2s.
func msDosTimeToTime(dosDate, dosTime uint16) time.Time {
	return time.Date(
		int(dosDate>>9+1980),
		time.Month(dosDate>>5&0xf),
		int(dosDate&0x1f),
		int(dosTime>>11),
		int(dosTime>>5&0x3f),
		int(dosTime&0x1f*2),
		0,
		time.UTC,
	)
}

// extendedModTime returns the modification time of the extended timestamp
// field, if present.
func extendedModTime(extra []byte) (time.Time, bool) {
	var mod time.Time
	var ok bool
	walkExtra(extra, func(id uint16, data []byte) bool {
		if id != extTimeExtraID || len(data) < 5 || data[0]&1 == 0 {
			return true
		}
		mod = time.Unix(int64(int32(binary.LittleEndian.Uint32(data[1:5]))), 0)
		ok = true
		return false
	})
	return mod, ok
}
