// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package unzip

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a failure by the layer it originated from.
type ErrorKind int

const (
	// KindIO is a local filesystem or source read failure.
	KindIO ErrorKind = iota + 1

	// KindFormat is a malformed or unsupported archive structure.
	KindFormat

	// KindTransport is a failure to fetch a byte range from a remote source.
	KindTransport

	// KindCanceled is reported for entries that were not completed because the
	// run was canceled.
	KindCanceled
)

// String returns a human readable name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindFormat:
		return "format"
	case KindTransport:
		return "transport"
	case KindCanceled:
		return "canceled"
	}
	return "unknown"
}

var (
	// ErrFormat is returned if the archive structure cannot be parsed.
	ErrFormat = errors.New("zip: not a valid zip file")

	// ErrChecksum is returned if the CRC-32 of extracted data does not match the central directory.
	ErrChecksum = errors.New("zip: checksum error")

	// ErrSizeMismatch is returned if the decompressed size differs from the declared size.
	ErrSizeMismatch = errors.New("zip: size mismatch")

	// ErrHeaderMismatch is returned if the local header contradicts the central directory.
	ErrHeaderMismatch = errors.New("zip: local header does not match central directory")

	// ErrUnsupportedMethod is returned for compression methods that cannot be decompressed.
	ErrUnsupportedMethod = errors.New("zip: unsupported compression method")

	// ErrInsecurePath is returned for entry names that would escape the destination.
	ErrInsecurePath = errors.New("zip: insecure file path")

	// ErrPasswordRequired is returned for encrypted entries when no password is configured.
	ErrPasswordRequired = errors.New("zip: password required")

	// ErrPasswordMismatch is returned when the password verification value does not match.
	ErrPasswordMismatch = errors.New("zip: invalid password")

	// ErrAuthentication is returned when the AES authentication code does not match.
	ErrAuthentication = errors.New("zip: authentication failed")

	// ErrUnsupportedFile is returned for entries that are neither file, directory nor symlink,
	// or for symlinks when symlink extraction is denied.
	ErrUnsupportedFile = errors.New("unsupported file")

	// ErrMaxFilesExceeded indicates that the maximum number of files is exceeded.
	ErrMaxFilesExceeded = errors.New("maximum files exceeded")

	// ErrMaxExtractionSizeExceeded indicates that the maximum size is exceeded.
	ErrMaxExtractionSizeExceeded = errors.New("maximum extraction size exceeded")

	// ErrMaxInputSizeExceeded indicates that the maximum input size is exceeded.
	ErrMaxInputSizeExceeded = errors.New("maximum input size exceeded")
)

// Error is the error type returned by the extraction engine. It carries the
// [ErrorKind] of the failure, the operation and, if known, the entry path.
type Error struct {
	Kind ErrorKind
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %s error: %v", e.Op, e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// newError wraps err with kind and op. If err already is an [*Error] with a
// kind assigned, the kind of the innermost error wins.
func newError(kind ErrorKind, op string, path string, err error) *Error {
	var e *Error
	if errors.As(err, &e) && e.Kind != 0 {
		kind = e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		kind = KindCanceled
	}
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

func ioError(op, path string, err error) *Error {
	return newError(KindIO, op, path, err)
}

func formatError(op, path string, err error) *Error {
	return newError(KindFormat, op, path, err)
}

func transportError(op, path string, err error) *Error {
	return newError(KindTransport, op, path, err)
}

// KindOf returns the [ErrorKind] of err. If err does not carry a kind, 0 is returned.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsIO reports whether err is an I/O failure.
func IsIO(err error) bool {
	return KindOf(err) == KindIO
}

// IsFormat reports whether err is an archive format failure.
func IsFormat(err error) bool {
	return KindOf(err) == KindFormat
}

// IsTransport reports whether err is a remote transport failure.
func IsTransport(err error) bool {
	return KindOf(err) == KindTransport
}

// IsCanceled reports whether err was caused by cancellation.
func IsCanceled(err error) bool {
	return KindOf(err) == KindCanceled
}
