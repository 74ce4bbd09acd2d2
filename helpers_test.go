// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package unzip_test

import (
	"archive/zip"
	"bytes"
	"compress/flate"
	"context"
	"hash/crc32"
	"io"
	"io/fs"
	"sync"
	"testing"
	"time"

	"github.com/dsnet/compress/bzip2"
	"github.com/hashicorp/go-unzip"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// testEntry describes an entry of a generated test archive.
type testEntry struct {
	name     string
	body     string
	method   uint16
	mode     fs.FileMode
	modified time.Time

	// raw entries are written with explicit sizes and without data
	// descriptor; crc overrides the computed checksum if set
	raw bool
	crc *uint32

	// deferred raw entries carry a data descriptor, declared replaces the
	// uncompressed size recorded for them if set
	deferred bool
	declared int64
}

func file(name, body string) testEntry {
	return testEntry{name: name, body: body, method: zip.Deflate}
}

func dir(name string) testEntry {
	return testEntry{name: name}
}

func symlink(name, target string) testEntry {
	return testEntry{name: name, body: target, mode: fs.ModeSymlink | 0777}
}

// createZip writes entries into an in-memory zip archive.
func createZip(t testing.TB, entries ...testEntry) []byte {
	t.Helper()
	return createZipWithComment(t, "", entries...)
}

func createZipWithComment(t testing.TB, comment string, entries ...testEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	registerCompressors(zw)

	for _, te := range entries {
		fh := &zip.FileHeader{Name: te.name, Method: te.method, Modified: te.modified}
		if te.mode != 0 {
			fh.SetMode(te.mode)
		}
		if te.method == uint16(unzip.LZMA) {
			fh.Flags |= 0x2
		}

		if te.raw {
			compressed := compress(t, te.method, []byte(te.body))
			fh.CRC32 = crc32.ChecksumIEEE([]byte(te.body))
			if te.crc != nil {
				fh.CRC32 = *te.crc
			}
			fh.CompressedSize64 = uint64(len(compressed))
			fh.UncompressedSize64 = uint64(len(te.body))
			if te.deferred {
				fh.Flags |= 0x8
			}
			if te.declared != 0 {
				fh.UncompressedSize64 = uint64(te.declared)
			}
			w, err := zw.CreateRaw(fh)
			require.NoError(t, err)
			_, err = w.Write(compressed)
			require.NoError(t, err)
			continue
		}

		w, err := zw.CreateHeader(fh)
		require.NoError(t, err)
		_, err = io.WriteString(w, te.body)
		require.NoError(t, err)
	}

	if comment != "" {
		require.NoError(t, zw.SetComment(comment))
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// registerCompressors adds writers for the methods archive/zip does not
// provide itself.
func registerCompressors(zw *zip.Writer) {
	zw.RegisterCompressor(uint16(unzip.Zstd), func(w io.Writer) (io.WriteCloser, error) {
		return zstd.NewWriter(w)
	})
	zw.RegisterCompressor(uint16(unzip.XZ), func(w io.Writer) (io.WriteCloser, error) {
		return xz.NewWriter(w)
	})
	zw.RegisterCompressor(uint16(unzip.BZIP2), func(w io.Writer) (io.WriteCloser, error) {
		return bzip2.NewWriter(w, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
	})
	zw.RegisterCompressor(uint16(unzip.LZMA), func(w io.Writer) (io.WriteCloser, error) {
		return &lzmaZipWriter{w: w}, nil
	})
}

// lzmaZipWriter buffers the data and writes it as zip flavored lzma stream
// with end marker on Close.
type lzmaZipWriter struct {
	w   io.Writer
	buf bytes.Buffer
}

func (l *lzmaZipWriter) Write(p []byte) (int, error) {
	return l.buf.Write(p)
}

func (l *lzmaZipWriter) Close() error {
	var classic bytes.Buffer
	lw, err := lzma.NewWriter(&classic)
	if err != nil {
		return err
	}
	if _, err := lw.Write(l.buf.Bytes()); err != nil {
		return err
	}
	if err := lw.Close(); err != nil {
		return err
	}
	b := classic.Bytes()
	out := append([]byte{9, 20, 5, 0}, b[:5]...)
	out = append(out, b[lzma.HeaderLen:]...)
	_, err = l.w.Write(out)
	return err
}

// compress compresses data for raw entries.
func compress(t testing.TB, method uint16, data []byte) []byte {
	t.Helper()
	switch method {
	case zip.Store:
		return data
	case zip.Deflate:
		var buf bytes.Buffer
		fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
		require.NoError(t, fw.Close())
		return buf.Bytes()
	}
	// unknown methods are stored as they are
	return data
}

// memorySource returns a source over data.
func memorySource(data []byte) *unzip.FileSource {
	return unzip.NewFileSource(bytes.NewReader(data), int64(len(data)))
}

// extractToMemory extracts data into /out of a fresh in-memory filesystem.
func extractToMemory(t testing.TB, data []byte, opts ...unzip.ConfigOption) (*unzip.RunResult, afero.Fs, error) {
	t.Helper()
	target := unzip.NewTargetMemory()
	opts = append([]unzip.ConfigOption{unzip.WithTarget(target), unzip.WithCreateDestination(true)}, opts...)
	res, err := unzip.Unpack(context.Background(), memorySource(data), "/out", opts...)
	require.NotNil(t, res)
	return res, target.Fs(), err
}

func readFile(t testing.TB, fsys afero.Fs, name string) string {
	t.Helper()
	b, err := afero.ReadFile(fsys, name)
	require.NoError(t, err)
	return string(b)
}

// outcomeByPath returns the outcome for path.
func outcomeByPath(t testing.TB, res *unzip.RunResult, path string) unzip.Outcome {
	t.Helper()
	for _, o := range res.Outcomes {
		if o.Path == path {
			return o
		}
	}
	t.Fatalf("no outcome for %s", path)
	return unzip.Outcome{}
}

// recordingReporter records all progress notifications.
type recordingReporter struct {
	mu       sync.Mutex
	entries  int
	bytes    int64
	totals   int
	written  map[string]int64
	finished []unzip.Outcome
	skipped  []string
	result   *unzip.RunResult
	runs     int

	onFinished func(unzip.Outcome)
}

func newRecordingReporter() *recordingReporter {
	return &recordingReporter{written: make(map[string]int64)}
}

func (r *recordingReporter) TotalsKnown(entries int, bytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.totals++
	r.entries = entries
	r.bytes = bytes
}

func (r *recordingReporter) BytesExtracted(e *unzip.Entry, n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.written[e.Name] += n
}

func (r *recordingReporter) EntryFinished(o unzip.Outcome) {
	r.mu.Lock()
	r.finished = append(r.finished, o)
	r.mu.Unlock()
	if r.onFinished != nil {
		r.onFinished(o)
	}
}

func (r *recordingReporter) EntrySkipped(e *unzip.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped = append(r.skipped, e.Name)
}

func (r *recordingReporter) RunFinished(res *unzip.RunResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs++
	r.result = res
}

func (r *recordingReporter) totalWritten() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, v := range r.written {
		n += v
	}
	return n
}
