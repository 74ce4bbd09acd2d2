// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-unzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestZip(t *testing.T, files map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "test.zip")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0600))
	return path
}

func extractCmd(archive, dst string) *ExtractCmd {
	return &ExtractCmd{
		Archive:           archive,
		Destination:       dst,
		MaxFiles:          -1,
		MaxExtractionSize: -1,
		MaxInputSize:      -1,
	}
}

func TestExtractCmd(t *testing.T) {
	archive := writeTestZip(t, map[string]string{
		"a.txt":     "hello",
		"dir/b.txt": "world",
	})
	dst := filepath.Join(t.TempDir(), "out")

	cmd := extractCmd(archive, dst)
	cmd.CreateDestination = true
	require.NoError(t, cmd.Run(&Globals{Concurrency: 2}))

	got, err := os.ReadFile(filepath.Join(dst, "dir", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "world", string(got))
}

func TestExtractCmdPartial(t *testing.T) {
	archive := writeTestZip(t, map[string]string{
		"a.txt":   "hello",
		"../evil": "escape",
	})

	err := extractCmd(archive, t.TempDir()).Run(&Globals{})
	var ee *exitError
	require.True(t, errors.As(err, &ee), "unexpected error: %v", err)
	assert.Equal(t, ExitPartial, ee.code)
}

func TestExtractCmdAborted(t *testing.T) {
	err := extractCmd(filepath.Join(t.TempDir(), "missing.zip"), t.TempDir()).Run(&Globals{})
	var ee *exitError
	require.True(t, errors.As(err, &ee), "unexpected error: %v", err)
	assert.Equal(t, ExitAborted, ee.code)

	// a missing destination aborts before any entry is written
	archive := writeTestZip(t, map[string]string{"a.txt": "hello"})
	err = extractCmd(archive, filepath.Join(t.TempDir(), "missing")).Run(&Globals{})
	require.True(t, errors.As(err, &ee), "unexpected error: %v", err)
	assert.Equal(t, ExitAborted, ee.code)
}

func TestGlobalsOptions(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	g := &Globals{
		Include:  []string{"*.go"},
		Exclude:  []string{"vendor/"},
		Password: "secret",
	}
	opts, err := g.options(logger)
	require.NoError(t, err)

	cfg := unzip.NewConfig(opts...)
	assert.Equal(t, []byte("secret"), cfg.Password())
	f := cfg.Filter()
	assert.True(t, f.Match("main.go"))
	assert.True(t, f.Match("pkg/x.go"))
	assert.False(t, f.Match("vendor/x.go"))
	assert.False(t, f.Match("README.md"))

	// exclude only keeps everything else
	g = &Globals{Exclude: []string{"*.log"}}
	opts, err = g.options(logger)
	require.NoError(t, err)
	f = unzip.NewConfig(opts...).Filter()
	assert.True(t, f.Match("a.txt"))
	assert.False(t, f.Match("a.log"))

	// no patterns, no filter
	opts, err = (&Globals{}).options(logger)
	require.NoError(t, err)
	assert.True(t, unzip.NewConfig(opts...).Filter().Match("anything"))
}

func TestPrintEntries(t *testing.T) {
	entries := []*unzip.Entry{
		{Name: "a.txt", Method: unzip.Deflate, UncompressedSize: 100, CompressedSize: 40, CRC32: 0xdeadbeef, Modified: time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)},
		{Name: "dir/", Method: unzip.Store},
	}

	var buf bytes.Buffer
	require.NoError(t, printEntries(&buf, entries))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "Name")
	assert.Contains(t, lines[1], "deadbeef")
	assert.Contains(t, lines[1], "2020-01-02 03:04")
	assert.Contains(t, lines[1], "a.txt")
	assert.Contains(t, lines[2], "dir/")
	assert.Contains(t, lines[3], "2 files")
}

func TestOpenSourceLocal(t *testing.T) {
	archive := writeTestZip(t, map[string]string{"a.txt": "hello"})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	g := &Globals{}
	src, closer, err := g.openSource(context.Background(), archive, logger)
	require.NoError(t, err)
	defer closer.Close()

	a, err := unzip.Open(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, a.List(), 1)
	assert.Equal(t, "a.txt", a.List()[0].Name)

	_, _, err = g.openSource(context.Background(), filepath.Join(t.TempDir(), "missing.zip"), logger)
	assert.Error(t, err)
}

func TestOpenSourceRemote(t *testing.T) {
	data, err := os.ReadFile(writeTestZip(t, map[string]string{"a.txt": "hello"}))
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "archive.zip", time.Time{}, bytes.NewReader(data))
	}))
	defer srv.Close()

	g := &Globals{ReadTimeout: time.Second}
	src, closer, err := g.openSource(context.Background(), srv.URL+"/archive.zip", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer closer.Close()
	assert.Equal(t, int64(len(data)), src.Size())

	a, err := unzip.Open(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, a.List(), 1)
	assert.Equal(t, "a.txt", a.List()[0].Name)
}

func TestBarReporter(t *testing.T) {
	var buf bytes.Buffer
	r := newBarReporter(&buf, "test.zip")
	var _ unzip.ProgressReporter = r

	r.TotalsKnown(2, 10)
	r.BytesExtracted(nil, 4)
	r.EntryFinished(unzip.Outcome{})
	r.BytesExtracted(nil, 6)
	r.EntryFinished(unzip.Outcome{})
	r.RunFinished(&unzip.RunResult{})

	assert.Equal(t, int64(2), r.finished.Load())
	assert.Equal(t, "test.zip (2/2)", r.description(r.finished.Load()))
}
