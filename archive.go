// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package unzip

import (
	"context"
)

// Archive is an opened zip archive. The entries are read once by [Open] and
// shared read-only by all workers of an extraction.
type Archive struct {
	src *countingSource
	cfg *Config
	dir *directory
}

// Open reads the central directory of the archive provided by src.
// Directory discovery reads the tail of the archive, an optional zip64 end
// record and the central directory, nothing else.
func Open(ctx context.Context, src Source, opts ...ConfigOption) (*Archive, error) {
	cfg := NewConfig(opts...)

	if err := cfg.CheckInputSize(src.Size()); err != nil {
		return nil, formatError("open", "", err)
	}

	cs := &countingSource{Source: src}
	dir, err := readDirectory(ctx, cs)
	if err != nil {
		cfg.Logger().Error("cannot read central directory", "error", err)
		return nil, err
	}

	cfg.Logger().Debug("read central directory",
		"entries", len(dir.entries),
		"cd_offset", dir.cdOffset,
		"cd_size", dir.cdSize,
		"zip64", dir.zip64,
		"fetched_bytes", cs.bytes.Load(),
	)

	return &Archive{src: cs, cfg: cfg, dir: dir}, nil
}

// Config returns the configuration of the archive.
func (a *Archive) Config() *Config {
	return a.cfg
}

// Comment returns the archive comment.
func (a *Archive) Comment() string {
	return a.dir.comment
}

// Entries returns all entries in central directory order.
func (a *Archive) Entries() []*Entry {
	return a.dir.entries
}

// List returns the entries accepted by the configured filter in central
// directory order.
func (a *Archive) List() []*Entry {
	filter := a.cfg.Filter()
	var entries []*Entry
	for _, e := range a.dir.entries {
		if filter.Match(e.Name) {
			entries = append(entries, e)
		}
	}
	return entries
}

// Size returns the size of the archive.
func (a *Archive) Size() int64 {
	return a.src.Size()
}

// Unpack opens the archive provided by src and extracts it to dst. If the
// directory cannot be read, an aborted [RunResult] is returned together
// with the error.
func Unpack(ctx context.Context, src Source, dst string, opts ...ConfigOption) (*RunResult, error) {
	a, err := Open(ctx, src, opts...)
	if err != nil {
		cfg := NewConfig(opts...)
		res := &RunResult{Cause: err}
		res.finish(true)
		cfg.ProgressReporter().RunFinished(res)
		return res, err
	}
	return a.Extract(ctx, dst)
}
