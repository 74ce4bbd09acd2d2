// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package unzip

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/sourcegraph/conc/pool"
)

// maxSymlinkTarget is the longest accepted symlink target.
const maxSymlinkTarget = 4096

// Extract extracts the entries accepted by the configured filter to dst.
//
// Directory entries are created first. Files are extracted concurrently by
// a bounded worker pool, every worker reading its entry through independent
// range reads of the source. Symlinks are created once all files are
// written. The returned error is [RunResult.Err].
func (a *Archive) Extract(ctx context.Context, dst string) (*RunResult, error) {
	cfg := a.cfg
	start := now()
	res := &RunResult{}

	// prepare telemetry data collection and emit
	td := &TelemetryData{InputSize: a.src.Size(), Entries: int64(len(a.dir.entries))}
	fetchesBefore, bytesBefore := a.src.fetches.Load(), a.src.bytes.Load()
	defer func() {
		res.Duration = now().Sub(start)
		fillTelemetry(td, res)
		td.Fetches = a.src.fetches.Load() - fetchesBefore
		td.FetchedBytes = a.src.bytes.Load() - bytesBefore
		captureExtractionDuration(td, start)
		cfg.TelemetryHook()(ctx, td)
	}()

	reporter := cfg.ProgressReporter()
	abort := func(err error) (*RunResult, error) {
		cfg.Logger().Error("extraction aborted", "error", err)
		res.Cause = err
		res.finish(true)
		reporter.RunFinished(res)
		return res, res.Err()
	}

	t := cfg.Target()
	if err := ensureDestination(t, dst, cfg); err != nil {
		return abort(ioError("prepare destination", dst, err))
	}

	p := buildPlan(a.dir.entries, cfg.Filter())
	if err := cfg.CheckMaxFiles(int64(len(p.dirs) + len(p.files) + len(p.links))); err != nil {
		return abort(formatError("plan", "", err))
	}
	if err := cfg.CheckExtractionSize(p.totalBytes); err != nil {
		return abort(formatError("plan", "", err))
	}

	reporter.TotalsKnown(p.scheduled(), p.totalBytes)
	skipper, _ := reporter.(SkipReporter)
	for _, e := range p.filtered {
		td.PatternMismatches++
		res.add(Outcome{Entry: e, Kind: OutcomeSkipped, Path: e.Name})
		if skipper != nil {
			skipper.EntrySkipped(e)
		}
		cfg.Logger().Debug("skipped entry", "name", e.Name, "reason", "filter")
	}
	for _, e := range p.superseded {
		td.DuplicateEntries++
		res.add(Outcome{Entry: e, Kind: OutcomeSkipped, Path: e.Name})
		if skipper != nil {
			skipper.EntrySkipped(e)
		}
		cfg.Logger().Debug("skipped entry", "name", e.Name, "reason", "duplicate path")
	}

	failFast := cfg.FailurePolicy() == FailFast
	stopped := false
	finish := func(o Outcome) {
		if o.Kind == OutcomeFailed {
			cfg.Logger().Error("entry failed", "name", o.Entry.Name, "error", o.Err)
		}
		reporter.EntryFinished(o)
	}

	for _, o := range p.rejected {
		res.add(o)
		finish(o)
		stopped = stopped || failFast
	}

	// directories first, so file tasks never race on their creation
	x := &extraction{archive: a, dst: dst, budget: &sizeBudget{max: cfg.MaxExtractionSize()}}
	var createdDirs []task
	for _, d := range p.dirs {
		var o Outcome
		if stopped || ctx.Err() != nil {
			o = canceledOutcome(d, ctx.Err())
		} else {
			o = x.extractDir(d)
			if o.Kind == OutcomeSucceeded {
				createdDirs = append(createdDirs, d)
			}
			stopped = o.Kind == OutcomeFailed && failFast
		}
		res.add(o)
		finish(o)
	}

	outcomes := make([]Outcome, len(p.files))
	if stopped {
		for i, ft := range p.files {
			outcomes[i] = canceledOutcome(ft, nil)
			finish(outcomes[i])
		}
	} else {
		wp := pool.New().WithMaxGoroutines(cfg.Concurrency()).WithContext(ctx)
		if failFast {
			wp = wp.WithCancelOnError()
		}
		for i, ft := range p.files {
			wp.Go(func(ctx context.Context) error {
				var o Outcome
				if err := ctx.Err(); err != nil {
					o = canceledOutcome(ft, err)
				} else {
					o = x.extractEntry(ctx, ft)
				}
				outcomes[i] = o
				finish(o)
				if o.Kind == OutcomeFailed && failFast {
					return o.Err
				}
				return nil
			})
		}
		_ = wp.Wait()
	}

	for _, o := range outcomes {
		res.add(o)
		stopped = stopped || (o.Kind == OutcomeFailed && failFast)
	}

	// symlinks last, files are never written through a link of the same archive
	for _, lt := range p.links {
		var o Outcome
		if stopped || ctx.Err() != nil {
			o = canceledOutcome(lt, ctx.Err())
		} else {
			o = x.extractEntry(ctx, lt)
			stopped = o.Kind == OutcomeFailed && failFast
		}
		res.add(o)
		finish(o)
	}

	// directory attributes are applied last, files written into them would
	// change the modification time
	if !cfg.DropFileAttributes() {
		for _, d := range createdDirs {
			x.applyAttributes(d)
		}
	}

	aborted := res.Canceled > 0 || (failFast && len(res.Failures) > 0)
	if aborted && ctx.Err() != nil {
		res.Cause = newError(KindCanceled, "extract", "", ctx.Err())
	}
	res.finish(aborted)
	cfg.Logger().Info("extraction finished", "status", res.Status, "files", res.Files, "dirs", res.Dirs, "failed", len(res.Failures))
	reporter.RunFinished(res)
	return res, res.Err()
}

// canceledOutcome returns the outcome of a task that was never started.
func canceledOutcome(t task, err error) Outcome {
	if err == nil {
		err = context.Canceled
	}
	return Outcome{
		Entry: t.entry,
		Kind:  OutcomeCanceled,
		Path:  t.path,
		Err:   newError(KindCanceled, "extract", t.entry.Name, err),
	}
}

// fillTelemetry copies the counters of res into td.
func fillTelemetry(td *TelemetryData, res *RunResult) {
	td.ExtractedFiles = int64(res.Files)
	td.ExtractedDirs = int64(res.Dirs)
	td.ExtractedSymlinks = int64(res.Symlinks)
	td.ExtractionSize = res.BytesWritten
	td.ExtractionErrors = int64(len(res.Failures))
	for _, f := range res.Failures {
		if errors.Is(f.Err, ErrUnsupportedFile) {
			td.UnsupportedFiles++
			td.LastUnsupportedFile = f.Entry.Name
		}
	}
	if res.Cause != nil {
		td.ExtractionErrors++
		td.LastExtractionError = res.Cause
	} else if len(res.Failures) > 0 {
		td.LastExtractionError = res.Failures[len(res.Failures)-1].Err
	}
}

// extraction holds the state shared by the workers of one run.
type extraction struct {
	archive *Archive
	dst     string
	budget  *sizeBudget
}

func (x *extraction) extractDir(t task) Outcome {
	cfg := x.archive.cfg
	mode := cfg.CustomCreateDirMode()
	if err := createDir(cfg.Target(), x.dst, t.path, mode, cfg); err != nil {
		return failedOutcome(t, classify(err, "create directory", t.entry.Name))
	}
	return Outcome{Entry: t.entry, Kind: OutcomeSucceeded, Path: t.path}
}

// extractEntry runs the pipeline for a file or symlink entry.
func (x *extraction) extractEntry(ctx context.Context, t task) Outcome {
	cfg := x.archive.cfg
	e := t.entry

	if t.kind == taskSymlink && cfg.DenySymlinkExtraction() {
		return failedOutcome(t, formatError("create symlink", e.Name, fmt.Errorf("%w: symlink %s", ErrUnsupportedFile, e.Name)))
	}

	rc, err := openEntryData(ctx, x.archive.src, e)
	if err != nil {
		return failedOutcome(t, classify(err, "open entry", e.Name))
	}
	defer rc.Close()

	compressed := &contextReader{ctx: ctx, r: rc}
	plain, err := newDecryptor(e, compressed, cfg.Password())
	if err != nil {
		return failedOutcome(t, classify(formatReadError(err), "decrypt", e.Name))
	}
	dec, err := newDecompressor(e, plain)
	if err != nil {
		return failedOutcome(t, classify(formatReadError(err), "decompress", e.Name))
	}
	defer dec.Close()

	limit := e.UncompressedSize
	if e.SizeDeferred() {
		limit = -1
	}
	crc := crc32.NewIEEE()
	data := io.TeeReader(
		&formatErrorReader{r: newLimitErrorReader(dec, limit)},
		io.MultiWriter(crc, &progressWriter{entry: e, reporter: cfg.ProgressReporter()}),
	)

	var n int64
	switch t.kind {
	case taskSymlink:
		var target bytes.Buffer
		if n, err = io.Copy(&target, io.LimitReader(data, maxSymlinkTarget+1)); err == nil && n > maxSymlinkTarget {
			err = formatError("read symlink", e.Name, fmt.Errorf("%w: symlink target too long", ErrFormat))
		}
		if err == nil {
			err = x.budget.charge(n)
		}
		if err == nil {
			err = x.verify(e, plain, crc.Sum32(), n)
		}
		if err != nil {
			return failedOutcome(t, classify(err, "read symlink", e.Name))
		}
		if err := createSymlink(cfg.Target(), x.dst, t.path, target.String(), cfg); err != nil {
			return failedOutcome(t, classify(err, "create symlink", e.Name))
		}
		n = 0
	default:
		mode := cfg.CustomDecompressFileMode()
		if !cfg.DropFileAttributes() && e.Mode().Perm() != 0 {
			mode = e.Mode().Perm()
		}
		// the target stops writing once the budget left for the run is used up
		n, err = createFile(cfg.Target(), x.dst, t.path, data, mode, x.budget.remaining(), cfg)
		if cerr := x.budget.charge(n); err == nil {
			err = cerr
		}
		if err != nil {
			return failedOutcome(t, classify(err, "write file", e.Name))
		}
		if err := x.verify(e, plain, crc.Sum32(), n); err != nil {
			return failedOutcome(t, classify(err, "verify", e.Name))
		}
		if !cfg.DropFileAttributes() {
			x.applyAttributes(t)
		}
	}

	return Outcome{Entry: e, Kind: OutcomeSucceeded, Path: t.path, BytesWritten: n}
}

// verify drains the remaining compressed data, which completes the
// authentication of encrypted entries, and checks size and checksum.
func (x *extraction) verify(e *Entry, plain io.Reader, sum uint32, n int64) error {
	if _, err := io.Copy(io.Discard, plain); err != nil {
		return formatReadError(err)
	}
	if !e.SizeDeferred() && n != e.UncompressedSize {
		return formatError("verify", e.Name, fmt.Errorf("%w: got %d bytes, want %d", ErrSizeMismatch, n, e.UncompressedSize))
	}
	if e.checksumVerifiable() && sum != e.CRC32 {
		return formatError("verify", e.Name, fmt.Errorf("%w: got %08x, want %08x", ErrChecksum, sum, e.CRC32))
	}
	return nil
}

// applyAttributes restores mode and modification time. Failures are logged
// and do not fail the entry.
func (x *extraction) applyAttributes(t task) {
	cfg := x.archive.cfg
	path := joinPath(x.dst, t.path)
	if perm := t.entry.Mode().Perm(); perm != 0 {
		if err := cfg.Target().Chmod(path, perm); err != nil {
			cfg.Logger().Warn("cannot set file mode", "path", t.path, "error", err)
		}
	}
	if !t.entry.Modified.IsZero() {
		if err := cfg.Target().Chtimes(path, t.entry.Modified, t.entry.Modified); err != nil {
			cfg.Logger().Warn("cannot set modification time", "path", t.path, "error", err)
		}
	}
}

func failedOutcome(t task, err error) Outcome {
	kind := OutcomeFailed
	if IsCanceled(err) {
		kind = OutcomeCanceled
	}
	return Outcome{Entry: t.entry, Kind: kind, Path: t.path, Err: err}
}

// classify wraps err into an [*Error]. Errors without a kind are treated as
// local I/O failures, except for path, file type and limit violations.
func classify(err error, op, name string) error {
	var e *Error
	if errors.As(err, &e) && e.Kind != 0 {
		if e.Path == "" {
			return &Error{Kind: e.Kind, Op: op, Path: name, Err: err}
		}
		return err
	}
	if errors.Is(err, ErrInsecurePath) || errors.Is(err, ErrUnsupportedFile) || errors.Is(err, ErrMaxExtractionSizeExceeded) {
		return formatError(op, name, err)
	}
	return newError(KindIO, op, name, err)
}

// formatReadError marks errors of the decryption and decompression layers
// as format errors, unless they already carry a kind.
func formatReadError(err error) error {
	if err == nil || err == io.EOF || KindOf(err) != 0 {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newError(KindCanceled, "read", "", err)
	}
	return formatError("read", "", err)
}

// formatErrorReader applies formatReadError to the errors of r.
type formatErrorReader struct {
	r io.Reader
}

func (f *formatErrorReader) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	return n, formatReadError(err)
}

// contextReader checks for cancellation before every read.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, newError(KindCanceled, "read", "", err)
	}
	return c.r.Read(p)
}
