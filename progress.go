// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package unzip

// ProgressReporter receives progress notifications during [Archive.Extract].
//
// TotalsKnown is called once before any entry is processed, RunFinished once
// after all entries finished. For a single entry BytesExtracted and
// EntryFinished are never called concurrently, but calls for different
// entries may happen concurrently. Implementations synchronize their own state.
type ProgressReporter interface {
	// TotalsKnown reports the number of scheduled entries and the sum of
	// their uncompressed sizes.
	TotalsKnown(entries int, bytes int64)

	// BytesExtracted reports n newly written bytes of e.
	BytesExtracted(e *Entry, n int64)

	// EntryFinished reports the outcome of a scheduled entry.
	EntryFinished(o Outcome)

	// RunFinished reports the result of the run.
	RunFinished(r *RunResult)
}

// SkipReporter can optionally be implemented by a [ProgressReporter] to be
// notified about entries that were rejected by the filter or superseded by a
// later entry with the same path.
type SkipReporter interface {
	EntrySkipped(e *Entry)
}

// NoopProgressReporter discards all notifications.
type NoopProgressReporter struct{}

func (NoopProgressReporter) TotalsKnown(int, int64)       {}
func (NoopProgressReporter) BytesExtracted(*Entry, int64) {}
func (NoopProgressReporter) EntryFinished(Outcome)        {}
func (NoopProgressReporter) RunFinished(*RunResult)       {}

// progressWriter reports the bytes written through it for one entry.
type progressWriter struct {
	entry    *Entry
	reporter ProgressReporter
}

func (p *progressWriter) Write(b []byte) (int, error) {
	if len(b) > 0 {
		p.reporter.BytesExtracted(p.entry, int64(len(b)))
	}
	return len(b), nil
}
