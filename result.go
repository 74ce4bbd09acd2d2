// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package unzip

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// OutcomeKind tells how the processing of an entry ended.
type OutcomeKind int

const (
	// OutcomeSucceeded means the entry was written and verified.
	OutcomeSucceeded OutcomeKind = iota

	// OutcomeSkipped means the entry was not extracted on purpose.
	OutcomeSkipped

	// OutcomeFailed means the entry could not be extracted; Err holds the cause.
	OutcomeFailed

	// OutcomeCanceled means the entry was not processed because the run was
	// canceled or stopped after a failure.
	OutcomeCanceled
)

// String returns the name of the kind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	case OutcomeCanceled:
		return "canceled"
	}
	return "unknown"
}

// Outcome is the result of processing a single entry.
type Outcome struct {
	Entry *Entry
	Kind  OutcomeKind

	// Path is the destination path relative to the destination directory.
	Path string

	// BytesWritten is the number of bytes written to the destination.
	BytesWritten int64

	// Err is an [*Error] for failed entries.
	Err error
}

// Status is the overall status of a run.
type Status int

const (
	// StatusSucceeded means every scheduled entry succeeded.
	StatusSucceeded Status = iota

	// StatusPartial means the run completed but at least one entry failed.
	StatusPartial

	// StatusAborted means the run stopped before all entries were processed,
	// either because directory discovery failed, the run was canceled or a
	// failure occurred with [FailFast].
	StatusAborted
)

// String returns the name of the status.
func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusPartial:
		return "partially succeeded"
	case StatusAborted:
		return "aborted"
	}
	return "unknown"
}

// RunResult aggregates the outcomes of an extraction run.
type RunResult struct {
	Status Status

	// Outcomes holds one outcome per processed entry, ordered by entry path.
	Outcomes []Outcome

	// Failures holds the failed outcomes.
	Failures []Outcome

	Files        int
	Dirs         int
	Symlinks     int
	Skipped      int
	Canceled     int
	BytesWritten int64
	Duration     time.Duration

	// Cause is set if the run was aborted before entries were scheduled.
	Cause error
}

// Succeeded reports whether every scheduled entry succeeded.
func (r *RunResult) Succeeded() bool {
	return r.Status == StatusSucceeded
}

// Err returns nil for a successful run, otherwise the joined failures.
func (r *RunResult) Err() error {
	if r.Status == StatusSucceeded {
		return nil
	}
	errs := make([]error, 0, len(r.Failures)+1)
	if r.Cause != nil {
		errs = append(errs, r.Cause)
	}
	for _, f := range r.Failures {
		errs = append(errs, f.Err)
	}
	if len(errs) == 0 {
		return fmt.Errorf("extraction %s", r.Status)
	}
	return errors.Join(errs...)
}

// String summarizes the result.
func (r *RunResult) String() string {
	return fmt.Sprintf("%s: %d files, %d directories, %d symlinks, %d skipped, %d failed, %d canceled, %d bytes",
		r.Status, r.Files, r.Dirs, r.Symlinks, r.Skipped, len(r.Failures), r.Canceled, r.BytesWritten)
}

// add records o in the result.
func (r *RunResult) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Kind {
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failures = append(r.Failures, o)
	case OutcomeCanceled:
		r.Canceled++
	case OutcomeSucceeded:
		r.BytesWritten += o.BytesWritten
		switch {
		case o.Entry.IsDir():
			r.Dirs++
		case o.Entry.IsSymlink():
			r.Symlinks++
		default:
			r.Files++
		}
	}
}

// finish sorts the outcomes and derives the status.
func (r *RunResult) finish(aborted bool) {
	sort.SliceStable(r.Outcomes, func(i, j int) bool { return r.Outcomes[i].Path < r.Outcomes[j].Path })
	sort.SliceStable(r.Failures, func(i, j int) bool { return r.Failures[i].Path < r.Failures[j].Path })
	switch {
	case aborted:
		r.Status = StatusAborted
	case len(r.Failures) > 0:
		r.Status = StatusPartial
	default:
		r.Status = StatusSucceeded
	}
}
