// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-unzip"
	"github.com/schollz/progressbar/v3"
)

// barReporter renders extraction progress as a byte based progress bar.
type barReporter struct {
	bar      *progressbar.ProgressBar
	w        io.Writer
	name     string
	entries  int
	finished atomic.Int64
}

func newBarReporter(w io.Writer, name string) *barReporter {
	return &barReporter{w: w, name: name}
}

func (r *barReporter) TotalsKnown(entries int, bytes int64) {
	r.entries = entries
	r.bar = progressbar.NewOptions64(bytes,
		progressbar.OptionSetWriter(r.w),
		progressbar.OptionSetDescription(r.description(0)),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100 * time.Millisecond),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(r.w) }),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer: "█", SaucerHead: "█", SaucerPadding: "░",
			BarStart: "[", BarEnd: "]",
		}),
	)
}

func (r *barReporter) BytesExtracted(_ *unzip.Entry, n int64) {
	if r.bar != nil {
		_ = r.bar.Add64(n)
	}
}

func (r *barReporter) EntryFinished(unzip.Outcome) {
	done := r.finished.Add(1)
	if r.bar != nil {
		r.bar.Describe(r.description(done))
	}
}

func (r *barReporter) RunFinished(res *unzip.RunResult) {
	if r.bar != nil {
		_ = r.bar.Finish()
	}
}

func (r *barReporter) description(done int64) string {
	return fmt.Sprintf("%s (%d/%d)", r.name, done, r.entries)
}
