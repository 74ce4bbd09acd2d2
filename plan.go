// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package unzip

import (
	"io/fs"
	"sort"
)

type taskKind int

const (
	taskFile taskKind = iota
	taskDir
	taskSymlink
)

// task is the unit of work for a single entry.
type task struct {
	entry *Entry
	path  string
	kind  taskKind
}

// plan is the work list derived from the central directory.
type plan struct {
	// dirs are created before any file task is scheduled, parents first
	dirs []task

	// files holds file tasks in local header offset order
	files []task

	// links are created after all files were written
	links []task

	// rejected are the outcomes of entries that failed before scheduling
	rejected []Outcome

	// filtered are entries rejected by the filter
	filtered []*Entry

	// superseded are entries replaced by a later entry with the same path
	superseded []*Entry

	totalBytes int64
}

// scheduled returns the number of entries that yield an outcome.
func (p *plan) scheduled() int {
	return len(p.dirs) + len(p.files) + len(p.links) + len(p.rejected)
}

// buildPlan filters the entries, sanitizes their names and removes
// duplicate destination paths. For duplicates the last entry in the
// central directory wins.
func buildPlan(entries []*Entry, filter Filter) *plan {
	p := &plan{}
	byPath := make(map[string]int)
	var tasks []task

	for _, e := range entries {
		if !filter.Match(e.Name) {
			p.filtered = append(p.filtered, e)
			continue
		}

		name, err := sanitizeName(e.Name)
		if err != nil {
			p.rejected = append(p.rejected, Outcome{
				Entry: e,
				Kind:  OutcomeFailed,
				Path:  e.Name,
				Err:   formatError("sanitize", e.Name, err),
			})
			continue
		}
		if name == "." {
			p.filtered = append(p.filtered, e)
			continue
		}

		t := task{entry: e, path: name}
		switch {
		case e.IsDir():
			t.kind = taskDir
		case e.IsSymlink():
			t.kind = taskSymlink
		case e.Mode().Type()&(fs.ModeDevice|fs.ModeNamedPipe|fs.ModeSocket|fs.ModeIrregular) != 0:
			p.rejected = append(p.rejected, Outcome{
				Entry: e,
				Kind:  OutcomeFailed,
				Path:  name,
				Err:   formatError("plan", e.Name, ErrUnsupportedFile),
			})
			continue
		default:
			t.kind = taskFile
		}

		if i, ok := byPath[name]; ok {
			p.superseded = append(p.superseded, tasks[i].entry)
			tasks[i] = t
			continue
		}
		byPath[name] = len(tasks)
		tasks = append(tasks, t)
	}

	for _, t := range tasks {
		switch t.kind {
		case taskDir:
			p.dirs = append(p.dirs, t)
		case taskSymlink:
			p.links = append(p.links, t)
		default:
			p.files = append(p.files, t)
			p.totalBytes += t.entry.UncompressedSize
		}
	}

	sort.SliceStable(p.dirs, func(i, j int) bool { return p.dirs[i].path < p.dirs[j].path })
	sort.SliceStable(p.links, func(i, j int) bool { return p.links[i].path < p.links[j].path })
	sort.SliceStable(p.files, func(i, j int) bool {
		return p.files[i].entry.LocalHeaderOffset < p.files[j].entry.LocalHeaderOffset
	})
	return p
}
