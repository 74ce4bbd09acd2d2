// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package unzip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func planEntry(name string, mode uint32, offset, size int64) *Entry {
	return &Entry{
		Name:              name,
		CreatorVersion:    creatorUnix<<8 | 20,
		ExternalAttrs:     mode << 16,
		LocalHeaderOffset: offset,
		UncompressedSize:  size,
	}
}

func taskPaths(tasks []task) []string {
	paths := make([]string, 0, len(tasks))
	for _, t := range tasks {
		paths = append(paths, t.path)
	}
	return paths
}

func TestBuildPlan(t *testing.T) {
	entries := []*Entry{
		planEntry("z.txt", sIFREG|0644, 300, 3),
		planEntry("b/", sIFDIR|0755, 0, 0),
		planEntry("a/", sIFDIR|0755, 10, 0),
		planEntry("a/x.txt", sIFREG|0644, 100, 10),
		planEntry("link", sIFLNK|0777, 200, 5),
		planEntry("./", sIFDIR|0755, 20, 0),
		planEntry("../evil", sIFREG|0644, 400, 1),
		planEntry("dev", sIFCHR|0600, 500, 0),
		planEntry("skip.log", sIFREG|0644, 600, 7),
	}

	p := buildPlan(entries, Not(SuffixFilter(".log")))

	assert.Equal(t, []string{"a", "b"}, taskPaths(p.dirs))
	assert.Equal(t, []string{"a/x.txt", "z.txt"}, taskPaths(p.files))
	assert.Equal(t, []string{"link"}, taskPaths(p.links))
	assert.Equal(t, int64(13), p.totalBytes)

	require.Len(t, p.rejected, 2)
	assert.Equal(t, "../evil", p.rejected[0].Path)
	assert.ErrorIs(t, p.rejected[0].Err, ErrInsecurePath)
	assert.True(t, IsFormat(p.rejected[0].Err))
	assert.Equal(t, "dev", p.rejected[1].Path)
	assert.ErrorIs(t, p.rejected[1].Err, ErrUnsupportedFile)
	for _, o := range p.rejected {
		assert.Equal(t, OutcomeFailed, o.Kind)
	}

	require.Len(t, p.filtered, 2)
	assert.Equal(t, "./", p.filtered[0].Name)
	assert.Equal(t, "skip.log", p.filtered[1].Name)

	assert.Empty(t, p.superseded)
	assert.Equal(t, 7, p.scheduled())
}

func TestBuildPlanDuplicates(t *testing.T) {
	first := planEntry("a.txt", sIFREG|0644, 0, 1)
	second := planEntry("./a.txt", sIFREG|0644, 50, 2)
	asDir := planEntry("d/", sIFDIR|0755, 100, 0)
	asFile := planEntry("d", sIFREG|0644, 150, 4)

	p := buildPlan([]*Entry{first, second, asDir, asFile}, MatchAll)

	// the last entry for a path wins, also across entry types
	require.Len(t, p.files, 2)
	assert.Same(t, second, p.files[0].entry)
	assert.Same(t, asFile, p.files[1].entry)
	assert.Empty(t, p.dirs)
	assert.Equal(t, []*Entry{first, asDir}, p.superseded)
	assert.Equal(t, int64(6), p.totalBytes)
}

func TestBuildPlanEmpty(t *testing.T) {
	p := buildPlan(nil, MatchAll)
	assert.Equal(t, 0, p.scheduled())
	assert.Zero(t, p.totalBytes)
}
