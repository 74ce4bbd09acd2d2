// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package unzip

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/afero"
)

// TargetFs is a [Target] backed by an [afero.Fs].
type TargetFs struct {
	fs afero.Fs
}

// NewTargetFs creates a [TargetFs] writing to fsys.
func NewTargetFs(fsys afero.Fs) *TargetFs {
	return &TargetFs{fs: fsys}
}

// NewTargetDisk creates a [TargetFs] writing to the operating system filesystem.
func NewTargetDisk() *TargetFs {
	return NewTargetFs(afero.NewOsFs())
}

// NewTargetMemory creates a [TargetFs] writing to an in-memory filesystem.
// Symlinks are not supported by the in-memory filesystem.
func NewTargetMemory() *TargetFs {
	return NewTargetFs(afero.NewMemMapFs())
}

// Fs returns the underlying filesystem.
func (d *TargetFs) Fs() afero.Fs {
	return d.fs
}

// CreateDir creates a directory at the specified path with the specified mode. If the directory
// already exists, nothing is done.
func (d *TargetFs) CreateDir(path string, mode fs.FileMode) error {
	if err := d.fs.MkdirAll(path, mode.Perm()); err != nil {
		return fmt.Errorf("failed to create directory (%w)", err)
	}
	return nil
}

// CreateFile creates a file at the specified path with src as content.
// If the file already exists and overwrite is false, an error is returned. The written
// content is limited to maxSize bytes, if maxSize >= 0.
func (d *TargetFs) CreateFile(path string, src io.Reader, mode fs.FileMode, overwrite bool, maxSize int64) (int64, error) {
	// Check for path validity and if file existence+overwrite
	if stat, err := d.Lstat(path); !errors.Is(err, fs.ErrNotExist) {

		// something wrong with path
		if err != nil {
			return 0, fmt.Errorf("invalid path: %w", err)
		}

		// check for overwrite
		if !overwrite {
			return 0, fmt.Errorf("file already exists: %w", fs.ErrExist)
		}

		if stat.IsDir() {
			return 0, fmt.Errorf("cannot overwrite directory with file")
		}
	}

	// create dst file
	dstFile, err := d.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}

	// write data to file
	n, err := io.Copy(limitWriter(dstFile, maxSize), src)
	if cerr := dstFile.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("failed to write file: %w", err)
	}

	return n, nil
}

// CreateSymlink creates a symbolic link from newname to oldname. If
// newname already exists and overwrite is false, an error is returned.
func (d *TargetFs) CreateSymlink(oldname string, newname string, overwrite bool) error {
	linker, ok := d.fs.(afero.Linker)
	if !ok {
		return fmt.Errorf("%w: filesystem %s does not support symlinks", ErrUnsupportedFile, d.fs.Name())
	}

	// Check for file existence and if it should be overwritten
	if _, err := d.Lstat(newname); !errors.Is(err, fs.ErrNotExist) {
		if !overwrite {
			return fmt.Errorf("file already exists: %w", fs.ErrExist)
		}

		// delete existing link
		if err := d.fs.Remove(newname); err != nil {
			return fmt.Errorf("failed to overwrite file: %w", err)
		}
	}

	// create link
	if err := linker.SymlinkIfPossible(oldname, newname); err != nil {
		return fmt.Errorf("failed to create symlink: %w", err)
	}

	return nil
}

// Lstat returns the FileInfo structure describing the named file without
// following symlinks, if the filesystem supports it.
func (d *TargetFs) Lstat(name string) (fs.FileInfo, error) {
	if l, ok := d.fs.(afero.Lstater); ok {
		fi, _, err := l.LstatIfPossible(name)
		return fi, err
	}
	return d.fs.Stat(name)
}

// Stat returns the FileInfo structure describing the named file.
func (d *TargetFs) Stat(name string) (fs.FileInfo, error) {
	return d.fs.Stat(name)
}

// Chmod changes the mode of the named file to mode.
func (d *TargetFs) Chmod(name string, mode fs.FileMode) error {
	return d.fs.Chmod(name, mode.Perm())
}

// Chtimes changes the access and modification times of the named file.
func (d *TargetFs) Chtimes(name string, atime, mtime time.Time) error {
	return d.fs.Chtimes(name, atime, mtime)
}
