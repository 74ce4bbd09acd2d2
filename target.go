// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package unzip

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Target specifies all function that are needed to be implemented to extract contents from an archive
type Target interface {
	// CreateFile creates a file at the specified path with src as content. The mode parameter is the file mode that
	// should be set on the file. If the file already exists and overwrite is false, an error should be returned.
	// The size of the file should not exceed maxSize. The number of written bytes is returned, also in case of an
	// error. If maxSize < 0, the file size is not limited.
	CreateFile(path string, src io.Reader, mode fs.FileMode, overwrite bool, maxSize int64) (int64, error)

	// CreateDir creates at the specified path with the specified mode including all parents. If the directory
	// already exists, nothing is done.
	CreateDir(path string, mode fs.FileMode) error

	// CreateSymlink creates a symbolic link from newname to oldname. If newname already exists and overwrite is false,
	// the function returns an error.
	CreateSymlink(oldname string, newname string, overwrite bool) error

	// Lstat see docs for os.Lstat. Main purpose is to check for symlinks in the extraction path
	// and for zip-slip attacks.
	Lstat(path string) (fs.FileInfo, error)

	// Stat see docs for os.Stat.
	Stat(path string) (fs.FileInfo, error)

	// Chmod see docs for os.Chmod. Main purpose is to set the file mode of a file or directory.
	Chmod(name string, mode fs.FileMode) error

	// Chtimes see docs for os.Chtimes. Main purpose is to set the file times of a file or directory.
	Chtimes(name string, atime, mtime time.Time) error
}

// createFile is a wrapper around the CreateFile function
//
// The parent directories of name are created with config.CustomCreateDirMode(). If the path
// contains path traversal or a symlink, the function returns an error wrapping [ErrInsecurePath],
// unless config.TraverseSymlinks() returns true.
func createFile(t Target, dst string, name string, src io.Reader, mode fs.FileMode, maxSize int64, cfg *Config) (int64, error) {
	// check if a name is provided
	if len(name) == 0 {
		return 0, fmt.Errorf("cannot create file without name")
	}

	// ensures that the directory exists and is safe to write to
	if err := createDir(t, dst, path2dir(name), cfg.CustomCreateDirMode(), cfg); err != nil {
		return 0, fmt.Errorf("cannot create directory: %w", err)
	}

	// ensure that if the file exist that it is not a symlink
	if err := securityCheck(t, dst, name, cfg); err != nil {
		return 0, err
	}
	return t.CreateFile(joinPath(dst, name), src, mode, cfg.Overwrite(), maxSize)
}

// createDir is a wrapper around the CreateDir function
//
// If the path contains path traversal or a symlink, the function returns an error.
func createDir(t Target, dst string, name string, mode fs.FileMode, cfg *Config) error {
	// no action needed
	if name == "." || name == "" {
		return nil
	}

	// perform security check to ensure that the path is safe to write to
	if err := securityCheck(t, dst, name, cfg); err != nil {
		return err
	}

	return t.CreateDir(joinPath(dst, name), mode)
}

// createSymlink is a wrapper around the CreateSymlink function
//
// It checks if the symlink extraction is allowed and if the link target stays within dst.
// If the symlink extraction is denied, the function returns [ErrUnsupportedFile].
func createSymlink(t Target, dst string, name string, linkTarget string, cfg *Config) error {
	// check if symlink extraction is denied
	if cfg.DenySymlinkExtraction() {
		return fmt.Errorf("%w: symlink %s", ErrUnsupportedFile, name)
	}

	// check if a name is provided
	if len(name) == 0 {
		return fmt.Errorf("empty name")
	}

	// Check if link target is absolute path
	if filepath.IsAbs(linkTarget) || strings.HasPrefix(linkTarget, "/") {
		return fmt.Errorf("%w: symlink with absolute path as target: %s", ErrInsecurePath, linkTarget)
	}

	// create link dir && check for traversal in file name
	linkDirectory := path2dir(name)
	if err := createDir(t, dst, linkDirectory, cfg.CustomCreateDirMode(), cfg); err != nil {
		return fmt.Errorf("cannot create directory (%s) for symlink: %w", linkDirectory, err)
	}

	// check link target for traversal
	if err := securityCheck(t, dst, filepath.ToSlash(filepath.Join(linkDirectory, linkTarget)), cfg); err != nil {
		return fmt.Errorf("symlink target: %w", err)
	}

	// check the link itself
	if err := securityCheck(t, dst, name, cfg); err != nil {
		return err
	}

	// create symlink
	return t.CreateSymlink(linkTarget, joinPath(dst, name), cfg.Overwrite())
}

// securityCheck checks if name contains path traversal and if any existing
// element of the path below dst is a symlink.
//
// If the path contains a symlink and config.TraverseSymlinks() returns true,
// a warning is logged and the function continues.
func securityCheck(t Target, dst string, name string, config *Config) error {
	name = strings.TrimSuffix(name, "/")

	// check if the relative path is local
	if !filepath.IsLocal(filepath.FromSlash(name)) {
		return fmt.Errorf("%w: path traversal detected: %s", ErrInsecurePath, name)
	}

	// check each dir in path
	elements := strings.Split(filepath.ToSlash(filepath.Clean(filepath.FromSlash(name))), "/")
	for i := range elements {

		// assemble path
		subDirs := strings.Join(elements[0:i+1], "/")
		if subDirs == "." {
			continue
		}

		// check for symlink
		isSymlink, err := isSymlink(t, joinPath(dst, subDirs))
		if err != nil {
			return fmt.Errorf("failed to check symlink: %w", err)
		}
		if isSymlink {
			if config.TraverseSymlinks() {
				config.Logger().Warn("traverse symlink", "sub-dir", subDirs)
			} else {
				return fmt.Errorf("%w: symlink in path: %s", ErrInsecurePath, subDirs)
			}
		}
	}

	return nil
}

// isSymlink checks if path is a symlink
func isSymlink(t Target, path string) (bool, error) {
	stat, err := t.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check path: %w", err)
	}
	return stat.Mode()&fs.ModeSymlink != 0, nil
}

// joinPath joins the slash separated name to dst using the os separator
func joinPath(dst string, name string) string {
	return filepath.Join(dst, filepath.FromSlash(name))
}

// path2dir returns the slash separated parent of name
func path2dir(name string) string {
	name = strings.TrimSuffix(name, "/")
	i := strings.LastIndex(name, "/")
	if i < 0 {
		return "."
	}
	return name[:i]
}

// ensureDestination checks that dst exists and creates it if configured.
func ensureDestination(t Target, dst string, cfg *Config) error {
	if len(dst) == 0 {
		dst = "."
	}
	stat, err := t.Lstat(dst)
	if errors.Is(err, fs.ErrNotExist) {
		if !cfg.CreateDestination() {
			return fmt.Errorf("destination does not exist: %s", dst)
		}
		if err := t.CreateDir(dst, cfg.CustomCreateDirMode()); err != nil {
			return fmt.Errorf("failed to create destination directory: %w", err)
		}
		cfg.Logger().Info("created destination directory", "path", dst)
		return nil
	}
	if err != nil {
		return fmt.Errorf("invalid destination: %w", err)
	}
	if !stat.IsDir() && stat.Mode()&os.ModeSymlink == 0 {
		return fmt.Errorf("destination is not a directory: %s", dst)
	}
	return nil
}
