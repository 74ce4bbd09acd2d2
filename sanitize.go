// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package unzip

import (
	"fmt"
	"path"
	"strings"
)

// sanitizeName returns the cleaned, slash separated destination path of an
// entry name. Names that are empty, absolute, contain a volume name, NUL
// bytes or parent directory elements are rejected with [ErrInsecurePath].
func sanitizeName(name string) (string, error) {
	if strings.IndexByte(name, 0) >= 0 {
		return "", fmt.Errorf("%w: NUL byte in name %q", ErrInsecurePath, name)
	}
	if strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: absolute path %q", ErrInsecurePath, name)
	}
	if len(name) >= 2 && name[1] == ':' {
		return "", fmt.Errorf("%w: volume name in %q", ErrInsecurePath, name)
	}
	for _, elem := range strings.Split(name, "/") {
		if elem == ".." {
			return "", fmt.Errorf("%w: parent directory in %q", ErrInsecurePath, name)
		}
	}

	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrInsecurePath)
	}

	// "./" resolves to the destination itself and is returned as "."
	return path.Clean(strings.TrimSuffix(name, "/")), nil
}
