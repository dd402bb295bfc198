// SPDX-License-Identifier: MIT

package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// ValidateLocalInputPath checks a user-supplied source path: it must be
// absolute, must exist, must be a regular file and must survive traversal
// normalisation. The returned path is the resolved physical path.
func ValidateLocalInputPath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	if !filepath.IsAbs(p) {
		return "", fmt.Errorf("input path must be absolute: %s", p)
	}

	clean := filepath.Clean(p)
	resolved, err := filepath.EvalSymlinks(clean)
	if err != nil {
		return "", fmt.Errorf("resolve input path: %w", err)
	}
	if err := IsRegularFile(resolved); err != nil {
		return "", err
	}
	return resolved, nil
}

// ValidateScopedOutputPath checks that p, after normalisation and symlink
// resolution, falls under at least one of the allowed roots. Intermediate
// directories are created on success so the caller can write immediately.
func ValidateScopedOutputPath(p string, allowedRoots []string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	if len(allowedRoots) == 0 {
		return "", fmt.Errorf("no allowed output roots configured")
	}
	if !filepath.IsAbs(p) {
		return "", fmt.Errorf("output path must be absolute: %s", p)
	}

	var lastErr error
	for _, root := range allowedRoots {
		resolved, err := ConfineAbsPath(root, filepath.Clean(p))
		if err != nil {
			lastErr = err
			continue
		}
		if err := os.MkdirAll(filepath.Dir(resolved), 0o750); err != nil {
			return "", fmt.Errorf("create output directory: %w", err)
		}
		return resolved, nil
	}

	return "", fmt.Errorf("output path %s outside allowed roots: %w", p, lastErr)
}
