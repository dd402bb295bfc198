// SPDX-License-Identifier: MIT

//go:build windows

package fsutil

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data to path using the backup-and-swap protocol.
// Windows cannot atomically rename over an existing file, so the target is
// first moved aside to <path>.bak, the temp file renamed into place, and
// the backup deleted. A crash mid-swap leaves either the backup or the new
// file intact for recovery.
func WriteFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmp != nil {
			tmp.Close()
		}
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	tmp = nil

	bak := path + ".bak"
	hadTarget := false
	if _, err := os.Stat(path); err == nil {
		hadTarget = true
		_ = os.Remove(bak)
		if err := os.Rename(path, bak); err != nil {
			return fmt.Errorf("move target aside: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		if hadTarget {
			// Best effort restore of the previous content.
			_ = os.Rename(bak, path)
		}
		return fmt.Errorf("rename temp file: %w", err)
	}

	if hadTarget {
		_ = os.Remove(bak)
	}

	return nil
}
