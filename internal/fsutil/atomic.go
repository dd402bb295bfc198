// SPDX-License-Identifier: MIT

//go:build !windows

package fsutil

import (
	"fmt"
	"io/fs"

	"github.com/google/renameio/v2"
)

// WriteFileAtomic writes data to path with full durability guarantees:
// the bytes land in a sibling temp file, are fsynced, then renamed over
// the target. An interrupted write leaves either the old or the new
// content, never a partial file.
func WriteFileAtomic(path string, data []byte, perm fs.FileMode) error {
	// renameio handles: temp file creation, fsync, atomic rename,
	// cleanup on error.
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(perm))
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() {
		_ = pending.Cleanup()
	}()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write pending file: %w", err)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace %s: %w", path, err)
	}

	return nil
}
