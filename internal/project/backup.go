// SPDX-License-Identifier: MIT

package project

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/openreelio/reelcore/internal/apperr"
	"github.com/openreelio/reelcore/internal/fsutil"
	"github.com/openreelio/reelcore/internal/ids"
)

// crashKeepOps bounds how many trailing operations a crash record carries.
const crashKeepOps = 20

// CrashRecord is written to <app-data>/crash/<ulid>.json when the process
// dies with an unrecoverable failure. It captures enough context for the
// next start to offer recovery.
type CrashRecord struct {
	ID         string      `json:"id"`
	TS         int64       `json:"ts"`
	Reason     string      `json:"reason"`
	ProjectDir string      `json:"projectDir,omitempty"`
	LastOps    []Operation `json:"lastOps,omitempty"`
	Stack      string      `json:"stack,omitempty"`
}

// WriteCrashLog persists a crash record and returns its path.
func WriteCrashLog(appDataDir, projectDir, reason string, lastOps []Operation) (string, error) {
	crashDir := filepath.Join(appDataDir, "crash")
	if err := os.MkdirAll(crashDir, 0o750); err != nil {
		return "", apperr.IO("create crash dir", err)
	}

	if len(lastOps) > crashKeepOps {
		lastOps = lastOps[len(lastOps)-crashKeepOps:]
	}

	buf := make([]byte, 64*1024)
	n := runtime.Stack(buf, true)

	rec := CrashRecord{
		ID:         ids.NewAt(time.Now()),
		TS:         NowMillis(),
		Reason:     reason,
		ProjectDir: projectDir,
		LastOps:    lastOps,
		Stack:      string(buf[:n]),
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", apperr.IO("encode crash record", err)
	}

	path := filepath.Join(crashDir, rec.ID+".json")
	if err := fsutil.WriteFileAtomic(path, data, 0o600); err != nil {
		return "", apperr.IO("write crash record", err)
	}
	return path, nil
}

// RecoveryOffer describes what the core can restore after an unclean
// shutdown: the newest usable snapshot plus the count of log operations
// that replay on top of it.
type RecoveryOffer struct {
	SnapshotPath string `json:"snapshotPath,omitempty"`
	SnapshotOpID string `json:"snapshotOpId,omitempty"`
	ReplayOps    int    `json:"replayOps"`
	LastOpID     string `json:"lastOpId,omitempty"`
}

// ProbeRecovery inspects a project directory and reports what a recovery
// would restore. It opens the log through OpenOpsLog, so it takes the
// writer lock and truncates a torn trailing line, which is not counted;
// snapshots are only read.
func ProbeRecovery(projectDir string) (*RecoveryOffer, error) {
	ops, err := OpenOpsLog(projectDir)
	if err != nil {
		return nil, err
	}
	defer func() { _ = ops.Close() }()

	offer := &RecoveryOffer{LastOpID: ops.LastOpID()}

	store := NewSnapshotStore(projectDir, 0)
	for _, path := range reverse(store.All()) {
		_, lastOpID, rerr := store.Read(path)
		if rerr != nil {
			continue
		}
		if lastOpID != "" {
			ok, cerr := ops.Contains(lastOpID)
			if cerr != nil || !ok {
				// Orphan snapshot: its base operation is not in the log.
				continue
			}
		}
		offer.SnapshotPath = path
		offer.SnapshotOpID = lastOpID
		break
	}

	count := 0
	if err := ops.IterFrom(offer.SnapshotOpID, func(Operation) error {
		count++
		return nil
	}); err != nil {
		return nil, err
	}
	offer.ReplayOps = count

	return offer, nil
}

func reverse(s []string) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[len(s)-1-i] = v
	}
	return out
}
