// SPDX-License-Identifier: MIT

package project

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/openreelio/reelcore/internal/apperr"
	"github.com/openreelio/reelcore/internal/log"
	"github.com/openreelio/reelcore/internal/metrics"
)

const (
	// MetaDirName is the project-local directory holding all core state.
	MetaDirName = ".openreelio"

	opsLogName = "ops.jsonl"
)

// ErrLogLocked is returned when another process holds the log's writer lock.
var ErrLogLocked = errors.New("operation log locked by another process")

// OpsLog is the append-only JSONL operation log. One process at a time may
// hold it open for writing; the advisory lock on the sibling .lock file
// enforces that across processes.
type OpsLog struct {
	path     string
	file     *os.File
	w        *bufio.Writer
	fl       *flock.Flock
	lastOpID string
	logger   zerolog.Logger
}

// OpenOpsLog opens (creating if absent) the project's operation log and
// recovers from a torn trailing write: a final line without a newline
// terminator is discarded and the file truncated so the next append is
// byte-aligned.
func OpenOpsLog(projectDir string) (*OpsLog, error) {
	metaDir := filepath.Join(projectDir, MetaDirName)
	if err := os.MkdirAll(metaDir, 0o750); err != nil {
		return nil, apperr.IO("create project meta dir", err)
	}

	path := filepath.Join(metaDir, opsLogName)
	logger := log.WithComponent("opslog")

	fl := flock.New(path + ".lock")
	locked, err := fl.TryLock()
	if err != nil {
		return nil, apperr.IO("acquire ops log lock", err)
	}
	if !locked {
		return nil, ErrLogLocked
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		_ = fl.Unlock()
		return nil, apperr.IO("open ops log", err)
	}

	l := &OpsLog{path: path, file: file, fl: fl, logger: logger}

	if err := l.recover(); err != nil {
		_ = file.Close()
		_ = fl.Unlock()
		return nil, err
	}

	l.w = bufio.NewWriter(file)
	return l, nil
}

// recover scans the log end to end, validates line framing, records the
// last complete operation id and truncates any torn trailing line.
func (l *OpsLog) recover() error {
	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return apperr.IO("seek ops log", err)
	}

	var (
		validEnd int64
		lastID   string
	)

	reader := bufio.NewReader(l.file)
	for {
		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			if len(line) > 0 {
				l.logger.Warn().
					Int("bytes", len(line)).
					Msg("discarding torn trailing log line")
			}
			break
		}
		if err != nil {
			return apperr.IO("scan ops log", err)
		}

		var op Operation
		if uerr := json.Unmarshal(bytes.TrimRight(line, "\n"), &op); uerr != nil {
			return apperr.Corrupted(l.path, lastID, uerr)
		}
		if lastID != "" && op.ID <= lastID {
			return apperr.Corrupted(l.path, op.ID,
				fmt.Errorf("operation ids not monotonic: %s after %s", op.ID, lastID))
		}
		lastID = op.ID
		validEnd += int64(len(line))
	}

	if err := l.file.Truncate(validEnd); err != nil {
		return apperr.IO("truncate ops log", err)
	}
	if _, err := l.file.Seek(validEnd, io.SeekStart); err != nil {
		return apperr.IO("seek ops log", err)
	}

	l.lastOpID = lastID
	return nil
}

// Append durably writes one operation. The record is flushed and fsynced
// before Append returns; on failure the caller must not advance in-memory
// state. Operation ids must be strictly monotonic.
func (l *OpsLog) Append(ctx context.Context, op Operation) error {
	if err := ctx.Err(); err != nil {
		return apperr.Timeout("ops log append").WithCause(err)
	}
	if op.ID == "" {
		return apperr.Validation("operation id is empty")
	}
	if l.lastOpID != "" && op.ID <= l.lastOpID {
		return apperr.Validation("operation id %s not after %s", op.ID, l.lastOpID)
	}

	line, err := json.Marshal(op)
	if err != nil {
		return apperr.IO("encode operation", err)
	}
	line = append(line, '\n')

	if _, err := l.w.Write(line); err != nil {
		metrics.IncOpAppendError()
		return apperr.IO("write operation", err)
	}
	if err := l.w.Flush(); err != nil {
		metrics.IncOpAppendError()
		return apperr.IO("flush operation", err)
	}
	if err := l.file.Sync(); err != nil {
		metrics.IncOpAppendError()
		return apperr.IO("fsync ops log", err)
	}

	l.lastOpID = op.ID
	metrics.IncOpAppended()
	return nil
}

// LastOpID returns the id of the last durably appended operation, or ""
// for an empty log.
func (l *OpsLog) LastOpID() string {
	return l.lastOpID
}

// IterFrom streams operations strictly after afterOpID (all operations when
// afterOpID is empty), invoking fn for each. Iteration stops early when fn
// returns an error, which is propagated.
func (l *OpsLog) IterFrom(afterOpID string, fn func(Operation) error) error {
	f, err := os.Open(l.path)
	if err != nil {
		return apperr.IO("open ops log for read", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var op Operation
		if err := json.Unmarshal(line, &op); err != nil {
			// Torn final line survives until the next writer open; skip.
			continue
		}
		if afterOpID != "" && op.ID <= afterOpID {
			continue
		}
		if err := fn(op); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return apperr.IO("scan ops log", err)
	}
	return nil
}

// Contains reports whether opID exists in the log.
func (l *OpsLog) Contains(opID string) (bool, error) {
	if opID == "" {
		return false, nil
	}
	found := errors.New("found")
	err := l.IterFrom("", func(op Operation) error {
		if op.ID == opID {
			return found
		}
		return nil
	})
	if errors.Is(err, found) {
		return true, nil
	}
	return false, err
}

// TruncateAfter discards every operation after opID. Besides recovery,
// the executor uses it to replace the tail record when commands merge;
// every other write is an append.
func (l *OpsLog) TruncateAfter(opID string) error {
	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return apperr.IO("seek ops log", err)
	}

	var keepEnd int64
	var lastKept string
	reader := bufio.NewReader(l.file)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			break
		}
		var op Operation
		if uerr := json.Unmarshal(bytes.TrimRight(line, "\n"), &op); uerr != nil {
			break
		}
		keepEnd += int64(len(line))
		lastKept = op.ID
		if op.ID == opID {
			break
		}
	}

	if opID != "" && lastKept != opID {
		return apperr.NotFound("operation", opID)
	}
	if opID == "" {
		keepEnd = 0
		lastKept = ""
	}

	if err := l.file.Truncate(keepEnd); err != nil {
		return apperr.IO("truncate ops log", err)
	}
	if _, err := l.file.Seek(keepEnd, io.SeekStart); err != nil {
		return apperr.IO("seek ops log", err)
	}
	if err := l.file.Sync(); err != nil {
		return apperr.IO("fsync ops log", err)
	}

	l.lastOpID = lastKept
	l.w.Reset(l.file)
	return nil
}

// Path returns the on-disk location of the log file.
func (l *OpsLog) Path() string {
	return l.path
}

// Close flushes pending writes and releases the writer lock.
func (l *OpsLog) Close() error {
	var first error
	if err := l.w.Flush(); err != nil && first == nil {
		first = err
	}
	if err := l.file.Sync(); err != nil && first == nil {
		first = err
	}
	if err := l.file.Close(); err != nil && first == nil {
		first = err
	}
	if err := l.fl.Unlock(); err != nil && first == nil {
		first = err
	}
	return first
}
