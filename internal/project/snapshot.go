// SPDX-License-Identifier: MIT

package project

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/openreelio/reelcore/internal/apperr"
	"github.com/openreelio/reelcore/internal/fsutil"
	"github.com/openreelio/reelcore/internal/ids"
	"github.com/openreelio/reelcore/internal/log"
	"github.com/openreelio/reelcore/internal/metrics"
)

const snapshotDirName = "snapshots"

// DefaultSnapshotKeep is the rolling window of snapshots retained per
// project. Older snapshots are pruned only after a newer one is durable.
const DefaultSnapshotKeep = 5

// snapshotFile is the on-disk snapshot envelope.
type snapshotFile struct {
	Version   int             `json:"version"`
	LastOpID  string          `json:"lastOpId"`
	CreatedAt int64           `json:"createdAt"`
	State     json.RawMessage `json:"state"`
}

// SnapshotStore writes and discovers durable checkpoints of project state.
type SnapshotStore struct {
	dir  string
	keep int
}

// NewSnapshotStore returns a store rooted at the project's meta directory.
// keep <= 0 selects DefaultSnapshotKeep.
func NewSnapshotStore(projectDir string, keep int) *SnapshotStore {
	if keep <= 0 {
		keep = DefaultSnapshotKeep
	}
	return &SnapshotStore{
		dir:  filepath.Join(projectDir, MetaDirName, snapshotDirName),
		keep: keep,
	}
}

// Write persists the state at lastOpID and returns the snapshot path. The
// write is atomic (temp + rename); pruning of older snapshots runs only
// after the new snapshot is durable, so a crash can never leave the project
// without a valid checkpoint.
func (s *SnapshotStore) Write(state *State, lastOpID string) (string, error) {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return "", apperr.IO("create snapshot dir", err)
	}

	stateBytes, err := state.Serialize()
	if err != nil {
		return "", apperr.IO("serialize state", err)
	}

	envelope := snapshotFile{
		Version:   SchemaVersion,
		LastOpID:  lastOpID,
		CreatedAt: NowMillis(),
		State:     stateBytes,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return "", apperr.IO("encode snapshot", err)
	}

	path := filepath.Join(s.dir, ids.New()+".json")
	if err := fsutil.WriteFileAtomic(path, data, 0o640); err != nil {
		return "", apperr.IO("write snapshot", err)
	}
	metrics.IncSnapshotWritten()

	s.prune(path)
	return path, nil
}

// Read restores a snapshot file.
func (s *SnapshotStore) Read(path string) (*State, string, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from Latest()
	if err != nil {
		return nil, "", apperr.IO("read snapshot", err)
	}

	var envelope snapshotFile
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, "", apperr.Corrupted(path, "", err)
	}
	if envelope.Version > SchemaVersion {
		return nil, "", apperr.Corrupted(path, "",
			apperr.Validation("snapshot version %d newer than supported %d", envelope.Version, SchemaVersion))
	}

	state, err := DeserializeState(envelope.State)
	if err != nil {
		return nil, "", apperr.Corrupted(path, envelope.LastOpID, err)
	}
	state.LastOpID = envelope.LastOpID
	return state, envelope.LastOpID, nil
}

// Latest returns the path of the newest snapshot, or "" when none exist.
// ULID filenames sort by creation time, so the lexicographically greatest
// name wins.
func (s *SnapshotStore) Latest() string {
	names := s.list()
	if len(names) == 0 {
		return ""
	}
	return filepath.Join(s.dir, names[len(names)-1])
}

// All returns every snapshot path, oldest first.
func (s *SnapshotStore) All() []string {
	names := s.list()
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(s.dir, n)
	}
	return paths
}

func (s *SnapshotStore) list() []string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.Type().IsRegular() && strings.HasSuffix(name, ".json") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// prune removes the oldest snapshots beyond the keep window. The snapshot
// just written is never a candidate.
func (s *SnapshotStore) prune(justWritten string) {
	logger := log.WithComponent("snapshot")
	names := s.list()
	for len(names) > s.keep {
		victim := filepath.Join(s.dir, names[0])
		names = names[1:]
		if victim == justWritten {
			continue
		}
		if err := os.Remove(victim); err != nil {
			logger.Warn().Err(err).Str("path", victim).Msg("failed to prune snapshot")
		}
	}
}
