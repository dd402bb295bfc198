// SPDX-License-Identifier: MIT

package command

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openreelio/reelcore/internal/apperr"
	"github.com/openreelio/reelcore/internal/events"
	"github.com/openreelio/reelcore/internal/project"
)

func newTestProject(t *testing.T) (*Executor, string) {
	t.Helper()
	dir := t.TempDir()
	e, err := NewProject(dir, "demo", events.NewBus(), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, dir
}

// buildTimeline applies the canonical fixture: a 1080p30 sequence, one
// video track, one imported 10s asset. Returns the created ids.
func buildTimeline(t *testing.T, e *Executor) (seqID, trackID, assetID string) {
	t.Helper()
	ctx := context.Background()

	res, err := e.Apply(ctx, &CreateSequence{
		Name: "Main",
		Format: project.SequenceFormat{
			Width: 1920, Height: 1080,
			FPS:             project.Fraction{Num: 30, Den: 1},
			AudioSampleRate: 48000,
		},
	})
	require.NoError(t, err)
	seqID = res.CreatedIDs[0]

	res, err = e.Apply(ctx, &AddTrack{SequenceID: seqID, Kind: project.TrackVideo, Name: "T1"})
	require.NoError(t, err)
	trackID = res.CreatedIDs[0]

	res, err = e.Apply(ctx, &ImportAsset{
		Kind:        project.AssetVideo,
		Name:        "a.mp4",
		URI:         "footage/a.mp4",
		SizeBytes:   1024,
		DurationSec: 10.0,
	})
	require.NoError(t, err)
	assetID = res.CreatedIDs[0]
	return seqID, trackID, assetID
}

func serialize(t *testing.T, e *Executor) string {
	t.Helper()
	var out string
	e.Read(func(s *project.State) {
		data, err := s.Serialize()
		require.NoError(t, err)
		out = string(data)
	})
	return out
}

// serializeContent serialises the state with the op-position bookkeeping
// (lastOpId, meta.modifiedAt) normalised away. Undo/redo identity holds on
// the editing content; the log position necessarily advances.
func serializeContent(t *testing.T, e *Executor) string {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(serialize(t, e)), &m))
	m["lastOpId"] = ""
	if meta, ok := m["meta"].(map[string]any); ok {
		meta["modifiedAt"] = float64(0)
	}
	data, err := json.Marshal(m)
	require.NoError(t, err)
	return string(data)
}

func countLoggedOps(t *testing.T, e *Executor) int {
	t.Helper()
	n := 0
	require.NoError(t, e.ops.IterFrom("", func(project.Operation) error {
		n++
		return nil
	}))
	return n
}

// Scenario: create, insert, split, then unwind the whole history.
func TestCreateInsertSplitUndoChain(t *testing.T) {
	e, _ := newTestProject(t)
	ctx := context.Background()

	_, trackID, assetID := buildTimeline(t, e)

	_, err := e.Apply(ctx, &InsertClip{
		AssetID: assetID, TrackID: trackID,
		TimelineInSec: 0, SourceInSec: 0, SourceOutSec: 10,
	})
	require.NoError(t, err)

	_, err = e.Apply(ctx, &SplitClip{ClipID: clipAt(t, e, trackID, 0), AtTimeSec: 2.5})
	require.NoError(t, err)

	e.Read(func(s *project.State) {
		clips := s.ClipsOnTrack(trackID)
		require.Len(t, clips, 2)
		assert.InDelta(t, 0.0, clips[0].TimelineInSec, 1e-9)
		assert.InDelta(t, 2.5, clips[0].DurationSec, 1e-9)
		assert.InDelta(t, 2.5, clips[1].TimelineInSec, 1e-9)
		assert.InDelta(t, 7.5, clips[1].DurationSec, 1e-9)
		// Source ranges split proportionally.
		assert.InDelta(t, 2.5, clips[0].SourceOutSec, 1e-9)
		assert.InDelta(t, 2.5, clips[1].SourceInSec, 1e-9)
	})

	// undo split -> single clip
	_, err = e.Undo(ctx)
	require.NoError(t, err)
	e.Read(func(s *project.State) {
		clips := s.ClipsOnTrack(trackID)
		require.Len(t, clips, 1)
		assert.InDelta(t, 10.0, clips[0].DurationSec, 1e-9)
	})

	// undo insert -> empty track
	_, err = e.Undo(ctx)
	require.NoError(t, err)
	e.Read(func(s *project.State) {
		assert.Empty(t, s.ClipsOnTrack(trackID))
	})

	// undo import -> no assets
	_, err = e.Undo(ctx)
	require.NoError(t, err)
	e.Read(func(s *project.State) {
		assert.Empty(t, s.Assets)
	})

	// undo add track -> no tracks
	_, err = e.Undo(ctx)
	require.NoError(t, err)
	e.Read(func(s *project.State) {
		assert.Empty(t, s.Tracks)
	})

	// undo create sequence -> empty project
	_, err = e.Undo(ctx)
	require.NoError(t, err)
	e.Read(func(s *project.State) {
		assert.Empty(t, s.Sequences)
	})

	_, err = e.Undo(ctx)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func clipAt(t *testing.T, e *Executor, trackID string, timelineIn float64) string {
	t.Helper()
	var id string
	e.Read(func(s *project.State) {
		for _, c := range s.ClipsOnTrack(trackID) {
			if c.TimelineInSec == timelineIn {
				id = c.ID
				return
			}
		}
	})
	require.NotEmpty(t, id, "no clip at %v on track %s", timelineIn, trackID)
	return id
}

// Scenario: overlap rejection leaves the log untouched.
func TestOverlapRejectionDoesNotGrowLog(t *testing.T) {
	e, _ := newTestProject(t)
	ctx := context.Background()

	_, trackID, assetID := buildTimeline(t, e)
	_, err := e.Apply(ctx, &InsertClip{
		AssetID: assetID, TrackID: trackID,
		TimelineInSec: 0, SourceInSec: 0, SourceOutSec: 10,
	})
	require.NoError(t, err)

	before := countLoggedOps(t, e)
	stateBefore := serialize(t, e)

	_, err = e.Apply(ctx, &InsertClip{
		AssetID: assetID, TrackID: trackID,
		TimelineInSec: 5, SourceInSec: 0, SourceOutSec: 10,
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))

	assert.Equal(t, before, countLoggedOps(t, e))
	assert.Equal(t, stateBefore, serialize(t, e))
}

// Undo followed by redo restores the post-command state exactly.
func TestUndoRedoIdentity(t *testing.T) {
	e, _ := newTestProject(t)
	ctx := context.Background()

	_, trackID, assetID := buildTimeline(t, e)
	_, err := e.Apply(ctx, &InsertClip{
		AssetID: assetID, TrackID: trackID,
		TimelineInSec: 1.5, SourceInSec: 0, SourceOutSec: 4,
	})
	require.NoError(t, err)

	after := serializeContent(t, e)

	_, err = e.Undo(ctx)
	require.NoError(t, err)
	_, err = e.Redo(ctx)
	require.NoError(t, err)

	assert.Equal(t, after, serializeContent(t, e))
}

// Apply followed by undo restores the prior state exactly.
func TestApplyUndoRestoresPriorState(t *testing.T) {
	e, _ := newTestProject(t)
	ctx := context.Background()

	_, trackID, assetID := buildTimeline(t, e)
	before := serializeContent(t, e)

	_, err := e.Apply(ctx, &InsertClip{
		AssetID: assetID, TrackID: trackID,
		TimelineInSec: 0, SourceInSec: 0, SourceOutSec: 10,
	})
	require.NoError(t, err)
	_, err = e.Undo(ctx)
	require.NoError(t, err)

	assert.Equal(t, before, serializeContent(t, e))
}

// Replaying the log on a fresh open reproduces the state byte for byte,
// including undo/redo history.
func TestLogReplayDeterminism(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewBus()
	e, err := NewProject(dir, "demo", bus, Options{SnapshotEvery: 1000})
	require.NoError(t, err)
	ctx := context.Background()

	_, trackID, assetID := buildTimeline(t, e)
	_, err = e.Apply(ctx, &InsertClip{
		AssetID: assetID, TrackID: trackID,
		TimelineInSec: 0, SourceInSec: 0, SourceOutSec: 10,
	})
	require.NoError(t, err)
	_, err = e.Apply(ctx, &SplitClip{ClipID: clipAt(t, e, trackID, 0), AtTimeSec: 4})
	require.NoError(t, err)
	_, err = e.Undo(ctx)
	require.NoError(t, err)
	_, err = e.Redo(ctx)
	require.NoError(t, err)
	_, err = e.Apply(ctx, &RenameProject{Name: "renamed"})
	require.NoError(t, err)

	want := serialize(t, e)

	// Close without a fresh snapshot so reopen replays the whole log on
	// top of the initial empty snapshot.
	require.NoError(t, e.ops.Close())

	reopened, err := OpenProject(dir, events.NewBus(), Options{SnapshotEvery: 1000})
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	assert.Equal(t, want, serialize(t, reopened))

	// Undo still works after replay: history survived the restart.
	_, err = reopened.Undo(ctx)
	require.NoError(t, err)
}

// Scenario: crash between appends leaves a torn line; reopen discards it
// and continues from the last full operation.
func TestCrashRecoveryTruncatesTornLine(t *testing.T) {
	dir := t.TempDir()
	e, err := NewProject(dir, "demo", events.NewBus(), Options{SnapshotEvery: 1000})
	require.NoError(t, err)
	ctx := context.Background()

	_, trackID, assetID := buildTimeline(t, e)
	for i := 0; i < 5; i++ {
		_, err = e.Apply(ctx, &InsertClip{
			AssetID: assetID, TrackID: trackID,
			TimelineInSec: float64(i * 2), SourceInSec: 0, SourceOutSec: 2,
		})
		require.NoError(t, err)
	}
	lastGood := e.ops.LastOpID()
	require.NoError(t, e.ops.Close())

	// kill -9 simulation: half a record at the tail.
	logPath := filepath.Join(dir, project.MetaDirName, "ops.jsonl")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o640)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":"01INCOMPLETE","ts":1,"kind":"Inse`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := OpenProject(dir, events.NewBus(), Options{SnapshotEvery: 1000})
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	reopened.Read(func(s *project.State) {
		assert.Equal(t, lastGood, s.LastOpID)
	})

	// The next command appends cleanly after the truncation point.
	_, err = reopened.Apply(ctx, &RenameProject{Name: "after-crash"})
	require.NoError(t, err)
}

// Consecutive moves of one clip collapse into a single logged operation.
func TestMoveClipMergeKeepsOneOp(t *testing.T) {
	e, _ := newTestProject(t)
	ctx := context.Background()

	_, trackID, assetID := buildTimeline(t, e)
	res, err := e.Apply(ctx, &InsertClip{
		AssetID: assetID, TrackID: trackID,
		TimelineInSec: 0, SourceInSec: 0, SourceOutSec: 2,
	})
	require.NoError(t, err)
	clipID := res.CreatedIDs[0]

	before := countLoggedOps(t, e)

	for _, pos := range []float64{3, 4, 5.5} {
		_, err = e.Apply(ctx, &MoveClip{ClipID: clipID, TimelineInSec: pos})
		require.NoError(t, err)
	}

	assert.Equal(t, before+1, countLoggedOps(t, e), "nudges merged into one operation")

	// One undo reverts the whole nudge chain.
	_, err = e.Undo(ctx)
	require.NoError(t, err)
	e.Read(func(s *project.State) {
		assert.InDelta(t, 0.0, s.Clips[clipID].TimelineInSec, 1e-9)
	})
}

func TestApplyJSONStrictValidation(t *testing.T) {
	e, _ := newTestProject(t)
	ctx := context.Background()

	_, trackID, assetID := buildTimeline(t, e)

	tests := []struct {
		name    string
		kind    string
		payload string
	}{
		{name: "unknown kind", kind: "Teleport", payload: `{}`},
		{name: "unknown field", kind: "InsertClip",
			payload: `{"assetId":"` + assetID + `","trackId":"` + trackID + `","timelineInSec":0,"sourceInSec":0,"sourceOutSec":1,"bogus":true}`},
		{name: "negative time", kind: "InsertClip",
			payload: `{"assetId":"` + assetID + `","trackId":"` + trackID + `","timelineInSec":-1,"sourceInSec":0,"sourceOutSec":1}`},
		{name: "invalid id characters", kind: "RemoveClip",
			payload: `{"clipId":"../../etc/passwd"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.ApplyJSON(ctx, tt.kind, []byte(tt.payload))
			require.Error(t, err)
		})
	}
}

func TestReadOnlyAfterCorruptReplay(t *testing.T) {
	dir := t.TempDir()
	e, err := NewProject(dir, "demo", events.NewBus(), Options{SnapshotEvery: 1000})
	require.NoError(t, err)
	buildTimeline(t, e)
	require.NoError(t, e.ops.Close())

	// Rewrite a mid-log operation to an unknown kind. The line still
	// parses, so open succeeds, but replay cannot decode it.
	logPath := filepath.Join(dir, project.MetaDirName, "ops.jsonl")
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	corrupted := bytes.Replace(data, []byte(`"kind":"AddTrack"`), []byte(`"kind":"BadTrack"`), 1)
	require.NotEqual(t, string(data), string(corrupted))
	require.NoError(t, os.WriteFile(logPath, corrupted, 0o640))

	reopened, err := OpenProject(dir, events.NewBus(), Options{})
	require.Error(t, err)
	require.NotNil(t, reopened)
	defer func() { _ = reopened.Close() }()

	assert.True(t, reopened.ReadOnly())
	_, err = reopened.Apply(context.Background(), &RenameProject{Name: "x"})
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func TestChangeEventsPublishedAfterCommit(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewBus()
	e, err := NewProject(dir, "demo", bus, Options{})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	ch, unsub := bus.Subscribe()
	defer unsub()

	res, err := e.Apply(context.Background(), &CreateSequence{
		Name: "Main",
		Format: project.SequenceFormat{
			Width: 1280, Height: 720,
			FPS:             project.Fraction{Num: 24, Den: 1},
			AudioSampleRate: 48000,
		},
	})
	require.NoError(t, err)

	cs := <-ch
	assert.Equal(t, res.OpID, cs.OpID)
	assert.Equal(t, "CreateSequence", cs.Command)
	require.Len(t, cs.Changes, 1)
	assert.Equal(t, events.SequenceCreated, cs.Changes[0].Kind)
}
