// SPDX-License-Identifier: MIT

package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openreelio/reelcore/internal/apperr"
	"github.com/openreelio/reelcore/internal/project"
)

func TestSplitClipRejectsEdgePoints(t *testing.T) {
	e, _ := newTestProject(t)
	ctx := context.Background()

	_, trackID, assetID := buildTimeline(t, e)
	res, err := e.Apply(ctx, &InsertClip{
		AssetID: assetID, TrackID: trackID,
		TimelineInSec: 1, SourceInSec: 0, SourceOutSec: 5,
	})
	require.NoError(t, err)
	clipID := res.CreatedIDs[0]

	for _, at := range []float64{1.0, 6.0, 0.5, 9.0} {
		_, err := e.Apply(ctx, &SplitClip{ClipID: clipID, AtTimeSec: at})
		require.Error(t, err, "split at %v must fail", at)
		assert.True(t, apperr.IsKind(err, apperr.KindConflict))
	}
}

func TestSplitClipPreservesSpeedRatio(t *testing.T) {
	// Built directly against a state: the clip carries a 2x speed ratio
	// (8 source seconds in 4 timeline seconds), which no executor command
	// produces: AddEffect, speed effects included, leaves clip timing as is.
	s := project.NewState(project.Meta{ID: "prj", Name: "demo", RootPath: t.TempDir()})
	seq := &project.Sequence{ID: "seq1", Name: "Main"}
	s.Sequences[seq.ID] = seq
	track := &project.Track{ID: "v1", SequenceID: seq.ID, Kind: project.TrackVideo, Name: "V1"}
	s.Tracks[track.ID] = track
	seq.TrackIDs = []string{track.ID}
	s.Assets["a1"] = &project.Asset{ID: "a1", Kind: project.AssetVideo, Name: "a", DurationSec: 10, ProxyStatus: project.ProxyNotNeeded}
	s.Clips["c1"] = &project.Clip{
		ID: "c1", AssetID: "a1", TrackID: track.ID,
		SourceInSec: 0, SourceOutSec: 8,
		TimelineInSec: 0, DurationSec: 4,
	}
	track.ClipIDs = []string{"c1"}

	cmd := &SplitClip{ClipID: "c1", AtTimeSec: 1, NewClipID: "c2"}
	_, err := cmd.Execute(s)
	require.NoError(t, err)

	clips := s.ClipsOnTrack(track.ID)
	require.Len(t, clips, 2)
	// One timeline second at 2x consumes two source seconds.
	assert.InDelta(t, 2.0, clips[0].SourceOutSec, 1e-9)
	assert.InDelta(t, 2.0, clips[1].SourceInSec, 1e-9)
	assert.InDelta(t, 8.0, clips[1].SourceOutSec, 1e-9)
	assert.InDelta(t, 3.0, clips[1].DurationSec, 1e-9)

	// Undo restores the original speed-mapped clip.
	require.NoError(t, cmd.Undo(s))
	clips = s.ClipsOnTrack(track.ID)
	require.Len(t, clips, 1)
	assert.InDelta(t, 4.0, clips[0].DurationSec, 1e-9)
	assert.InDelta(t, 8.0, clips[0].SourceOutSec, 1e-9)
}

func TestMoveClipAcrossTracks(t *testing.T) {
	e, _ := newTestProject(t)
	ctx := context.Background()

	seqID, trackID, assetID := buildTimeline(t, e)
	res, err := e.Apply(ctx, &AddTrack{SequenceID: seqID, Kind: project.TrackVideo, Name: "V2"})
	require.NoError(t, err)
	v2 := res.CreatedIDs[0]
	res, err = e.Apply(ctx, &AddTrack{SequenceID: seqID, Kind: project.TrackAudio, Name: "A1"})
	require.NoError(t, err)
	a1 := res.CreatedIDs[0]

	res, err = e.Apply(ctx, &InsertClip{
		AssetID: assetID, TrackID: trackID,
		TimelineInSec: 0, SourceInSec: 0, SourceOutSec: 3,
	})
	require.NoError(t, err)
	clipID := res.CreatedIDs[0]

	// Video to video is fine.
	_, err = e.Apply(ctx, &MoveClip{ClipID: clipID, ToTrackID: v2, TimelineInSec: 2})
	require.NoError(t, err)
	e.Read(func(s *project.State) {
		assert.Equal(t, v2, s.Clips[clipID].TrackID)
		assert.Empty(t, s.Tracks[trackID].ClipIDs)
		assert.Equal(t, []string{clipID}, s.Tracks[v2].ClipIDs)
	})

	// Video to audio is not.
	_, err = e.Apply(ctx, &MoveClip{ClipID: clipID, ToTrackID: a1, TimelineInSec: 0})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func TestTrimClipClampsToAssetAndNeighbours(t *testing.T) {
	e, _ := newTestProject(t)
	ctx := context.Background()

	_, trackID, assetID := buildTimeline(t, e)
	res, err := e.Apply(ctx, &InsertClip{
		AssetID: assetID, TrackID: trackID,
		TimelineInSec: 0, SourceInSec: 0, SourceOutSec: 4,
	})
	require.NoError(t, err)
	first := res.CreatedIDs[0]
	res, err = e.Apply(ctx, &InsertClip{
		AssetID: assetID, TrackID: trackID,
		TimelineInSec: 6, SourceInSec: 0, SourceOutSec: 4,
	})
	require.NoError(t, err)
	second := res.CreatedIDs[0]

	// Out-edge of the first clip: wants 8, neighbour starts at 6.
	_, err = e.Apply(ctx, &TrimClip{ClipID: first, Edge: "out", ToSec: 8})
	require.NoError(t, err)
	e.Read(func(s *project.State) {
		assert.InDelta(t, 6.0, s.Clips[first].TimelineOutSec(), 1e-9)
		assert.InDelta(t, 6.0, s.Clips[first].SourceOutSec, 1e-9)
	})

	// Out-edge beyond the asset: asset is 10s, sourceIn 0, so the
	// timeline out clamps at 6 (already at neighbour) — extend second
	// clip instead and watch the asset bound.
	_, err = e.Apply(ctx, &TrimClip{ClipID: second, Edge: "out", ToSec: 30})
	require.NoError(t, err)
	e.Read(func(s *project.State) {
		assert.InDelta(t, 10.0, s.Clips[second].SourceOutSec, 1e-9)
		assert.InDelta(t, 16.0, s.Clips[second].TimelineOutSec(), 1e-9)
	})

	// In-edge below zero source clamps at source 0.
	_, err = e.Apply(ctx, &TrimClip{ClipID: second, Edge: "in", ToSec: 0})
	require.NoError(t, err)
	e.Read(func(s *project.State) {
		assert.InDelta(t, 0.0, s.Clips[second].SourceInSec, 1e-9)
		// Timeline in moved back by exactly the available source.
		assert.InDelta(t, 6.0, s.Clips[second].TimelineInSec, 1e-9)
	})
}

func TestTrimClipRejectsZeroDuration(t *testing.T) {
	e, _ := newTestProject(t)
	ctx := context.Background()

	_, trackID, assetID := buildTimeline(t, e)
	res, err := e.Apply(ctx, &InsertClip{
		AssetID: assetID, TrackID: trackID,
		TimelineInSec: 2, SourceInSec: 0, SourceOutSec: 4,
	})
	require.NoError(t, err)
	clipID := res.CreatedIDs[0]

	_, err = e.Apply(ctx, &TrimClip{ClipID: clipID, Edge: "out", ToSec: 2})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func TestRemoveAssetInUse(t *testing.T) {
	e, _ := newTestProject(t)
	ctx := context.Background()

	_, trackID, assetID := buildTimeline(t, e)
	res, err := e.Apply(ctx, &InsertClip{
		AssetID: assetID, TrackID: trackID,
		TimelineInSec: 0, SourceInSec: 0, SourceOutSec: 2,
	})
	require.NoError(t, err)
	clipID := res.CreatedIDs[0]

	_, err = e.Apply(ctx, &RemoveAsset{AssetID: assetID})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))

	// After deleting the dependent clip the removal goes through.
	_, err = e.Apply(ctx, &RemoveClip{ClipID: clipID})
	require.NoError(t, err)
	_, err = e.Apply(ctx, &RemoveAsset{AssetID: assetID})
	require.NoError(t, err)
}

func TestRemoveClipTakesOwnedEffectsAndMasks(t *testing.T) {
	e, _ := newTestProject(t)
	ctx := context.Background()

	_, trackID, assetID := buildTimeline(t, e)
	res, err := e.Apply(ctx, &InsertClip{
		AssetID: assetID, TrackID: trackID,
		TimelineInSec: 0, SourceInSec: 0, SourceOutSec: 5,
	})
	require.NoError(t, err)
	clipID := res.CreatedIDs[0]

	res, err = e.Apply(ctx, &AddEffect{ClipID: clipID, Kind: "blur", Params: map[string]any{"radius": 4.0}})
	require.NoError(t, err)
	effectID := res.CreatedIDs[0]
	res, err = e.Apply(ctx, &AddMask{ClipID: clipID, Shape: "ellipse"})
	require.NoError(t, err)
	maskID := res.CreatedIDs[0]

	_, err = e.Apply(ctx, &RemoveClip{ClipID: clipID})
	require.NoError(t, err)
	e.Read(func(s *project.State) {
		assert.Empty(t, s.Effects)
		assert.Empty(t, s.Masks)
	})

	// Undo restores the clip with its effects and masks.
	_, err = e.Undo(ctx)
	require.NoError(t, err)
	e.Read(func(s *project.State) {
		require.Contains(t, s.Clips, clipID)
		assert.Contains(t, s.Effects, effectID)
		assert.Contains(t, s.Masks, maskID)
	})
}

func TestProxyStatusTransitionsEnforced(t *testing.T) {
	e, _ := newTestProject(t)
	ctx := context.Background()

	_, _, assetID := buildTimeline(t, e)

	// Video assets start Pending; Ready requires Generating first.
	_, err := e.Apply(ctx, &SetProxyStatus{AssetID: assetID, Status: project.ProxyReady, ProxyURI: "proxies/a.mp4"})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))

	_, err = e.Apply(ctx, &SetProxyStatus{AssetID: assetID, Status: project.ProxyGenerating})
	require.NoError(t, err)
	_, err = e.Apply(ctx, &SetProxyStatus{AssetID: assetID, Status: project.ProxyReady, ProxyURI: "proxies/a.mp4"})
	require.NoError(t, err)

	e.Read(func(s *project.State) {
		assert.Equal(t, project.ProxyReady, s.Assets[assetID].ProxyStatus)
		assert.Equal(t, "proxies/a.mp4", s.Assets[assetID].ProxyURI)
	})
}

func TestImportAssetStoresRelativeURI(t *testing.T) {
	e, dir := newTestProject(t)
	ctx := context.Background()

	res, err := e.Apply(ctx, &ImportAsset{
		Kind: project.AssetVideo, Name: "b.mov",
		URI: dir + "/footage/b.mov", SizeBytes: 10,
	})
	require.NoError(t, err)
	assetID := res.CreatedIDs[0]

	e.Read(func(s *project.State) {
		a := s.Assets[assetID]
		assert.Equal(t, "footage/b.mov", a.URI)
		assert.Equal(t, "footage/b.mov", a.RelativePath)
		assert.True(t, a.WorkspaceManaged())
	})

	// External paths stay absolute and are not workspace-managed.
	res, err = e.Apply(ctx, &ImportAsset{
		Kind: project.AssetAudio, Name: "ext.wav",
		URI: "/mnt/media/ext.wav", SizeBytes: 10,
	})
	require.NoError(t, err)
	extID := res.CreatedIDs[0]
	e.Read(func(s *project.State) {
		a := s.Assets[extID]
		assert.Equal(t, "/mnt/media/ext.wav", a.URI)
		assert.False(t, a.WorkspaceManaged())
	})
}

func TestImportAssetDeduplicatesByHash(t *testing.T) {
	e, _ := newTestProject(t)
	ctx := context.Background()

	_, err := e.Apply(ctx, &ImportAsset{
		Kind: project.AssetVideo, Name: "a.mp4", URI: "footage/a.mp4",
		ContentHash: "deadbeef", SizeBytes: 1,
	})
	require.NoError(t, err)

	_, err = e.Apply(ctx, &ImportAsset{
		Kind: project.AssetVideo, Name: "copy.mp4", URI: "footage/copy.mp4",
		ContentHash: "deadbeef", SizeBytes: 1,
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func TestBinCycleRejected(t *testing.T) {
	e, _ := newTestProject(t)
	ctx := context.Background()

	res, err := e.Apply(ctx, &CreateBin{Name: "root"})
	require.NoError(t, err)
	root := res.CreatedIDs[0]
	res, err = e.Apply(ctx, &CreateBin{Name: "child", ParentID: root})
	require.NoError(t, err)
	child := res.CreatedIDs[0]

	_, err = e.Apply(ctx, &MoveBin{BinID: root, NewParentID: child})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))

	// Removing a bin with children is also protected.
	_, err = e.Apply(ctx, &RemoveBin{BinID: root})
	require.Error(t, err)
}

func TestReorderTracksValidatesPermutation(t *testing.T) {
	e, _ := newTestProject(t)
	ctx := context.Background()

	seqID, t1, _ := buildTimeline(t, e)
	res, err := e.Apply(ctx, &AddTrack{SequenceID: seqID, Kind: project.TrackAudio, Name: "A1"})
	require.NoError(t, err)
	t2 := res.CreatedIDs[0]

	_, err = e.Apply(ctx, &ReorderTracks{SequenceID: seqID, TrackIDs: []string{t2, t1}})
	require.NoError(t, err)
	e.Read(func(s *project.State) {
		assert.Equal(t, []string{t2, t1}, s.Sequences[seqID].TrackIDs)
		assert.Equal(t, 0, s.Tracks[t2].Order)
		assert.Equal(t, 1, s.Tracks[t1].Order)
	})

	_, err = e.Apply(ctx, &ReorderTracks{SequenceID: seqID, TrackIDs: []string{t1, t1}})
	require.Error(t, err)
	_, err = e.Apply(ctx, &ReorderTracks{SequenceID: seqID, TrackIDs: []string{t1}})
	require.Error(t, err)
}

func TestUpdateTextMergesAdjacentTyping(t *testing.T) {
	e, _ := newTestProject(t)
	ctx := context.Background()

	seqID, _, _ := buildTimeline(t, e)
	res, err := e.Apply(ctx, &AddTrack{SequenceID: seqID, Kind: project.TrackCaption, Name: "C1"})
	require.NoError(t, err)
	capTrack := res.CreatedIDs[0]

	res, err = e.Apply(ctx, &AddTextClip{
		TrackID: capTrack, TimelineInSec: 0, DurationSec: 3,
		Text: project.TextContent{Content: ""},
	})
	require.NoError(t, err)
	clipID := res.CreatedIDs[0]

	before := countLoggedOps(t, e)
	for _, content := range []string{"h", "he", "hel", "hello"} {
		c := content
		_, err = e.Apply(ctx, &UpdateText{ClipID: clipID, Content: &c})
		require.NoError(t, err)
	}
	assert.Equal(t, before+1, countLoggedOps(t, e))

	e.Read(func(s *project.State) {
		assert.Equal(t, "hello", s.Clips[clipID].Text.Content)
	})

	// One undo drops the entire typed run.
	_, err = e.Undo(ctx)
	require.NoError(t, err)
	e.Read(func(s *project.State) {
		assert.Equal(t, "", s.Clips[clipID].Text.Content)
	})
}

func TestAddTextClipRequiresCaptionOrOverlayTrack(t *testing.T) {
	e, _ := newTestProject(t)
	ctx := context.Background()

	_, videoTrack, _ := buildTimeline(t, e)

	_, err := e.Apply(ctx, &AddTextClip{
		TrackID: videoTrack, TimelineInSec: 0, DurationSec: 2,
		Text: project.TextContent{Content: "nope"},
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func TestCaptionLifecycle(t *testing.T) {
	e, _ := newTestProject(t)
	ctx := context.Background()

	seqID, _, _ := buildTimeline(t, e)
	res, err := e.Apply(ctx, &AddTrack{SequenceID: seqID, Kind: project.TrackCaption, Name: "C1"})
	require.NoError(t, err)
	res, err = e.Apply(ctx, &AddTextClip{
		TrackID: res.CreatedIDs[0], TimelineInSec: 0, DurationSec: 10,
		Text: project.TextContent{Content: ""},
	})
	require.NoError(t, err)
	clipID := res.CreatedIDs[0]

	res, err = e.Apply(ctx, &AddCaption{ClipID: clipID, StartSec: 0, EndSec: 2, Text: "hello world"})
	require.NoError(t, err)
	capID := res.CreatedIDs[0]

	_, err = e.Apply(ctx, &AddCaption{ClipID: clipID, StartSec: 2, EndSec: 2, Text: "bad"})
	require.Error(t, err, "zero-length caption rejected")

	newText := "hello there"
	_, err = e.Apply(ctx, &UpdateCaption{CaptionID: capID, Text: &newText})
	require.NoError(t, err)

	_, err = e.Apply(ctx, &RemoveCaption{CaptionID: capID})
	require.NoError(t, err)
	_, err = e.Undo(ctx)
	require.NoError(t, err)
	e.Read(func(s *project.State) {
		require.Contains(t, s.Captions, capID)
		assert.Equal(t, "hello there", s.Captions[capID].Text)
	})
}

func TestSetProjectSettingRoundTrip(t *testing.T) {
	e, _ := newTestProject(t)
	ctx := context.Background()

	_, err := e.Apply(ctx, &SetProjectSetting{Key: "autosave", Value: "on"})
	require.NoError(t, err)
	e.Read(func(s *project.State) {
		assert.Equal(t, "on", s.Meta.Settings["autosave"])
	})

	_, err = e.Undo(ctx)
	require.NoError(t, err)
	e.Read(func(s *project.State) {
		_, ok := s.Meta.Settings["autosave"]
		assert.False(t, ok)
	})
}
