// SPDX-License-Identifier: MIT

package command

import (
	"encoding/json"

	"github.com/openreelio/reelcore/internal/apperr"
	"github.com/openreelio/reelcore/internal/events"
	"github.com/openreelio/reelcore/internal/ids"
	"github.com/openreelio/reelcore/internal/project"
)

func init() {
	register("InsertClip", decodeInto(func() Command { return &InsertClip{} }))
	register("MoveClip", decodeInto(func() Command { return &MoveClip{} }))
	register("TrimClip", decodeInto(func() Command { return &TrimClip{} }))
	register("SplitClip", decodeInto(func() Command { return &SplitClip{} }))
	register("RemoveClip", decodeInto(func() Command { return &RemoveClip{} }))
	register("RenameClip", decodeInto(func() Command { return &RenameClip{} }))
}

// decodeInto adapts a zero-value constructor into a strict payload decoder.
func decodeInto(mk func() Command) decoder {
	return func(payload json.RawMessage) (Command, error) {
		cmd := mk()
		if err := strictUnmarshal(payload, cmd); err != nil {
			return nil, err
		}
		return cmd, nil
	}
}

// InsertClip places a slice of an asset on a track. The track's clip list
// stays sorted by timeline position.
type InsertClip struct {
	ClipID        string  `json:"clipId,omitempty"`
	AssetID       string  `json:"assetId" validate:"required"`
	TrackID       string  `json:"trackId" validate:"required"`
	TimelineInSec float64 `json:"timelineInSec" validate:"finite,gte=0"`
	SourceInSec   float64 `json:"sourceInSec" validate:"finite,gte=0"`
	SourceOutSec  float64 `json:"sourceOutSec" validate:"finite,gte=0"`
	Label         string  `json:"label,omitempty"`
}

func (c *InsertClip) TypeName() string { return "InsertClip" }

func (c *InsertClip) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *InsertClip) Execute(s *project.State) (*Result, error) {
	if err := checkID("assetId", c.AssetID, false); err != nil {
		return nil, err
	}
	if err := checkID("trackId", c.TrackID, false); err != nil {
		return nil, err
	}
	if err := checkID("clipId", c.ClipID, true); err != nil {
		return nil, err
	}
	for _, t := range []struct {
		name string
		v    float64
	}{
		{"timelineInSec", c.TimelineInSec},
		{"sourceInSec", c.SourceInSec},
		{"sourceOutSec", c.SourceOutSec},
	} {
		if err := checkTime(t.name, t.v); err != nil {
			return nil, err
		}
	}
	if c.SourceOutSec < c.SourceInSec {
		return nil, apperr.Validation("sourceOutSec before sourceInSec")
	}
	duration := c.SourceOutSec - c.SourceInSec
	if duration <= 0 {
		return nil, apperr.Validation("clip would have zero duration")
	}

	asset, ok := s.Assets[c.AssetID]
	if !ok {
		return nil, apperr.NotFound("asset", c.AssetID)
	}
	track, ok := s.Tracks[c.TrackID]
	if !ok {
		return nil, apperr.NotFound("track", c.TrackID)
	}
	if asset.DurationSec > 0 && c.SourceOutSec > asset.DurationSec {
		return nil, apperr.Conflict("sourceOutOfRange",
			"source range end %.3f exceeds asset duration %.3f", c.SourceOutSec, asset.DurationSec)
	}
	if other, overlap := s.Overlaps(c.TrackID, c.TimelineInSec, c.TimelineInSec+duration, ""); overlap {
		return nil, apperr.Conflict("clipOverlap",
			"clip %.3f~%.3fs conflicts with clip %s on track %s",
			c.TimelineInSec, c.TimelineInSec+duration, other, c.TrackID)
	}

	if c.ClipID == "" {
		c.ClipID = ids.New()
	}
	if _, dup := s.Clips[c.ClipID]; dup {
		return nil, apperr.Conflict("duplicateId", "clip id %s already exists", c.ClipID)
	}

	clip := &project.Clip{
		ID:            c.ClipID,
		AssetID:       c.AssetID,
		TrackID:       c.TrackID,
		SourceInSec:   c.SourceInSec,
		SourceOutSec:  c.SourceOutSec,
		TimelineInSec: c.TimelineInSec,
		DurationSec:   duration,
		Label:         c.Label,
	}
	s.Clips[clip.ID] = clip
	track.ClipIDs = append(track.ClipIDs, clip.ID)
	s.SortTrackClips(track.ID)

	res := &Result{CreatedIDs: []string{clip.ID}}
	res.addChange(events.ClipCreated, clip.ID)
	res.addChange(events.TrackModified, track.ID)
	return res, nil
}

func (c *InsertClip) Undo(s *project.State) error {
	clip, ok := s.Clips[c.ClipID]
	if !ok {
		return apperr.NotFound("clip", c.ClipID)
	}
	delete(s.Clips, c.ClipID)
	removeClipFromTrack(s, clip.TrackID, c.ClipID)
	return nil
}

// MoveClip repositions a clip, optionally across tracks of the same kind.
// Consecutive moves of the same clip merge into one logged operation.
type MoveClip struct {
	ClipID        string  `json:"clipId" validate:"required"`
	ToTrackID     string  `json:"toTrackId,omitempty"`
	TimelineInSec float64 `json:"timelineInSec" validate:"finite,gte=0"`

	prevTrackID    string
	prevTimelineIn float64
}

func (c *MoveClip) TypeName() string { return "MoveClip" }

func (c *MoveClip) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *MoveClip) Execute(s *project.State) (*Result, error) {
	if err := checkID("clipId", c.ClipID, false); err != nil {
		return nil, err
	}
	if err := checkID("toTrackId", c.ToTrackID, true); err != nil {
		return nil, err
	}
	if err := checkTime("timelineInSec", c.TimelineInSec); err != nil {
		return nil, err
	}

	clip, ok := s.Clips[c.ClipID]
	if !ok {
		return nil, apperr.NotFound("clip", c.ClipID)
	}
	fromTrack, ok := s.Tracks[clip.TrackID]
	if !ok {
		return nil, apperr.NotFound("track", clip.TrackID)
	}

	targetID := c.ToTrackID
	if targetID == "" {
		targetID = clip.TrackID
	}
	toTrack, ok := s.Tracks[targetID]
	if !ok {
		return nil, apperr.NotFound("track", targetID)
	}
	// Moves stay within kind-compatible lanes: a video clip cannot land
	// on an audio track.
	if toTrack.Kind != fromTrack.Kind {
		return nil, apperr.Conflict("trackKindMismatch",
			"cannot move clip from %s track to %s track", fromTrack.Kind, toTrack.Kind)
	}

	end := c.TimelineInSec + clip.DurationSec
	if other, overlap := s.Overlaps(targetID, c.TimelineInSec, end, clip.ID); overlap {
		return nil, apperr.Conflict("clipOverlap",
			"clip %.3f~%.3fs conflicts with clip %s on track %s", c.TimelineInSec, end, other, targetID)
	}

	c.prevTrackID = clip.TrackID
	c.prevTimelineIn = clip.TimelineInSec

	if targetID != clip.TrackID {
		removeClipFromTrack(s, clip.TrackID, clip.ID)
		toTrack.ClipIDs = append(toTrack.ClipIDs, clip.ID)
		clip.TrackID = targetID
	}
	clip.TimelineInSec = c.TimelineInSec
	s.SortTrackClips(targetID)

	res := &Result{}
	res.addChange(events.ClipModified, clip.ID)
	res.addChange(events.TrackModified, targetID)
	if targetID != c.prevTrackID {
		res.addChange(events.TrackModified, c.prevTrackID)
	}
	return res, nil
}

func (c *MoveClip) Undo(s *project.State) error {
	clip, ok := s.Clips[c.ClipID]
	if !ok {
		return apperr.NotFound("clip", c.ClipID)
	}
	if clip.TrackID != c.prevTrackID {
		removeClipFromTrack(s, clip.TrackID, clip.ID)
		prev, ok := s.Tracks[c.prevTrackID]
		if !ok {
			return apperr.NotFound("track", c.prevTrackID)
		}
		prev.ClipIDs = append(prev.ClipIDs, clip.ID)
		clip.TrackID = c.prevTrackID
	}
	clip.TimelineInSec = c.prevTimelineIn
	s.SortTrackClips(c.prevTrackID)
	return nil
}

func (c *MoveClip) CanMerge(next Command) bool {
	n, ok := next.(*MoveClip)
	return ok && n.ClipID == c.ClipID
}

func (c *MoveClip) Merge(next Command) Command {
	n := next.(*MoveClip)
	return &MoveClip{
		ClipID:         c.ClipID,
		ToTrackID:      n.ToTrackID,
		TimelineInSec:  n.TimelineInSec,
		prevTrackID:    c.prevTrackID,
		prevTimelineIn: c.prevTimelineIn,
	}
}

// TrimClip moves one edge of a clip. The source-side bound is clamped to
// the asset's duration, the timeline side to the neighbouring clips; a
// trim that would leave no duration is rejected.
type TrimClip struct {
	ClipID string  `json:"clipId" validate:"required"`
	Edge   string  `json:"edge" validate:"required,oneof=in out"`
	ToSec  float64 `json:"toSec" validate:"finite,gte=0"`

	prev project.Clip
}

func (c *TrimClip) TypeName() string { return "TrimClip" }

func (c *TrimClip) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *TrimClip) Execute(s *project.State) (*Result, error) {
	if err := checkID("clipId", c.ClipID, false); err != nil {
		return nil, err
	}
	if err := checkTime("toSec", c.ToSec); err != nil {
		return nil, err
	}
	if c.Edge != "in" && c.Edge != "out" {
		return nil, apperr.Validation("edge must be \"in\" or \"out\"")
	}

	clip, ok := s.Clips[c.ClipID]
	if !ok {
		return nil, apperr.NotFound("clip", c.ClipID)
	}
	asset := s.Assets[clip.AssetID]
	ratio := speedRatio(clip)

	c.prev = *clip

	newIn := clip.TimelineInSec
	newOut := clip.TimelineOutSec()
	if c.Edge == "in" {
		newIn = c.ToSec
		// Source bound: sourceIn cannot go below zero.
		if minIn := clip.TimelineInSec - clip.SourceInSec/ratio; newIn < minIn {
			newIn = minIn
		}
		// Timeline bound: do not ride over the previous clip.
		for _, other := range s.ClipsOnTrack(clip.TrackID) {
			if other.ID == clip.ID {
				continue
			}
			if other.TimelineOutSec() <= clip.TimelineInSec && other.TimelineOutSec() > newIn {
				newIn = other.TimelineOutSec()
			}
		}
	} else {
		newOut = c.ToSec
		// Source bound: sourceOut cannot exceed the asset duration.
		if asset != nil && asset.DurationSec > 0 {
			if maxOut := clip.TimelineInSec + (asset.DurationSec-clip.SourceInSec)/ratio; newOut > maxOut {
				newOut = maxOut
			}
		}
		// Timeline bound: do not ride over the next clip.
		for _, other := range s.ClipsOnTrack(clip.TrackID) {
			if other.ID == clip.ID {
				continue
			}
			if other.TimelineInSec >= clip.TimelineOutSec() && other.TimelineInSec < newOut {
				newOut = other.TimelineInSec
			}
		}
	}

	if newOut-newIn <= 0 {
		return nil, apperr.Conflict("zeroDuration", "trim would produce an empty clip")
	}

	clip.SourceInSec += (newIn - clip.TimelineInSec) * ratio
	clip.SourceOutSec += (newOut - c.prev.TimelineOutSec()) * ratio
	clip.TimelineInSec = newIn
	clip.DurationSec = newOut - newIn
	s.SortTrackClips(clip.TrackID)

	res := &Result{}
	res.addChange(events.ClipModified, clip.ID)
	return res, nil
}

func (c *TrimClip) Undo(s *project.State) error {
	clip, ok := s.Clips[c.ClipID]
	if !ok {
		return apperr.NotFound("clip", c.ClipID)
	}
	clip.SourceInSec = c.prev.SourceInSec
	clip.SourceOutSec = c.prev.SourceOutSec
	clip.TimelineInSec = c.prev.TimelineInSec
	clip.DurationSec = c.prev.DurationSec
	s.SortTrackClips(clip.TrackID)
	return nil
}

// SplitClip cuts a clip in two at a timeline position strictly inside it.
// Source ranges split proportionally so any speed ratio is preserved;
// effects and masks stay with the left part.
type SplitClip struct {
	ClipID    string  `json:"clipId" validate:"required"`
	AtTimeSec float64 `json:"atTimeSec" validate:"finite,gte=0"`
	NewClipID string  `json:"newClipId,omitempty"`

	prev project.Clip
}

func (c *SplitClip) TypeName() string { return "SplitClip" }

func (c *SplitClip) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *SplitClip) Execute(s *project.State) (*Result, error) {
	if err := checkID("clipId", c.ClipID, false); err != nil {
		return nil, err
	}
	if err := checkID("newClipId", c.NewClipID, true); err != nil {
		return nil, err
	}
	if err := checkTime("atTimeSec", c.AtTimeSec); err != nil {
		return nil, err
	}

	clip, ok := s.Clips[c.ClipID]
	if !ok {
		return nil, apperr.NotFound("clip", c.ClipID)
	}
	if c.AtTimeSec <= clip.TimelineInSec || c.AtTimeSec >= clip.TimelineOutSec() {
		return nil, apperr.Conflict("invalidSplitPoint",
			"split at %.3fs lies outside clip %.3f~%.3fs",
			c.AtTimeSec, clip.TimelineInSec, clip.TimelineOutSec())
	}

	track, ok := s.Tracks[clip.TrackID]
	if !ok {
		return nil, apperr.NotFound("track", clip.TrackID)
	}

	if c.NewClipID == "" {
		c.NewClipID = ids.New()
	}
	if _, dup := s.Clips[c.NewClipID]; dup {
		return nil, apperr.Conflict("duplicateId", "clip id %s already exists", c.NewClipID)
	}

	c.prev = *clip

	ratio := speedRatio(clip)
	leftDur := c.AtTimeSec - clip.TimelineInSec
	sourceSplit := clip.SourceInSec + leftDur*ratio

	right := &project.Clip{
		ID:            c.NewClipID,
		AssetID:       clip.AssetID,
		TrackID:       clip.TrackID,
		SourceInSec:   sourceSplit,
		SourceOutSec:  clip.SourceOutSec,
		TimelineInSec: c.AtTimeSec,
		DurationSec:   c.prev.TimelineOutSec() - c.AtTimeSec,
		Label:         clip.Label,
	}
	if clip.Text != nil {
		textCopy := *clip.Text
		right.Text = &textCopy
	}

	clip.SourceOutSec = sourceSplit
	clip.DurationSec = leftDur

	s.Clips[right.ID] = right
	track.ClipIDs = append(track.ClipIDs, right.ID)
	s.SortTrackClips(track.ID)

	res := &Result{CreatedIDs: []string{right.ID}}
	res.addChange(events.ClipModified, clip.ID)
	res.addChange(events.ClipCreated, right.ID)
	res.addChange(events.TrackModified, track.ID)
	return res, nil
}

func (c *SplitClip) Undo(s *project.State) error {
	clip, ok := s.Clips[c.ClipID]
	if !ok {
		return apperr.NotFound("clip", c.ClipID)
	}
	if _, ok := s.Clips[c.NewClipID]; !ok {
		return apperr.NotFound("clip", c.NewClipID)
	}
	delete(s.Clips, c.NewClipID)
	removeClipFromTrack(s, clip.TrackID, c.NewClipID)

	restored := c.prev
	*clip = restored
	s.SortTrackClips(clip.TrackID)
	return nil
}

// RemoveClip deletes a clip together with the effects, masks and captions
// it exclusively owns.
type RemoveClip struct {
	ClipID string `json:"clipId" validate:"required"`

	prevClip     *project.Clip
	prevEffects  []*project.Effect
	prevMasks    []*project.Mask
	prevCaptions []*project.Caption
}

func (c *RemoveClip) TypeName() string { return "RemoveClip" }

func (c *RemoveClip) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *RemoveClip) Execute(s *project.State) (*Result, error) {
	if err := checkID("clipId", c.ClipID, false); err != nil {
		return nil, err
	}

	clip, ok := s.Clips[c.ClipID]
	if !ok {
		return nil, apperr.NotFound("clip", c.ClipID)
	}

	clipCopy := *clip
	c.prevClip = &clipCopy
	c.prevEffects = nil
	c.prevMasks = nil
	c.prevCaptions = nil

	res := &Result{DeletedIDs: []string{clip.ID}}

	for id, e := range s.Effects {
		if e.ClipID == clip.ID {
			c.prevEffects = append(c.prevEffects, e)
			delete(s.Effects, id)
			res.DeletedIDs = append(res.DeletedIDs, id)
			res.addChange(events.EffectRemoved, id)
		}
	}
	for id, m := range s.Masks {
		if m.ClipID == clip.ID {
			c.prevMasks = append(c.prevMasks, m)
			delete(s.Masks, id)
			res.DeletedIDs = append(res.DeletedIDs, id)
			res.addChange(events.MaskRemoved, id)
		}
	}
	for id, cap := range s.Captions {
		if cap.ClipID == clip.ID {
			c.prevCaptions = append(c.prevCaptions, cap)
			delete(s.Captions, id)
			res.DeletedIDs = append(res.DeletedIDs, id)
			res.addChange(events.CaptionDeleted, id)
		}
	}

	delete(s.Clips, clip.ID)
	removeClipFromTrack(s, clip.TrackID, clip.ID)

	res.addChange(events.ClipDeleted, clip.ID)
	res.addChange(events.TrackModified, clip.TrackID)
	return res, nil
}

func (c *RemoveClip) Undo(s *project.State) error {
	track, ok := s.Tracks[c.prevClip.TrackID]
	if !ok {
		return apperr.NotFound("track", c.prevClip.TrackID)
	}

	restored := *c.prevClip
	s.Clips[restored.ID] = &restored
	track.ClipIDs = append(track.ClipIDs, restored.ID)
	s.SortTrackClips(track.ID)

	for _, e := range c.prevEffects {
		s.Effects[e.ID] = e
	}
	for _, m := range c.prevMasks {
		s.Masks[m.ID] = m
	}
	for _, cap := range c.prevCaptions {
		s.Captions[cap.ID] = cap
	}
	return nil
}

// RenameClip updates a clip's display label.
type RenameClip struct {
	ClipID string `json:"clipId" validate:"required"`
	Label  string `json:"label"`

	prevLabel string
}

func (c *RenameClip) TypeName() string { return "RenameClip" }

func (c *RenameClip) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *RenameClip) Execute(s *project.State) (*Result, error) {
	if err := checkID("clipId", c.ClipID, false); err != nil {
		return nil, err
	}

	clip, ok := s.Clips[c.ClipID]
	if !ok {
		return nil, apperr.NotFound("clip", c.ClipID)
	}

	c.prevLabel = clip.Label
	clip.Label = c.Label

	res := &Result{}
	res.addChange(events.ClipModified, clip.ID)
	return res, nil
}

func (c *RenameClip) Undo(s *project.State) error {
	clip, ok := s.Clips[c.ClipID]
	if !ok {
		return apperr.NotFound("clip", c.ClipID)
	}
	clip.Label = c.prevLabel
	return nil
}

// removeClipFromTrack drops a clip id from a track's ordered list.
func removeClipFromTrack(s *project.State, trackID, clipID string) {
	track, ok := s.Tracks[trackID]
	if !ok {
		return
	}
	for i, id := range track.ClipIDs {
		if id == clipID {
			track.ClipIDs = append(track.ClipIDs[:i], track.ClipIDs[i+1:]...)
			return
		}
	}
}
