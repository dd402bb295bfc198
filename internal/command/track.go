// SPDX-License-Identifier: MIT

package command

import (
	"encoding/json"
	"strings"

	"github.com/openreelio/reelcore/internal/apperr"
	"github.com/openreelio/reelcore/internal/events"
	"github.com/openreelio/reelcore/internal/ids"
	"github.com/openreelio/reelcore/internal/project"
)

func init() {
	register("AddTrack", decodeInto(func() Command { return &AddTrack{} }))
	register("RenameTrack", decodeInto(func() Command { return &RenameTrack{} }))
	register("RemoveTrack", decodeInto(func() Command { return &RemoveTrack{} }))
	register("ReorderTracks", decodeInto(func() Command { return &ReorderTracks{} }))
	register("SetTrackFlags", decodeInto(func() Command { return &SetTrackFlags{} }))
}

func validTrackKind(k project.TrackKind) bool {
	switch k {
	case project.TrackVideo, project.TrackAudio, project.TrackCaption, project.TrackOverlay:
		return true
	}
	return false
}

// AddTrack appends a new lane to a sequence.
type AddTrack struct {
	TrackID    string            `json:"trackId,omitempty"`
	SequenceID string            `json:"sequenceId" validate:"required"`
	Kind       project.TrackKind `json:"kind" validate:"required"`
	Name       string            `json:"name" validate:"required"`
}

func (c *AddTrack) TypeName() string { return "AddTrack" }

func (c *AddTrack) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *AddTrack) Execute(s *project.State) (*Result, error) {
	if err := checkID("sequenceId", c.SequenceID, false); err != nil {
		return nil, err
	}
	if err := checkID("trackId", c.TrackID, true); err != nil {
		return nil, err
	}
	if !validTrackKind(c.Kind) {
		return nil, apperr.Validation("unknown track kind: %s", c.Kind)
	}
	if strings.TrimSpace(c.Name) == "" {
		return nil, apperr.Validation("track name is empty")
	}

	seq, ok := s.Sequences[c.SequenceID]
	if !ok {
		return nil, apperr.NotFound("sequence", c.SequenceID)
	}

	if c.TrackID == "" {
		c.TrackID = ids.New()
	}
	if _, dup := s.Tracks[c.TrackID]; dup {
		return nil, apperr.Conflict("duplicateId", "track id %s already exists", c.TrackID)
	}

	track := &project.Track{
		ID:         c.TrackID,
		SequenceID: seq.ID,
		Kind:       c.Kind,
		Name:       c.Name,
		Order:      len(seq.TrackIDs),
	}
	s.Tracks[track.ID] = track
	seq.TrackIDs = append(seq.TrackIDs, track.ID)

	res := &Result{CreatedIDs: []string{track.ID}}
	res.addChange(events.TrackCreated, track.ID)
	res.addChange(events.SequenceModified, seq.ID)
	return res, nil
}

func (c *AddTrack) Undo(s *project.State) error {
	track, ok := s.Tracks[c.TrackID]
	if !ok {
		return apperr.NotFound("track", c.TrackID)
	}
	delete(s.Tracks, c.TrackID)
	if seq, ok := s.Sequences[track.SequenceID]; ok {
		removeTrackFromSequence(seq, c.TrackID)
		renumberTracks(s, seq)
	}
	return nil
}

// RenameTrack updates a track's display name.
type RenameTrack struct {
	TrackID string `json:"trackId" validate:"required"`
	Name    string `json:"name" validate:"required"`

	prevName string
}

func (c *RenameTrack) TypeName() string { return "RenameTrack" }

func (c *RenameTrack) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *RenameTrack) Execute(s *project.State) (*Result, error) {
	if err := checkID("trackId", c.TrackID, false); err != nil {
		return nil, err
	}
	if strings.TrimSpace(c.Name) == "" {
		return nil, apperr.Validation("track name is empty")
	}

	track, ok := s.Tracks[c.TrackID]
	if !ok {
		return nil, apperr.NotFound("track", c.TrackID)
	}

	c.prevName = track.Name
	track.Name = c.Name

	res := &Result{}
	res.addChange(events.TrackModified, track.ID)
	return res, nil
}

func (c *RenameTrack) Undo(s *project.State) error {
	track, ok := s.Tracks[c.TrackID]
	if !ok {
		return apperr.NotFound("track", c.TrackID)
	}
	track.Name = c.prevName
	return nil
}

// RemoveTrack deletes an empty track. Tracks still holding clips are
// protected the same way assets in use are.
type RemoveTrack struct {
	TrackID string `json:"trackId" validate:"required"`

	prev      project.Track
	prevIndex int
}

func (c *RemoveTrack) TypeName() string { return "RemoveTrack" }

func (c *RemoveTrack) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *RemoveTrack) Execute(s *project.State) (*Result, error) {
	if err := checkID("trackId", c.TrackID, false); err != nil {
		return nil, err
	}

	track, ok := s.Tracks[c.TrackID]
	if !ok {
		return nil, apperr.NotFound("track", c.TrackID)
	}
	if len(track.ClipIDs) > 0 {
		return nil, apperr.Conflict("trackNotEmpty",
			"track %s still holds %d clips", c.TrackID, len(track.ClipIDs))
	}

	seq, ok := s.Sequences[track.SequenceID]
	if !ok {
		return nil, apperr.NotFound("sequence", track.SequenceID)
	}

	c.prev = *track
	c.prevIndex = -1
	for i, id := range seq.TrackIDs {
		if id == c.TrackID {
			c.prevIndex = i
			break
		}
	}

	delete(s.Tracks, c.TrackID)
	removeTrackFromSequence(seq, c.TrackID)
	renumberTracks(s, seq)

	res := &Result{DeletedIDs: []string{c.TrackID}}
	res.addChange(events.TrackDeleted, c.TrackID)
	res.addChange(events.SequenceModified, seq.ID)
	return res, nil
}

func (c *RemoveTrack) Undo(s *project.State) error {
	seq, ok := s.Sequences[c.prev.SequenceID]
	if !ok {
		return apperr.NotFound("sequence", c.prev.SequenceID)
	}

	restored := c.prev
	s.Tracks[restored.ID] = &restored

	idx := c.prevIndex
	if idx < 0 || idx > len(seq.TrackIDs) {
		idx = len(seq.TrackIDs)
	}
	seq.TrackIDs = append(seq.TrackIDs[:idx], append([]string{restored.ID}, seq.TrackIDs[idx:]...)...)
	renumberTracks(s, seq)
	return nil
}

// ReorderTracks rearranges the lanes of a sequence. The new order must be
// a permutation of the current one.
type ReorderTracks struct {
	SequenceID string   `json:"sequenceId" validate:"required"`
	TrackIDs   []string `json:"trackIds" validate:"required,min=1"`

	prevOrder []string
}

func (c *ReorderTracks) TypeName() string { return "ReorderTracks" }

func (c *ReorderTracks) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *ReorderTracks) Execute(s *project.State) (*Result, error) {
	if err := checkID("sequenceId", c.SequenceID, false); err != nil {
		return nil, err
	}
	for _, id := range c.TrackIDs {
		if err := checkID("trackIds", id, false); err != nil {
			return nil, err
		}
	}

	seq, ok := s.Sequences[c.SequenceID]
	if !ok {
		return nil, apperr.NotFound("sequence", c.SequenceID)
	}
	if len(c.TrackIDs) != len(seq.TrackIDs) {
		return nil, apperr.Validation("track list is not a permutation of the sequence")
	}
	current := make(map[string]bool, len(seq.TrackIDs))
	for _, id := range seq.TrackIDs {
		current[id] = true
	}
	seen := make(map[string]bool, len(c.TrackIDs))
	for _, id := range c.TrackIDs {
		if !current[id] || seen[id] {
			return nil, apperr.Validation("track list is not a permutation of the sequence")
		}
		seen[id] = true
	}

	c.prevOrder = append([]string(nil), seq.TrackIDs...)
	seq.TrackIDs = append([]string(nil), c.TrackIDs...)
	renumberTracks(s, seq)

	res := &Result{}
	res.addChange(events.SequenceModified, seq.ID)
	return res, nil
}

func (c *ReorderTracks) Undo(s *project.State) error {
	seq, ok := s.Sequences[c.SequenceID]
	if !ok {
		return apperr.NotFound("sequence", c.SequenceID)
	}
	seq.TrackIDs = append([]string(nil), c.prevOrder...)
	renumberTracks(s, seq)
	return nil
}

// SetTrackFlags toggles mute/solo. Omitted flags stay untouched.
type SetTrackFlags struct {
	TrackID string `json:"trackId" validate:"required"`
	Muted   *bool  `json:"muted,omitempty"`
	Solo    *bool  `json:"solo,omitempty"`

	prevMuted bool
	prevSolo  bool
}

func (c *SetTrackFlags) TypeName() string { return "SetTrackFlags" }

func (c *SetTrackFlags) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *SetTrackFlags) Execute(s *project.State) (*Result, error) {
	if err := checkID("trackId", c.TrackID, false); err != nil {
		return nil, err
	}
	if c.Muted == nil && c.Solo == nil {
		return nil, apperr.Validation("no flags to change")
	}

	track, ok := s.Tracks[c.TrackID]
	if !ok {
		return nil, apperr.NotFound("track", c.TrackID)
	}

	c.prevMuted = track.Muted
	c.prevSolo = track.Solo
	if c.Muted != nil {
		track.Muted = *c.Muted
	}
	if c.Solo != nil {
		track.Solo = *c.Solo
	}

	res := &Result{}
	res.addChange(events.TrackModified, track.ID)
	return res, nil
}

func (c *SetTrackFlags) Undo(s *project.State) error {
	track, ok := s.Tracks[c.TrackID]
	if !ok {
		return apperr.NotFound("track", c.TrackID)
	}
	track.Muted = c.prevMuted
	track.Solo = c.prevSolo
	return nil
}

func removeTrackFromSequence(seq *project.Sequence, trackID string) {
	for i, id := range seq.TrackIDs {
		if id == trackID {
			seq.TrackIDs = append(seq.TrackIDs[:i], seq.TrackIDs[i+1:]...)
			return
		}
	}
}

// renumberTracks recompacts Order to match the sequence's lane list.
func renumberTracks(s *project.State, seq *project.Sequence) {
	for i, id := range seq.TrackIDs {
		if t, ok := s.Tracks[id]; ok {
			t.Order = i
		}
	}
}
