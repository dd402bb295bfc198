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
	register("CreateSequence", decodeInto(func() Command { return &CreateSequence{} }))
	register("RenameSequence", decodeInto(func() Command { return &RenameSequence{} }))
	register("SetSequenceFormat", decodeInto(func() Command { return &SetSequenceFormat{} }))
	register("RemoveSequence", decodeInto(func() Command { return &RemoveSequence{} }))
}

func checkSequenceFormat(f project.SequenceFormat) error {
	if f.Width <= 0 || f.Height <= 0 {
		return apperr.Validation("sequence dimensions must be positive")
	}
	if f.FPS.Num <= 0 || f.FPS.Den <= 0 {
		return apperr.Validation("sequence frame rate must be positive")
	}
	if f.AudioSampleRate <= 0 {
		return apperr.Validation("audio sample rate must be positive")
	}
	return nil
}

// CreateSequence adds a new timeline. The first sequence of a project
// becomes its default.
type CreateSequence struct {
	SequenceID string                 `json:"sequenceId,omitempty"`
	Name       string                 `json:"name" validate:"required"`
	Format     project.SequenceFormat `json:"format" validate:"required"`

	wasDefault bool
}

func (c *CreateSequence) TypeName() string { return "CreateSequence" }

func (c *CreateSequence) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *CreateSequence) Execute(s *project.State) (*Result, error) {
	if err := checkID("sequenceId", c.SequenceID, true); err != nil {
		return nil, err
	}
	if strings.TrimSpace(c.Name) == "" {
		return nil, apperr.Validation("sequence name is empty")
	}
	if err := checkSequenceFormat(c.Format); err != nil {
		return nil, err
	}

	if c.SequenceID == "" {
		c.SequenceID = ids.New()
	}
	if _, dup := s.Sequences[c.SequenceID]; dup {
		return nil, apperr.Conflict("duplicateId", "sequence id %s already exists", c.SequenceID)
	}

	seq := &project.Sequence{
		ID:     c.SequenceID,
		Name:   c.Name,
		Format: c.Format,
	}
	s.Sequences[seq.ID] = seq

	c.wasDefault = false
	if s.Meta.DefaultSequenceID == "" {
		s.Meta.DefaultSequenceID = seq.ID
		c.wasDefault = true
	}

	res := &Result{CreatedIDs: []string{seq.ID}}
	res.addChange(events.SequenceCreated, seq.ID)
	return res, nil
}

func (c *CreateSequence) Undo(s *project.State) error {
	if _, ok := s.Sequences[c.SequenceID]; !ok {
		return apperr.NotFound("sequence", c.SequenceID)
	}
	delete(s.Sequences, c.SequenceID)
	if c.wasDefault && s.Meta.DefaultSequenceID == c.SequenceID {
		s.Meta.DefaultSequenceID = ""
	}
	return nil
}

// RenameSequence updates a sequence's display name.
type RenameSequence struct {
	SequenceID string `json:"sequenceId" validate:"required"`
	Name       string `json:"name" validate:"required"`

	prevName string
}

func (c *RenameSequence) TypeName() string { return "RenameSequence" }

func (c *RenameSequence) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *RenameSequence) Execute(s *project.State) (*Result, error) {
	if err := checkID("sequenceId", c.SequenceID, false); err != nil {
		return nil, err
	}
	if strings.TrimSpace(c.Name) == "" {
		return nil, apperr.Validation("sequence name is empty")
	}

	seq, ok := s.Sequences[c.SequenceID]
	if !ok {
		return nil, apperr.NotFound("sequence", c.SequenceID)
	}

	c.prevName = seq.Name
	seq.Name = c.Name

	res := &Result{}
	res.addChange(events.SequenceModified, seq.ID)
	return res, nil
}

func (c *RenameSequence) Undo(s *project.State) error {
	seq, ok := s.Sequences[c.SequenceID]
	if !ok {
		return apperr.NotFound("sequence", c.SequenceID)
	}
	seq.Name = c.prevName
	return nil
}

// SetSequenceFormat changes the output geometry of a sequence.
type SetSequenceFormat struct {
	SequenceID string                 `json:"sequenceId" validate:"required"`
	Format     project.SequenceFormat `json:"format" validate:"required"`

	prevFormat project.SequenceFormat
}

func (c *SetSequenceFormat) TypeName() string { return "SetSequenceFormat" }

func (c *SetSequenceFormat) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *SetSequenceFormat) Execute(s *project.State) (*Result, error) {
	if err := checkID("sequenceId", c.SequenceID, false); err != nil {
		return nil, err
	}
	if err := checkSequenceFormat(c.Format); err != nil {
		return nil, err
	}

	seq, ok := s.Sequences[c.SequenceID]
	if !ok {
		return nil, apperr.NotFound("sequence", c.SequenceID)
	}

	c.prevFormat = seq.Format
	seq.Format = c.Format

	res := &Result{}
	res.addChange(events.SequenceModified, seq.ID)
	return res, nil
}

func (c *SetSequenceFormat) Undo(s *project.State) error {
	seq, ok := s.Sequences[c.SequenceID]
	if !ok {
		return apperr.NotFound("sequence", c.SequenceID)
	}
	seq.Format = c.prevFormat
	return nil
}

// RemoveSequence deletes an empty sequence.
type RemoveSequence struct {
	SequenceID string `json:"sequenceId" validate:"required"`

	prev        project.Sequence
	wasDefault  bool
}

func (c *RemoveSequence) TypeName() string { return "RemoveSequence" }

func (c *RemoveSequence) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *RemoveSequence) Execute(s *project.State) (*Result, error) {
	if err := checkID("sequenceId", c.SequenceID, false); err != nil {
		return nil, err
	}

	seq, ok := s.Sequences[c.SequenceID]
	if !ok {
		return nil, apperr.NotFound("sequence", c.SequenceID)
	}
	if len(seq.TrackIDs) > 0 {
		return nil, apperr.Conflict("sequenceNotEmpty",
			"sequence %s still holds %d tracks", c.SequenceID, len(seq.TrackIDs))
	}

	c.prev = *seq
	c.wasDefault = s.Meta.DefaultSequenceID == seq.ID

	delete(s.Sequences, c.SequenceID)
	if c.wasDefault {
		s.Meta.DefaultSequenceID = ""
	}

	res := &Result{DeletedIDs: []string{c.SequenceID}}
	res.addChange(events.SequenceDeleted, c.SequenceID)
	return res, nil
}

func (c *RemoveSequence) Undo(s *project.State) error {
	restored := c.prev
	s.Sequences[restored.ID] = &restored
	if c.wasDefault {
		s.Meta.DefaultSequenceID = restored.ID
	}
	return nil
}
