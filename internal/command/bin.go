// SPDX-License-Identifier: MIT

package command

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/openreelio/reelcore/internal/apperr"
	"github.com/openreelio/reelcore/internal/events"
	"github.com/openreelio/reelcore/internal/ids"
	"github.com/openreelio/reelcore/internal/project"
)

func init() {
	register("CreateBin", decodeInto(func() Command { return &CreateBin{} }))
	register("RenameBin", decodeInto(func() Command { return &RenameBin{} }))
	register("MoveBin", decodeInto(func() Command { return &MoveBin{} }))
	register("SetBinColor", decodeInto(func() Command { return &SetBinColor{} }))
	register("RemoveBin", decodeInto(func() Command { return &RemoveBin{} }))
}

var hexColorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// CreateBin adds a folder to the asset hierarchy.
type CreateBin struct {
	BinID    string `json:"binId,omitempty"`
	Name     string `json:"name" validate:"required"`
	ParentID string `json:"parentId,omitempty"`
	Color    string `json:"color,omitempty"`
}

func (c *CreateBin) TypeName() string { return "CreateBin" }

func (c *CreateBin) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *CreateBin) Execute(s *project.State) (*Result, error) {
	if err := checkID("binId", c.BinID, true); err != nil {
		return nil, err
	}
	if err := checkID("parentId", c.ParentID, true); err != nil {
		return nil, err
	}
	if strings.TrimSpace(c.Name) == "" {
		return nil, apperr.Validation("bin name is empty")
	}
	if c.Color != "" && !hexColorPattern.MatchString(c.Color) {
		return nil, apperr.Validation("color must be #rrggbb")
	}
	if c.ParentID != "" {
		if _, ok := s.Bins[c.ParentID]; !ok {
			return nil, apperr.NotFound("bin", c.ParentID)
		}
	}

	if c.BinID == "" {
		c.BinID = ids.New()
	}
	if _, dup := s.Bins[c.BinID]; dup {
		return nil, apperr.Conflict("duplicateId", "bin id %s already exists", c.BinID)
	}

	bin := &project.Bin{
		ID:       c.BinID,
		Name:     c.Name,
		ParentID: c.ParentID,
		Color:    c.Color,
	}
	s.Bins[bin.ID] = bin

	res := &Result{CreatedIDs: []string{bin.ID}}
	res.addChange(events.BinCreated, bin.ID)
	return res, nil
}

func (c *CreateBin) Undo(s *project.State) error {
	if _, ok := s.Bins[c.BinID]; !ok {
		return apperr.NotFound("bin", c.BinID)
	}
	delete(s.Bins, c.BinID)
	return nil
}

// RenameBin updates a bin's display name.
type RenameBin struct {
	BinID string `json:"binId" validate:"required"`
	Name  string `json:"name" validate:"required"`

	prevName string
}

func (c *RenameBin) TypeName() string { return "RenameBin" }

func (c *RenameBin) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *RenameBin) Execute(s *project.State) (*Result, error) {
	if err := checkID("binId", c.BinID, false); err != nil {
		return nil, err
	}
	if strings.TrimSpace(c.Name) == "" {
		return nil, apperr.Validation("bin name is empty")
	}

	bin, ok := s.Bins[c.BinID]
	if !ok {
		return nil, apperr.NotFound("bin", c.BinID)
	}

	c.prevName = bin.Name
	bin.Name = c.Name

	res := &Result{}
	res.addChange(events.BinModified, bin.ID)
	return res, nil
}

func (c *RenameBin) Undo(s *project.State) error {
	bin, ok := s.Bins[c.BinID]
	if !ok {
		return apperr.NotFound("bin", c.BinID)
	}
	bin.Name = c.prevName
	return nil
}

// MoveBin re-parents a bin. Cycles are rejected: a bin cannot become a
// descendant of itself.
type MoveBin struct {
	BinID       string `json:"binId" validate:"required"`
	NewParentID string `json:"newParentId,omitempty"`

	prevParentID string
}

func (c *MoveBin) TypeName() string { return "MoveBin" }

func (c *MoveBin) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *MoveBin) Execute(s *project.State) (*Result, error) {
	if err := checkID("binId", c.BinID, false); err != nil {
		return nil, err
	}
	if err := checkID("newParentId", c.NewParentID, true); err != nil {
		return nil, err
	}

	bin, ok := s.Bins[c.BinID]
	if !ok {
		return nil, apperr.NotFound("bin", c.BinID)
	}
	if c.NewParentID != "" {
		if _, ok := s.Bins[c.NewParentID]; !ok {
			return nil, apperr.NotFound("bin", c.NewParentID)
		}
		// Walk up from the new parent; hitting the moved bin means a cycle.
		for cur := c.NewParentID; cur != ""; {
			if cur == c.BinID {
				return nil, apperr.Conflict("binCycle",
					"bin %s cannot be moved under its own descendant", c.BinID)
			}
			parent, ok := s.Bins[cur]
			if !ok {
				break
			}
			cur = parent.ParentID
		}
	}

	c.prevParentID = bin.ParentID
	bin.ParentID = c.NewParentID

	res := &Result{}
	res.addChange(events.BinModified, bin.ID)
	return res, nil
}

func (c *MoveBin) Undo(s *project.State) error {
	bin, ok := s.Bins[c.BinID]
	if !ok {
		return apperr.NotFound("bin", c.BinID)
	}
	bin.ParentID = c.prevParentID
	return nil
}

// SetBinColor updates a bin's colour tag.
type SetBinColor struct {
	BinID string `json:"binId" validate:"required"`
	Color string `json:"color,omitempty"`

	prevColor string
}

func (c *SetBinColor) TypeName() string { return "SetBinColor" }

func (c *SetBinColor) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *SetBinColor) Execute(s *project.State) (*Result, error) {
	if err := checkID("binId", c.BinID, false); err != nil {
		return nil, err
	}
	if c.Color != "" && !hexColorPattern.MatchString(c.Color) {
		return nil, apperr.Validation("color must be #rrggbb")
	}

	bin, ok := s.Bins[c.BinID]
	if !ok {
		return nil, apperr.NotFound("bin", c.BinID)
	}

	c.prevColor = bin.Color
	bin.Color = c.Color

	res := &Result{}
	res.addChange(events.BinModified, bin.ID)
	return res, nil
}

func (c *SetBinColor) Undo(s *project.State) error {
	bin, ok := s.Bins[c.BinID]
	if !ok {
		return apperr.NotFound("bin", c.BinID)
	}
	bin.Color = c.prevColor
	return nil
}

// RemoveBin deletes a bin without children. Assets listed in the bin are
// released, not deleted.
type RemoveBin struct {
	BinID string `json:"binId" validate:"required"`

	prev project.Bin
}

func (c *RemoveBin) TypeName() string { return "RemoveBin" }

func (c *RemoveBin) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *RemoveBin) Execute(s *project.State) (*Result, error) {
	if err := checkID("binId", c.BinID, false); err != nil {
		return nil, err
	}

	bin, ok := s.Bins[c.BinID]
	if !ok {
		return nil, apperr.NotFound("bin", c.BinID)
	}
	for id, other := range s.Bins {
		if other.ParentID == c.BinID {
			return nil, apperr.Conflict("binNotEmpty",
				"bin %s still holds child bin %s", c.BinID, id)
		}
	}

	c.prev = *bin
	c.prev.AssetIDs = append([]string(nil), bin.AssetIDs...)
	delete(s.Bins, c.BinID)

	res := &Result{DeletedIDs: []string{c.BinID}}
	res.addChange(events.BinDeleted, c.BinID)
	return res, nil
}

func (c *RemoveBin) Undo(s *project.State) error {
	restored := c.prev
	restored.AssetIDs = append([]string(nil), c.prev.AssetIDs...)
	s.Bins[restored.ID] = &restored
	return nil
}
