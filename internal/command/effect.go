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
	register("AddEffect", decodeInto(func() Command { return &AddEffect{} }))
	register("RemoveEffect", decodeInto(func() Command { return &RemoveEffect{} }))
	register("UpdateEffectParams", decodeInto(func() Command { return &UpdateEffectParams{} }))
	register("AddMask", decodeInto(func() Command { return &AddMask{} }))
	register("UpdateMask", decodeInto(func() Command { return &UpdateMask{} }))
	register("RemoveMask", decodeInto(func() Command { return &RemoveMask{} }))
}

// effectKinds is the closed set of supported filters.
var effectKinds = map[string]bool{
	"brightness": true, "contrast": true, "saturation": true, "hue": true,
	"blur": true, "sharpen": true, "crop": true, "transform": true,
	"speed": true, "volume": true, "fade": true, "chromaKey": true,
	"colorBalance": true, "vignette": true, "lut": true,
}

// AddEffect attaches a filter to a clip. Effect order on the clip is the
// application order.
type AddEffect struct {
	EffectID    string         `json:"effectId,omitempty"`
	ClipID      string         `json:"clipId" validate:"required"`
	Kind        string         `json:"kind" validate:"required"`
	Params      map[string]any `json:"params,omitempty"`
	MaskGroupID string         `json:"maskGroupId,omitempty"`
}

func (c *AddEffect) TypeName() string { return "AddEffect" }

func (c *AddEffect) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *AddEffect) Execute(s *project.State) (*Result, error) {
	if err := checkID("clipId", c.ClipID, false); err != nil {
		return nil, err
	}
	if err := checkID("effectId", c.EffectID, true); err != nil {
		return nil, err
	}
	if !effectKinds[c.Kind] {
		return nil, apperr.Validation("unknown effect kind: %s", c.Kind)
	}

	clip, ok := s.Clips[c.ClipID]
	if !ok {
		return nil, apperr.NotFound("clip", c.ClipID)
	}
	if c.MaskGroupID != "" {
		if _, ok := s.Masks[c.MaskGroupID]; !ok {
			return nil, apperr.NotFound("mask", c.MaskGroupID)
		}
	}

	if c.EffectID == "" {
		c.EffectID = ids.New()
	}
	if _, dup := s.Effects[c.EffectID]; dup {
		return nil, apperr.Conflict("duplicateId", "effect id %s already exists", c.EffectID)
	}

	effect := &project.Effect{
		ID:          c.EffectID,
		ClipID:      c.ClipID,
		Kind:        c.Kind,
		Params:      c.Params,
		MaskGroupID: c.MaskGroupID,
	}
	s.Effects[effect.ID] = effect
	clip.EffectIDs = append(clip.EffectIDs, effect.ID)

	res := &Result{CreatedIDs: []string{effect.ID}}
	res.addChange(events.EffectApplied, effect.ID)
	res.addChange(events.ClipModified, clip.ID)
	return res, nil
}

func (c *AddEffect) Undo(s *project.State) error {
	effect, ok := s.Effects[c.EffectID]
	if !ok {
		return apperr.NotFound("effect", c.EffectID)
	}
	delete(s.Effects, c.EffectID)
	if clip, ok := s.Clips[effect.ClipID]; ok {
		removeIDFromList(&clip.EffectIDs, c.EffectID)
	}
	return nil
}

// RemoveEffect detaches a filter from its clip.
type RemoveEffect struct {
	EffectID string `json:"effectId" validate:"required"`

	prev      project.Effect
	prevIndex int
}

func (c *RemoveEffect) TypeName() string { return "RemoveEffect" }

func (c *RemoveEffect) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *RemoveEffect) Execute(s *project.State) (*Result, error) {
	if err := checkID("effectId", c.EffectID, false); err != nil {
		return nil, err
	}

	effect, ok := s.Effects[c.EffectID]
	if !ok {
		return nil, apperr.NotFound("effect", c.EffectID)
	}

	c.prev = *effect
	c.prevIndex = -1
	clip := s.Clips[effect.ClipID]
	if clip != nil {
		for i, id := range clip.EffectIDs {
			if id == c.EffectID {
				c.prevIndex = i
				break
			}
		}
	}

	delete(s.Effects, c.EffectID)
	if clip != nil {
		removeIDFromList(&clip.EffectIDs, c.EffectID)
	}

	res := &Result{DeletedIDs: []string{c.EffectID}}
	res.addChange(events.EffectRemoved, c.EffectID)
	if clip != nil {
		res.addChange(events.ClipModified, clip.ID)
	}
	return res, nil
}

func (c *RemoveEffect) Undo(s *project.State) error {
	restored := c.prev
	s.Effects[restored.ID] = &restored
	if clip, ok := s.Clips[restored.ClipID]; ok {
		idx := c.prevIndex
		if idx < 0 || idx > len(clip.EffectIDs) {
			idx = len(clip.EffectIDs)
		}
		clip.EffectIDs = append(clip.EffectIDs[:idx],
			append([]string{restored.ID}, clip.EffectIDs[idx:]...)...)
	}
	return nil
}

// UpdateEffectParams replaces an effect's parameter map. Consecutive
// updates of the same effect merge into a single logged operation, so a
// dragged slider does not flood the log.
type UpdateEffectParams struct {
	EffectID string         `json:"effectId" validate:"required"`
	Params   map[string]any `json:"params" validate:"required"`

	prevParams map[string]any
}

func (c *UpdateEffectParams) TypeName() string { return "UpdateEffectParams" }

func (c *UpdateEffectParams) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *UpdateEffectParams) Execute(s *project.State) (*Result, error) {
	if err := checkID("effectId", c.EffectID, false); err != nil {
		return nil, err
	}

	effect, ok := s.Effects[c.EffectID]
	if !ok {
		return nil, apperr.NotFound("effect", c.EffectID)
	}

	c.prevParams = effect.Params
	effect.Params = c.Params

	res := &Result{}
	res.addChange(events.EffectModified, effect.ID)
	res.addChange(events.ClipModified, effect.ClipID)
	return res, nil
}

func (c *UpdateEffectParams) Undo(s *project.State) error {
	effect, ok := s.Effects[c.EffectID]
	if !ok {
		return apperr.NotFound("effect", c.EffectID)
	}
	effect.Params = c.prevParams
	return nil
}

func (c *UpdateEffectParams) CanMerge(next Command) bool {
	n, ok := next.(*UpdateEffectParams)
	return ok && n.EffectID == c.EffectID
}

func (c *UpdateEffectParams) Merge(next Command) Command {
	n := next.(*UpdateEffectParams)
	return &UpdateEffectParams{
		EffectID:   c.EffectID,
		Params:     n.Params,
		prevParams: c.prevParams,
	}
}

var maskShapes = map[string]bool{
	"rectangle": true, "ellipse": true, "polygon": true, "bezier": true, "linear": true,
}

// AddMask attaches a mask shape to a clip.
type AddMask struct {
	MaskID   string         `json:"maskId,omitempty"`
	ClipID   string         `json:"clipId" validate:"required"`
	Shape    string         `json:"shape" validate:"required"`
	Params   map[string]any `json:"params,omitempty"`
	Inverted bool           `json:"inverted,omitempty"`
}

func (c *AddMask) TypeName() string { return "AddMask" }

func (c *AddMask) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *AddMask) Execute(s *project.State) (*Result, error) {
	if err := checkID("clipId", c.ClipID, false); err != nil {
		return nil, err
	}
	if err := checkID("maskId", c.MaskID, true); err != nil {
		return nil, err
	}
	if !maskShapes[strings.ToLower(c.Shape)] {
		return nil, apperr.Validation("unknown mask shape: %s", c.Shape)
	}

	clip, ok := s.Clips[c.ClipID]
	if !ok {
		return nil, apperr.NotFound("clip", c.ClipID)
	}

	if c.MaskID == "" {
		c.MaskID = ids.New()
	}
	if _, dup := s.Masks[c.MaskID]; dup {
		return nil, apperr.Conflict("duplicateId", "mask id %s already exists", c.MaskID)
	}

	mask := &project.Mask{
		ID:       c.MaskID,
		ClipID:   c.ClipID,
		Shape:    strings.ToLower(c.Shape),
		Params:   c.Params,
		Inverted: c.Inverted,
	}
	s.Masks[mask.ID] = mask
	clip.MaskIDs = append(clip.MaskIDs, mask.ID)

	res := &Result{CreatedIDs: []string{mask.ID}}
	res.addChange(events.MaskApplied, mask.ID)
	res.addChange(events.ClipModified, clip.ID)
	return res, nil
}

func (c *AddMask) Undo(s *project.State) error {
	mask, ok := s.Masks[c.MaskID]
	if !ok {
		return apperr.NotFound("mask", c.MaskID)
	}
	delete(s.Masks, c.MaskID)
	if clip, ok := s.Clips[mask.ClipID]; ok {
		removeIDFromList(&clip.MaskIDs, c.MaskID)
	}
	return nil
}

// UpdateMask patches a mask's shape parameters.
type UpdateMask struct {
	MaskID   string         `json:"maskId" validate:"required"`
	Params   map[string]any `json:"params,omitempty"`
	Inverted *bool          `json:"inverted,omitempty"`

	prevParams   map[string]any
	prevInverted bool
}

func (c *UpdateMask) TypeName() string { return "UpdateMask" }

func (c *UpdateMask) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *UpdateMask) Execute(s *project.State) (*Result, error) {
	if err := checkID("maskId", c.MaskID, false); err != nil {
		return nil, err
	}
	if c.Params == nil && c.Inverted == nil {
		return nil, apperr.Validation("nothing to update")
	}

	mask, ok := s.Masks[c.MaskID]
	if !ok {
		return nil, apperr.NotFound("mask", c.MaskID)
	}

	c.prevParams = mask.Params
	c.prevInverted = mask.Inverted
	if c.Params != nil {
		mask.Params = c.Params
	}
	if c.Inverted != nil {
		mask.Inverted = *c.Inverted
	}

	res := &Result{}
	res.addChange(events.MaskModified, mask.ID)
	res.addChange(events.ClipModified, mask.ClipID)
	return res, nil
}

func (c *UpdateMask) Undo(s *project.State) error {
	mask, ok := s.Masks[c.MaskID]
	if !ok {
		return apperr.NotFound("mask", c.MaskID)
	}
	mask.Params = c.prevParams
	mask.Inverted = c.prevInverted
	return nil
}

// RemoveMask detaches a mask from its clip and clears any effect
// references to it.
type RemoveMask struct {
	MaskID string `json:"maskId" validate:"required"`

	prev          project.Mask
	prevIndex     int
	clearedGroups []string
}

func (c *RemoveMask) TypeName() string { return "RemoveMask" }

func (c *RemoveMask) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *RemoveMask) Execute(s *project.State) (*Result, error) {
	if err := checkID("maskId", c.MaskID, false); err != nil {
		return nil, err
	}

	mask, ok := s.Masks[c.MaskID]
	if !ok {
		return nil, apperr.NotFound("mask", c.MaskID)
	}

	c.prev = *mask
	c.prevIndex = -1
	c.clearedGroups = nil

	clip := s.Clips[mask.ClipID]
	if clip != nil {
		for i, id := range clip.MaskIDs {
			if id == c.MaskID {
				c.prevIndex = i
				break
			}
		}
	}

	res := &Result{DeletedIDs: []string{c.MaskID}}

	for id, e := range s.Effects {
		if e.MaskGroupID == c.MaskID {
			e.MaskGroupID = ""
			c.clearedGroups = append(c.clearedGroups, id)
			res.addChange(events.EffectModified, id)
		}
	}

	delete(s.Masks, c.MaskID)
	if clip != nil {
		removeIDFromList(&clip.MaskIDs, c.MaskID)
		res.addChange(events.ClipModified, clip.ID)
	}

	res.addChange(events.MaskRemoved, c.MaskID)
	return res, nil
}

func (c *RemoveMask) Undo(s *project.State) error {
	restored := c.prev
	s.Masks[restored.ID] = &restored
	if clip, ok := s.Clips[restored.ClipID]; ok {
		idx := c.prevIndex
		if idx < 0 || idx > len(clip.MaskIDs) {
			idx = len(clip.MaskIDs)
		}
		clip.MaskIDs = append(clip.MaskIDs[:idx],
			append([]string{restored.ID}, clip.MaskIDs[idx:]...)...)
	}
	for _, id := range c.clearedGroups {
		if e, ok := s.Effects[id]; ok {
			e.MaskGroupID = restored.ID
		}
	}
	return nil
}

func removeIDFromList(list *[]string, id string) {
	for i, v := range *list {
		if v == id {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return
		}
	}
}
