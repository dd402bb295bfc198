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
	register("AddTextClip", decodeInto(func() Command { return &AddTextClip{} }))
	register("UpdateText", decodeInto(func() Command { return &UpdateText{} }))
	register("AddCaption", decodeInto(func() Command { return &AddCaption{} }))
	register("UpdateCaption", decodeInto(func() Command { return &UpdateCaption{} }))
	register("RemoveCaption", decodeInto(func() Command { return &RemoveCaption{} }))
}

// AddTextClip places a generated text clip on a caption or overlay track.
// Text clips carry no asset; their content renders from the clip itself.
type AddTextClip struct {
	ClipID        string              `json:"clipId,omitempty"`
	TrackID       string              `json:"trackId" validate:"required"`
	TimelineInSec float64             `json:"timelineInSec" validate:"finite,gte=0"`
	DurationSec   float64             `json:"durationSec" validate:"finite,gt=0"`
	Text          project.TextContent `json:"text" validate:"required"`
}

func (c *AddTextClip) TypeName() string { return "AddTextClip" }

func (c *AddTextClip) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *AddTextClip) Execute(s *project.State) (*Result, error) {
	if err := checkID("trackId", c.TrackID, false); err != nil {
		return nil, err
	}
	if err := checkID("clipId", c.ClipID, true); err != nil {
		return nil, err
	}
	if err := checkTime("timelineInSec", c.TimelineInSec); err != nil {
		return nil, err
	}
	if err := checkTime("durationSec", c.DurationSec); err != nil {
		return nil, err
	}
	if c.DurationSec <= 0 {
		return nil, apperr.Validation("text clip needs a positive duration")
	}

	track, ok := s.Tracks[c.TrackID]
	if !ok {
		return nil, apperr.NotFound("track", c.TrackID)
	}
	if track.Kind != project.TrackCaption && track.Kind != project.TrackOverlay {
		return nil, apperr.Conflict("trackKindMismatch",
			"text clips only land on caption or overlay tracks, not %s", track.Kind)
	}

	end := c.TimelineInSec + c.DurationSec
	if other, overlap := s.Overlaps(c.TrackID, c.TimelineInSec, end, ""); overlap {
		return nil, apperr.Conflict("clipOverlap",
			"clip %.3f~%.3fs conflicts with clip %s on track %s", c.TimelineInSec, end, other, c.TrackID)
	}

	if c.ClipID == "" {
		c.ClipID = ids.New()
	}
	if _, dup := s.Clips[c.ClipID]; dup {
		return nil, apperr.Conflict("duplicateId", "clip id %s already exists", c.ClipID)
	}

	text := c.Text
	clip := &project.Clip{
		ID:            c.ClipID,
		TrackID:       c.TrackID,
		TimelineInSec: c.TimelineInSec,
		DurationSec:   c.DurationSec,
		SourceInSec:   0,
		SourceOutSec:  c.DurationSec,
		Text:          &text,
	}
	s.Clips[clip.ID] = clip
	track.ClipIDs = append(track.ClipIDs, clip.ID)
	s.SortTrackClips(track.ID)

	res := &Result{CreatedIDs: []string{clip.ID}}
	res.addChange(events.ClipCreated, clip.ID)
	res.addChange(events.TrackModified, track.ID)
	return res, nil
}

func (c *AddTextClip) Undo(s *project.State) error {
	clip, ok := s.Clips[c.ClipID]
	if !ok {
		return apperr.NotFound("clip", c.ClipID)
	}
	delete(s.Clips, c.ClipID)
	removeClipFromTrack(s, clip.TrackID, c.ClipID)
	return nil
}

// UpdateText edits a text clip's content. Adjacent edits of the same clip
// merge, so continuous typing produces one logged operation.
type UpdateText struct {
	ClipID     string   `json:"clipId" validate:"required"`
	Content    *string  `json:"content,omitempty"`
	FontFamily *string  `json:"fontFamily,omitempty"`
	FontSize   *float64 `json:"fontSize,omitempty"`
	Color      *string  `json:"color,omitempty"`
	PosX       *float64 `json:"posX,omitempty"`
	PosY       *float64 `json:"posY,omitempty"`

	prevText project.TextContent
}

func (c *UpdateText) TypeName() string { return "UpdateText" }

func (c *UpdateText) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *UpdateText) Execute(s *project.State) (*Result, error) {
	if err := checkID("clipId", c.ClipID, false); err != nil {
		return nil, err
	}
	if c.Content == nil && c.FontFamily == nil && c.FontSize == nil &&
		c.Color == nil && c.PosX == nil && c.PosY == nil {
		return nil, apperr.Validation("nothing to update")
	}
	if c.FontSize != nil && (*c.FontSize <= 0 || *c.FontSize > 1000) {
		return nil, apperr.Validation("fontSize out of range")
	}
	if c.Color != nil && *c.Color != "" && !hexColorPattern.MatchString(*c.Color) {
		return nil, apperr.Validation("color must be #rrggbb")
	}

	clip, ok := s.Clips[c.ClipID]
	if !ok {
		return nil, apperr.NotFound("clip", c.ClipID)
	}
	if clip.Text == nil {
		return nil, apperr.Conflict("notTextClip", "clip %s has no text content", c.ClipID)
	}

	c.prevText = *clip.Text

	if c.Content != nil {
		clip.Text.Content = *c.Content
	}
	if c.FontFamily != nil {
		clip.Text.FontFamily = *c.FontFamily
	}
	if c.FontSize != nil {
		clip.Text.FontSize = *c.FontSize
	}
	if c.Color != nil {
		clip.Text.Color = *c.Color
	}
	if c.PosX != nil {
		clip.Text.PosX = *c.PosX
	}
	if c.PosY != nil {
		clip.Text.PosY = *c.PosY
	}

	res := &Result{}
	res.addChange(events.ClipModified, clip.ID)
	return res, nil
}

func (c *UpdateText) Undo(s *project.State) error {
	clip, ok := s.Clips[c.ClipID]
	if !ok {
		return apperr.NotFound("clip", c.ClipID)
	}
	restored := c.prevText
	clip.Text = &restored
	return nil
}

func (c *UpdateText) CanMerge(next Command) bool {
	n, ok := next.(*UpdateText)
	return ok && n.ClipID == c.ClipID
}

func (c *UpdateText) Merge(next Command) Command {
	n := next.(*UpdateText)
	merged := &UpdateText{
		ClipID:   c.ClipID,
		prevText: c.prevText,
	}
	// Later values win; earlier-only values survive.
	merged.Content = pickString(c.Content, n.Content)
	merged.FontFamily = pickString(c.FontFamily, n.FontFamily)
	merged.FontSize = pickFloat(c.FontSize, n.FontSize)
	merged.Color = pickString(c.Color, n.Color)
	merged.PosX = pickFloat(c.PosX, n.PosX)
	merged.PosY = pickFloat(c.PosY, n.PosY)
	return merged
}

func pickString(a, b *string) *string {
	if b != nil {
		return b
	}
	return a
}

func pickFloat(a, b *float64) *float64 {
	if b != nil {
		return b
	}
	return a
}

// AddCaption attaches a timed subtitle entry to a caption clip.
type AddCaption struct {
	CaptionID string  `json:"captionId,omitempty"`
	ClipID    string  `json:"clipId" validate:"required"`
	StartSec  float64 `json:"startSec" validate:"finite,gte=0"`
	EndSec    float64 `json:"endSec" validate:"finite,gte=0"`
	Text      string  `json:"text" validate:"required"`
	Speaker   string  `json:"speaker,omitempty"`
}

func (c *AddCaption) TypeName() string { return "AddCaption" }

func (c *AddCaption) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *AddCaption) Execute(s *project.State) (*Result, error) {
	if err := checkID("clipId", c.ClipID, false); err != nil {
		return nil, err
	}
	if err := checkID("captionId", c.CaptionID, true); err != nil {
		return nil, err
	}
	if err := checkTime("startSec", c.StartSec); err != nil {
		return nil, err
	}
	if err := checkTime("endSec", c.EndSec); err != nil {
		return nil, err
	}
	if c.EndSec <= c.StartSec {
		return nil, apperr.Validation("caption end must come after start")
	}
	if strings.TrimSpace(c.Text) == "" {
		return nil, apperr.Validation("caption text is empty")
	}

	if _, ok := s.Clips[c.ClipID]; !ok {
		return nil, apperr.NotFound("clip", c.ClipID)
	}

	if c.CaptionID == "" {
		c.CaptionID = ids.New()
	}
	if _, dup := s.Captions[c.CaptionID]; dup {
		return nil, apperr.Conflict("duplicateId", "caption id %s already exists", c.CaptionID)
	}

	caption := &project.Caption{
		ID:       c.CaptionID,
		ClipID:   c.ClipID,
		StartSec: c.StartSec,
		EndSec:   c.EndSec,
		Text:     c.Text,
		Speaker:  c.Speaker,
	}
	s.Captions[caption.ID] = caption

	res := &Result{CreatedIDs: []string{caption.ID}}
	res.addChange(events.CaptionCreated, caption.ID)
	return res, nil
}

func (c *AddCaption) Undo(s *project.State) error {
	if _, ok := s.Captions[c.CaptionID]; !ok {
		return apperr.NotFound("caption", c.CaptionID)
	}
	delete(s.Captions, c.CaptionID)
	return nil
}

// UpdateCaption patches a caption entry.
type UpdateCaption struct {
	CaptionID string   `json:"captionId" validate:"required"`
	StartSec  *float64 `json:"startSec,omitempty"`
	EndSec    *float64 `json:"endSec,omitempty"`
	Text      *string  `json:"text,omitempty"`
	Speaker   *string  `json:"speaker,omitempty"`

	prev project.Caption
}

func (c *UpdateCaption) TypeName() string { return "UpdateCaption" }

func (c *UpdateCaption) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *UpdateCaption) Execute(s *project.State) (*Result, error) {
	if err := checkID("captionId", c.CaptionID, false); err != nil {
		return nil, err
	}
	if c.StartSec == nil && c.EndSec == nil && c.Text == nil && c.Speaker == nil {
		return nil, apperr.Validation("nothing to update")
	}

	caption, ok := s.Captions[c.CaptionID]
	if !ok {
		return nil, apperr.NotFound("caption", c.CaptionID)
	}

	start := caption.StartSec
	end := caption.EndSec
	if c.StartSec != nil {
		if err := checkTime("startSec", *c.StartSec); err != nil {
			return nil, err
		}
		start = *c.StartSec
	}
	if c.EndSec != nil {
		if err := checkTime("endSec", *c.EndSec); err != nil {
			return nil, err
		}
		end = *c.EndSec
	}
	if end <= start {
		return nil, apperr.Validation("caption end must come after start")
	}
	if c.Text != nil && strings.TrimSpace(*c.Text) == "" {
		return nil, apperr.Validation("caption text is empty")
	}

	c.prev = *caption
	caption.StartSec = start
	caption.EndSec = end
	if c.Text != nil {
		caption.Text = *c.Text
	}
	if c.Speaker != nil {
		caption.Speaker = *c.Speaker
	}

	res := &Result{}
	res.addChange(events.CaptionModified, caption.ID)
	return res, nil
}

func (c *UpdateCaption) Undo(s *project.State) error {
	caption, ok := s.Captions[c.CaptionID]
	if !ok {
		return apperr.NotFound("caption", c.CaptionID)
	}
	restored := c.prev
	*caption = restored
	return nil
}

// RemoveCaption deletes a caption entry.
type RemoveCaption struct {
	CaptionID string `json:"captionId" validate:"required"`

	prev project.Caption
}

func (c *RemoveCaption) TypeName() string { return "RemoveCaption" }

func (c *RemoveCaption) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *RemoveCaption) Execute(s *project.State) (*Result, error) {
	if err := checkID("captionId", c.CaptionID, false); err != nil {
		return nil, err
	}

	caption, ok := s.Captions[c.CaptionID]
	if !ok {
		return nil, apperr.NotFound("caption", c.CaptionID)
	}

	c.prev = *caption
	delete(s.Captions, c.CaptionID)

	res := &Result{DeletedIDs: []string{c.CaptionID}}
	res.addChange(events.CaptionDeleted, c.CaptionID)
	return res, nil
}

func (c *RemoveCaption) Undo(s *project.State) error {
	restored := c.prev
	s.Captions[restored.ID] = &restored
	return nil
}
