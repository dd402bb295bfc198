// SPDX-License-Identifier: MIT

package command

import (
	"encoding/json"
	"strings"

	"github.com/openreelio/reelcore/internal/apperr"
	"github.com/openreelio/reelcore/internal/events"
	"github.com/openreelio/reelcore/internal/project"
)

func init() {
	register("RenameProject", decodeInto(func() Command { return &RenameProject{} }))
	register("SetProjectSetting", decodeInto(func() Command { return &SetProjectSetting{} }))
}

// RenameProject updates the project's display name.
type RenameProject struct {
	Name string `json:"name" validate:"required"`

	prevName string
}

func (c *RenameProject) TypeName() string { return "RenameProject" }

func (c *RenameProject) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *RenameProject) Execute(s *project.State) (*Result, error) {
	if strings.TrimSpace(c.Name) == "" {
		return nil, apperr.Validation("project name is empty")
	}

	c.prevName = s.Meta.Name
	s.Meta.Name = c.Name

	res := &Result{}
	res.addChange(events.ProjectModified, s.Meta.ID)
	return res, nil
}

func (c *RenameProject) Undo(s *project.State) error {
	s.Meta.Name = c.prevName
	return nil
}

// SetProjectSetting writes one project-scoped key/value pair. An empty
// value deletes the key.
type SetProjectSetting struct {
	Key   string `json:"key" validate:"required"`
	Value string `json:"value"`

	prevValue string
	hadValue  bool
}

func (c *SetProjectSetting) TypeName() string { return "SetProjectSetting" }

func (c *SetProjectSetting) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *SetProjectSetting) Execute(s *project.State) (*Result, error) {
	key := strings.TrimSpace(c.Key)
	if key == "" {
		return nil, apperr.Validation("setting key is empty")
	}
	if len(c.Value) > 4096 {
		return nil, apperr.Validation("setting value too long")
	}

	if s.Meta.Settings == nil {
		s.Meta.Settings = make(map[string]string)
	}
	c.prevValue, c.hadValue = s.Meta.Settings[key]

	if c.Value == "" {
		delete(s.Meta.Settings, key)
	} else {
		s.Meta.Settings[key] = c.Value
	}

	res := &Result{}
	res.addChange(events.ProjectModified, s.Meta.ID)
	return res, nil
}

func (c *SetProjectSetting) Undo(s *project.State) error {
	key := strings.TrimSpace(c.Key)
	if s.Meta.Settings == nil {
		s.Meta.Settings = make(map[string]string)
	}
	if c.hadValue {
		s.Meta.Settings[key] = c.prevValue
	} else {
		delete(s.Meta.Settings, key)
	}
	return nil
}
