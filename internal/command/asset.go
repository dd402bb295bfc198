// SPDX-License-Identifier: MIT

package command

import (
	"encoding/json"
	"path"
	"strings"

	"github.com/openreelio/reelcore/internal/apperr"
	"github.com/openreelio/reelcore/internal/events"
	"github.com/openreelio/reelcore/internal/ids"
	"github.com/openreelio/reelcore/internal/project"
)

func init() {
	register("ImportAsset", decodeInto(func() Command { return &ImportAsset{} }))
	register("UpdateAsset", decodeInto(func() Command { return &UpdateAsset{} }))
	register("RemoveAsset", decodeInto(func() Command { return &RemoveAsset{} }))
	register("SetProxyStatus", decodeInto(func() Command { return &SetProxyStatus{} }))
}

// ImportAsset registers a media file with the project. URIs under the
// project root are persisted as forward-slash relative paths; external
// URIs stay absolute. The path itself was validated by the caller (the
// workspace service or the IPC surface) before the command was built, so
// Execute is purely lexical and replays without touching the filesystem.
type ImportAsset struct {
	AssetID      string              `json:"assetId,omitempty"`
	Kind         project.AssetKind   `json:"kind" validate:"required"`
	Name         string              `json:"name" validate:"required"`
	URI          string              `json:"uri" validate:"required"`
	ContentHash  string              `json:"contentHash,omitempty"`
	SizeBytes    int64               `json:"sizeBytes" validate:"gte=0"`
	DurationSec  float64             `json:"durationSec,omitempty" validate:"omitempty,finite,gte=0"`
	Video        *project.VideoInfo  `json:"video,omitempty"`
	Audio        *project.AudioInfo  `json:"audio,omitempty"`
	License      project.License     `json:"license,omitempty"`
	ImportedAt   int64               `json:"importedAt,omitempty"`
}

func (c *ImportAsset) TypeName() string { return "ImportAsset" }

func (c *ImportAsset) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func validAssetKind(k project.AssetKind) bool {
	switch k {
	case project.AssetVideo, project.AssetAudio, project.AssetImage,
		project.AssetSubtitle, project.AssetFont,
		project.AssetEffectPreset, project.AssetMemePack:
		return true
	}
	return false
}

func (c *ImportAsset) Execute(s *project.State) (*Result, error) {
	if err := checkID("assetId", c.AssetID, true); err != nil {
		return nil, err
	}
	if !validAssetKind(c.Kind) {
		return nil, apperr.Validation("unknown asset kind: %s", c.Kind)
	}
	if strings.TrimSpace(c.Name) == "" {
		return nil, apperr.Validation("asset name is empty")
	}
	if c.DurationSec != 0 {
		if err := checkTime("durationSec", c.DurationSec); err != nil {
			return nil, err
		}
	}

	if c.ContentHash != "" {
		if existing, dup := s.AssetByHash(c.ContentHash); dup {
			return nil, apperr.Conflict("duplicateAsset",
				"content already imported as asset %s", existing)
		}
	}

	if c.AssetID == "" {
		c.AssetID = ids.New()
	}
	if _, dup := s.Assets[c.AssetID]; dup {
		return nil, apperr.Conflict("duplicateId", "asset id %s already exists", c.AssetID)
	}
	if c.ImportedAt == 0 {
		c.ImportedAt = project.NowMillis()
	}

	uri, relPath := normaliseAssetURI(s.Meta.RootPath, c.URI)
	c.URI = uri

	asset := &project.Asset{
		ID:           c.AssetID,
		Kind:         c.Kind,
		Name:         c.Name,
		URI:          uri,
		RelativePath: relPath,
		ContentHash:  c.ContentHash,
		SizeBytes:    c.SizeBytes,
		ImportedAt:   c.ImportedAt,
		DurationSec:  c.DurationSec,
		Video:        c.Video,
		Audio:        c.Audio,
		License:      c.License,
		ProxyStatus:  project.ProxyNotNeeded,
	}
	if asset.Kind == project.AssetVideo {
		asset.ProxyStatus = project.ProxyPending
	}

	s.Assets[asset.ID] = asset
	s.IndexAssetHash(asset)

	res := &Result{CreatedIDs: []string{asset.ID}}
	res.addChange(events.AssetAdded, asset.ID)
	return res, nil
}

func (c *ImportAsset) Undo(s *project.State) error {
	asset, ok := s.Assets[c.AssetID]
	if !ok {
		return apperr.NotFound("asset", c.AssetID)
	}
	s.DropAssetHash(asset)
	delete(s.Assets, c.AssetID)
	return nil
}

// normaliseAssetURI applies the URI storage policy lexically: a URI under
// the project root becomes a forward-slash relative path, anything else is
// kept as given.
func normaliseAssetURI(root, uri string) (string, string) {
	slashURI := strings.ReplaceAll(uri, "\\", "/")
	slashRoot := strings.TrimRight(strings.ReplaceAll(root, "\\", "/"), "/")
	if slashRoot != "" && strings.HasPrefix(slashURI, slashRoot+"/") {
		rel := path.Clean(strings.TrimPrefix(slashURI, slashRoot+"/"))
		if rel != "." && rel != ".." && !strings.HasPrefix(rel, "../") {
			return rel, rel
		}
	}
	if !strings.Contains(slashURI, "://") && !path.IsAbs(slashURI) {
		// Already relative: keep it workspace-managed.
		rel := path.Clean(slashURI)
		if rel != "." && rel != ".." && !strings.HasPrefix(rel, "../") {
			return rel, rel
		}
	}
	return uri, ""
}

// UpdateAsset patches asset metadata. Omitted fields stay untouched.
type UpdateAsset struct {
	AssetID     string             `json:"assetId" validate:"required"`
	Name        *string            `json:"name,omitempty"`
	DurationSec *float64           `json:"durationSec,omitempty"`
	ContentHash *string            `json:"contentHash,omitempty"`
	Video       *project.VideoInfo `json:"video,omitempty"`
	Audio       *project.AudioInfo `json:"audio,omitempty"`
	License     *project.License   `json:"license,omitempty"`

	prev project.Asset
}

func (c *UpdateAsset) TypeName() string { return "UpdateAsset" }

func (c *UpdateAsset) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *UpdateAsset) Execute(s *project.State) (*Result, error) {
	if err := checkID("assetId", c.AssetID, false); err != nil {
		return nil, err
	}
	if c.DurationSec != nil {
		if err := checkTime("durationSec", *c.DurationSec); err != nil {
			return nil, err
		}
	}
	if c.Name != nil && strings.TrimSpace(*c.Name) == "" {
		return nil, apperr.Validation("asset name is empty")
	}

	asset, ok := s.Assets[c.AssetID]
	if !ok {
		return nil, apperr.NotFound("asset", c.AssetID)
	}

	c.prev = *asset

	if c.Name != nil {
		asset.Name = *c.Name
	}
	if c.DurationSec != nil {
		asset.DurationSec = *c.DurationSec
	}
	if c.ContentHash != nil {
		s.DropAssetHash(asset)
		asset.ContentHash = *c.ContentHash
		s.IndexAssetHash(asset)
	}
	if c.Video != nil {
		asset.Video = c.Video
	}
	if c.Audio != nil {
		asset.Audio = c.Audio
	}
	if c.License != nil {
		asset.License = *c.License
	}

	res := &Result{}
	res.addChange(events.AssetModified, asset.ID)
	return res, nil
}

func (c *UpdateAsset) Undo(s *project.State) error {
	asset, ok := s.Assets[c.AssetID]
	if !ok {
		return apperr.NotFound("asset", c.AssetID)
	}
	s.DropAssetHash(asset)
	restored := c.prev
	*asset = restored
	s.IndexAssetHash(asset)
	return nil
}

// RemoveAsset deletes an asset from the project. Clips must be removed
// first; the command fails while any clip still references the asset.
// Undo restores metadata only, never files on disk.
type RemoveAsset struct {
	AssetID string `json:"assetId" validate:"required"`

	prev project.Asset
}

func (c *RemoveAsset) TypeName() string { return "RemoveAsset" }

func (c *RemoveAsset) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *RemoveAsset) Execute(s *project.State) (*Result, error) {
	if err := checkID("assetId", c.AssetID, false); err != nil {
		return nil, err
	}

	asset, ok := s.Assets[c.AssetID]
	if !ok {
		return nil, apperr.NotFound("asset", c.AssetID)
	}
	if clipID, used := s.AssetInUse(c.AssetID); used {
		return nil, apperr.Conflict("assetInUse",
			"asset %s is referenced by clip %s", c.AssetID, clipID)
	}

	c.prev = *asset
	s.DropAssetHash(asset)
	delete(s.Assets, c.AssetID)

	// Drop the asset from any bin listing it.
	var binChanges []string
	for _, bin := range s.Bins {
		for i, id := range bin.AssetIDs {
			if id == c.AssetID {
				bin.AssetIDs = append(bin.AssetIDs[:i], bin.AssetIDs[i+1:]...)
				binChanges = append(binChanges, bin.ID)
				break
			}
		}
	}

	res := &Result{DeletedIDs: []string{c.AssetID}}
	res.addChange(events.AssetRemoved, c.AssetID)
	for _, id := range binChanges {
		res.addChange(events.BinModified, id)
	}
	return res, nil
}

func (c *RemoveAsset) Undo(s *project.State) error {
	restored := c.prev
	s.Assets[restored.ID] = &restored
	s.IndexAssetHash(&restored)
	return nil
}

// SetProxyStatus advances an asset's proxy state machine. Worker jobs
// report proxy outcomes through this command so the transition lands in
// the log like any other edit.
type SetProxyStatus struct {
	AssetID  string              `json:"assetId" validate:"required"`
	Status   project.ProxyStatus `json:"status" validate:"required"`
	ProxyURI string              `json:"proxyUri,omitempty"`
	Error    string              `json:"error,omitempty"`

	prevStatus project.ProxyStatus
	prevURI    string
	prevError  string
}

func (c *SetProxyStatus) TypeName() string { return "SetProxyStatus" }

func (c *SetProxyStatus) MarshalPayload() (json.RawMessage, error) { return marshalSelf(c) }

func (c *SetProxyStatus) Execute(s *project.State) (*Result, error) {
	if err := checkID("assetId", c.AssetID, false); err != nil {
		return nil, err
	}
	switch c.Status {
	case project.ProxyNotNeeded, project.ProxyPending, project.ProxyGenerating,
		project.ProxyReady, project.ProxyFailed:
	default:
		return nil, apperr.Validation("unknown proxy status: %s", c.Status)
	}
	if c.Status == project.ProxyReady && c.ProxyURI == "" {
		return nil, apperr.Validation("ready proxy requires proxyUri")
	}

	asset, ok := s.Assets[c.AssetID]
	if !ok {
		return nil, apperr.NotFound("asset", c.AssetID)
	}
	if !asset.ProxyStatus.CanTransitionTo(c.Status) {
		return nil, apperr.Conflict("proxyTransition",
			"proxy cannot move from %s to %s", asset.ProxyStatus, c.Status)
	}

	c.prevStatus = asset.ProxyStatus
	c.prevURI = asset.ProxyURI
	c.prevError = asset.ProxyError

	asset.ProxyStatus = c.Status
	switch c.Status {
	case project.ProxyReady:
		asset.ProxyURI = c.ProxyURI
		asset.ProxyError = ""
	case project.ProxyFailed:
		asset.ProxyError = c.Error
	default:
		asset.ProxyURI = ""
		asset.ProxyError = ""
	}

	res := &Result{}
	res.addChange(events.AssetModified, asset.ID)
	return res, nil
}

func (c *SetProxyStatus) Undo(s *project.State) error {
	asset, ok := s.Assets[c.AssetID]
	if !ok {
		return apperr.NotFound("asset", c.AssetID)
	}
	asset.ProxyStatus = c.prevStatus
	asset.ProxyURI = c.prevURI
	asset.ProxyError = c.prevError
	return nil
}
