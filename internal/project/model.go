// SPDX-License-Identifier: MIT

// Package project owns the persistent editing state: the entity model, the
// append-only operation log, snapshots, and the in-memory ProjectState
// rebuilt by replay.
package project

import (
	"encoding/json"
	"fmt"
	"time"
)

// SchemaVersion is the on-disk schema version for projects and snapshots.
const SchemaVersion = 1

// Fraction is an exact rational, used for frame rates.
type Fraction struct {
	Num int `json:"num"`
	Den int `json:"den"`
}

// Float converts the fraction to a float64. Den of zero yields 0.
func (f Fraction) Float() float64 {
	if f.Den == 0 {
		return 0
	}
	return float64(f.Num) / float64(f.Den)
}

func (f Fraction) String() string {
	return fmt.Sprintf("%d/%d", f.Num, f.Den)
}

// AssetKind enumerates the media variants an asset can carry.
type AssetKind string

const (
	AssetVideo        AssetKind = "video"
	AssetAudio        AssetKind = "audio"
	AssetImage        AssetKind = "image"
	AssetSubtitle     AssetKind = "subtitle"
	AssetFont         AssetKind = "font"
	AssetEffectPreset AssetKind = "effectPreset"
	AssetMemePack     AssetKind = "memePack"
)

// ProxyStatus is the proxy state machine of a video asset.
type ProxyStatus string

const (
	ProxyNotNeeded  ProxyStatus = "notNeeded"
	ProxyPending    ProxyStatus = "pending"
	ProxyGenerating ProxyStatus = "generating"
	ProxyReady      ProxyStatus = "ready"
	ProxyFailed     ProxyStatus = "failed"
)

// CanTransitionTo reports whether the proxy state machine permits moving
// from s to next. Ready and Failed both fall back to Pending when the
// source changes and a regeneration is requested.
func (s ProxyStatus) CanTransitionTo(next ProxyStatus) bool {
	switch s {
	case ProxyNotNeeded:
		return next == ProxyPending
	case ProxyPending:
		return next == ProxyGenerating || next == ProxyNotNeeded
	case ProxyGenerating:
		return next == ProxyReady || next == ProxyFailed
	case ProxyReady, ProxyFailed:
		return next == ProxyPending || next == ProxyNotNeeded
	default:
		return false
	}
}

// VideoInfo carries probe metadata for video assets.
type VideoInfo struct {
	Width    int      `json:"width"`
	Height   int      `json:"height"`
	FPS      Fraction `json:"fps"`
	Codec    string   `json:"codec"`
	Bitrate  int64    `json:"bitrate,omitempty"`
	HasAlpha bool     `json:"hasAlpha"`
}

// AudioInfo carries probe metadata for audio assets.
type AudioInfo struct {
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
	Codec      string `json:"codec"`
	Bitrate    int64  `json:"bitrate,omitempty"`
}

// License captures provenance metadata for an imported asset.
type License struct {
	Source      string   `json:"source,omitempty"`
	Provider    string   `json:"provider,omitempty"`
	Kind        string   `json:"kind,omitempty"`
	AllowedUses []string `json:"allowedUses,omitempty"`
}

// Asset is a media file referenced by the project.
type Asset struct {
	ID           string      `json:"id"`
	Kind         AssetKind   `json:"kind"`
	Name         string      `json:"name"`
	URI          string      `json:"uri"`
	RelativePath string      `json:"relativePath,omitempty"`
	ContentHash  string      `json:"contentHash,omitempty"`
	SizeBytes    int64       `json:"sizeBytes"`
	ImportedAt   int64       `json:"importedAt"`
	DurationSec  float64     `json:"durationSec,omitempty"`
	Video        *VideoInfo  `json:"video,omitempty"`
	Audio        *AudioInfo  `json:"audio,omitempty"`
	License      License     `json:"license,omitempty"`
	ProxyStatus  ProxyStatus `json:"proxyStatus"`
	ProxyURI     string      `json:"proxyUri,omitempty"`
	ProxyError   string      `json:"proxyError,omitempty"`
}

// WorkspaceManaged reports whether the asset's canonical reference is a
// path relative to the project root.
func (a *Asset) WorkspaceManaged() bool {
	return a.RelativePath != ""
}

// Bin is a hierarchical folder for organising assets.
type Bin struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parentId,omitempty"`
	Color    string `json:"color,omitempty"`
	AssetIDs []string `json:"assetIds,omitempty"`
}

// SequenceFormat fixes the output geometry of a sequence.
type SequenceFormat struct {
	Width           int      `json:"width"`
	Height          int      `json:"height"`
	FPS             Fraction `json:"fps"`
	AudioSampleRate int      `json:"audioSampleRate"`
}

// Sequence is an ordered arrangement of tracks.
type Sequence struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Format   SequenceFormat `json:"format"`
	TrackIDs []string       `json:"trackIds"`
}

// TrackKind enumerates the track lanes.
type TrackKind string

const (
	TrackVideo   TrackKind = "video"
	TrackAudio   TrackKind = "audio"
	TrackCaption TrackKind = "caption"
	TrackOverlay TrackKind = "overlay"
)

// Track is one lane of a sequence holding non-overlapping clips.
type Track struct {
	ID         string    `json:"id"`
	SequenceID string    `json:"sequenceId"`
	Kind       TrackKind `json:"kind"`
	Name       string    `json:"name"`
	Order      int       `json:"order"`
	Muted      bool      `json:"muted"`
	Solo       bool      `json:"solo"`
	ClipIDs    []string  `json:"clipIds"`
}

// Clip places a slice of an asset on a track.
//
// Invariants: 0 <= SourceIn <= SourceOut; TimelineIn >= 0;
// DurationSec = max(0, SourceOut-SourceIn) after speed effects.
type Clip struct {
	ID          string   `json:"id"`
	AssetID     string   `json:"assetId"`
	TrackID     string   `json:"trackId"`
	SourceInSec float64  `json:"sourceInSec"`
	SourceOutSec float64 `json:"sourceOutSec"`
	TimelineInSec float64 `json:"timelineInSec"`
	DurationSec float64  `json:"durationSec"`
	EffectIDs   []string `json:"effectIds,omitempty"`
	MaskIDs     []string `json:"maskIds,omitempty"`
	Label       string   `json:"label,omitempty"`
	// Text payload for text/caption clips.
	Text *TextContent `json:"text,omitempty"`
}

// TimelineOutSec is the exclusive end of the clip on the timeline.
func (c *Clip) TimelineOutSec() float64 {
	return c.TimelineInSec + c.DurationSec
}

// TextContent is the renderable payload of a text or caption clip.
type TextContent struct {
	Content    string  `json:"content"`
	FontFamily string  `json:"fontFamily,omitempty"`
	FontSize   float64 `json:"fontSize,omitempty"`
	Color      string  `json:"color,omitempty"`
	PosX       float64 `json:"posX"`
	PosY       float64 `json:"posY"`
}

// Effect is a parameterised filter attached to a clip.
type Effect struct {
	ID          string            `json:"id"`
	ClipID      string            `json:"clipId"`
	Kind        string            `json:"kind"`
	Params      map[string]any    `json:"params,omitempty"`
	MaskGroupID string            `json:"maskGroupId,omitempty"`
}

// Mask limits where an effect applies.
type Mask struct {
	ID     string         `json:"id"`
	ClipID string         `json:"clipId"`
	Shape  string         `json:"shape"`
	Params map[string]any `json:"params,omitempty"`
	Inverted bool         `json:"inverted"`
}

// Caption is a timed subtitle entry on a caption track clip.
type Caption struct {
	ID       string  `json:"id"`
	ClipID   string  `json:"clipId"`
	StartSec float64 `json:"startSec"`
	EndSec   float64 `json:"endSec"`
	Text     string  `json:"text"`
	Speaker  string  `json:"speaker,omitempty"`
}

// Meta is the project header.
type Meta struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	RootPath          string            `json:"rootPath"`
	SchemaVersion     int               `json:"schemaVersion"`
	DefaultSequenceID string            `json:"defaultSequenceId,omitempty"`
	Settings          map[string]string `json:"settings,omitempty"`
	CreatedAt         int64             `json:"createdAt"`
	ModifiedAt        int64             `json:"modifiedAt"`
}

// Operation is one committed entry in the operation log.
type Operation struct {
	ID      string          `json:"id"`
	TS      int64           `json:"ts"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	PrevID  string          `json:"prevId,omitempty"`
}

// NowMillis returns the current unix time in milliseconds. Operations and
// snapshots persist timestamps in this unit.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
