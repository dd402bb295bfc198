// SPDX-License-Identifier: MIT

package worker

import (
	"bytes"
	"encoding/json"

	"github.com/go-playground/validator/v10"

	"github.com/openreelio/reelcore/internal/apperr"
)

// GenerateProxyPayload asks for a preview derivative of a video asset.
type GenerateProxyPayload struct {
	AssetID    string `json:"assetId" validate:"required"`
	SourcePath string `json:"sourcePath" validate:"required"`
	OutputPath string `json:"outputPath" validate:"required"`
	Height     int    `json:"height,omitempty" validate:"omitempty,gt=0,lte=2160"`
}

// GenerateThumbnailPayload asks for a poster frame.
type GenerateThumbnailPayload struct {
	AssetID    string  `json:"assetId" validate:"required"`
	SourcePath string  `json:"sourcePath" validate:"required"`
	OutputPath string  `json:"outputPath" validate:"required"`
	AtSec      float64 `json:"atSec,omitempty" validate:"omitempty,gte=0"`
	Width      int     `json:"width,omitempty" validate:"omitempty,gt=0,lte=4096"`
}

// ExtractAudioPayload asks for the demuxed audio stream of a video.
type ExtractAudioPayload struct {
	AssetID    string `json:"assetId" validate:"required"`
	SourcePath string `json:"sourcePath" validate:"required"`
	OutputPath string `json:"outputPath" validate:"required"`
}

// ProbeAssetPayload asks for media metadata extraction.
type ProbeAssetPayload struct {
	AssetID    string `json:"assetId" validate:"required"`
	SourcePath string `json:"sourcePath" validate:"required"`
}

// BuildShotIndexPayload asks for scene-cut detection over an asset.
type BuildShotIndexPayload struct {
	AssetID    string  `json:"assetId" validate:"required"`
	SourcePath string  `json:"sourcePath" validate:"required"`
	Threshold  float64 `json:"threshold,omitempty" validate:"omitempty,gt=0,lte=1"`
}

// TranscribePayload asks the speech-to-text engine for captions.
type TranscribePayload struct {
	AssetID    string `json:"assetId" validate:"required"`
	SourcePath string `json:"sourcePath" validate:"required"`
	Language   string `json:"language,omitempty"`
	ModelSize  string `json:"modelSize,omitempty" validate:"omitempty,oneof=tiny base small medium large"`
}

// RenderPayload asks for a sequence export.
type RenderPayload struct {
	SequenceID string `json:"sequenceId" validate:"required"`
	OutputPath string `json:"outputPath" validate:"required"`
	Format     string `json:"format,omitempty" validate:"omitempty,oneof=mp4 mov webm"`
	VideoCodec string `json:"videoCodec,omitempty"`
	AudioCodec string `json:"audioCodec,omitempty"`
}

var payloadValidate = validator.New(validator.WithRequiredStructEnabled())

// DecodePayload strictly parses a job payload into its typed form.
// Unknown fields are rejected, like command payloads.
func DecodePayload[T any](payload json.RawMessage) (*T, error) {
	var dst T
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&dst); err != nil {
		return nil, apperr.Validation("malformed job payload: %v", err)
	}
	if err := payloadValidate.Struct(&dst); err != nil {
		return nil, apperr.Validation("invalid job payload: %v", err)
	}
	return &dst, nil
}
