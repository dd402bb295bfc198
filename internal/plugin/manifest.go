// SPDX-License-Identifier: MIT

// Package plugin owns the authorisation model for third-party
// extensions: manifest parsing, capability declarations, and runtime
// permission checks. Executing plugin bytecode is the host's job; every
// host call is pre-validated here.
package plugin

import (
	"bytes"
	"encoding/json"
	"path"
	"regexp"
	"strings"

	"github.com/openreelio/reelcore/internal/apperr"
)

// Capability names an interface a plugin implements.
type Capability string

const (
	CapAssetProvider        Capability = "AssetProvider"
	CapEditAssistant        Capability = "EditAssistant"
	CapEffectPresetProvider Capability = "EffectPresetProvider"
	CapCaptionStyleProvider Capability = "CaptionStyleProvider"
	CapTemplateProvider     Capability = "TemplateProvider"
)

// Permissions declares what a plugin wants, straight from its manifest.
type Permissions struct {
	// FS entries carry a scope prefix: "project:path", "read:path",
	// "write:path", "temp:path".
	FS []string `json:"fs,omitempty"`

	// Net entries are URL patterns and must start with http:// or
	// https://.
	Net []string `json:"net,omitempty"`

	// Models are free-form capability names, matched exactly.
	Models []string `json:"models,omitempty"`
}

// Manifest describes one plugin. Loaded from the plugin.json bundled
// next to the wasm entry point.
type Manifest struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Version       string          `json:"version"`
	Description   string          `json:"description,omitempty"`
	Author        string          `json:"author,omitempty"`
	Homepage      string          `json:"homepage,omitempty"`
	Entry         string          `json:"entry"`
	Permissions   Permissions     `json:"permissions"`
	Capabilities  []Capability    `json:"capabilities,omitempty"`
	ConfigSchema  json.RawMessage `json:"configSchema,omitempty"`
	MinAppVersion string          `json:"minAppVersion,omitempty"`
}

var (
	pluginIDPattern = regexp.MustCompile(`^[a-z0-9]+(?:[.-][a-z0-9]+)*$`)
	semverPattern   = regexp.MustCompile(`^\d+\.\d+\.\d+(?:[-+][0-9A-Za-z.-]+)?$`)
)

// ParseManifest decodes and validates a manifest document. Unknown
// top-level fields and unknown permission scopes are rejected.
func ParseManifest(data []byte) (*Manifest, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, apperr.Validation("invalid manifest JSON: %v", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest's structural rules.
func (m *Manifest) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return apperr.Validation("plugin id cannot be empty")
	}
	if !pluginIDPattern.MatchString(m.ID) {
		return apperr.Validation("plugin id %q must be lowercase dotted/dashed segments", m.ID)
	}
	if strings.TrimSpace(m.Name) == "" {
		return apperr.Validation("plugin name cannot be empty")
	}
	if !semverPattern.MatchString(m.Version) {
		return apperr.Validation("plugin version %q is not a semantic version", m.Version)
	}
	if m.MinAppVersion != "" && !semverPattern.MatchString(m.MinAppVersion) {
		return apperr.Validation("minAppVersion %q is not a semantic version", m.MinAppVersion)
	}

	entry := strings.TrimSpace(m.Entry)
	if entry == "" {
		return apperr.Validation("plugin entry cannot be empty")
	}
	if path.IsAbs(entry) || strings.HasPrefix(entry, "../") || entry == ".." {
		return apperr.Validation("plugin entry must be a relative path inside the bundle")
	}
	if !strings.HasSuffix(entry, ".wasm") {
		return apperr.Validation("plugin entry must be a .wasm file")
	}

	for _, fs := range m.Permissions.FS {
		scope, _, found := strings.Cut(fs, ":")
		if !found {
			return apperr.Validation("fs permission %q missing scope prefix", fs)
		}
		switch scope {
		case "project", "read", "write", "temp":
		default:
			return apperr.Validation("fs permission %q has unknown scope %q", fs, scope)
		}
	}
	for _, n := range m.Permissions.Net {
		if !strings.HasPrefix(n, "http://") && !strings.HasPrefix(n, "https://") {
			return apperr.Validation("net permission %q must start with http:// or https://", n)
		}
	}
	return nil
}

// HasCapability reports whether the manifest declares cap.
func (m *Manifest) HasCapability(cap Capability) bool {
	for _, c := range m.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}
