// SPDX-License-Identifier: MIT

package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openreelio/reelcore/internal/apperr"
)

func validManifestJSON() []byte {
	return []byte(`{
		"id": "com.example.meme-pack",
		"name": "Meme Pack",
		"version": "1.2.0",
		"entry": "plugin.wasm",
		"permissions": {
			"fs": ["project:assets/downloaded/*", "read:fonts/", "temp:scratch"],
			"net": ["https://api.example.com/*"],
			"models": ["textEmbedding"]
		},
		"capabilities": ["AssetProvider"]
	}`)
}

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest(validManifestJSON())
	require.NoError(t, err)
	assert.Equal(t, "com.example.meme-pack", m.ID)
	assert.True(t, m.HasCapability(CapAssetProvider))
	assert.False(t, m.HasCapability(CapEditAssistant))
}

func TestParseManifestRejections(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{name: "empty id", json: `{"id":"","name":"X","version":"1.0.0","entry":"p.wasm","permissions":{}}`},
		{name: "uppercase id", json: `{"id":"Com.Example","name":"X","version":"1.0.0","entry":"p.wasm","permissions":{}}`},
		{name: "bad version", json: `{"id":"com.x","name":"X","version":"one","entry":"p.wasm","permissions":{}}`},
		{name: "absolute entry", json: `{"id":"com.x","name":"X","version":"1.0.0","entry":"/etc/p.wasm","permissions":{}}`},
		{name: "traversing entry", json: `{"id":"com.x","name":"X","version":"1.0.0","entry":"../p.wasm","permissions":{}}`},
		{name: "non wasm entry", json: `{"id":"com.x","name":"X","version":"1.0.0","entry":"p.dll","permissions":{}}`},
		{name: "unknown fs scope", json: `{"id":"com.x","name":"X","version":"1.0.0","entry":"p.wasm","permissions":{"fs":["exec:/bin"]}}`},
		{name: "fs entry without scope", json: `{"id":"com.x","name":"X","version":"1.0.0","entry":"p.wasm","permissions":{"fs":["assets"]}}`},
		{name: "non http net", json: `{"id":"com.x","name":"X","version":"1.0.0","entry":"p.wasm","permissions":{"net":["ftp://x"]}}`},
		{name: "unknown top-level field", json: `{"id":"com.x","name":"X","version":"1.0.0","entry":"p.wasm","permissions":{},"exec":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.json))
			require.Error(t, err)
			assert.True(t, apperr.IsKind(err, apperr.KindValidation))
		})
	}
}

func registeredManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager()
	manifest, err := ParseManifest(validManifestJSON())
	require.NoError(t, err)
	require.NoError(t, m.Register(manifest))
	return m
}

func TestCheckPatternShapes(t *testing.T) {
	m := registeredManager(t)
	const id = "com.example.meme-pack"

	tests := []struct {
		name     string
		scope    Scope
		resource string
		want     Status
	}{
		{name: "suffix wildcard hit", scope: ScopeProjectWrite, resource: "assets/downloaded/cat.png", want: Granted},
		{name: "suffix wildcard prefix itself", scope: ScopeProjectWrite, resource: "assets/downloaded", want: Granted},
		{name: "outside wildcard", scope: ScopeProjectWrite, resource: "assets/originals/cat.png", want: NotRequested},
		{name: "directory prefix hit", scope: ScopeFileRead, resource: "fonts/Inter.ttf", want: Granted},
		{name: "directory prefix miss", scope: ScopeFileRead, resource: "fontsextra/x.ttf", want: NotRequested},
		{name: "exact temp hit", scope: ScopeTemp, resource: "scratch", want: Granted},
		{name: "exact temp miss", scope: ScopeTemp, resource: "scratch/sub", want: NotRequested},
		{name: "url wildcard hit", scope: ScopeNetwork, resource: "https://api.example.com/v1/memes", want: Granted},
		{name: "url other host", scope: ScopeNetwork, resource: "https://evil.example.net/", want: NotRequested},
		{name: "model exact", scope: ScopeModel, resource: "textEmbedding", want: Granted},
		{name: "model other", scope: ScopeModel, resource: "imageGeneration", want: NotRequested},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Check(id, tt.scope, tt.resource))
		})
	}

	assert.Equal(t, NotRequested, m.Check("com.unknown", ScopeModel, "textEmbedding"))
}

func TestRevokeAndRestore(t *testing.T) {
	m := registeredManager(t)
	const id = "com.example.meme-pack"
	const resource = "textEmbedding"

	require.NoError(t, m.CheckModel(id, resource))

	m.Revoke(id, resource)
	assert.Equal(t, Denied, m.Check(id, ScopeModel, resource))
	err := m.CheckModel(id, resource)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindPermissionDenied))

	m.Restore(id, resource)
	require.NoError(t, m.CheckModel(id, resource))
}

func TestCheckPathRunsTraversalValidationFirst(t *testing.T) {
	m := registeredManager(t)
	const id = "com.example.meme-pack"

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "assets", "downloaded"), 0o750))
	m.SetProjectRoot(root)

	// Granted pattern, clean path.
	require.NoError(t, m.CheckPath(id, "assets/downloaded/cat.png", true))

	// Path traversal is rejected before any pattern matching.
	err := m.CheckPath(id, "../outside.png", true)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindPermissionDenied))

	// Clean path without a matching grant.
	err = m.CheckPath(id, "exports/out.mp4", true)
	require.Error(t, err)

	// No project open: everything is denied.
	m2 := registeredManager(t)
	assert.Error(t, m2.CheckPath(id, "assets/downloaded/cat.png", false))
}

func TestUnregisterDropsGrants(t *testing.T) {
	m := registeredManager(t)
	const id = "com.example.meme-pack"

	m.Unregister(id)
	assert.Equal(t, NotRequested, m.Check(id, ScopeModel, "textEmbedding"))
	assert.Empty(t, m.Grants(id))
}
