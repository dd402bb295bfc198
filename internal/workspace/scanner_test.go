// SPDX-License-Identifier: MIT

package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openreelio/reelcore/internal/project"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o750))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o600))
	}
}

func TestScanDiscoversOnlyMedia(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"footage/a.mp4":     "v",
		"footage/b.mov":     "v",
		".git/HEAD":         "ref",
		"node_modules/x.js": "js",
		"notes.txt":         "text",
	})

	found := NewScanner(root, nil).Scan()
	require.Len(t, found, 2)
	assert.Equal(t, "footage/a.mp4", found[0].RelativePath)
	assert.Equal(t, project.AssetVideo, found[0].Kind)
	assert.Equal(t, "footage/b.mov", found[1].RelativePath)
	assert.Equal(t, project.AssetVideo, found[1].Kind)
	assert.Equal(t, int64(1), found[0].FileSize)
	assert.True(t, filepath.IsAbs(found[0].AbsolutePath))
}

func TestScanDetectsAllKinds(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"v.webm":  "1",
		"a.flac":  "1",
		"i.jpeg":  "1",
		"s.vtt":   "1",
		"f.woff2": "1",
	})

	found := NewScanner(root, nil).Scan()
	kinds := map[string]project.AssetKind{}
	for _, f := range found {
		kinds[f.RelativePath] = f.Kind
	}
	assert.Equal(t, map[string]project.AssetKind{
		"v.webm":  project.AssetVideo,
		"a.flac":  project.AssetAudio,
		"i.jpeg":  project.AssetImage,
		"s.vtt":   project.AssetSubtitle,
		"f.woff2": project.AssetFont,
	}, kinds)
}

func TestScanRespectsMaxDepth(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a/b/c/d/e/deep.mp4": "v",
		"shallow.mp4":        "v",
	})

	found := NewScanner(root, nil).WithMaxDepth(3).Scan()
	require.Len(t, found, 1)
	assert.Equal(t, "shallow.mp4", found[0].RelativePath)
}

func TestScanCaseInsensitiveExtensions(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"CLIP.MP4": "v"})

	found := NewScanner(root, nil).Scan()
	require.Len(t, found, 1)
	assert.Equal(t, project.AssetVideo, found[0].Kind)
}

func TestScanPath(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"footage/a.mp4": "v",
		"notes.txt":     "t",
		"render.tmp":    "x",
	})

	s := NewScanner(root, nil)

	f := s.ScanPath(filepath.Join(root, "footage", "a.mp4"))
	require.NotNil(t, f)
	assert.Equal(t, "footage/a.mp4", f.RelativePath)

	assert.Nil(t, s.ScanPath(filepath.Join(root, "notes.txt")), "non-media")
	assert.Nil(t, s.ScanPath(filepath.Join(root, "render.tmp")), "ignored")
	assert.Nil(t, s.ScanPath(filepath.Join(root, "missing.mp4")), "nonexistent")
	assert.Nil(t, s.ScanPath(filepath.Join(t.TempDir(), "outside.mp4")), "outside root")
}

func TestMediaKindForExtension(t *testing.T) {
	kind, ok := MediaKindForExtension("MP4")
	require.True(t, ok)
	assert.Equal(t, project.AssetVideo, kind)

	kind, ok = MediaKindForExtension("wav")
	require.True(t, ok)
	assert.Equal(t, project.AssetAudio, kind)

	_, ok = MediaKindForExtension("exe")
	assert.False(t, ok)
}
