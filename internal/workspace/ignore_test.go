// SPDX-License-Identifier: MIT

package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRulesConformance(t *testing.T) {
	rules := DefaultIgnoreRules()

	ignored := []string{
		".openreelio/ops.jsonl",
		".openreelio/snapshots/01ABC.json",
		".git/HEAD",
		".git/objects/ab/cdef",
		"node_modules/x.js",
		"node_modules/pkg/dist/index.js",
		"exports/final.mp4",
		"render.tmp",
		"footage/partial.part",
		"Thumbs.db",
		"footage/Thumbs.db",
		".DS_Store",
		"footage/.DS_Store",
		"shortcut.lnk",
	}
	for _, p := range ignored {
		assert.True(t, rules.IsIgnored(p), "%s should be ignored", p)
	}

	kept := []string{
		"footage/a.mp4",
		"footage/b.mov",
		"audio/track.wav",
		"notes.txt",
		"stills/frame.png",
	}
	for _, p := range kept {
		assert.False(t, rules.IsIgnored(p), "%s should not be ignored", p)
	}
}

func TestLoadIgnoreRulesMergesUserFile(t *testing.T) {
	root := t.TempDir()
	content := "# comment\n\nraw/**\n*.backup\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, IgnoreFileName), []byte(content), 0o600))

	rules := LoadIgnoreRules(root)
	assert.True(t, rules.IsIgnored("raw/clip.mp4"))
	assert.True(t, rules.IsIgnored("project.backup"))
	// Defaults still apply.
	assert.True(t, rules.IsIgnored(".git/HEAD"))
	assert.False(t, rules.IsIgnored("footage/a.mp4"))
}

func TestFromPatternsSkipsInvalid(t *testing.T) {
	rules := FromPatterns([]string{"good/**", "[bad", ""})
	assert.Equal(t, []string{"good/**"}, rules.Patterns())
}

func TestDefaultIgnoreFileContent(t *testing.T) {
	content := DefaultIgnoreFileContent()
	assert.Contains(t, content, ".openreelio/**")
	assert.Contains(t, content, "node_modules/**")
	assert.Contains(t, content, "#")
}
