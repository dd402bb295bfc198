// SPDX-License-Identifier: MIT

// Package workspace discovers and tracks media files under a project
// root: recursive scanning, a SQLite-backed file index, and a debounced
// filesystem watcher, all filtered through gitignore-style rules.
package workspace

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/openreelio/reelcore/internal/log"
)

// IgnoreFileName is the user-editable rules file in the project root.
const IgnoreFileName = ".openreelignore"

// defaultIgnorePatterns always apply, before any user rules.
var defaultIgnorePatterns = []string{
	".openreelio/**",
	".git/**",
	"node_modules/**",
	"exports/**",
	"**/*.tmp",
	"**/*.part",
	"**/Thumbs.db",
	"**/.DS_Store",
	"**/*.lnk",
}

// IgnoreRules decides which paths are excluded from workspace scanning.
type IgnoreRules struct {
	patterns []string
}

// DefaultIgnoreRules returns only the built-in rule set.
func DefaultIgnoreRules() *IgnoreRules {
	return FromPatterns(defaultIgnorePatterns)
}

// LoadIgnoreRules combines the built-in defaults with the project's
// .openreelignore, when present. A missing file is not an error.
func LoadIgnoreRules(projectRoot string) *IgnoreRules {
	patterns := append([]string(nil), defaultIgnorePatterns...)

	f, err := os.Open(filepath.Join(projectRoot, IgnoreFileName))
	if err == nil {
		defer func() { _ = f.Close() }()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			patterns = append(patterns, line)
		}
	}

	return FromPatterns(patterns)
}

// FromPatterns compiles a pattern list, skipping invalid globs with a
// warning.
func FromPatterns(patterns []string) *IgnoreRules {
	logger := log.WithComponent("workspace")
	valid := make([]string, 0, len(patterns))
	for _, p := range patterns {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" {
			continue
		}
		if !doublestar.ValidatePattern(trimmed) {
			logger.Warn().Str("pattern", trimmed).Msg("skipping invalid ignore pattern")
			continue
		}
		valid = append(valid, trimmed)
	}
	return &IgnoreRules{patterns: valid}
}

// IsIgnored reports whether the forward-slash relative path matches any
// rule. Directory rules of the form "dir/**" also exclude the directory
// itself so scanners can prune descent.
func (r *IgnoreRules) IsIgnored(relativePath string) bool {
	rel := strings.TrimPrefix(filepath.ToSlash(relativePath), "./")
	if rel == "" || rel == "." {
		return false
	}
	for _, p := range r.patterns {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}
		if dir, found := strings.CutSuffix(p, "/**"); found {
			if rel == dir || strings.HasPrefix(rel, dir+"/") {
				return true
			}
		}
	}
	return false
}

// Patterns returns the active rule list.
func (r *IgnoreRules) Patterns() []string {
	return append([]string(nil), r.patterns...)
}

// DefaultIgnoreFileContent is written when a project asks for a starter
// .openreelignore.
func DefaultIgnoreFileContent() string {
	var b strings.Builder
	b.WriteString("# OpenReelio workspace ignore rules\n")
	b.WriteString("# Files and directories matching these patterns are excluded from workspace scanning.\n")
	b.WriteString("# Syntax: gitignore-compatible glob patterns\n\n")
	for _, p := range defaultIgnorePatterns {
		b.WriteString(p)
		b.WriteString("\n")
	}
	return b.String()
}
