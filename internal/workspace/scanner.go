// SPDX-License-Identifier: MIT

package workspace

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openreelio/reelcore/internal/log"
	"github.com/openreelio/reelcore/internal/project"
)

// DefaultMaxDepth bounds recursive traversal below the project root.
const DefaultMaxDepth = 10

// MediaKindForExtension maps a file extension (without dot) to its asset
// kind. Unrecognised extensions return ok=false: they are not media.
func MediaKindForExtension(ext string) (project.AssetKind, bool) {
	switch strings.ToLower(ext) {
	case "mp4", "mov", "avi", "mkv", "webm", "m4v", "wmv", "flv":
		return project.AssetVideo, true
	case "mp3", "wav", "aac", "ogg", "flac", "m4a", "wma":
		return project.AssetAudio, true
	case "jpg", "jpeg", "png", "gif", "bmp", "webp", "tiff", "svg":
		return project.AssetImage, true
	case "srt", "vtt", "ass", "ssa", "sub":
		return project.AssetSubtitle, true
	case "ttf", "otf", "woff", "woff2":
		return project.AssetFont, true
	default:
		return "", false
	}
}

// DiscoveredFile is one media file found under the project root.
type DiscoveredFile struct {
	RelativePath string
	AbsolutePath string
	Kind         project.AssetKind
	FileSize     int64
	ModifiedAt   time.Time
}

// Scanner walks the project root for media files, bounded by depth and
// filtered by ignore rules.
type Scanner struct {
	root     string
	ignore   *IgnoreRules
	maxDepth int
	logger   zerolog.Logger
}

// NewScanner builds a scanner over projectRoot with the given rules.
// nil rules select the defaults.
func NewScanner(projectRoot string, ignore *IgnoreRules) *Scanner {
	if ignore == nil {
		ignore = DefaultIgnoreRules()
	}
	return &Scanner{
		root:     projectRoot,
		ignore:   ignore,
		maxDepth: DefaultMaxDepth,
		logger:   log.WithComponent("workspace"),
	}
}

// WithMaxDepth overrides the traversal depth bound.
func (s *Scanner) WithMaxDepth(depth int) *Scanner {
	if depth > 0 {
		s.maxDepth = depth
	}
	return s
}

// Scan walks the tree and returns every recognised media file, sorted by
// relative path. Unreadable entries are skipped with a warning.
func (s *Scanner) Scan() []DiscoveredFile {
	var found []DiscoveredFile

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("skipping unreadable entry")
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, rerr := filepath.Rel(s.root, path)
		if rerr != nil || rel == "." {
			return nil
		}
		slashRel := filepath.ToSlash(rel)

		if d.IsDir() {
			if strings.Count(slashRel, "/")+1 >= s.maxDepth {
				return filepath.SkipDir
			}
			if s.ignore.IsIgnored(slashRel) {
				return filepath.SkipDir
			}
			return nil
		}

		if f := s.examine(path, slashRel, d); f != nil {
			found = append(found, *f)
		}
		return nil
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("workspace scan aborted")
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].RelativePath < found[j].RelativePath
	})
	return found
}

// ScanPath examines a single path the watcher reported. Returns nil for
// non-media, ignored or unreadable files.
func (s *Scanner) ScanPath(path string) *DiscoveredFile {
	rel, err := filepath.Rel(s.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil
	}
	slashRel := filepath.ToSlash(rel)

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil
	}
	entry := fs.FileInfoToDirEntry(info)
	return s.examine(path, slashRel, entry)
}

func (s *Scanner) examine(path, slashRel string, d fs.DirEntry) *DiscoveredFile {
	if s.ignore.IsIgnored(slashRel) {
		return nil
	}

	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	kind, ok := MediaKindForExtension(ext)
	if !ok {
		return nil
	}

	info, err := d.Info()
	if err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("stat failed for discovered file")
		return nil
	}

	return &DiscoveredFile{
		RelativePath: slashRel,
		AbsolutePath: path,
		Kind:         kind,
		FileSize:     info.Size(),
		ModifiedAt:   info.ModTime(),
	}
}
