// SPDX-License-Identifier: MIT

package workspace

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openreelio/reelcore/internal/apperr"
	"github.com/openreelio/reelcore/internal/fsutil"
	"github.com/openreelio/reelcore/internal/log"
	"github.com/openreelio/reelcore/internal/metrics"
	"github.com/openreelio/reelcore/internal/project"
)

const indexFileName = "workspace_index.db"

// ScanResult summarises one initial scan.
type ScanResult struct {
	Total      int `json:"total"`
	New        int `json:"new"`
	Removed    int `json:"removed"`
	Registered int `json:"registered"`
}

// FileTreeEntry is one node of the UI-facing workspace tree.
type FileTreeEntry struct {
	Name     string            `json:"name"`
	Path     string            `json:"path"`
	IsDir    bool              `json:"isDir"`
	Kind     project.AssetKind `json:"kind,omitempty"`
	FileSize int64             `json:"fileSize,omitempty"`
	AssetID  string            `json:"assetId,omitempty"`
	Children []FileTreeEntry   `json:"children,omitempty"`
}

// Service is the workspace façade: scanner, index and watcher behind one
// handle.
type Service struct {
	root    string
	ignore  *IgnoreRules
	scanner *Scanner
	index   *Index
	watcher *Watcher
	logger  zerolog.Logger
}

// Open prepares the workspace service for a project root. The index
// database lives in the project's meta directory.
func Open(projectRoot string) (*Service, error) {
	ignore := LoadIgnoreRules(projectRoot)

	metaDir := filepath.Join(projectRoot, project.MetaDirName)
	if err := os.MkdirAll(metaDir, 0o750); err != nil {
		return nil, apperr.IO("create project meta dir", err)
	}

	idx, err := OpenIndex(filepath.Join(metaDir, indexFileName))
	if err != nil {
		return nil, apperr.IO("open workspace index", err)
	}

	return &Service{
		root:    projectRoot,
		ignore:  ignore,
		scanner: NewScanner(projectRoot, ignore),
		index:   idx,
		logger:  log.WithComponent("workspace"),
	}, nil
}

// Close stops watching and releases the index.
func (s *Service) Close() error {
	s.StopWatching()
	return s.index.Close()
}

// Root returns the project root the service is bound to.
func (s *Service) Root() string { return s.root }

// Index exposes the underlying index for read access.
func (s *Service) Index() *Index { return s.index }

// ResolvePath confines a project-relative path to the root, guarding
// against traversal and symlink escape.
func (s *Service) ResolvePath(relative string) (string, error) {
	resolved, err := fsutil.ConfineRelPath(s.root, relative)
	if err != nil {
		return "", apperr.PermissionDenied("fs", relative).WithCause(err)
	}
	return resolved, nil
}

// InitialScan discovers every media file, refreshes the index, and drops
// rows whose files vanished while the project was closed.
func (s *Service) InitialScan(ctx context.Context) (*ScanResult, error) {
	discovered := s.scanner.Scan()

	existing, err := s.index.All(ctx)
	if err != nil {
		return nil, apperr.IO("read workspace index", err)
	}
	existingByPath := make(map[string]IndexEntry, len(existing))
	for _, e := range existing {
		existingByPath[e.RelativePath] = e
	}

	result := &ScanResult{Total: len(discovered)}
	now := time.Now()

	seen := make(map[string]bool, len(discovered))
	for _, f := range discovered {
		seen[f.RelativePath] = true
		if _, known := existingByPath[f.RelativePath]; !known {
			result.New++
		}
		if err := s.index.Upsert(ctx, IndexEntry{
			RelativePath: f.RelativePath,
			Kind:         f.Kind,
			FileSize:     f.FileSize,
			ModifiedAt:   f.ModifiedAt,
			IndexedAt:    now,
		}); err != nil {
			return nil, apperr.IO("upsert workspace index", err)
		}
	}

	for path, entry := range existingByPath {
		if seen[path] {
			if entry.AssetID != "" {
				result.Registered++
			}
			continue
		}
		if err := s.index.Remove(ctx, path); err != nil {
			return nil, apperr.IO("prune workspace index", err)
		}
		result.Removed++
	}

	metrics.SetWorkspaceFiles(result.Total)
	s.logger.Info().
		Int("total", result.Total).
		Int("new", result.New).
		Int("removed", result.Removed).
		Int("registered", result.Registered).
		Msg("workspace scan complete")
	return result, nil
}

// StartWatching begins emitting debounced events. The returned channel is
// the single consumer surface; it closes on StopWatching.
func (s *Service) StartWatching(ctx context.Context) (<-chan Event, error) {
	if s.watcher != nil {
		return s.watcher.Events(), nil
	}

	entries, err := s.index.All(ctx)
	if err != nil {
		return nil, apperr.IO("read workspace index", err)
	}
	known := make([]string, len(entries))
	for i, e := range entries {
		known[i] = e.RelativePath
	}

	w, err := NewWatcher(s.root, s.ignore, known)
	if err != nil {
		return nil, apperr.IO("create workspace watcher", err)
	}
	if err := w.Start(); err != nil {
		return nil, apperr.IO("start workspace watcher", err)
	}
	s.watcher = w
	return w.Events(), nil
}

// StopWatching tears down the watcher, if any.
func (s *Service) StopWatching() {
	if s.watcher != nil {
		s.watcher.Stop()
		s.watcher = nil
	}
}

// HandleEvent folds one watcher event into the index. For removals it
// returns the asset id that was bound to the path (empty when none), so
// the caller can issue a RemoveAsset command through the pipeline.
func (s *Service) HandleEvent(ctx context.Context, ev Event) (boundAssetID string, err error) {
	switch ev.Kind {
	case FileAdded, FileModified:
		f := s.scanner.ScanPath(ev.AbsolutePath)
		if f == nil {
			return "", nil
		}
		return "", s.index.Upsert(ctx, IndexEntry{
			RelativePath: f.RelativePath,
			Kind:         f.Kind,
			FileSize:     f.FileSize,
			ModifiedAt:   f.ModifiedAt,
			IndexedAt:    time.Now(),
		})

	case FileRemoved:
		entry, err := s.index.Get(ctx, ev.RelativePath)
		if err != nil {
			return "", err
		}
		if entry == nil {
			return "", nil
		}
		if err := s.index.Remove(ctx, ev.RelativePath); err != nil {
			return "", err
		}
		return entry.AssetID, nil
	}
	return "", nil
}

// RegisterAsset binds a discovered file to an imported asset.
func (s *Service) RegisterAsset(ctx context.Context, relativePath, assetID string) error {
	entry, err := s.index.Get(ctx, relativePath)
	if err != nil {
		return apperr.IO("read workspace index", err)
	}
	if entry == nil {
		return apperr.NotFound("workspaceFile", relativePath)
	}
	return s.index.MarkRegistered(ctx, relativePath, assetID)
}

// ReleaseAsset clears the binding for a removed asset.
func (s *Service) ReleaseAsset(ctx context.Context, assetID string) error {
	return s.index.UnmarkRegisteredByAssetID(ctx, assetID)
}

// FileTree builds the hierarchical view of indexed files for the UI.
func (s *Service) FileTree(ctx context.Context) ([]FileTreeEntry, error) {
	entries, err := s.index.All(ctx)
	if err != nil {
		return nil, apperr.IO("read workspace index", err)
	}
	return buildFileTree(entries), nil
}

func buildFileTree(entries []IndexEntry) []FileTreeEntry {
	type dirNode struct {
		children map[string]*dirNode
		files    []FileTreeEntry
	}
	root := &dirNode{children: map[string]*dirNode{}}

	for _, e := range entries {
		parts := strings.Split(e.RelativePath, "/")
		node := root
		for _, dir := range parts[:len(parts)-1] {
			child, ok := node.children[dir]
			if !ok {
				child = &dirNode{children: map[string]*dirNode{}}
				node.children[dir] = child
			}
			node = child
		}
		node.files = append(node.files, FileTreeEntry{
			Name:     parts[len(parts)-1],
			Path:     e.RelativePath,
			Kind:     e.Kind,
			FileSize: e.FileSize,
			AssetID:  e.AssetID,
		})
	}

	var build func(prefix string, node *dirNode) []FileTreeEntry
	build = func(prefix string, node *dirNode) []FileTreeEntry {
		var out []FileTreeEntry
		names := make([]string, 0, len(node.children))
		for name := range node.children {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			dirPath := name
			if prefix != "" {
				dirPath = prefix + "/" + name
			}
			out = append(out, FileTreeEntry{
				Name:     name,
				Path:     dirPath,
				IsDir:    true,
				Children: build(dirPath, node.children[name]),
			})
		}
		sort.Slice(node.files, func(i, j int) bool { return node.files[i].Name < node.files[j].Name })
		out = append(out, node.files...)
		return out
	}
	return build("", root)
}
