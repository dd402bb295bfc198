// SPDX-License-Identifier: MIT

package plugin

import (
	"strings"
	"sync"

	"github.com/openreelio/reelcore/internal/apperr"
	"github.com/openreelio/reelcore/internal/fsutil"
)

// Scope classifies a permission check.
type Scope string

const (
	ScopeProjectWrite Scope = "projectWrite"
	ScopeFileRead     Scope = "fileRead"
	ScopeFileWrite    Scope = "fileWrite"
	ScopeTemp         Scope = "temp"
	ScopeNetwork      Scope = "network"
	ScopeModel        Scope = "model"
)

// Status is the outcome of a permission check.
type Status string

const (
	Granted      Status = "granted"
	Denied       Status = "denied"
	NotRequested Status = "notRequested"
)

// grant is one declared permission.
type grant struct {
	scope   Scope
	pattern string
}

// matches applies the three supported glob shapes: exact, suffix
// wildcard ("prefix/*" or "prefix*"), and directory prefix ("prefix/").
// Anything else is an exact match.
func (g grant) matches(scope Scope, resource string) bool {
	if g.scope != scope {
		return false
	}
	p := g.pattern

	if p == resource {
		return true
	}
	if prefix, found := strings.CutSuffix(p, "/*"); found {
		return strings.HasPrefix(resource, prefix)
	}
	if prefix, found := strings.CutSuffix(p, "*"); found {
		return strings.HasPrefix(resource, prefix)
	}
	if strings.HasSuffix(p, "/") {
		return strings.HasPrefix(resource, p)
	}
	return false
}

// Manager tracks declared grants and runtime revocations for every
// registered plugin. Revocations are per-resource and in-memory only;
// a restart restores the manifest's declarations.
type Manager struct {
	mu          sync.RWMutex
	grants      map[string][]grant
	revoked     map[string]map[string]bool
	projectRoot string
}

// NewManager returns an empty permission manager.
func NewManager() *Manager {
	return &Manager{
		grants:  make(map[string][]grant),
		revoked: make(map[string]map[string]bool),
	}
}

// SetProjectRoot binds path checks to the open project.
func (m *Manager) SetProjectRoot(root string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projectRoot = root
}

// Register parses a manifest's permission declarations into live grants.
func (m *Manager) Register(manifest *Manifest) error {
	if err := manifest.Validate(); err != nil {
		return err
	}

	var grants []grant
	for _, fs := range manifest.Permissions.FS {
		scopeName, pattern, _ := strings.Cut(fs, ":")
		var scope Scope
		switch scopeName {
		case "project":
			scope = ScopeProjectWrite
		case "read":
			scope = ScopeFileRead
		case "write":
			scope = ScopeFileWrite
		case "temp":
			scope = ScopeTemp
		}
		grants = append(grants, grant{scope: scope, pattern: pattern})
	}
	for _, n := range manifest.Permissions.Net {
		grants = append(grants, grant{scope: ScopeNetwork, pattern: n})
	}
	for _, model := range manifest.Permissions.Models {
		grants = append(grants, grant{scope: ScopeModel, pattern: model})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants[manifest.ID] = grants
	return nil
}

// Unregister drops a plugin's grants and revocations.
func (m *Manager) Unregister(pluginID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.grants, pluginID)
	delete(m.revoked, pluginID)
}

// Check resolves a plugin's access to a resource. Revocation beats any
// matching grant; an unknown plugin or unmatched resource is
// NotRequested (implicit deny).
func (m *Manager) Check(pluginID string, scope Scope, resource string) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if revoked, ok := m.revoked[pluginID]; ok && revoked[resource] {
		return Denied
	}

	grants, ok := m.grants[pluginID]
	if !ok {
		return NotRequested
	}
	for _, g := range grants {
		if g.matches(scope, resource) {
			return Granted
		}
	}
	return NotRequested
}

// Require is Check with a typed error for anything but Granted.
func (m *Manager) Require(pluginID string, scope Scope, resource string) error {
	switch m.Check(pluginID, scope, resource) {
	case Granted:
		return nil
	case Denied:
		return apperr.PermissionDenied(string(scope), resource).
			WithDetail("pluginId", pluginID).WithDetail("revoked", true)
	default:
		return apperr.PermissionDenied(string(scope), resource).
			WithDetail("pluginId", pluginID)
	}
}

// Revoke denies one resource for one plugin until restored.
func (m *Manager) Revoke(pluginID, resource string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.revoked[pluginID] == nil {
		m.revoked[pluginID] = make(map[string]bool)
	}
	m.revoked[pluginID][resource] = true
}

// Restore lifts a revocation.
func (m *Manager) Restore(pluginID, resource string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if revoked, ok := m.revoked[pluginID]; ok {
		delete(revoked, resource)
	}
}

// CheckPath authorises filesystem access to a project-relative path. The
// path passes the same traversal validation as every other filesystem
// consumer before the pattern check runs.
func (m *Manager) CheckPath(pluginID string, relative string, write bool) error {
	m.mu.RLock()
	root := m.projectRoot
	m.mu.RUnlock()
	if root == "" {
		return apperr.PermissionDenied("fs", relative).WithDetail("reason", "no project open")
	}

	if _, err := fsutil.ConfineRelPath(root, relative); err != nil {
		return apperr.PermissionDenied("fs", relative).WithCause(err)
	}

	scope := ScopeFileRead
	if write {
		scope = ScopeFileWrite
	}
	if err := m.Require(pluginID, scope, relative); err == nil {
		return nil
	}
	// project: grants cover both directions inside the project root.
	return m.Require(pluginID, ScopeProjectWrite, relative)
}

// CheckURL authorises a network request against declared URL patterns.
func (m *Manager) CheckURL(pluginID, url string) error {
	return m.Require(pluginID, ScopeNetwork, url)
}

// CheckModel authorises an AI model capability by exact name.
func (m *Manager) CheckModel(pluginID, model string) error {
	return m.Require(pluginID, ScopeModel, model)
}

// Grants returns a plugin's declared patterns per scope, for display.
func (m *Manager) Grants(pluginID string) map[Scope][]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[Scope][]string)
	for _, g := range m.grants[pluginID] {
		out[g.scope] = append(out[g.scope], g.pattern)
	}
	return out
}
