// SPDX-License-Identifier: MIT

package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/openreelio/reelcore/internal/apperr"
	"github.com/openreelio/reelcore/internal/fsutil"
	"github.com/openreelio/reelcore/internal/log"
)

// FileName is the settings file below the app-data directory.
const FileName = "settings.json"

// Store loads and saves the settings file with the same lock discipline
// as the vault: exclusive advisory lock for writes, atomic replace.
type Store struct {
	path   string
	logger zerolog.Logger
}

// NewStore binds a store to the app-data directory.
func NewStore(appDataDir string) *Store {
	return &Store{
		path:   filepath.Join(appDataDir, FileName),
		logger: log.WithComponent("settings"),
	}
}

// Path returns the on-disk location.
func (st *Store) Path() string { return st.path }

// Load reads, migrates and normalises the settings. A missing file yields
// the defaults; a corrupt file falls back to defaults with a warning
// instead of failing startup.
func (st *Store) Load() Settings {
	data, err := os.ReadFile(st.path)
	if err != nil {
		if !os.IsNotExist(err) {
			st.logger.Warn().Err(err).Str("path", st.path).Msg("failed to read settings, using defaults")
		}
		return Default()
	}

	// Version peek first: migration may need the raw document.
	var versioned struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &versioned); err != nil {
		st.logger.Warn().Err(err).Str("path", st.path).Msg("settings file corrupt, using defaults")
		return Default()
	}

	if versioned.Version < Version {
		migrated, err := migrate(data, versioned.Version)
		if err != nil {
			st.logger.Warn().Err(err).
				Int("from_version", versioned.Version).
				Msg("settings migration failed, using defaults")
			return Default()
		}
		data = migrated
	}

	s := Default()
	if err := json.Unmarshal(data, &s); err != nil {
		st.logger.Warn().Err(err).Str("path", st.path).Msg("settings file corrupt, using defaults")
		return Default()
	}

	s.Normalize()
	return s
}

// Save normalises and atomically persists the settings under the
// advisory lock.
func (st *Store) Save(s Settings) error {
	s.Normalize()

	if err := os.MkdirAll(filepath.Dir(st.path), 0o750); err != nil {
		return apperr.IO("create settings dir", err)
	}

	fl := flock.New(st.path + ".lock")
	acquire := func() error {
		ok, err := fl.TryLock()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return fmt.Errorf("settings locked by another process")
		}
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxElapsedTime = 5 * time.Second
	if err := backoff.Retry(acquire, bo); err != nil {
		return apperr.Timeout("acquire settings lock").WithCause(err)
	}
	defer func() { _ = fl.Unlock() }()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return apperr.IO("encode settings", err)
	}
	data = append(data, '\n')

	if err := fsutil.WriteFileAtomic(st.path, data, 0o640); err != nil {
		return apperr.IO("write settings", err)
	}
	return nil
}

// migrate upgrades an older settings document to the current schema.
// Version 0 files predate the version field entirely; their known fields
// carry over unchanged, which a plain unmarshal already handles.
func migrate(data []byte, fromVersion int) ([]byte, error) {
	switch fromVersion {
	case 0:
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		doc["version"] = json.RawMessage(fmt.Sprintf("%d", Version))
		return json.Marshal(doc)
	default:
		return nil, fmt.Errorf("no migration path from settings version %d", fromVersion)
	}
}
