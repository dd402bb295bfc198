// SPDX-License-Identifier: MIT

package settings

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeClampsAndDefaults(t *testing.T) {
	s := Default()
	s.General.RecentProjectsLimit = 500
	s.Editor.DefaultTimelineZoom = 99.0
	s.Editor.SnapTolerance = -5
	s.Playback.DefaultVolume = 2.0
	s.Playback.PreviewQuality = "ULTRA"
	s.Appearance.Theme = "Dark"
	s.Appearance.UIScale = 0.1
	s.Appearance.AccentColor = "purple"
	s.AutoSave.IntervalSeconds = 1
	s.Performance.MaxConcurrentJobs = 1000

	s.Normalize()

	assert.Equal(t, 50, s.General.RecentProjectsLimit)
	assert.Equal(t, 10.0, s.Editor.DefaultTimelineZoom)
	assert.Equal(t, 0, s.Editor.SnapTolerance)
	assert.Equal(t, 1.0, s.Playback.DefaultVolume)
	assert.Equal(t, "auto", s.Playback.PreviewQuality, "unknown enum falls back to default")
	assert.Equal(t, "dark", s.Appearance.Theme, "enums are lowercased")
	assert.Equal(t, 0.8, s.Appearance.UIScale)
	assert.Equal(t, Default().Appearance.AccentColor, s.Appearance.AccentColor)
	assert.Equal(t, 30, s.AutoSave.IntervalSeconds)
	assert.Equal(t, 32, s.Performance.MaxConcurrentJobs)
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []Settings{
		Default(),
		{},
		{
			Playback:    PlaybackSettings{DefaultVolume: math.NaN(), PreviewQuality: "FULL"},
			Appearance:  AppearanceSettings{UIScale: 3.0, AccentColor: "#ABCDEF"},
			Performance: PerformanceSettings{MemoryLimitMB: 7},
		},
	}

	for i, s := range inputs {
		once := s
		once.Normalize()
		twice := once
		twice.Normalize()
		assert.Equal(t, once, twice, "input %d: normalize must be idempotent", i)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(dir)

	s := Default()
	s.General.Language = "de"
	s.Appearance.Theme = "light"
	require.NoError(t, st.Save(s))

	loaded := st.Load()
	assert.Equal(t, "de", loaded.General.Language)
	assert.Equal(t, "light", loaded.Appearance.Theme)
	assert.Equal(t, Version, loaded.Version)
}

func TestStoreMissingFileYieldsDefaults(t *testing.T) {
	st := NewStore(t.TempDir())
	assert.Equal(t, Default(), st.Load())
}

func TestStoreCorruptFileFallsBack(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(dir)
	require.NoError(t, os.WriteFile(st.Path(), []byte("{{{not json"), 0o640))

	assert.Equal(t, Default(), st.Load())
}

func TestStoreMissingFieldsGetDefaults(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(dir)
	partial := `{"version":1,"general":{"language":"fr"}}`
	require.NoError(t, os.WriteFile(st.Path(), []byte(partial), 0o640))

	loaded := st.Load()
	assert.Equal(t, "fr", loaded.General.Language)
	assert.Equal(t, Default().Playback, loaded.Playback)
	assert.Equal(t, Default().Performance, loaded.Performance)
}

func TestStoreMigratesVersionZero(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(dir)
	old := `{"general":{"language":"ja","recentProjectsLimit":7}}`
	require.NoError(t, os.WriteFile(st.Path(), []byte(old), 0o640))

	loaded := st.Load()
	assert.Equal(t, Version, loaded.Version)
	assert.Equal(t, "ja", loaded.General.Language)
	assert.Equal(t, 7, loaded.General.RecentProjectsLimit)
}

func TestSavePersistsCanonicalForm(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(dir)

	s := Default()
	s.Appearance.Theme = "LIGHT"
	s.Playback.DefaultVolume = 5
	require.NoError(t, st.Save(s))

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"theme": "light"`)
	assert.Contains(t, string(data), `"defaultVolume": 1`)
}
