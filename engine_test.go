// SPDX-License-Identifier: MIT

package reelcore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openreelio/reelcore/internal/command"
	"github.com/openreelio/reelcore/internal/project"
	"github.com/openreelio/reelcore/internal/vault"
	"github.com/openreelio/reelcore/internal/worker"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "footage"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "footage", "a.mp4"), []byte("vid"), 0o600))

	e, err := Create(dir, "demo", Options{
		AppDataDir: t.TempDir(),
		Worker:     worker.Options{MaxConcurrent: 2},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestEngineEndToEndImportAndEdit(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	result, err := e.StartWorkspace(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Total)

	assetID, err := e.ImportDiscovered(ctx, "footage/a.mp4")
	require.NoError(t, err)

	// Importing twice is idempotent: the binding short-circuits.
	again, err := e.ImportDiscovered(ctx, "footage/a.mp4")
	require.NoError(t, err)
	assert.Equal(t, assetID, again)

	e.Exec.Read(func(s *State) {
		a := s.Assets[assetID]
		require.NotNil(t, a)
		assert.Equal(t, "footage/a.mp4", a.URI)
		assert.True(t, a.WorkspaceManaged())
	})

	// Build a little timeline through the same executor.
	res, err := e.Exec.Apply(ctx, &command.CreateSequence{
		Name: "Main",
		Format: project.SequenceFormat{
			Width: 1920, Height: 1080,
			FPS:             project.Fraction{Num: 30, Den: 1},
			AudioSampleRate: 48000,
		},
	})
	require.NoError(t, err)
	_, err = e.Exec.Apply(ctx, &command.AddTrack{
		SequenceID: res.CreatedIDs[0], Kind: project.TrackVideo, Name: "V1",
	})
	require.NoError(t, err)
}

func TestEngineRemovedFileDropsUnusedAsset(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.StartWorkspace(ctx)
	require.NoError(t, err)
	assetID, err := e.ImportDiscovered(ctx, "footage/a.mp4")
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(e.dir, "footage", "a.mp4")))

	require.Eventually(t, func() bool {
		var gone bool
		e.Exec.Read(func(s *State) {
			_, exists := s.Assets[assetID]
			gone = !exists
		})
		return gone
	}, 5*time.Second, 50*time.Millisecond, "unused asset should be removed after its file vanishes")
}

func TestEngineSettingsRoundTrip(t *testing.T) {
	e := newEngine(t)

	s := e.LoadSettings()
	s.Appearance.Theme = "light"
	require.NoError(t, e.SaveSettings(s))
	assert.Equal(t, "light", e.LoadSettings().Appearance.Theme)
}

func TestEngineVaultAvailable(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.Credentials.Store(vault.Custom, "some-plugin-token"))
	got, err := e.Credentials.Retrieve(vault.Custom)
	require.NoError(t, err)
	assert.Equal(t, "some-plugin-token", got)
}

func TestEngineReopenRestoresState(t *testing.T) {
	dir := t.TempDir()
	e, err := Create(dir, "demo", Options{})
	require.NoError(t, err)

	ctx := context.Background()
	res, err := e.Exec.Apply(ctx, &command.CreateSequence{
		Name: "Main",
		Format: project.SequenceFormat{
			Width: 1280, Height: 720,
			FPS:             project.Fraction{Num: 25, Den: 1},
			AudioSampleRate: 48000,
		},
	})
	require.NoError(t, err)
	seqID := res.CreatedIDs[0]
	require.NoError(t, e.Close())

	reopened, err := Open(dir, Options{})
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	reopened.Exec.Read(func(s *State) {
		require.Contains(t, s.Sequences, seqID)
		assert.Equal(t, "Main", s.Sequences[seqID].Name)
	})
}
