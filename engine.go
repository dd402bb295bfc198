// SPDX-License-Identifier: MIT

// Package reelcore is the embeddable editing core: an event-sourced
// project state engine with an append-only operation log, snapshots,
// unbounded undo/redo, a workspace asset tracker, a background worker
// pool, an encrypted credential vault and a plugin authorisation model.
//
// Hosts construct one Engine per open project and talk to it through the
// command executor and the event bus; there is no process-wide state.
package reelcore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openreelio/reelcore/internal/apperr"
	"github.com/openreelio/reelcore/internal/command"
	"github.com/openreelio/reelcore/internal/events"
	"github.com/openreelio/reelcore/internal/log"
	"github.com/openreelio/reelcore/internal/plugin"
	"github.com/openreelio/reelcore/internal/project"
	"github.com/openreelio/reelcore/internal/settings"
	"github.com/openreelio/reelcore/internal/vault"
	"github.com/openreelio/reelcore/internal/worker"
	"github.com/openreelio/reelcore/internal/workspace"
)

// Re-exported surface for hosts. The implementation packages stay
// internal; these aliases are the supported API.
type (
	Executor    = command.Executor
	Result      = command.Result
	State       = project.State
	ChangeSet   = events.ChangeSet
	Bus         = events.Bus
	Workspace   = workspace.Service
	Pool        = worker.Pool
	Vault       = vault.Vault
	Settings    = settings.Settings
	Permissions = plugin.Manager
)

// Options configures an Engine.
type Options struct {
	// AppDataDir holds machine-scoped state: the vault, settings and
	// crash records.
	AppDataDir string

	// Executor tuning; zero values select defaults.
	Command command.Options

	// Worker pool tuning; zero values select defaults.
	Worker worker.Options

	// Log configures the process-wide logger once per host.
	Log log.Config
}

// Engine bundles one open project's components. Construct with Create or
// Open, release with Close.
type Engine struct {
	dir string

	Exec        *Executor
	Events      *Bus
	Files       *Workspace
	Jobs        *Pool
	Credentials *Vault
	Plugins     *Permissions

	settingsStore *settings.Store

	watchCancel context.CancelFunc
	watchWG     sync.WaitGroup
	logger      zerolog.Logger
}

// Create initialises a new project at dir and returns its engine.
func Create(dir, name string, opts Options) (*Engine, error) {
	return build(dir, opts, func(bus *Bus) (*Executor, error) {
		return command.NewProject(dir, name, bus, opts.Command)
	})
}

// Open loads an existing project. On log corruption the engine still
// opens read-only and the corruption error is returned with the usable
// engine; when opts.AppDataDir is set, a crash record is written there.
func Open(dir string, opts Options) (*Engine, error) {
	var openErr error
	e, err := build(dir, opts, func(bus *Bus) (*Executor, error) {
		exec, oerr := command.OpenProject(dir, bus, opts.Command)
		if exec != nil && oerr != nil && apperr.IsKind(oerr, apperr.KindCorrupted) {
			openErr = oerr
			return exec, nil
		}
		return exec, oerr
	})
	if err != nil {
		return nil, err
	}
	if openErr != nil && opts.AppDataDir != "" {
		if path, cerr := project.WriteCrashLog(opts.AppDataDir, dir, openErr.Error(), nil); cerr == nil {
			e.logger.Error().Str("crash_log", path).Msg("project opened read-only after corruption")
		}
	}
	return e, openErr
}

// RecoveryOffer reports what a recovery of dir would restore.
type RecoveryOffer = project.RecoveryOffer

// ProbeRecovery inspects a project directory after an unclean shutdown
// and reports the newest usable snapshot plus the log tail that replays
// on top of it. Opening the log truncates a torn trailing line.
func ProbeRecovery(dir string) (*RecoveryOffer, error) {
	return project.ProbeRecovery(dir)
}

func build(dir string, opts Options, openExec func(*Bus) (*Executor, error)) (*Engine, error) {
	log.Configure(opts.Log)

	bus := events.NewBus()
	exec, err := openExec(bus)
	if err != nil {
		bus.Close()
		return nil, err
	}

	files, err := workspace.Open(dir)
	if err != nil {
		_ = exec.Close()
		bus.Close()
		return nil, err
	}

	var cred *Vault
	var store *settings.Store
	if opts.AppDataDir != "" {
		cred, err = vault.Open(filepath.Join(opts.AppDataDir, "vault.json"))
		if err != nil {
			_ = files.Close()
			_ = exec.Close()
			bus.Close()
			return nil, err
		}
		store = settings.NewStore(opts.AppDataDir)
	}

	if opts.Worker.TypeCaps == nil {
		// Rendering is allowed half the machine, speech-to-text two
		// slots; everything else shares the global cap.
		renderCap := runtime.NumCPU() / 2
		if renderCap < 1 {
			renderCap = 1
		}
		opts.Worker.TypeCaps = map[worker.Type]int{
			worker.Render:     renderCap,
			worker.Transcribe: 2,
		}
	}

	perms := plugin.NewManager()
	perms.SetProjectRoot(dir)

	return &Engine{
		dir:           dir,
		Exec:          exec,
		Events:        bus,
		Files:         files,
		Jobs:          worker.NewPool(opts.Worker),
		Credentials:   cred,
		Plugins:       perms,
		settingsStore: store,
		logger:        log.WithComponent("engine"),
	}, nil
}

// LoadSettings reads the app settings (defaults when no AppDataDir).
func (e *Engine) LoadSettings() Settings {
	if e.settingsStore == nil {
		return settings.Default()
	}
	return e.settingsStore.Load()
}

// SaveSettings persists the app settings.
func (e *Engine) SaveSettings(s Settings) error {
	if e.settingsStore == nil {
		return apperr.Validation("no app data directory configured")
	}
	return e.settingsStore.Save(s)
}

// StartWorkspace runs the initial scan, then keeps the index in sync
// with the filesystem. Removals of registered files re-enter the command
// pipeline as RemoveAsset, so they land in the log like any other edit;
// an asset still referenced by clips stays and only loses its binding.
func (e *Engine) StartWorkspace(ctx context.Context) (*workspace.ScanResult, error) {
	result, err := e.Files.InitialScan(ctx)
	if err != nil {
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	eventsCh, err := e.Files.StartWatching(watchCtx)
	if err != nil {
		cancel()
		return nil, err
	}
	e.watchCancel = cancel

	e.watchWG.Add(1)
	go func() {
		defer e.watchWG.Done()
		for {
			select {
			case <-watchCtx.Done():
				return
			case ev, ok := <-eventsCh:
				if !ok {
					return
				}
				e.handleWorkspaceEvent(watchCtx, ev)
			}
		}
	}()

	return result, nil
}

func (e *Engine) handleWorkspaceEvent(ctx context.Context, ev workspace.Event) {
	boundAsset, err := e.Files.HandleEvent(ctx, ev)
	if err != nil {
		e.logger.Warn().Err(err).Str("path", ev.RelativePath).Msg("failed to index workspace event")
		return
	}
	if ev.Kind != workspace.FileRemoved || boundAsset == "" {
		return
	}

	payload, _ := json.Marshal(map[string]string{"assetId": boundAsset})
	if _, err := e.Exec.ApplyJSON(ctx, "RemoveAsset", payload); err != nil {
		if apperr.IsKind(err, apperr.KindConflict) {
			e.logger.Info().Str("asset_id", boundAsset).
				Msg("asset file vanished but clips still reference it, keeping asset")
			return
		}
		e.logger.Warn().Err(err).Str("asset_id", boundAsset).Msg("failed to remove asset for deleted file")
	}
}

// ImportDiscovered runs the import flow for a file the workspace found:
// an ImportAsset command through the pipeline, then the index binding.
func (e *Engine) ImportDiscovered(ctx context.Context, relativePath string) (string, error) {
	entry, err := e.Files.Index().Get(ctx, relativePath)
	if err != nil {
		return "", apperr.IO("read workspace index", err)
	}
	if entry == nil {
		return "", apperr.NotFound("workspaceFile", relativePath)
	}
	if entry.AssetID != "" {
		return entry.AssetID, nil
	}

	cmd := &command.ImportAsset{
		Kind:      entry.Kind,
		Name:      relativePath,
		URI:       relativePath,
		SizeBytes: entry.FileSize,
	}
	res, err := e.Exec.Apply(ctx, cmd)
	if err != nil {
		return "", err
	}
	assetID := res.CreatedIDs[0]

	if err := e.Files.RegisterAsset(ctx, relativePath, assetID); err != nil {
		return assetID, err
	}
	return assetID, nil
}

// Close releases everything: watcher, pool, workspace, a final snapshot
// and the log.
func (e *Engine) Close() error {
	if e.watchCancel != nil {
		e.watchCancel()
	}
	e.Files.StopWatching()
	e.watchWG.Wait()

	e.Jobs.Close()

	var first error
	if err := e.Files.Close(); err != nil && first == nil {
		first = err
	}
	if err := e.Exec.Close(); err != nil && first == nil {
		first = err
	}
	e.Events.Close()
	return first
}
